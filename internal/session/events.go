package session

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/instaastro/liveconsult/internal/domain"
)

// Frame type discriminators for the live channel. Client-to-server frames
// carry MESSAGE, START_TIMER, and END_CHAT; everything else is server-sent.
const (
	TypeSnapshot           = "SNAPSHOT"
	TypeMessage            = "MESSAGE"
	TypeNewMessage         = "NEW_MESSAGE"
	TypeStartTimer         = "START_TIMER"
	TypeTimerStarted       = "TIMER_STARTED"
	TypeBalanceUpdate      = "BALANCE_UPDATE"
	TypeEndChat            = "END_CHAT"
	TypeChatEnded          = "CHAT_ENDED"
	TypeConsultationPaused = "CONSULTATION_PAUSED"
	TypeError              = "ERROR"
)

// Inbound is the envelope decoded from client frames.
type Inbound struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// SnapshotFrame is the full state delivered on every (re)connect. It is
// sufficient to rebuild a client view without replaying historical events;
// message history comes from the REST history endpoint instead.
type SnapshotFrame struct {
	Type        string        `json:"type"`
	Status      domain.Status `json:"status"`
	TimerActive bool          `json:"timer_active"`
	Balance     float64       `json:"balance"`
	Spent       float64       `json:"spent"`
}

// NewMessageFrame broadcasts a chat message with its owner-assigned id.
type NewMessageFrame struct {
	Type      string `json:"type"`
	ID        int64  `json:"id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// TimerStartedFrame acknowledges that billing has begun.
type TimerStartedFrame struct {
	Type string `json:"type"`
}

// BalanceUpdateFrame is emitted after every successful billing debit.
type BalanceUpdateFrame struct {
	Type    string  `json:"type"`
	Balance float64 `json:"balance"`
	Spent   float64 `json:"spent"`
}

// ChatEndedFrame announces the terminal state to every connected client.
type ChatEndedFrame struct {
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
}

// PausedFrame announces that the counterpart dropped and the grace period
// is running.
type PausedFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ErrorFrame is a rejection surfaced only to the offending sender.
type ErrorFrame struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func snapshotFrame(c *domain.Consultation) []byte {
	return encodeFrame(SnapshotFrame{
		Type:        TypeSnapshot,
		Status:      c.Status,
		TimerActive: c.TimerActive,
		Balance:     domain.Rupees(c.BalanceSnapshot),
		Spent:       domain.Rupees(c.SpentPaise),
	})
}

func newMessageFrame(m *domain.Message) []byte {
	return encodeFrame(NewMessageFrame{
		Type:      TypeNewMessage,
		ID:        m.ID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Timestamp: m.Timestamp.Format(time.RFC3339),
	})
}

func timerStartedFrame() []byte {
	return encodeFrame(TimerStartedFrame{Type: TypeTimerStarted})
}

func balanceUpdateFrame(balancePaise, spentPaise int64) []byte {
	return encodeFrame(BalanceUpdateFrame{
		Type:    TypeBalanceUpdate,
		Balance: domain.Rupees(balancePaise),
		Spent:   domain.Rupees(spentPaise),
	})
}

func chatEndedFrame(reason domain.EndReason) []byte {
	return encodeFrame(ChatEndedFrame{
		Type:        TypeChatEnded,
		Reason:      string(reason),
		Description: reason.Description(),
	})
}

func pausedFrame(reason string) []byte {
	return encodeFrame(PausedFrame{Type: TypeConsultationPaused, Reason: reason})
}

func errorFrame(code, detail string) []byte {
	return encodeFrame(ErrorFrame{Type: TypeError, Code: code, Detail: detail})
}

func encodeFrame(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Frames are plain structs; marshalling cannot fail in practice.
		slog.Error("failed to encode frame", "error", err)
		return []byte(`{"type":"ERROR","code":"internal","detail":"encoding failure"}`)
	}
	return data
}
