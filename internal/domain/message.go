package domain

import "time"

// Message is a single chat message within a consultation. ID is monotonic
// per consultation and assigned by the session owner at receipt time, never
// by the sender, so every connected client observes one total order.
type Message struct {
	ID             int64     `json:"id"`
	ConsultationID string    `json:"consultation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}
