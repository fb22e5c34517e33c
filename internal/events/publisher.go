// Package events publishes session lifecycle and billing events for external
// consumers, in particular the billing ledger back office.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/streadway/amqp"
)

// Exchange is the fanout exchange session events are published to.
const Exchange = "consultation.events"

// LedgerEvent is the JSON payload sent for every billing-relevant occurrence.
type LedgerEvent struct {
	Event          string    `json:"event"`
	ConsultationID string    `json:"consultation_id"`
	SeekerID       string    `json:"seeker_id"`
	AstrologerID   string    `json:"astrologer_id"`
	AmountPaise    int64     `json:"amount_paise,omitempty"`
	SpentPaise     int64     `json:"spent_paise"`
	BalancePaise   int64     `json:"balance_paise"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Publisher delivers ledger events. Implementations must be safe for use
// from a single session owner goroutine at a time.
type Publisher interface {
	Publish(event *LedgerEvent) error
	Close()
}

// AMQPPublisher publishes ledger events to a RabbitMQ fanout exchange.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewAMQPPublisher connects to RabbitMQ and declares the fanout exchange.
func NewAMQPPublisher(amqpURL string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Warn("failed to close amqp connection", "error", closeErr)
		}
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "fanout", true, false, false, false, nil); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Warn("failed to close amqp connection", "error", closeErr)
		}
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

// Publish marshals the event and publishes it to the exchange.
func (p *AMQPPublisher) Publish(event *LedgerEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	if err := p.channel.Publish(Exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	}); err != nil {
		return fmt.Errorf("publish ledger event: %w", err)
	}
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			slog.Warn("failed to close amqp channel", "error", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			slog.Warn("failed to close amqp connection", "error", err)
		}
	}
}

// NopPublisher discards events. Used when no AMQP broker is configured.
type NopPublisher struct{}

// Publish discards the event.
func (NopPublisher) Publish(*LedgerEvent) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() {}
