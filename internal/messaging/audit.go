// Package messaging publishes portal audit events to RabbitMQ so
// downstream consumers (SIEM, compliance exports) can follow what the
// gateway does with partner sessions.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const auditExchange = "portal.audit"

// Audit actions double as routing keys on the portal.audit exchange.
const (
	ActionLogin         = "auth.login"
	ActionLoginFailed   = "auth.login_failed"
	ActionLogout        = "auth.logout"
	ActionRefreshFailed = "auth.refresh_failed"
	ActionUserApproved  = "admin.user_approved"
	ActionUserDeleted   = "admin.user_deleted"
)

// AuditEvent is the wire format published to the audit exchange.
type AuditEvent struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// AuditPublisher records portal activity. Implementations must be safe
// for concurrent use from request goroutines.
type AuditPublisher interface {
	Publish(ctx context.Context, event AuditEvent) error
	Close() error
}

// RabbitMQ publishes audit events over an AMQP channel.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// NewRabbitMQWithRetry dials until the broker answers or ctx expires.
// Brokers routinely come up after the gateway in compose environments.
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	var lastErr error

	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			if attempt > 1 {
				slog.Info("connected to rabbitmq after retries", slog.Int("attempts", attempt))
			}
			return rmq, nil
		}
		lastErr = err

		slog.Warn("rabbitmq connection failed, retrying",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gave up connecting to RabbitMQ: %w", lastErr)
		case <-time.After(2 * time.Second):
		}
	}
}

func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		auditExchange, // name
		"topic",       // type
		true,          // durable
		false,         // auto-deleted
		false,         // internal
		false,         // no-wait
		nil,           // arguments
	); err != nil {
		return fmt.Errorf("failed to declare audit exchange: %w", err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

func (r *RabbitMQ) Publish(ctx context.Context, event AuditEvent) error {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		auditExchange,
		event.Action,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish audit event: %w", err)
	}

	slog.Debug("published audit event",
		slog.String("action", event.Action),
		slog.String("session_id", event.SessionID))
	return nil
}

// SessionRevoked satisfies the upstream client's notifier interface so
// forced logouts land on the audit trail. Publish failures are logged
// rather than returned; auditing must never block request recovery.
func (r *RabbitMQ) SessionRevoked(ctx context.Context, sessionID, reason string) {
	if err := r.Publish(ctx, AuditEvent{
		Action:    ActionRefreshFailed,
		SessionID: sessionID,
		Detail:    reason,
	}); err != nil {
		slog.Error("failed to audit session revocation",
			slog.String("error", err.Error()),
			slog.String("session_id", sessionID))
	}
}

// Bind attaches a durable queue to a routing key pattern on the audit
// exchange. Consumers own their queue names.
func (r *RabbitMQ) Bind(queue, pattern string) error {
	if _, err := r.channel.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	if err := r.channel.QueueBind(
		queue,
		pattern,
		auditExchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	return nil
}

// Consume delivers events from a previously bound queue.
func (r *RabbitMQ) Consume(queue string) (<-chan amqp.Delivery, error) {
	msgs, err := r.channel.Consume(
		queue,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}
	return msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// NopPublisher drops all events. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, event AuditEvent) error { return nil }
func (NopPublisher) Close() error                                        { return nil }
