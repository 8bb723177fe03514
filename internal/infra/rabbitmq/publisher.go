// Package rabbitmq publishes workflow events to a topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/boddenberg/guardian-transfer-bfa-go/internal/domain"
	"github.com/boddenberg/guardian-transfer-bfa-go/internal/infra/observability"
)

// Routing keys on the events exchange.
const (
	RoutingTransferExecuted  = "transfer.executed"
	RoutingApprovalRequested = "approval.requested"
	RoutingRiskAlert         = "risk.alert"
)

// Publisher implements port.EventPublisher over AMQP.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewPublisher dials amqpURL and declares the durable topic exchange.
func NewPublisher(amqpURL, exchange string, metrics *observability.Metrics, logger *zap.Logger) (*Publisher, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to dial rabbitmq: %w", err)
	}

	p := &Publisher{conn: conn, exchange: exchange, metrics: metrics, logger: logger}
	if err := p.openChannel(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *Publisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	p.channel = ch
	return nil
}

func (p *Publisher) PublishExecution(ctx context.Context, ev *domain.ExecutionEvent) error {
	return p.publish(ctx, RoutingTransferExecuted, ev)
}

func (p *Publisher) PublishApprovalRequested(ctx context.Context, n *domain.ApprovalNotification) error {
	return p.publish(ctx, RoutingApprovalRequested, n)
}

func (p *Publisher) PublishRiskAlert(ctx context.Context, a *domain.RiskAlert) error {
	return p.publish(ctx, RoutingRiskAlert, a)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// a closed channel is reopened once before giving up
	if p.channel == nil || p.channel.IsClosed() {
		if err := p.openChannel(); err != nil {
			p.metrics.IncrEventPublished(routingKey, "error")
			return &domain.ErrExternalService{Service: "rabbitmq", Err: err}
		}
	}

	if err := p.channel.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		p.metrics.IncrEventPublished(routingKey, "error")
		p.logger.Error("failed to publish event",
			zap.String("exchange", p.exchange),
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
		return &domain.ErrExternalService{Service: "rabbitmq", Err: err}
	}

	p.metrics.IncrEventPublished(routingKey, "ok")
	p.logger.Debug("published event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.String("message_id", msg.MessageId),
	)
	return nil
}

// Close releases channel and connection resources.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// LogPublisher writes events to the log. It stands in for the broker when
// RABBITMQ_URL is not configured.
type LogPublisher struct {
	metrics *observability.Metrics
	logger  *zap.Logger
}

func NewLogPublisher(metrics *observability.Metrics, logger *zap.Logger) *LogPublisher {
	return &LogPublisher{metrics: metrics, logger: logger}
}

func (p *LogPublisher) PublishExecution(_ context.Context, ev *domain.ExecutionEvent) error {
	p.metrics.IncrEventPublished(RoutingTransferExecuted, "logged")
	p.logger.Info("event",
		zap.String("routing_key", RoutingTransferExecuted),
		zap.String("transfer_id", ev.TransferDraftID),
		zap.String("final_status", string(ev.FinalStatus)),
		zap.Int64("amount", int64(ev.Amount)),
		zap.Bool("overridden", ev.Overridden),
	)
	return nil
}

func (p *LogPublisher) PublishApprovalRequested(_ context.Context, n *domain.ApprovalNotification) error {
	p.metrics.IncrEventPublished(RoutingApprovalRequested, "logged")
	p.logger.Info("event",
		zap.String("routing_key", RoutingApprovalRequested),
		zap.String("request_id", n.RequestID),
		zap.String("guardian_id", n.GuardianID),
		zap.Time("expires_at", n.ExpiresAt),
	)
	return nil
}

func (p *LogPublisher) PublishRiskAlert(_ context.Context, a *domain.RiskAlert) error {
	p.metrics.IncrEventPublished(RoutingRiskAlert, "logged")
	p.logger.Info("event",
		zap.String("routing_key", RoutingRiskAlert),
		zap.String("transfer_id", a.TransferDraftID),
		zap.String("guardian_id", a.GuardianID),
		zap.Int64("amount", int64(a.Amount)),
	)
	return nil
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	idx := strings.Index(strings.ToLower(clean), "amqp")
	if idx > 0 {
		clean = clean[idx:]
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}
