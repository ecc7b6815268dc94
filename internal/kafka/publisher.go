package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/config"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// EventPublisher publishes license lifecycle events and relayed signals to Kafka.
// A topic left empty in the config disables that stream.
type EventPublisher struct {
	events  messageWriter
	signals messageWriter
	logger  *zap.Logger
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewEventPublisher(cfg config.Config, logger *zap.Logger) *EventPublisher {
	p := &EventPublisher{logger: logger}
	if cfg.KafkaTopicLicenseEvents != "" {
		p.events = newWriter(cfg.KafkaBrokers, cfg.KafkaTopicLicenseEvents)
	}
	if cfg.KafkaTopicRelaySignals != "" {
		p.signals = newWriter(cfg.KafkaBrokers, cfg.KafkaTopicRelaySignals)
	}
	return p
}

// HandleEvent publishes a committed license event keyed by user id.
func (p *EventPublisher) HandleEvent(ctx context.Context, ev domain.LicenseEvent) error {
	if p.events == nil {
		return nil
	}
	msg, err := encode(ev.UserID, eventFields(ev))
	if err != nil {
		return fmt.Errorf("marshal license event proto: %w", err)
	}
	if err := p.events.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	p.logger.Debug("license event published",
		zap.String("user_id", ev.UserID),
		zap.String("type", string(ev.Type)))
	return nil
}

// PublishSignal forwards an accepted signal keyed by user id.
func (p *EventPublisher) PublishSignal(ctx context.Context, o domain.PendingOrder) error {
	if p.signals == nil {
		return nil
	}
	msg, err := encode(o.UserID, orderFields(o))
	if err != nil {
		return fmt.Errorf("marshal relayed signal proto: %w", err)
	}
	if err := p.signals.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	var firstErr error
	for _, w := range []messageWriter{p.events, p.signals} {
		if w == nil {
			continue
		}
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func encode(key string, fields map[string]any) (kafka.Message, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return kafka.Message{}, err
	}
	value, err := proto.Marshal(s)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{Key: []byte(key), Value: value}, nil
}

func eventFields(ev domain.LicenseEvent) map[string]any {
	fields := map[string]any{
		"type":          string(ev.Type),
		"userId":        ev.UserID,
		"broker":        string(ev.Broker),
		"accountNumber": ev.AccountNumber,
		"occurredAt":    ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.LicenseKey != "" {
		fields["licenseKey"] = ev.LicenseKey
	}
	if ev.Reason != "" {
		fields["reason"] = ev.Reason
	}
	return fields
}

func orderFields(o domain.PendingOrder) map[string]any {
	fields := map[string]any{
		"id":         o.ID,
		"userId":     o.UserID,
		"instrument": o.Instrument,
		"action":     string(o.Action),
		"volume":     o.Volume.String(),
		"createdAt":  o.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if o.Price != nil {
		fields["price"] = o.Price.String()
	}
	if o.StopLoss != nil {
		fields["stopLoss"] = o.StopLoss.String()
	}
	if o.TakeProfit != nil {
		fields["takeProfit"] = o.TakeProfit.String()
	}
	return fields
}
