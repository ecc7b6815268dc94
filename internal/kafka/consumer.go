package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/config"
	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReportHandler applies one execution report.
type ReportHandler func(ctx context.Context, report domain.ExecutionReport) error

// ExecutionReportConsumer consumes terminal execution reports from Kafka.
type ExecutionReportConsumer struct {
	reader messageReader
	logger *zap.Logger
}

// NewExecutionReportConsumer returns nil when no report topic is configured.
func NewExecutionReportConsumer(cfg config.Config, logger *zap.Logger) *ExecutionReportConsumer {
	if cfg.KafkaTopicExecReports == "" {
		return nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topic:   cfg.KafkaTopicExecReports,
	})
	return &ExecutionReportConsumer{reader: reader, logger: logger}
}

// Consume reads reports and passes them to handler until ctx is done.
// Undecodable messages and reports the handler rejects as invalid are logged
// and skipped; any other handler error stops the consumer.
func (c *ExecutionReportConsumer) Consume(ctx context.Context, handler ReportHandler) error {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return fmt.Errorf("kafka read: %w", err)
		}

		report, err := decodeReport(msg.Value)
		if err != nil {
			c.logger.Warn("dropping undecodable execution report",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			continue
		}

		err = handler(ctx, report)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrOrderNotFound):
			c.logger.Warn("execution report rejected",
				zap.String("order_id", report.OrderID), zap.Error(err))
		default:
			return fmt.Errorf("apply execution report %s: %w", report.OrderID, err)
		}
	}
}

func (c *ExecutionReportConsumer) Close() error {
	return c.reader.Close()
}

func decodeReport(value []byte) (domain.ExecutionReport, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(value, &s); err != nil {
		return domain.ExecutionReport{}, fmt.Errorf("unmarshal execution report proto: %w", err)
	}
	fields := s.GetFields()
	return domain.ExecutionReport{
		OrderID:      fields["tradeId"].GetStringValue(),
		Status:       domain.OrderStatus(fields["status"].GetStringValue()),
		TicketNumber: fields["ticketNumber"].GetStringValue(),
	}, nil
}
