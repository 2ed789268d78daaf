package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/epi-panel-etl/internal/config"
	"github.com/couchcryptid/epi-panel-etl/internal/domain"
)

// publishBatchSize bounds the number of messages per WriteMessages call.
const publishBatchSize = 500

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes panel rows to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaSinkTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish sends one message per panel row. Rows are keyed by long code so an
// entity's series lands on a single partition in date order.
func (w *Writer) Publish(ctx context.Context, runID string, panel *domain.Panel) error {
	if panel == nil || len(panel.Rows) == 0 {
		return nil
	}
	reportDate := panel.ReportDate.Format(domain.DateLayout)

	batch := make([]kafkago.Message, 0, min(publishBatchSize, len(panel.Rows)))
	for i := range panel.Rows {
		msg, err := serializeToMessage(panel.Rows[i], runID, reportDate)
		if err != nil {
			return err
		}
		batch = append(batch, msg)
		if len(batch) == publishBatchSize {
			if err := w.writer.WriteMessages(ctx, batch...); err != nil {
				return fmt.Errorf("write panel rows: %w", err)
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := w.writer.WriteMessages(ctx, batch...); err != nil {
			return fmt.Errorf("write panel rows: %w", err)
		}
	}
	w.logger.Debug("panel published", "run_id", runID, "rows", len(panel.Rows))
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// MessageKey is the partition key of a panel row.
func MessageKey(row domain.PanelRow) string {
	return row.LongCode
}

// serializeToMessage marshals a PanelRow into a Kafka message.
func serializeToMessage(row domain.PanelRow, runID, reportDate string) (kafkago.Message, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize panel row %s %s: %w", row.LongCode, row.Date.Format(domain.DateLayout), err)
	}
	return kafkago.Message{
		Key:   []byte(MessageKey(row)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "entity", Value: []byte(row.Entity)},
			{Key: "date", Value: []byte(row.Date.Format(domain.DateLayout))},
			{Key: "report_date", Value: []byte(reportDate)},
			{Key: "run_id", Value: []byte(runID)},
		},
	}, nil
}
