package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"molttok/internal/util"
)

// LogSink writes each event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Write(_ context.Context, events []Event) error {
	for _, e := range events {
		s.logger.Info("audit",
			zap.String("action", e.Action),
			zap.String("agent_id", e.AgentID),
			zap.String("subject_id", e.SubjectID),
			zap.String("ip", e.IP),
			zap.Any("metadata", e.Metadata),
			zap.Time("occurred_at", e.OccurredAt))
	}
	return nil
}

// Producer is satisfied by client.KafkaProducer.
type Producer interface {
	ProduceMessage(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaSink publishes one JSON message per event, keyed by agent so that an
// agent's events stay ordered within a partition.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Write(ctx context.Context, events []Event) error {
	var errs []error
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		key := e.AgentID
		if key == "" {
			key = e.IP
		}
		headers := map[string]string{"action": e.Action}
		if err := s.producer.ProduceMessage(ctx, s.topic, []byte(key), value, headers); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BatchInserter is satisfied by client.ClickHouseClient.
type BatchInserter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

// ClickHouseSink appends events to a MergeTree table for analytics.
type ClickHouseSink struct {
	db    BatchInserter
	table string
}

func NewClickHouseSink(db BatchInserter, table string) *ClickHouseSink {
	return &ClickHouseSink{db: db, table: table}
}

// EnsureTable creates the audit table if it does not exist.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
        id UUID,
        action LowCardinality(String),
        agent_id String,
        subject_id String,
        ip String,
        metadata Map(String, String),
        occurred_at DateTime64(3, 'UTC')
    ) ENGINE = MergeTree
    ORDER BY (action, occurred_at)`, s.table)
	if err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create audit table: %w", err)
	}
	util.Debug("ClickHouse audit table ready", zap.String("table", s.table))
	return nil
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) Write(ctx context.Context, events []Event) error {
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		metadata := e.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		rows = append(rows, []interface{}{e.ID, e.Action, e.AgentID, e.SubjectID, e.IP, metadata, e.OccurredAt})
	}
	query := fmt.Sprintf("INSERT INTO %s (id, action, agent_id, subject_id, ip, metadata, occurred_at)", s.table)
	return s.db.BatchInsert(ctx, query, rows)
}
