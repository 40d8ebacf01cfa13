package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"crosspost/internal/config"
	"crosspost/internal/logging"
)

const (
	defaultTopic    = "crosspost.runs"
	defaultClientID = "crosspost"
	produceTimeout  = 5 * time.Second
)

// producer is the slice of *kgo.Client the sink uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Ping(ctx context.Context) error
	Close()
}

// KafkaSink writes each record as JSON keyed by content id so every record
// for one item lands on the same partition.
type KafkaSink struct {
	client producer
	topic  string
	logger *slog.Logger
}

// NewKafkaSink connects to cfg.Brokers.
func NewKafkaSink(cfg config.Kafka, logger *slog.Logger) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink: no brokers configured")
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		clientID = defaultClientID
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka sink: create client: %w", err)
	}
	return newKafkaSink(client, cfg.Topic, logger), nil
}

func newKafkaSink(client producer, topic string, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = logging.NewNop()
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = defaultTopic
	}
	return &KafkaSink{client: client, topic: topic, logger: logger}
}

func (s *KafkaSink) Emit(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka sink: encode %s: %w", ev.Type, err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(ev.ContentID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "run_id", Value: []byte(ev.RunID)},
		},
	}
	ctx, cancel := context.WithTimeout(ctx, produceTimeout)
	defer cancel()
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka sink: produce %s: %w", ev.Type, err)
	}
	s.logger.Debug("run event emitted",
		logging.String("record_type", string(ev.Type)),
		logging.String(logging.FieldRunID, ev.RunID),
		logging.String("topic", s.topic),
	)
	return nil
}

// Ping checks broker reachability.
func (s *KafkaSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *KafkaSink) Close() error {
	s.client.Close()
	return nil
}

// New returns a Kafka sink when brokers are configured and Nop otherwise.
func New(cfg *config.Config, logger *slog.Logger) (Sink, error) {
	if cfg == nil || len(cfg.Kafka.Brokers) == 0 {
		return Nop{}, nil
	}
	return NewKafkaSink(cfg.Kafka, logger)
}
