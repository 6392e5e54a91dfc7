package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sdko-org/opsedge/internal/activity"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTransport publishes records to a topic keyed by record ID. Writes are
// synchronous so a failed batch can fall back to single sends.
type KafkaTransport struct {
	writer messageWriter
	topic  string
	log    *logrus.Entry
}

var _ activity.Transport = (*KafkaTransport)(nil)

func NewKafkaTransport(logger *logrus.Logger, cfg KafkaConfig) (*KafkaTransport, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka transport configuration incomplete: both brokers and topic are required")
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}

	log := logger.WithFields(logrus.Fields{
		"component": "activity_kafka_transport",
		"topic":     cfg.Topic,
	})

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: writeTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Errorf("kafka writer: "+msg, args...)
		}),
	}

	log.WithField("brokers", cfg.Brokers).Info("Kafka transport created")
	return &KafkaTransport{writer: w, topic: cfg.Topic, log: log}, nil
}

func (t *KafkaTransport) SendBatch(ctx context.Context, records []activity.LogRecord) error {
	if len(records) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(records))
	for i, rec := range records {
		msg, err := toMessage(rec)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}

	if err := t.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka batch write (%d records): %w", len(records), err)
	}
	return nil
}

func (t *KafkaTransport) Send(ctx context.Context, record activity.LogRecord) error {
	msg, err := toMessage(record)
	if err != nil {
		return err
	}
	if err := t.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", record.ID, err)
	}
	return nil
}

func (t *KafkaTransport) Close() error {
	t.log.Info("Closing Kafka transport")
	return t.writer.Close()
}

func toMessage(rec activity.LogRecord) (kafka.Message, error) {
	value, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return kafka.Message{
		Key:   []byte(rec.ID),
		Value: value,
		Time:  rec.Timestamp,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(rec.Category)},
			{Key: "action", Value: []byte(rec.Action)},
		},
	}, nil
}
