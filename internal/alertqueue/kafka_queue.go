// Package alertqueue implements the fire-and-forget enqueue (C9) that
// signals the generate_perf_alerts queue after a datum creation passes the
// §4.4 alert-gating predicates.
package alertqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

const defaultTopic = "generate_perf_alerts"

// Config configures the Kafka-backed queue producer.
type Config struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic defaults to "generate_perf_alerts" when empty.
	Topic string

	// MaxAttempts is the total number of writes EnqueueGenerateAlerts
	// attempts before giving up. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the kafka.Writer's write timeout. Defaults to 10s if
	// zero. Each attempt is also bounded by a fixed 5s context deadline.
	WriteTimeout time.Duration
}

// KafkaQueue wraps a segmentio/kafka-go Writer to implement
// ingestion.AlertQueue.
type KafkaQueue struct {
	writer      *kafka.Writer
	maxAttempts int
}

func New(cfg Config) (*KafkaQueue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("alertqueue: at least one broker required")
	}
	if cfg.Topic == "" {
		cfg.Topic = defaultTopic
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaQueue{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

type alertPayload struct {
	SignatureID   int64  `json:"signature_id"`
	SignatureHash string `json:"signature_hash"`
}

// EnqueueGenerateAlerts produces a {"signature_id": ...} message keyed by
// the signature hash, so repeated alerts for the same signature land on
// the same partition. Retries a bounded number of times with exponential
// backoff before giving up.
func (q *KafkaQueue) EnqueueGenerateAlerts(ctx context.Context, signatureID int64, signatureHash string) error {
	value, err := json.Marshal(alertPayload{SignatureID: signatureID, SignatureHash: signatureHash})
	if err != nil {
		return fmt.Errorf("marshal alert payload: %w", err)
	}

	var lastErr error
	backoff := 100 * time.Millisecond

	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		msg := kafka.Message{
			Key:   []byte(signatureHash),
			Value: value,
			Time:  time.Now().UTC(),
		}

		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := q.writer.WriteMessages(attemptCtx, msg)
		cancel()

		if err == nil {
			return nil
		}

		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
	}

	return fmt.Errorf("enqueue failed after %d attempts: %w", q.maxAttempts, lastErr)
}

func (q *KafkaQueue) Close() error {
	if q == nil || q.writer == nil {
		return nil
	}
	return q.writer.Close()
}
