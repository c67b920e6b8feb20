package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/allinbloomus-wq/allinbloom/internal/usecase"
)

// NewSyncProducer builds the producer for the audit topic. Idempotent writes
// with full acks: an audit record either lands once or the publish errors.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	cfg.Net.MaxOpenRequests = 1
	cfg.Net.DialTimeout = 5 * time.Second
	return sarama.NewSyncProducer(brokers, cfg)
}

// AuditProducer appends reconciliation audit records (transitions, amount
// mismatches, sweeps) to a Kafka topic, keyed by order id so one order's
// history stays in partition order.
type AuditProducer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewAuditProducer(producer sarama.SyncProducer, topic string) *AuditProducer {
	return &AuditProducer{producer: producer, topic: topic}
}

var _ usecase.AuditPublisher = (*AuditProducer)(nil)

func (p *AuditProducer) Publish(_ context.Context, ev usecase.AuditEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Value: sarama.ByteEncoder(body),
	}
	if ev.OrderID != "" {
		msg.Key = sarama.StringEncoder(ev.OrderID)
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("send audit event: %w", err)
	}
	return nil
}
