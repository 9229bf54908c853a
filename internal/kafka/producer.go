// Package kafka wires the bid pipeline's cross-instance signals: accepted
// bids and finalized sessions are published so every instance's Push
// Broadcaster (component I) can fan out to its own local subscribers even
// when the write that produced the change landed on a different instance.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/core"
)

// Producer publishes bid-accepted and session-ended events, partitioned by
// session id so all of a session's events land on the same partition and
// preserve order for consumers.
type Producer struct {
	bidWriter     *kafka.Writer
	sessionWriter *kafka.Writer
	log           *zap.Logger
}

// NewProducer builds writers for the bids and session-lifecycle topics.
func NewProducer(cfg config.KafkaConfig, log *zap.Logger) *Producer {
	return &Producer{
		bidWriter: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.BidTopic,
			Balancer: &kafka.Hash{},
		},
		sessionWriter: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.SessionTopic,
			Balancer: &kafka.Hash{},
		},
		log: log,
	}
}

// PublishBidAccepted sends a BidAccepted event, keyed by session id.
func (p *Producer) PublishBidAccepted(ctx context.Context, evt core.BidAccepted) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal bid accepted event: %w", err)
	}
	msg := kafka.Message{Key: []byte(evt.SessionID), Value: data, Time: time.Now()}
	if err := p.bidWriter.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish bid accepted event: %w", err)
	}
	return nil
}

// PublishSessionEnded sends a SessionEnded event, keyed by session id.
func (p *Producer) PublishSessionEnded(ctx context.Context, evt core.SessionEnded) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal session ended event: %w", err)
	}
	msg := kafka.Message{Key: []byte(evt.SessionID), Value: data, Time: time.Now()}
	if err := p.sessionWriter.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish session ended event: %w", err)
	}
	return nil
}

// Close closes both writers.
func (p *Producer) Close() error {
	err1 := p.bidWriter.Close()
	err2 := p.sessionWriter.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
