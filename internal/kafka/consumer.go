package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lvdashuaibi/bidfeed/config"
)

// RawHandler processes one message's raw payload; the caller unmarshals
// into whichever event type the topic carries.
type RawHandler func(key, value []byte) error

// Consumer reads a single topic, dedicating one Reader per partition
// (falling back to consumer-group mode when no partition of the topic is
// found; a discovery error is returned to the caller instead),
// the same shape as the teacher's ticket-event consumer.
type Consumer struct {
	readers []*kafka.Reader
	log     *zap.Logger
	wg      sync.WaitGroup
}

const defaultWorkers = 8

// NewConsumer builds a Consumer for topic, discovering its partitions and
// creating one dedicated reader per partition up to defaultWorkers.
func NewConsumer(ctx context.Context, cfg config.KafkaConfig, topic string, log *zap.Logger) (*Consumer, error) {
	conn, err := kafka.DialLeader(ctx, "tcp", cfg.Brokers[0], topic, 0)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, err
	}

	var topicPartitions []int
	for _, p := range partitions {
		if p.Topic == topic {
			topicPartitions = append(topicPartitions, p.ID)
		}
	}

	numWorkers := defaultWorkers
	if len(topicPartitions) > 0 && len(topicPartitions) < numWorkers {
		numWorkers = len(topicPartitions)
	}

	readers := make([]*kafka.Reader, 0, numWorkers)
	if len(topicPartitions) > 0 {
		for i := 0; i < numWorkers; i++ {
			partition := topicPartitions[i%len(topicPartitions)]
			readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
				Brokers:   cfg.Brokers,
				Topic:     topic,
				Partition: partition,
				MinBytes:  10e3,
				MaxBytes:  10e6,
			}))
		}
	}

	if len(readers) == 0 {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:  cfg.Brokers,
			Topic:    topic,
			GroupID:  cfg.GroupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}))
	}

	return &Consumer{readers: readers, log: log.With(zap.String("topic", topic))}, nil
}

// Start launches one goroutine per reader, invoking handler for every
// message until ctx is canceled.
func (c *Consumer) Start(ctx context.Context, handler RawHandler) {
	for i, reader := range c.readers {
		c.wg.Add(1)
		go func(workerID int, r *kafka.Reader) {
			defer c.wg.Done()
			c.consumeLoop(ctx, workerID, r, handler)
		}(i, reader)
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, workerID int, reader *kafka.Reader, handler RawHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.log.Warn("read message failed", zap.Int("worker", workerID), zap.Error(err))
				time.Sleep(time.Second)
				continue
			}
			if err := handler(m.Key, m.Value); err != nil {
				c.log.Warn("handler failed", zap.Int("worker", workerID), zap.Error(err))
			}
		}
	}
}

// Stop waits for all consume loops to exit and closes every reader.
func (c *Consumer) Stop() error {
	c.wg.Wait()
	var firstErr error
	for _, reader := range c.readers {
		if err := reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
