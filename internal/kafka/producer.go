// Package kafka fans scored signals out to Kafka topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Producer keeps one lazily created writer per topic. Writers hash on the
// message key, so all records for a symbol stay on one partition in order.
type Producer struct {
	mu       sync.Mutex
	topics   map[string]*kafka.Writer
	addr     net.Addr
	clientID string
	flush    time.Duration
	logger   *zap.Logger
}

// Message is a keyed payload; Value is encoded as JSON
type Message struct {
	Key     string
	Value   any
	Headers []kafka.Header
}

// NewProducer creates a producer for brokers. Nothing is dialed until the first publish.
func NewProducer(brokers []string, clientID string, logger *zap.Logger) *Producer {
	return &Producer{
		topics:   make(map[string]*kafka.Writer),
		addr:     kafka.TCP(brokers...),
		clientID: clientID,
		flush:    10 * time.Millisecond,
		logger:   logger,
	}
}

func (p *Producer) writerFor(topic string) *kafka.Writer {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.topics[topic]
	if !ok {
		w = &kafka.Writer{
			Addr:         p.addr,
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: p.flush,
			RequiredAcks: kafka.RequireOne,
			Transport:    &kafka.Transport{ClientID: p.clientID},
		}
		p.topics[topic] = w
	}
	return w
}

// Publish encodes msg.Value and writes it to topic
func (p *Producer) Publish(ctx context.Context, topic string, msg Message) error {
	payload, err := json.Marshal(msg.Value)
	if err != nil {
		return fmt.Errorf("encode %s message %q: %w", topic, msg.Key, err)
	}

	if err := p.writerFor(topic).WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.Key),
		Value:   payload,
		Headers: msg.Headers,
		Time:    time.Now(),
	}); err != nil {
		p.logger.Warn("Kafka write failed",
			zap.String("topic", topic),
			zap.String("key", msg.Key),
			zap.Error(err))
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Topics lists the topics written so far
func (p *Producer) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.topics))
	for t := range p.topics {
		out = append(out, t)
	}
	return out
}

// Close flushes pending batches. It returns the first close error.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for topic, w := range p.topics {
		if err := w.Close(); err != nil && first == nil {
			first = fmt.Errorf("close writer for %s: %w", topic, err)
		}
		delete(p.topics, topic)
	}
	return first
}
