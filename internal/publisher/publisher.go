// Package publisher delivers completed-fetch events to downstream consumers.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// Memory buffers published messages in process, for tests and local runs.
type Memory struct {
	mu       sync.Mutex
	messages map[string][][]byte
	nextID   int
}

// NewMemory builds an empty in-memory publisher.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string][][]byte)}
}

// Publish serializes the payload and appends it to the topic's buffer.
func (m *Memory) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[topic] = append(m.messages[topic], data)
	m.nextID++
	return strconv.Itoa(m.nextID), nil
}

// Messages returns the raw payloads published to a topic.
func (m *Memory) Messages(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.messages[topic]))
	copy(out, m.messages[topic])
	return out
}

// PubSub publishes to Google Cloud Pub/Sub topics.
type PubSub struct {
	client *pubsub.Client
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSub wraps an existing Pub/Sub client.
func NewPubSub(client *pubsub.Client, logger *zap.Logger) *PubSub {
	return &PubSub{
		client: client,
		logger: logger,
		topics: make(map[string]*pubsub.Topic),
	}
}

// Publish serializes the payload as JSON and publishes it, blocking until
// the server acknowledges.
func (p *PubSub) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}

	p.logger.Debug("message published",
		zap.String("topic", topic), zap.String("message_id", id))
	return id, nil
}

// Stop flushes all topic publishers.
func (p *PubSub) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
}

func (p *PubSub) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}
