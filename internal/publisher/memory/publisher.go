// Package memory keeps published notifications in process. It backs local
// runs without a Pub/Sub topic and doubles as a test double.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultCapacity bounds how many messages a Publisher retains.
const DefaultCapacity = 256

// Message is one retained publish. Data holds the JSON encoding of the
// payload, the same bytes the Pub/Sub publisher would send.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Decode unmarshals the message data into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Publisher retains the most recent messages up to its capacity.
type Publisher struct {
	mu       sync.Mutex
	capacity int
	seq      int
	messages []Message
}

// New returns a Publisher retaining DefaultCapacity messages.
func New() *Publisher {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity returns a Publisher retaining up to capacity messages.
func NewWithCapacity(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{capacity: capacity}
}

// Publish encodes payload and appends it, dropping the oldest message when
// full.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload for %s: %w", topic, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	if len(p.messages) == p.capacity {
		p.messages = append(p.messages[:0], p.messages[1:]...)
	}
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns the retained messages, oldest first.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Close implements io.Closer.
func (p *Publisher) Close() error { return nil }
