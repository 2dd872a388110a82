// Package memory records published run reports in process memory.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/scheduled-scraper/internal/publisher"
)

// Message is one recorded publish.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// DefaultRetain is how many messages New keeps.
const DefaultRetain = 100

// Publisher keeps the most recent messages it is given.
type Publisher struct {
	mu       sync.RWMutex
	retain   int
	seq      int
	messages []Message
}

// New returns an empty Publisher that keeps the last DefaultRetain messages.
func New() *Publisher {
	return NewWithRetain(DefaultRetain)
}

// NewWithRetain keeps the last n messages; n <= 0 keeps everything.
func NewWithRetain(n int) *Publisher {
	return &Publisher{retain: n}
}

// Publish encodes payload the way the Pub/Sub publisher does and records it.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, Message{
		ID:         id,
		Topic:      topic,
		Data:       data,
		Attributes: publisher.AttributesOf(payload),
	})
	if p.retain > 0 && len(p.messages) > p.retain {
		p.messages = append(p.messages[:0:0], p.messages[len(p.messages)-p.retain:]...)
	}
	return id, nil
}

// Messages returns a copy of the recorded messages.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
