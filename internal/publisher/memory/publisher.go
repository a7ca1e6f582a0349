// Package memory keeps batch completion events in process. It backs
// notify.provider=memory and lets tests read back what a Recorder announced.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/archive"
)

// Message is one stored publish, encoded the way the Pub/Sub publisher
// would put it on the wire.
type Message struct {
	ID         string
	Topic      string
	Data       []byte
	Attributes map[string]string
}

// Publisher stores completion events in memory.
type Publisher struct {
	logger   *zap.Logger
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish JSON-encodes payload, keeps its attributes when it has any, and
// returns a sequential message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	var attrs map[string]string
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		attrs = maps.Clone(a.Attributes())
	}

	p.mu.Lock()
	id := strconv.Itoa(len(p.messages) + 1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data, Attributes: attrs})
	p.mu.Unlock()

	p.logger.Debug("completion event stored",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.String("batch_id", attrs["batch_id"]),
	)
	return id, nil
}

// Messages returns a copy of every stored publish in order.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

// Events decodes the stored messages back into completion events.
func (p *Publisher) Events() ([]archive.Event, error) {
	msgs := p.Messages()
	events := make([]archive.Event, 0, len(msgs))
	for _, msg := range msgs {
		var ev archive.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
