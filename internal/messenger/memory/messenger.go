// Package memory provides a recording Messenger fake for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
)

// Messenger records every send and can fail selected recipients.
type Messenger struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
	next int

	// FailTo makes sends to these numbers fail. Value is the number of
	// failures before succeeding; negative means fail forever.
	FailTo map[string]int
}

var _ ports.Messenger = (*Messenger)(nil)

// New creates a recording messenger.
func New() *Messenger {
	return &Messenger{FailTo: make(map[string]int)}
}

func (m *Messenger) Send(ctx context.Context, msg *domain.OutboundMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if remaining, ok := m.FailTo[msg.To]; ok {
		if remaining < 0 {
			return "", fmt.Errorf("delivery to %s rejected", msg.To)
		}
		if remaining > 0 {
			m.FailTo[msg.To] = remaining - 1
			return "", fmt.Errorf("delivery to %s rejected (transient)", msg.To)
		}
	}

	m.next++
	m.sent = append(m.sent, *msg)
	return fmt.Sprintf("SM%06d", m.next), nil
}

// Sent returns a copy of all delivered messages.
func (m *Messenger) Sent() []domain.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.OutboundMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns delivered messages for one recipient.
func (m *Messenger) SentTo(to string) []domain.OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.OutboundMessage
	for _, msg := range m.sent {
		if msg.To == to {
			out = append(out, msg)
		}
	}
	return out
}
