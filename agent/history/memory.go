package history

import (
	"context"
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
)

// MemoryRepository is an in-process transcript store.
type MemoryRepository struct {
	mu     sync.RWMutex
	maxLen int
	data   map[string][]*schema.Message
}

func NewMemoryRepository(maxLen int) *MemoryRepository {
	return &MemoryRepository{maxLen: maxLen, data: make(map[string][]*schema.Message)}
}

func (m *MemoryRepository) Append(ctx context.Context, conversationID string, msgs ...*schema.Message) error {
	if strings.TrimSpace(conversationID) == "" {
		return ErrInvalidConversation
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.data[conversationID]
	for _, msg := range msgs {
		if msg == nil {
			continue
		}
		cp := *msg
		cur = append(cur, &cp)
	}
	if m.maxLen > 0 && len(cur) > m.maxLen {
		cur = append([]*schema.Message(nil), cur[len(cur)-m.maxLen:]...)
	}
	m.data[conversationID] = cur
	return nil
}

func (m *MemoryRepository) Recent(ctx context.Context, conversationID string, limit int) ([]*schema.Message, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrInvalidConversation
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	cur := m.data[conversationID]
	if limit > 0 && len(cur) > limit {
		cur = cur[len(cur)-limit:]
	}
	out := make([]*schema.Message, 0, len(cur))
	for _, msg := range cur {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryRepository) Clear(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	delete(m.data, conversationID)
	m.mu.Unlock()
	return nil
}
