package state

import (
	"context"
	"sync"
)

// MemoryStore keeps encoded states in process memory. Nothing survives a restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	if _, err := storeKey(defaultStoreKeyPrefix, conversationID); err != nil {
		return nil, err
	}
	m.mu.RLock()
	raw, ok := m.data[conversationID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	return decodeState(raw)
}

func (m *MemoryStore) Save(ctx context.Context, st *ConversationState) error {
	raw, err := encodeState(st)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[st.ConversationID] = raw
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	delete(m.data, conversationID)
	m.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
