package state

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// ErrStaleState is returned when a save carries an older version than the one
// already cached.
var ErrStaleState = errors.New("conversation state is older than the cached copy")

// CachedStore keeps recently used conversations in memory in front of another Store.
// Writes go to the backing store first; entries hold encoded snapshots so callers
// never share a live pointer. The cache assumes it sees every write for its
// conversations, which only holds when turns are serialized in this process.
type CachedStore struct {
	next  Store
	cache *lru.Cache[string, []byte]
}

func NewCachedStore(next Store, size int) (*CachedStore, error) {
	if next == nil {
		return nil, errors.New("backing store is required")
	}
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{next: next, cache: cache}, nil
}

// WithCache wraps next in a CachedStore when the locker keeps every turn in this
// process. A shared locker means other replicas write too, so next is returned
// unchanged.
func WithCache(next Store, size int, locker Locker) (Store, error) {
	if size <= 0 {
		return next, nil
	}
	if _, local := locker.(*LocalLocker); !local {
		logx.Warn().Int("size", size).Msg("state cache disabled: conversation lock is shared across replicas")
		return next, nil
	}
	return NewCachedStore(next, size)
}

func (c *CachedStore) Load(ctx context.Context, conversationID string) (*ConversationState, error) {
	if raw, ok := c.cache.Get(conversationID); ok {
		if st, err := decodeState(raw); err == nil {
			return st, nil
		}
		c.cache.Remove(conversationID)
	}

	st, err := c.next.Load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if raw, err := encodeState(st.Clone()); err == nil {
		c.cache.Add(conversationID, raw)
	}
	return st, nil
}

func (c *CachedStore) Save(ctx context.Context, st *ConversationState) error {
	if st == nil {
		return ErrNilConversationState
	}
	if raw, ok := c.cache.Get(st.ConversationID); ok {
		if cached, err := decodeState(raw); err == nil && cached.Version > st.Version {
			c.cache.Remove(st.ConversationID)
			return fmt.Errorf("%w: %s version %d < %d", ErrStaleState, st.ConversationID, st.Version, cached.Version)
		}
	}
	if err := c.next.Save(ctx, st); err != nil {
		c.cache.Remove(st.ConversationID)
		return err
	}
	raw, err := encodeState(st)
	if err != nil {
		c.cache.Remove(st.ConversationID)
		return nil
	}
	c.cache.Add(st.ConversationID, raw)
	return nil
}

func (c *CachedStore) Delete(ctx context.Context, conversationID string) error {
	c.cache.Remove(conversationID)
	return c.next.Delete(ctx, conversationID)
}

func (c *CachedStore) Len() int {
	return c.cache.Len()
}

var _ Store = (*CachedStore)(nil)
