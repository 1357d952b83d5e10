package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrNoSession = errors.New("no wizard session")

// SessionStore keeps wizard sessions with a TTL of inactivity.
type SessionStore interface {
	// Load returns ErrNoSession when there is no live session for the key.
	Load(ctx context.Context, key Key) (*State, error)
	Save(ctx context.Context, key Key, state *State) error
	Delete(ctx context.Context, key Key) error
}

// MemoryStore keeps sessions in process memory. Expired sessions are dropped on access and by Sweep.
type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[Key]State
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[Key]State),
	}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[key]
	if !ok {
		return nil, ErrNoSession
	}
	if m.expired(state) {
		delete(m.sessions, key)
		return nil, ErrNoSession
	}

	state.Selected = append([]int64(nil), state.Selected...)
	return &state, nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state.UpdatedAt = m.now()
	stored := *state
	stored.Selected = append([]int64(nil), state.Selected...)
	m.sessions[key] = stored
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, key)
	return nil
}

// Sweep drops expired sessions and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for key, state := range m.sessions {
		if m.expired(state) {
			delete(m.sessions, key)
			n++
		}
	}
	return n
}

// Run sweeps expired sessions every interval until ctx is done.
func (m *MemoryStore) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				slog.Debug("wizard: Expired sessions dropped", "count", n)
			}
		}
	}
}

func (m *MemoryStore) expired(state State) bool {
	return m.ttl > 0 && m.now().Sub(state.UpdatedAt) > m.ttl
}

// RedisStore keeps sessions as JSON values. The key TTL is refreshed on every save.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "groupbot:wizard"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisStore) Load(ctx context.Context, key Key) (*State, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		slog.Error("wizard: Failed to load session", "error", err, "chat_id", key.ChatID, "user_id", key.UserID)
		return nil, fmt.Errorf("failed to load wizard session: %w", err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		slog.Warn("wizard: Dropping unreadable session", "error", err, "chat_id", key.ChatID, "user_id", key.UserID)
		_ = r.client.Del(ctx, r.key(key)).Err()
		return nil, ErrNoSession
	}
	return &state, nil
}

func (r *RedisStore) Save(ctx context.Context, key Key, state *State) error {
	state.UpdatedAt = time.Now()
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode wizard session: %w", err)
	}

	if err := r.client.Set(ctx, r.key(key), raw, r.ttl).Err(); err != nil {
		slog.Error("wizard: Failed to save session", "error", err, "chat_id", key.ChatID, "user_id", key.UserID)
		return fmt.Errorf("failed to save wizard session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		slog.Error("wizard: Failed to delete session", "error", err, "chat_id", key.ChatID, "user_id", key.UserID)
		return fmt.Errorf("failed to delete wizard session: %w", err)
	}
	return nil
}

func (r *RedisStore) key(key Key) string {
	return fmt.Sprintf("%s:%d:%d", r.prefix, key.ChatID, key.UserID)
}
