// Package history keeps each chat's recent conversation in memory and
// mirrors it to the database.
package history

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/gavinyap/bigseek/internal/llm"
)

// Repository is the persistent side of the history.
type Repository interface {
	Get(ctx context.Context, userID int64) ([]llm.Message, error)
	Save(ctx context.Context, userID int64, msgs []llm.Message) error
	Clear(ctx context.Context, userID int64) error
	Prefetch(ctx context.Context, userIDs []int64) (map[int64][]llm.Message, error)
}

// Manager bounds every chat's history to size messages.
type Manager struct {
	repo   Repository
	size   int
	logger zerolog.Logger

	mu    sync.Mutex
	chats map[int64][]llm.Message
}

func New(repo Repository, size int, logger zerolog.Logger) *Manager {
	if size <= 0 {
		size = 20
	}
	return &Manager{
		repo:   repo,
		size:   size,
		logger: logger,
		chats:  make(map[int64][]llm.Message),
	}
}

// Get returns a copy of the chat's history, loading it from the
// repository on first use.
func (m *Manager) Get(ctx context.Context, chatID int64) ([]llm.Message, error) {
	m.mu.Lock()
	msgs, ok := m.chats[chatID]
	m.mu.Unlock()
	if ok {
		return slices.Clone(msgs), nil
	}

	stored, err := m.repo.Get(ctx, chatID)
	if err != nil {
		return nil, err
	}
	stored = m.trim(stored)

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.chats[chatID]; ok {
		return slices.Clone(cur), nil
	}
	m.chats[chatID] = stored
	return slices.Clone(stored), nil
}

// Append adds msgs to the chat's history, drops the oldest entries beyond
// the bound and persists the result.
func (m *Manager) Append(ctx context.Context, chatID int64, msgs ...llm.Message) error {
	if _, err := m.Get(ctx, chatID); err != nil {
		return err
	}

	m.mu.Lock()
	next := m.trim(append(slices.Clone(m.chats[chatID]), msgs...))
	m.chats[chatID] = next
	snapshot := slices.Clone(next)
	m.mu.Unlock()

	if err := m.repo.Save(ctx, chatID, snapshot); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}
	return nil
}

// Clear forgets the chat's history in memory and in the repository.
func (m *Manager) Clear(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	delete(m.chats, chatID)
	m.mu.Unlock()
	return m.repo.Clear(ctx, chatID)
}

// Prefetch warms the cache with the stored histories of the given chats.
func (m *Manager) Prefetch(ctx context.Context, chatIDs []int64) error {
	loaded, err := m.repo.Prefetch(ctx, chatIDs)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for id, msgs := range loaded {
		m.chats[id] = m.trim(msgs)
	}
	m.mu.Unlock()

	m.logger.Info().
		Int("histories", len(loaded)).
		Int("users", len(chatIDs)).
		Msg("prefetched chat histories")
	return nil
}

func (m *Manager) trim(msgs []llm.Message) []llm.Message {
	if over := len(msgs) - m.size; over > 0 {
		return slices.Clone(msgs[over:])
	}
	return msgs
}
