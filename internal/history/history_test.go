package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gavinyap/bigseek/internal/llm"
)

type memRepo struct {
	mu   sync.Mutex
	rows map[int64][]llm.Message
	gets int
	fail error
}

func newMemRepo() *memRepo { return &memRepo{rows: map[int64][]llm.Message{}} }

func (r *memRepo) Get(_ context.Context, id int64) ([]llm.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.fail != nil {
		return nil, r.fail
	}
	return append([]llm.Message(nil), r.rows[id]...), nil
}

func (r *memRepo) Save(_ context.Context, id int64, msgs []llm.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.rows[id] = append([]llm.Message(nil), msgs...)
	return nil
}

func (r *memRepo) Clear(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memRepo) Prefetch(_ context.Context, ids []int64) (map[int64][]llm.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64][]llm.Message{}
	for _, id := range ids {
		if msgs, ok := r.rows[id]; ok {
			out[id] = msgs
		}
	}
	return out, nil
}

func user(s string) llm.Message      { return llm.Message{Role: llm.RoleUser, Content: s} }
func assistant(s string) llm.Message { return llm.Message{Role: llm.RoleAssistant, Content: s} }

func TestAppendAndGet(t *testing.T) {
	repo := newMemRepo()
	m := New(repo, 4, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, m.Append(ctx, 1, user("hi"), assistant("hello")))
	got, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{user("hi"), assistant("hello")}, got)
	assert.Equal(t, got, repo.rows[1])
}

func TestAppendTrimsOldest(t *testing.T) {
	repo := newMemRepo()
	m := New(repo, 3, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Append(ctx, 1, user(fmt.Sprint(i))))
	}
	got, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{user("2"), user("3"), user("4")}, got)
	assert.Len(t, repo.rows[1], 3)
}

func TestGetLoadsOnce(t *testing.T) {
	repo := newMemRepo()
	repo.rows[7] = []llm.Message{user("stored")}
	m := New(repo, 10, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := m.Get(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, []llm.Message{user("stored")}, got)
	}
	assert.Equal(t, 1, repo.gets)
}

func TestGetReturnsCopy(t *testing.T) {
	m := New(newMemRepo(), 10, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, m.Append(ctx, 1, user("a")))

	got, _ := m.Get(ctx, 1)
	got[0].Content = "mutated"

	again, _ := m.Get(ctx, 1)
	assert.Equal(t, "a", again[0].Content)
}

func TestClear(t *testing.T) {
	repo := newMemRepo()
	m := New(repo, 10, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, m.Append(ctx, 1, user("a")))

	require.NoError(t, m.Clear(ctx, 1))
	got, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, got)
	_, ok := repo.rows[1]
	assert.False(t, ok)
}

func TestPrefetch(t *testing.T) {
	repo := newMemRepo()
	repo.rows[1] = []llm.Message{user("a"), user("b"), user("c")}
	m := New(repo, 2, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, m.Prefetch(ctx, []int64{1, 2}))
	gets := repo.gets

	got, err := m.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []llm.Message{user("b"), user("c")}, got)
	assert.Equal(t, gets, repo.gets, "prefetched chat served from memory")
}

func TestRepositoryErrors(t *testing.T) {
	repo := newMemRepo()
	repo.fail = errors.New("disk full")
	m := New(repo, 10, zerolog.Nop())

	_, err := m.Get(context.Background(), 1)
	assert.ErrorIs(t, err, repo.fail)
	assert.ErrorIs(t, m.Append(context.Background(), 1, user("a")), repo.fail)
}
