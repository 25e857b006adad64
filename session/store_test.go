package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/casualjim/hoot/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewStore(context.Background(), WithClock(clock.Now))
	require.NoError(t, err)
	return s
}

func TestStore_Appends(t *testing.T) {
	ctx := context.Background()

	t.Run("creates session on first write", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendUserMessage(ctx, "s1", "  hello   world  "))

		sess, ok := s.Get("s1")
		require.True(t, ok)
		assert.Equal(t, "hello world", sess.Title)
		require.Len(t, sess.Messages, 1)
		assert.Equal(t, RoleUser, sess.Messages[0].Role)
		assert.Equal(t, "  hello   world  ", sess.Messages[0].Content)
		assert.Equal(t, "s1", s.Active())
	})

	t.Run("deltas extend the open tail", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendUserMessage(ctx, "s1", "hi"))
		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "Hel"))
		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "lo"))

		sess, _ := s.Get("s1")
		require.Len(t, sess.Messages, 2)
		assert.Equal(t, "Hello", sess.Messages[1].Content)
		assert.True(t, sess.Messages[1].Open())
	})

	t.Run("finish reason closes the open message", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "first"))
		closed, err := s.SetFinishReason(ctx, "s1", provider.FinishStop)
		require.NoError(t, err)
		assert.True(t, closed)

		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "second"))
		sess, _ := s.Get("s1")
		require.Len(t, sess.Messages, 2)
		assert.Equal(t, provider.FinishStop, sess.Messages[0].FinishReason)
		assert.True(t, sess.Messages[1].Open())

		closed, err = s.SetFinishReason(ctx, "missing", provider.FinishStop)
		require.NoError(t, err)
		assert.False(t, closed)
	})

	t.Run("set finish reason without open message", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendUserMessage(ctx, "s1", "hi"))
		closed, err := s.SetFinishReason(ctx, "s1", provider.FinishCancelled)
		require.NoError(t, err)
		assert.False(t, closed)

		_, err = s.SetFinishReason(ctx, "s1", "")
		assert.Error(t, err)
	})

	t.Run("user message closes an interrupted reply", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendUserMessage(ctx, "s1", "one"))
		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "partial"))
		require.NoError(t, s.AppendUserMessage(ctx, "s1", "two"))
		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "fresh"))

		sess, _ := s.Get("s1")
		require.Len(t, sess.Messages, 4)
		assert.Equal(t, provider.FinishCancelled, sess.Messages[1].FinishReason)
		assert.Equal(t, "fresh", sess.Messages[3].Content)
		assert.True(t, sess.Messages[3].Open())
	})

	t.Run("errors are distinct closed messages", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendAssistantError(ctx, "s1", "boom"))
		require.NoError(t, s.AppendAssistantError(ctx, "s1", "boom again"))

		sess, _ := s.Get("s1")
		require.Len(t, sess.Messages, 2)
		for _, m := range sess.Messages {
			assert.Equal(t, provider.FinishError, m.FinishReason)
			assert.False(t, m.Open())
		}

		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "fresh"))
		sess, _ = s.Get("s1")
		require.Len(t, sess.Messages, 3)
	})

	t.Run("round trip preserves order and fields", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendUserMessage(ctx, "s1", "question"))
		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "ans"))
		require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "wer"))
		_, err := s.SetFinishReason(ctx, "s1", provider.FinishLength)
		require.NoError(t, err)
		require.NoError(t, s.AppendUserMessage(ctx, "s1", "next"))
		require.NoError(t, s.AppendAssistantError(ctx, "s1", "failed"))

		sess, _ := s.Get("s1")
		got := make([]string, 0, len(sess.Messages))
		for _, m := range sess.Messages {
			got = append(got, string(m.Role)+":"+m.Content+":"+string(m.FinishReason))
		}
		assert.Equal(t, []string{
			"user:question:",
			"assistant:answer:length",
			"user:next:",
			"assistant:failed:error",
		}, got)
	})

	t.Run("get returns copies", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendUserMessage(ctx, "s1", "hi"))
		sess, _ := s.Get("s1")
		sess.Messages[0].Content = "changed"

		again, _ := s.Get("s1")
		assert.Equal(t, "hi", again.Messages[0].Content)
	})
}

func TestStore_Sessions(t *testing.T) {
	ctx := context.Background()

	t.Run("list is sorted by update time", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendUserMessage(ctx, "a", "first"))
		require.NoError(t, s.AppendUserMessage(ctx, "b", "second"))
		require.NoError(t, s.AppendUserMessage(ctx, "c", "third"))
		require.NoError(t, s.AppendAssistantDelta(ctx, "a", "bump"))

		var ids []string
		for _, sess := range s.List() {
			ids = append(ids, sess.ID)
		}
		assert.Equal(t, []string{"a", "c", "b"}, ids)
	})

	t.Run("delete clears active pointer", func(t *testing.T) {
		s := newTestStore(t)
		require.NoError(t, s.AppendUserMessage(ctx, "a", "first"))
		require.NoError(t, s.AppendUserMessage(ctx, "b", "second"))
		require.NoError(t, s.SetActive("b"))

		require.NoError(t, s.Delete(ctx, "a"))
		assert.Equal(t, "b", s.Active())
		require.NoError(t, s.Delete(ctx, "b"))
		assert.Empty(t, s.Active())

		assert.ErrorIs(t, s.Delete(ctx, "b"), ErrNotFound)
		assert.ErrorIs(t, s.SetActive("b"), ErrNotFound)
	})

	t.Run("create and rename", func(t *testing.T) {
		s := newTestStore(t)
		sess, err := s.Create(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, DefaultTitle, sess.Title)
		assert.Equal(t, sess.ID, s.Active())

		require.NoError(t, s.Rename(ctx, sess.ID, "Renamed"))
		got, _ := s.Get(sess.ID)
		assert.Equal(t, "Renamed", got.Title)
		assert.ErrorIs(t, s.Rename(ctx, "nope", "x"), ErrNotFound)
	})
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  string
	}{
		{name: "empty", text: "   ", limit: 10, want: DefaultTitle},
		{name: "short", text: "hello", limit: 10, want: "hello"},
		{name: "collapses whitespace", text: "a\n\tb   c", limit: 10, want: "a b c"},
		{name: "truncates", text: "abcdefghijklmnop", limit: 8, want: "abcdefg…"},
		{name: "counts runes", text: "ééééééééé", limit: 5, want: "éééé…"},
		{name: "no limit", text: strings.Repeat("x", 100), limit: 0, want: strings.Repeat("x", 100)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Title(tt.text, tt.limit))
		})
	}
}

type memoryPersister struct {
	mu      sync.Mutex
	saved   map[string]Session
	deleted []string
	fail    error
}

func (m *memoryPersister) Load(context.Context) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.saved))
	for _, s := range m.saved {
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryPersister) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	if m.saved == nil {
		m.saved = make(map[string]Session)
	}
	m.saved[s.ID] = s
	return nil
}

func (m *memoryPersister) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func TestStore_Persister(t *testing.T) {
	ctx := context.Background()
	p := &memoryPersister{}

	s, err := NewStore(ctx, WithPersister(p))
	require.NoError(t, err)
	require.NoError(t, s.AppendUserMessage(ctx, "s1", "hi"))
	require.NoError(t, s.AppendAssistantDelta(ctx, "s1", "hello"))
	assert.Equal(t, "hello", p.saved["s1"].Messages[1].Content)

	reloaded, err := NewStore(ctx, WithPersister(p))
	require.NoError(t, err)
	sess, ok := reloaded.Get("s1")
	require.True(t, ok)
	assert.Len(t, sess.Messages, 2)

	require.NoError(t, reloaded.Delete(ctx, "s1"))
	assert.Equal(t, []string{"s1"}, p.deleted)

	p.fail = errors.New("disk full")
	assert.ErrorIs(t, s.AppendUserMessage(ctx, "s2", "x"), p.fail)
}

func TestStore_OpenMessageBeforeTail(t *testing.T) {
	ctx := context.Background()
	p := &memoryPersister{saved: map[string]Session{
		"s1": {
			ID: "s1",
			Messages: []Message{
				{Role: RoleUser, Content: "one"},
				{Role: RoleAssistant, Content: "interrupted"},
				{Role: RoleUser, Content: "two"},
			},
		},
	}}
	s, err := NewStore(ctx, WithPersister(p))
	require.NoError(t, err)

	closed, err := s.SetFinishReason(ctx, "s1", provider.FinishCancelled)
	require.NoError(t, err)
	assert.True(t, closed)

	sess, ok := s.Get("s1")
	require.True(t, ok)
	assert.Equal(t, provider.FinishCancelled, sess.Messages[1].FinishReason)
	for _, m := range sess.Messages {
		assert.False(t, m.Open())
	}
	assert.Equal(t, provider.FinishCancelled, p.saved["s1"].Messages[1].FinishReason)
}

