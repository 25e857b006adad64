package session

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/pkg/uuidx"
	"github.com/casualjim/hoot/provider"
	"github.com/fogfish/opts"
	"github.com/go-openapi/strfmt"
)

const (
	// DefaultTitle is used for sessions created without any text.
	DefaultTitle = "New chat"
	// DefaultTitleLimit is the maximum title length in runes.
	DefaultTitleLimit = 48
)

// ErrNotFound is returned for operations on a session that does not exist.
var ErrNotFound = errors.New("session not found")

// Persister stores sessions outside of the process.
type Persister interface {
	Load(ctx context.Context) ([]Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}

// Store owns every session and serializes their mutation.
type Store struct {
	mu       sync.Mutex
	sessions []*Session // sorted by UpdatedAt descending
	active   string

	persister  Persister
	now        func() time.Time
	titleLimit int
}

var (
	// WithPersister persists every mutation.
	WithPersister = opts.ForName[Store, Persister]("persister")
	// WithClock replaces time.Now.
	WithClock = opts.ForName[Store, func() time.Time]("now")
	// WithTitleLimit sets the maximum title length in runes.
	WithTitleLimit = opts.ForName[Store, int]("titleLimit")
)

// NewStore creates a store and loads the persisted sessions, if any.
func NewStore(ctx context.Context, options ...opts.Option[Store]) (*Store, error) {
	s := Store{
		now:        time.Now,
		titleLimit: DefaultTitleLimit,
	}
	if err := opts.Apply(&s, options); err != nil {
		return nil, fmt.Errorf("session: invalid options: %w", err)
	}

	if s.persister != nil {
		loaded, err := s.persister.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("session: load: %w", err)
		}
		for i := range loaded {
			sess := loaded[i].Clone()
			s.sessions = append(s.sessions, &sess)
		}
		s.sortLocked()
	}
	return &s, nil
}

// List returns copies of all sessions, most recently updated first.
func (s *Store) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Session, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	return out
}

// Get returns a copy of the session with the given id.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.findLocked(id)
	if !ok {
		return Session{}, false
	}
	return sess.Clone(), true
}

// Active returns the id of the active session, empty when there is none.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive marks id as the active session.
func (s *Store) SetActive(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.findLocked(id); !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.active = id
	return nil
}

// Create starts an empty session, makes it active and returns it.
func (s *Store) Create(ctx context.Context, title string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.createLocked(uuidx.NewID(uuidx.Session), title)
	s.active = sess.ID
	if err := s.saveLocked(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess.Clone(), nil
}

// Rename changes the title of a session.
func (s *Store) Rename(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.findLocked(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	sess.Title = s.title(title)
	sess.touch(s.now())
	return s.saveLocked(ctx, sess)
}

// AppendUserMessage adds a closed user message. An assistant message still
// open at the tail was interrupted and is closed as cancelled first.
func (s *Store) AppendUserMessage(ctx context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID, text)
	now := s.now()
	if tail, ok := sess.openTail(); ok {
		tail.FinishReason = provider.FinishCancelled
	}
	sess.Messages = append(sess.Messages, Message{
		Role:      RoleUser,
		Content:   text,
		Timestamp: strfmt.DateTime(now),
	})
	sess.touch(now)
	return s.saveLocked(ctx, sess)
}

// AppendAssistantDelta appends text to the open assistant message at the
// tail, opening a new one when there is none.
func (s *Store) AppendAssistantDelta(ctx context.Context, sessionID, delta string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID, delta)
	now := s.now()
	if tail, ok := sess.openTail(); ok {
		tail.Content += delta
	} else {
		sess.Messages = append(sess.Messages, Message{
			Role:      RoleAssistant,
			Content:   delta,
			Timestamp: strfmt.DateTime(now),
		})
	}
	sess.touch(now)
	return s.saveLocked(ctx, sess)
}

// AppendAssistantError adds a distinct, closed assistant message tagged as an error.
func (s *Store) AppendAssistantError(ctx context.Context, sessionID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID, text)
	now := s.now()
	sess.Messages = append(sess.Messages, Message{
		Role:         RoleAssistant,
		Content:      text,
		Timestamp:    strfmt.DateTime(now),
		FinishReason: provider.FinishError,
	})
	sess.touch(now)
	return s.saveLocked(ctx, sess)
}

// SetFinishReason closes the most recent open assistant message. It reports
// whether a message was closed.
func (s *Store) SetFinishReason(ctx context.Context, sessionID string, reason provider.FinishReason) (bool, error) {
	if reason == "" {
		return false, errors.New("session: finish reason is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.findLocked(sessionID)
	if !ok {
		return false, nil
	}
	msg, ok := sess.lastOpen()
	if !ok {
		return false, nil
	}
	msg.FinishReason = reason
	sess.touch(s.now())
	return true, s.saveLocked(ctx, sess)
}

// Delete removes a session and clears the active pointer when it referred to it.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.sessions, func(sess *Session) bool { return sess.ID == id })
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.sessions = slices.Delete(s.sessions, idx, idx+1)
	if s.active == id {
		s.active = ""
	}
	if s.persister != nil {
		if err := s.persister.Delete(ctx, id); err != nil {
			return fmt.Errorf("session: delete %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) findLocked(id string) (*Session, bool) {
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess, true
		}
	}
	return nil, false
}

func (s *Store) getOrCreateLocked(id, seed string) *Session {
	if sess, ok := s.findLocked(id); ok {
		return sess
	}
	return s.createLocked(id, seed)
}

func (s *Store) createLocked(id, seed string) *Session {
	now := strfmt.DateTime(s.now())
	sess := &Session{
		ID:        id,
		Title:     s.title(seed),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions = append(s.sessions, sess)
	if s.active == "" {
		s.active = id
	}
	return sess
}

func (s *Store) saveLocked(ctx context.Context, sess *Session) error {
	s.sortLocked()
	if s.persister == nil {
		return nil
	}
	if err := s.persister.Save(ctx, sess.Clone()); err != nil {
		slog.Error("failed to persist session", slogx.SessionID(sess.ID), slogx.Error(err))
		return fmt.Errorf("session: save %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) sortLocked() {
	slices.SortStableFunc(s.sessions, func(a, b *Session) int {
		return cmp.Compare(time.Time(b.UpdatedAt).UnixNano(), time.Time(a.UpdatedAt).UnixNano())
	})
}

func (s *Store) title(seed string) string {
	return Title(seed, s.titleLimit)
}

// Title derives a session title from text: whitespace is collapsed and the
// result is truncated to limit runes with a trailing ellipsis.
func Title(text string, limit int) string {
	title := strings.Join(strings.Fields(text), " ")
	if title == "" {
		return DefaultTitle
	}
	if limit <= 0 || utf8.RuneCountInString(title) <= limit {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:limit-1])) + "…"
}
