package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/parleylabs/parley-core/internal/agent"
)

var ErrNotFound = errors.New("session not found")

// BackendFactory builds the exchangers for a new session. The primary may be
// nil, in which case the session runs degraded from the start.
type BackendFactory func(sessionID string) (primary, fallback agent.Exchanger, err error)

// Store owns all live sessions, keyed by id. Snapshots live under dir, one
// JSON file per session.
type Store struct {
	dir     string
	factory BackendFactory
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewStore(dir string, factory BackendFactory, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{
		dir:      dir,
		factory:  factory,
		logger:   logger.With(slog.String("component", "sessions")),
		sessions: make(map[string]*Session),
	}, nil
}

// GetOrCreate returns the session for id, creating it when id is unknown or
// empty. New ids are short uuid prefixes, matching what clients carry in the
// session header.
func (st *Store) GetOrCreate(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if id != "" {
		if s, ok := st.sessions[id]; ok {
			return s, nil
		}
	} else {
		id = uuid.NewString()[:8]
	}

	primary, fallback, err := st.factory(id)
	if err != nil {
		return nil, fmt.Errorf("build session backend: %w", err)
	}
	s := newSession(id, st.dir, primary, fallback, st.logger)
	st.sessions[id] = s
	st.logger.Info("session created", slog.String("session", id))
	return s, nil
}

// Get returns a live session or ErrNotFound.
func (st *Store) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Clear resets the history of a live session.
func (st *Store) Clear(id string) error {
	s, err := st.Get(id)
	if err != nil {
		return err
	}
	return s.Clear()
}

// CloseAll terminates every session's backend channel.
func (st *Store) CloseAll() {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
