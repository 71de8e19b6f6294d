// Package session holds per-conversation state: the ordered turn history, a
// persisted snapshot of it, and the bridge to the conversational backend.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/parleylabs/parley-core/internal/agent"
)

// Backend states for one session. A session starts idle, runs on the
// interactive channel while it behaves, and degrades permanently to one-shot
// invocations once the channel fails.
const (
	stateIdle = iota
	stateRunning
	stateDegraded
)

type Session struct {
	id       string
	path     string
	logger   *slog.Logger
	primary  agent.Exchanger // interactive channel, may be nil
	fallback agent.Exchanger

	mu      sync.Mutex
	state   int
	history []agent.Turn
}

func newSession(id, dir string, primary, fallback agent.Exchanger, logger *slog.Logger) *Session {
	s := &Session{
		id:       id,
		path:     filepath.Join(dir, id+".json"),
		primary:  primary,
		fallback: fallback,
		logger:   logger.With(slog.String("session", id)),
	}
	if primary == nil {
		s.state = stateDegraded
	}
	s.loadHistory()
	return s
}

func (s *Session) ID() string { return s.id }

// Degraded reports whether the session has fallen back to one-shot
// invocations.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateDegraded
}

// History returns a copy of the turn sequence.
func (s *Session) History() []agent.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]agent.Turn(nil), s.history...)
}

// Send exchanges one prompt for a reply, appends both turns, and persists the
// snapshot. It never returns an error: when every backend fails the reply is
// a best-effort description of the failure so the voice pipeline can still
// speak something back.
func (s *Session) Send(ctx context.Context, prompt string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply := s.exchangeLocked(ctx, prompt)
	s.history = append(s.history,
		agent.Turn{Role: agent.RoleUser, Content: prompt},
		agent.Turn{Role: agent.RoleAssistant, Content: reply},
	)
	if err := s.saveHistoryLocked(); err != nil {
		s.logger.Warn("failed to persist session history", slog.String("error", err.Error()))
	}
	return reply
}

func (s *Session) exchangeLocked(ctx context.Context, prompt string) string {
	if s.state != stateDegraded {
		reply, err := s.primary.Exchange(ctx, prompt, s.history)
		if err == nil {
			s.state = stateRunning
			return reply
		}
		s.state = stateDegraded
		s.logger.Warn("interactive channel failed, degrading to one-shot",
			slog.String("error", err.Error()))
	}

	reply, err := s.fallback.Exchange(ctx, prompt, s.history)
	if err != nil {
		s.logger.Error("agent exchange failed", slog.String("error", err.Error()))
		return fmt.Sprintf("I could not reach the conversation backend: %v", err)
	}
	return reply
}

// Clear drops the history and rewrites the snapshot.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	return s.saveHistoryLocked()
}

// Close terminates the interactive channel if it owns one.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if closer, ok := s.primary.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("agent channel close", slog.String("error", err.Error()))
		}
	}
}

func (s *Session) loadHistory() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("failed to read session history", slog.String("error", err.Error()))
		}
		return
	}
	if err := json.Unmarshal(data, &s.history); err != nil {
		s.logger.Warn("corrupt session history, starting fresh", slog.String("error", err.Error()))
		s.history = nil
	}
}

// saveHistoryLocked writes the whole snapshot to a temp file and renames it
// over the target, so a crash mid-write cannot truncate the history.
func (s *Session) saveHistoryLocked() error {
	history := s.history
	if history == nil {
		history = []agent.Turn{}
	}
	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, s.id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create history temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close history temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace history snapshot: %w", err)
	}
	return nil
}
