// Package voicereq tracks voice input requests through their lifecycle: a
// client creates a request, a browser claims it and submits audio, and the
// client polls for the transcript.
package voicereq

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

var (
	ErrNotFound          = errors.New("voice request not found")
	ErrInvalidTransition = errors.New("invalid voice request transition")
	ErrTimeout           = errors.New("timed out waiting for voice input")
)

type request struct {
	id         string
	language   string
	status     Status
	transcript string
	errMsg     string
	createdAt  time.Time
}

// Snapshot is the externally visible state of a request. Transcript is only
// set on completed requests, Err only on failed ones.
type Snapshot struct {
	Status     Status
	Transcript *string
	Err        *string
}

// Pending identifies a request waiting to be claimed.
type Pending struct {
	ID       string
	Language string
}

// Registry is the in-memory request store. All transitions for one id are
// linearized behind a single mutex; there is no ordering across ids.
// Requests live for the process lifetime.
type Registry struct {
	mu       sync.Mutex
	requests map[string]*request
	clock    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		requests: make(map[string]*request),
		clock:    time.Now,
	}
}

// Create allocates a fresh pending request and returns its id, an
// unguessable random token.
func (r *Registry) Create(language string) string {
	id := newToken()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[id] = &request{
		id:        id,
		language:  language,
		status:    StatusPending,
		createdAt: r.clock(),
	}
	return id
}

// Claim marks a pending request as recording so it stops appearing in the
// pending list.
func (r *Registry) Claim(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.status != StatusPending {
		return transitionError("claim", req.status)
	}
	req.status = StatusRecording
	return nil
}

// Submit moves a request into processing and hands back its language for the
// transcription call. Accepted from pending (browsers may skip the claim) or
// recording.
func (r *Registry) Submit(id string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return "", ErrNotFound
	}
	if req.status != StatusPending && req.status != StatusRecording {
		return "", transitionError("submit", req.status)
	}
	req.status = StatusProcessing
	return req.language, nil
}

// Complete records the transcript and finishes the request.
func (r *Registry) Complete(id, transcript string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.status != StatusProcessing {
		return transitionError("complete", req.status)
	}
	req.status = StatusCompleted
	req.transcript = transcript
	return nil
}

// Fail records an error message and finishes the request.
func (r *Registry) Fail(id, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return ErrNotFound
	}
	if req.status != StatusProcessing {
		return transitionError("fail", req.status)
	}
	req.status = StatusError
	req.errMsg = message
	return nil
}

// Get returns the current snapshot; safe to call in any state, any number of
// times.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	snap := Snapshot{Status: req.status}
	if req.status == StatusCompleted {
		transcript := req.transcript
		snap.Transcript = &transcript
	}
	if req.status == StatusError {
		errMsg := req.errMsg
		snap.Err = &errMsg
	}
	return snap, nil
}

// ListPending returns every request still waiting to be claimed.
func (r *Registry) ListPending() []Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []Pending
	for _, req := range r.requests {
		if req.status == StatusPending {
			pending = append(pending, Pending{ID: req.id, Language: req.language})
		}
	}
	return pending
}

func transitionError(op string, current Status) error {
	return fmt.Errorf("%w: cannot %s request in status %q", ErrInvalidTransition, op, current)
}

func newToken() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("read random token: %v", err))
	}
	return hex.EncodeToString(buf)
}
