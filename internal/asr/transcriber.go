// Package asr adapts the event-stream protocol into a transcription call.
package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/parleylabs/parley-core/internal/audio"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/eventstream"
)

// Transcriber turns an audio clip into text. An empty transcript means no
// speech was recognized; it is not an error.
type Transcriber interface {
	Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error)
}

// DialFunc opens an event stream to the engine. Swappable in tests.
type DialFunc func(ctx context.Context, addr string) (*eventstream.Conn, error)

// StreamTranscriber drives the remote ASR engine. The engine handles one
// streaming session at a time, so every call holds a process-wide lock for
// the full round trip. Lock acquisition and the exchange share one budget;
// when it runs out the call degrades to an empty transcript.
type StreamTranscriber struct {
	cfg    config.ASRConfig
	logger *slog.Logger
	lock   chan struct{}
	dial   DialFunc
}

func NewStreamTranscriber(cfg config.ASRConfig, logger *slog.Logger) *StreamTranscriber {
	return &StreamTranscriber{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "asr")),
		lock:   make(chan struct{}, 1),
		dial:   eventstream.Dial,
	}
}

func (t *StreamTranscriber) addr() string {
	return net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
}

func (t *StreamTranscriber) Transcribe(ctx context.Context, clip audio.Clip, language string) (string, error) {
	if language == "" {
		language = t.cfg.Language
	}

	budget := time.Duration(t.cfg.BudgetMS) * time.Millisecond
	deadline := time.Now().Add(budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	select {
	case t.lock <- struct{}{}:
	case <-ctx.Done():
		t.logger.Warn("engine lock wait exceeded budget",
			slog.Duration("budget", budget))
		return "", nil
	}
	defer func() { <-t.lock }()

	conn, err := t.dial(ctx, t.addr())
	if err != nil {
		return "", fmt.Errorf("connect asr engine: %w", err)
	}
	defer conn.Close()

	// Writes share the budget deadline so an engine that accepts the
	// connection but never reads cannot pin the lock past it.
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return "", fmt.Errorf("set write deadline: %w", err)
	}

	if err := t.streamClip(conn, clip, language); err != nil {
		if isTimeout(err) {
			t.logger.Warn("engine stalled while receiving audio, giving up",
				slog.Duration("budget", budget))
			return "", nil
		}
		return "", err
	}
	return t.awaitTranscript(conn, deadline), nil
}

func (t *StreamTranscriber) streamClip(conn *eventstream.Conn, clip audio.Clip, language string) error {
	if err := conn.WriteEvent(eventstream.Transcribe(language)); err != nil {
		return fmt.Errorf("send transcribe request: %w", err)
	}
	if err := conn.WriteEvent(eventstream.AudioStart(clip.Rate(), clip.Width(), clip.Channels())); err != nil {
		return fmt.Errorf("send audio start: %w", err)
	}
	chunks := clip.Chunks(t.cfg.SamplesPerChunk)
	for _, chunk := range chunks {
		if err := conn.WriteEvent(eventstream.AudioChunk(chunk)); err != nil {
			return fmt.Errorf("send audio chunk: %w", err)
		}
	}
	if err := conn.WriteEvent(eventstream.AudioStop()); err != nil {
		return fmt.Errorf("send audio stop: %w", err)
	}
	t.logger.Debug("streamed audio", slog.Int("chunks", len(chunks)), slog.Duration("clip", clip.Duration()))
	return nil
}

// awaitTranscript reads events until a transcript arrives, the event ceiling
// is hit, or a read times out. All exhaustion paths yield an empty
// transcript: the engine going quiet is "no speech", not a fault.
func (t *StreamTranscriber) awaitTranscript(conn *eventstream.Conn, overall time.Time) string {
	readTimeout := time.Duration(t.cfg.ReadTimeoutMS) * time.Millisecond
	for count := 0; count < t.cfg.EventCeiling; count++ {
		deadline := time.Now().Add(readTimeout)
		if deadline.After(overall) {
			deadline = overall
		}
		ev, err := conn.ReadEvent(deadline)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				t.logger.Warn("stream ended before transcript", slog.Int("events", count))
			case isTimeout(err):
				t.logger.Warn("timed out waiting for transcript", slog.Int("events", count))
			default:
				t.logger.Warn("error reading transcript events",
					slog.Int("events", count), slog.String("error", err.Error()))
			}
			return ""
		}
		if ev.Type == eventstream.TypeTranscript {
			return strings.TrimSpace(ev.Text())
		}
	}
	t.logger.Warn("event ceiling reached without transcript", slog.Int("ceiling", t.cfg.EventCeiling))
	return ""
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
