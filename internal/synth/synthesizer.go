// Package synth adapts the event-stream protocol into a speech synthesis
// call. Unlike transcription there is no global engine lock; every call opens
// its own connection.
package synth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/parleylabs/parley-core/internal/audio"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/eventstream"
)

// Output format is fixed by the engine contract, not negotiated per call:
// mono 16-bit PCM at the configured rate.
const (
	outputChannels = 1
	outputWidth    = 2
)

// Synthesizer turns text into an audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

type DialFunc func(ctx context.Context, addr string) (*eventstream.Conn, error)

type StreamSynthesizer struct {
	cfg    config.SynthConfig
	logger *slog.Logger
	dial   DialFunc
}

func NewStreamSynthesizer(cfg config.SynthConfig, logger *slog.Logger) *StreamSynthesizer {
	return &StreamSynthesizer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "synth")),
		dial:   eventstream.Dial,
	}
}

func (s *StreamSynthesizer) addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *StreamSynthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	conn, err := s.dial(ctx, s.addr())
	if err != nil {
		return audio.Clip{}, fmt.Errorf("connect synth engine: %w", err)
	}
	defer conn.Close()

	readTimeout := time.Duration(s.cfg.ReadTimeoutMS) * time.Millisecond
	if err := conn.SetWriteDeadline(time.Now().Add(readTimeout)); err != nil {
		return audio.Clip{}, fmt.Errorf("set write deadline: %w", err)
	}

	if err := conn.WriteEvent(eventstream.Synthesize(text)); err != nil {
		return audio.Clip{}, fmt.Errorf("send synthesize request: %w", err)
	}

	var pcm []byte
	chunks := 0
loop:
	for {
		ev, err := conn.ReadEvent(time.Now().Add(readTimeout))
		if err != nil {
			if errors.Is(err, io.EOF) {
				// End of stream counts as a terminal marker, but an
				// immediate EOF means the engine never spoke the protocol.
				if chunks == 0 {
					return audio.Clip{}, fmt.Errorf("%w: stream closed before any audio", eventstream.ErrDesync)
				}
				break
			}
			return audio.Clip{}, fmt.Errorf("read synthesis events: %w", err)
		}
		switch ev.Type {
		case eventstream.TypeAudioChunk:
			pcm = append(pcm, ev.Payload...)
			chunks++
		case eventstream.TypeAudioStop:
			break loop
		}
	}
	s.logger.Debug("synthesis complete", slog.Int("chunks", chunks), slog.Int("bytes", len(pcm)))
	return audio.NewClip(outputChannels, outputWidth, s.cfg.SampleRate, pcm)
}
