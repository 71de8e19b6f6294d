package synth

import (
	"context"
	"time"

	"github.com/parleylabs/parley-core/internal/audio"
)

type mockSynthesizer struct {
	sampleRate int
}

// NewMockSynthesizer returns a synthesizer that produces a short stretch of
// silence in the fixed output format.
func NewMockSynthesizer(sampleRate int) Synthesizer {
	return &mockSynthesizer{sampleRate: sampleRate}
}

func (m *mockSynthesizer) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	select {
	case <-ctx.Done():
		return audio.Clip{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	// 100ms of silence regardless of input.
	frames := make([]byte, m.sampleRate/10*outputWidth)
	return audio.NewClip(outputChannels, outputWidth, m.sampleRate, frames)
}
