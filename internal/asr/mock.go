package asr

import (
	"context"
	"fmt"

	"github.com/parleylabs/parley-core/internal/audio"
)

type mockTranscriber struct{}

// NewMockTranscriber returns a transcriber that describes the clip instead of
// contacting an engine. Silent (empty) clips yield an empty transcript.
func NewMockTranscriber() Transcriber {
	return &mockTranscriber{}
}

func (m *mockTranscriber) Transcribe(_ context.Context, clip audio.Clip, language string) (string, error) {
	if clip.Empty() {
		return "", nil
	}
	return fmt.Sprintf("[mock %s transcript for %s of audio]", language, clip.Duration()), nil
}
