// Package eventstream implements the line-delimited event protocol spoken by
// the external speech engines: each event is one JSON header line of the form
// {"type": ..., "data": {...}, "payload_length": N} followed by N raw bytes.
package eventstream

// Event types exchanged with the speech engines.
const (
	TypeTranscribe = "transcribe"
	TypeAudioStart = "audio-start"
	TypeAudioChunk = "audio-chunk"
	TypeAudioStop  = "audio-stop"
	TypeTranscript = "transcript"
	TypeSynthesize = "synthesize"
)

// Event is one unit on the stream: a type tag, structured data, and an
// optional binary payload (PCM bytes for audio-chunk events).
type Event struct {
	Type    string
	Data    map[string]any
	Payload []byte
}

// Transcribe announces an upcoming transcription session.
func Transcribe(language string) Event {
	return Event{Type: TypeTranscribe, Data: map[string]any{"language": language}}
}

// AudioStart carries the format of the audio chunks that follow.
func AudioStart(rate, width, channels int) Event {
	return Event{Type: TypeAudioStart, Data: map[string]any{
		"rate":     rate,
		"width":    width,
		"channels": channels,
	}}
}

// AudioChunk wraps raw sample bytes.
func AudioChunk(pcm []byte) Event {
	return Event{Type: TypeAudioChunk, Payload: pcm}
}

// AudioStop marks the end of an audio stream.
func AudioStop() Event {
	return Event{Type: TypeAudioStop}
}

// Synthesize requests speech synthesis for text.
func Synthesize(text string) Event {
	return Event{Type: TypeSynthesize, Data: map[string]any{"text": text}}
}

// Text extracts the "text" data field, empty when absent.
func (e Event) Text() string {
	if e.Data == nil {
		return ""
	}
	if s, ok := e.Data["text"].(string); ok {
		return s
	}
	return ""
}
