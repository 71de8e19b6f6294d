package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Clip is an immutable container for raw PCM samples and their format.
// Frame bytes are little-endian interleaved samples.
type Clip struct {
	channels int
	width    int // bytes per sample
	rate     int // Hz
	frames   []byte
}

// NewClip validates that the frame payload aligns with the declared format.
func NewClip(channels, width, rate int, frames []byte) (Clip, error) {
	if channels <= 0 {
		return Clip{}, fmt.Errorf("channels must be positive, got %d", channels)
	}
	if width <= 0 {
		return Clip{}, fmt.Errorf("sample width must be positive, got %d", width)
	}
	if rate <= 0 {
		return Clip{}, fmt.Errorf("sample rate must be positive, got %d", rate)
	}
	if frameSize := channels * width; len(frames)%frameSize != 0 {
		return Clip{}, fmt.Errorf("frame payload %d bytes is not a multiple of frame size %d", len(frames), frameSize)
	}
	return Clip{channels: channels, width: width, rate: rate, frames: frames}, nil
}

func (c Clip) Channels() int { return c.channels }
func (c Clip) Width() int    { return c.width }
func (c Clip) Rate() int     { return c.rate }
func (c Clip) Frames() []byte {
	return c.frames
}

func (c Clip) Empty() bool { return len(c.frames) == 0 }

func (c Clip) Duration() time.Duration {
	if c.rate == 0 || c.channels == 0 || c.width == 0 {
		return 0
	}
	samples := len(c.frames) / (c.channels * c.width)
	return time.Duration(samples) * time.Second / time.Duration(c.rate)
}

// Chunks splits the frame payload into fixed-size pieces of samplesPerChunk
// samples each; the final piece may be shorter.
func (c Clip) Chunks(samplesPerChunk int) [][]byte {
	if samplesPerChunk <= 0 || len(c.frames) == 0 {
		return nil
	}
	size := samplesPerChunk * c.channels * c.width
	var out [][]byte
	for off := 0; off < len(c.frames); off += size {
		end := off + size
		if end > len(c.frames) {
			end = len(c.frames)
		}
		out = append(out, c.frames[off:end])
	}
	return out
}

// DecodeWAV reads a 16-bit PCM WAV stream into a Clip.
func DecodeWAV(r io.ReadSeeker) (Clip, error) {
	dec := wav.NewDecoder(r)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("decode wav: %w", err)
	}
	if dec.BitDepth != 16 {
		return Clip{}, fmt.Errorf("unsupported wav bit depth %d", dec.BitDepth)
	}
	frames := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		binary.LittleEndian.PutUint16(frames[i*2:], uint16(int16(sample)))
	}
	return NewClip(int(dec.NumChans), 2, int(dec.SampleRate), frames)
}

// EncodeWAV writes the clip as a 16-bit PCM WAV stream.
func (c Clip) EncodeWAV(w io.WriteSeeker) error {
	if c.width != 2 {
		return fmt.Errorf("unsupported sample width %d", c.width)
	}
	samples := make([]int, len(c.frames)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(c.frames[i*2:])))
	}
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{NumChannels: c.channels, SampleRate: c.rate},
		Data:   samples,
	}
	enc := wav.NewEncoder(w, c.rate, 16, c.channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
