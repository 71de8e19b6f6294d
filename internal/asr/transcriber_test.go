package asr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleylabs/parley-core/internal/audio"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/eventstream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.ASRConfig {
	return config.ASRConfig{
		Mode:            "stream",
		Host:            "localhost",
		Port:            10300,
		Language:        "en",
		SamplesPerChunk: 1024,
		BudgetMS:        2000,
		ReadTimeoutMS:   500,
		EventCeiling:    100,
	}
}

func testClip(t *testing.T, bytes int) audio.Clip {
	t.Helper()
	clip, err := audio.NewClip(1, 2, 16000, make([]byte, bytes))
	require.NoError(t, err)
	return clip
}

// fakeEngine wires the transcriber's dial function to an in-memory engine
// that consumes the audio stream and answers with the given transcript.
func fakeEngine(t *testing.T, transcript string, delay time.Duration) (DialFunc, *int32) {
	t.Helper()
	var active int32
	return func(ctx context.Context, addr string) (*eventstream.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			if n := atomic.AddInt32(&active, 1); n > 1 {
				t.Errorf("engine saw %d concurrent sessions", n)
			}
			var release sync.Once
			leave := func() { atomic.AddInt32(&active, -1) }
			defer release.Do(leave)

			conn := eventstream.NewConn(server)
			for {
				ev, err := conn.ReadEvent(time.Now().Add(2 * time.Second))
				if err != nil {
					return
				}
				if ev.Type == eventstream.TypeAudioStop {
					break
				}
			}
			time.Sleep(delay)
			// Leave the critical section before the result write: the
			// transcriber releases its lock once the transcript arrives, so
			// counting until goroutine exit would measure teardown, not
			// overlapping exchanges.
			release.Do(leave)
			_ = conn.WriteEvent(eventstream.Event{
				Type: eventstream.TypeTranscript,
				Data: map[string]any{"text": transcript},
			})
		}()
		return eventstream.NewConn(client), nil
	}, &active
}

func TestTranscribeReturnsTrimmedText(t *testing.T) {
	tr := NewStreamTranscriber(testConfig(), testLogger())
	dial, _ := fakeEngine(t, "  hello world \n", 0)
	tr.dial = dial

	text, err := tr.Transcribe(context.Background(), testClip(t, 4096), "en")
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestTranscribeEmptyWhenStreamEndsSilently(t *testing.T) {
	tr := NewStreamTranscriber(testConfig(), testLogger())
	tr.dial = func(ctx context.Context, addr string) (*eventstream.Conn, error) {
		client, server := net.Pipe()
		go func() {
			conn := eventstream.NewConn(server)
			for {
				ev, err := conn.ReadEvent(time.Now().Add(2 * time.Second))
				if err != nil {
					return
				}
				if ev.Type == eventstream.TypeAudioStop {
					break
				}
			}
			server.Close()
		}()
		return eventstream.NewConn(client), nil
	}

	text, err := tr.Transcribe(context.Background(), testClip(t, 2048), "")
	require.NoError(t, err)
	require.Empty(t, text)
}

func TestTranscribeSerializedUnderConcurrency(t *testing.T) {
	tr := NewStreamTranscriber(testConfig(), testLogger())
	dial, _ := fakeEngine(t, "ok", 50*time.Millisecond)
	tr.dial = dial

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := tr.Transcribe(context.Background(), testClip(t, 2048), "en")
			require.NoError(t, err)
			require.Equal(t, "ok", text)
		}()
	}
	wg.Wait()
}

func TestTranscribeEmptyWhenLockBudgetExpires(t *testing.T) {
	cfg := testConfig()
	cfg.BudgetMS = 50
	tr := NewStreamTranscriber(cfg, testLogger())
	dial, _ := fakeEngine(t, "ok", 0)
	tr.dial = dial

	// Hold the engine lock so the call can never acquire it.
	tr.lock <- struct{}{}
	defer func() { <-tr.lock }()

	start := time.Now()
	text, err := tr.Transcribe(context.Background(), testClip(t, 2048), "en")
	require.NoError(t, err)
	require.Empty(t, text)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestTranscribeReturnsWhenEngineNeverReads(t *testing.T) {
	cfg := testConfig()
	cfg.BudgetMS = 300
	tr := NewStreamTranscriber(cfg, testLogger())
	tr.dial = func(ctx context.Context, addr string) (*eventstream.Conn, error) {
		// The peer accepts the connection but never reads a byte.
		client, server := net.Pipe()
		t.Cleanup(func() {
			server.Close()
			client.Close()
		})
		return eventstream.NewConn(client), nil
	}

	done := make(chan struct{})
	var text string
	var err error
	go func() {
		defer close(done)
		text, err = tr.Transcribe(context.Background(), testClip(t, 2048), "en")
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("transcribe still blocked long after its budget expired")
	}
	require.NoError(t, err)
	require.Empty(t, text)

	// The engine lock must be free again for the next caller.
	select {
	case tr.lock <- struct{}{}:
		<-tr.lock
	default:
		t.Fatal("engine lock still held after budget expired")
	}
}

func TestTranscribeDialFailureIsTransportError(t *testing.T) {
	tr := NewStreamTranscriber(testConfig(), testLogger())
	dialErr := errors.New("connection refused")
	tr.dial = func(ctx context.Context, addr string) (*eventstream.Conn, error) {
		return nil, dialErr
	}

	_, err := tr.Transcribe(context.Background(), testClip(t, 2048), "en")
	require.ErrorIs(t, err, dialErr)
}

func TestMockTranscriber(t *testing.T) {
	m := NewMockTranscriber()
	text, err := m.Transcribe(context.Background(), audio.Clip{}, "en")
	require.NoError(t, err)
	require.Empty(t, text)

	text, err = m.Transcribe(context.Background(), testClip(t, 2048), "en")
	require.NoError(t, err)
	require.NotEmpty(t, text)
}
