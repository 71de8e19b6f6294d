package voicereq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pollerForTest(t *testing.T, handler http.Handler) *Poller {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewPoller(srv.URL, srv.Client())
	p.Interval = 10 * time.Millisecond
	return p
}

func TestGetVoiceInputCompletesAfterPolls(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/request-voice", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "en", body["language"])
		json.NewEncoder(w).Encode(createResponse{RequestID: "abcd1234abcd1234", Status: "pending"})
	})
	mux.HandleFunc("GET /api/result/{id}", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "abcd1234abcd1234", r.PathValue("id"))
		if polls.Add(1) < 3 {
			json.NewEncoder(w).Encode(resultResponse{Status: string(StatusProcessing)})
			return
		}
		transcript := "turn on the lights"
		json.NewEncoder(w).Encode(resultResponse{Status: string(StatusCompleted), Transcript: &transcript})
	})

	p := pollerForTest(t, mux)
	got, err := p.GetVoiceInput(context.Background(), "en", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "turn on the lights", got)
	require.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestGetVoiceInputTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/request-voice", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createResponse{RequestID: "feedfeedfeedfeed", Status: "pending"})
	})
	mux.HandleFunc("GET /api/result/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(resultResponse{Status: string(StatusPending)})
	})

	p := pollerForTest(t, mux)
	start := time.Now()
	_, err := p.GetVoiceInput(context.Background(), "en", 200*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestGetVoiceInputTransportErrorIsFatal(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/request-voice", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(createResponse{RequestID: "0123456789abcdef", Status: "pending"})
	})
	mux.HandleFunc("GET /api/result/{id}", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	p := pollerForTest(t, mux)
	_, err := p.GetVoiceInput(context.Background(), "en", 5*time.Second)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimeout)
	require.Equal(t, int32(1), polls.Load(), "transport errors are not retried")
}

func TestGetVoiceInputCreateFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/request-voice", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	})

	p := pollerForTest(t, mux)
	_, err := p.GetVoiceInput(context.Background(), "en", time.Second)
	require.Error(t, err)
}
