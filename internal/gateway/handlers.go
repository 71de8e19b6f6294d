// Package gateway exposes the voice pipeline over HTTP: the request
// lifecycle API used by polling clients and capture devices, and the direct
// audio-in endpoints.
package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/parleylabs/parley-core/internal/asr"
	"github.com/parleylabs/parley-core/internal/audio"
	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/eventstore"
	"github.com/parleylabs/parley-core/internal/protocol"
	"github.com/parleylabs/parley-core/internal/session"
	"github.com/parleylabs/parley-core/internal/synth"
	"github.com/parleylabs/parley-core/internal/voicereq"
)

// Uploaded audio is bounded so a misbehaving client cannot exhaust memory.
const maxAudioBody = 32 << 20

type Server struct {
	cfg         config.Config
	logger      *slog.Logger
	registry    *voicereq.Registry
	sessions    *session.Store
	transcriber asr.Transcriber
	synthesizer synth.Synthesizer
	bus         *bus.Client
	store       *eventstore.Store
}

func NewServer(
	cfg config.Config,
	logger *slog.Logger,
	registry *voicereq.Registry,
	sessions *session.Store,
	transcriber asr.Transcriber,
	synthesizer synth.Synthesizer,
	busClient *bus.Client,
	store *eventstore.Store,
) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "gateway")),
		registry:    registry,
		sessions:    sessions,
		transcriber: transcriber,
		synthesizer: synthesizer,
		bus:         busClient,
		store:       store,
	}
}

// Routes builds the full handler tree. metrics may be nil when the
// prometheus exporter is unavailable; ready gates the readiness probe.
func (s *Server) Routes(metrics http.Handler, ready func() bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/request-voice", s.handleRequestVoice)
	mux.HandleFunc("GET /api/pending-requests", s.handlePendingRequests)
	mux.HandleFunc("POST /api/claim-request/{id}", s.handleClaimRequest)
	mux.HandleFunc("POST /api/submit-voice/{id}", s.handleSubmitVoice)
	mux.HandleFunc("GET /api/result/{id}", s.handleResult)

	mux.HandleFunc("POST /voice", s.handleVoice)
	mux.HandleFunc("POST /voice-text", s.handleVoiceText)
	mux.HandleFunc("POST /session/new", s.handleSessionNew)
	mux.HandleFunc("POST /session/{id}/clear", s.handleSessionClear)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if ready == nil || ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}

	return requestLogger(s.logger, mux)
}

func (s *Server) handleRequestVoice(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Language == "" {
		body.Language = s.cfg.ASR.Language
	}

	id := s.registry.Create(body.Language)
	s.publishLifecycle(id, string(voicereq.StatusPending), body.Language, "", "")
	writeJSON(w, http.StatusOK, map[string]string{
		"request_id": id,
		"status":     string(voicereq.StatusPending),
	})
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, _ *http.Request) {
	pending := s.registry.ListPending()
	requests := make([]map[string]string, 0, len(pending))
	for _, p := range pending {
		requests = append(requests, map[string]string{
			"id":       p.ID,
			"language": p.Language,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": requests})
}

func (s *Server) handleClaimRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Claim(id); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.publishLifecycle(id, string(voicereq.StatusRecording), "", "", "")
	writeJSON(w, http.StatusOK, map[string]string{"status": string(voicereq.StatusRecording)})
}

// handleSubmitVoice runs the submit leg of the lifecycle: move the request
// into processing, transcribe the uploaded WAV, and finish it. Adapter
// faults land on the request as its error; they never escape the handler.
func (s *Server) handleSubmitVoice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	language, err := s.registry.Submit(id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.publishLifecycle(id, string(voicereq.StatusProcessing), language, "", "")

	clip, err := s.readClip(r)
	if err != nil {
		s.failRequest(w, id, fmt.Sprintf("invalid audio: %v", err), http.StatusBadRequest)
		return
	}

	transcript, err := s.transcriber.Transcribe(r.Context(), clip, language)
	if err != nil {
		s.failRequest(w, id, fmt.Sprintf("transcription failed: %v", err), http.StatusInternalServerError)
		return
	}

	if err := s.registry.Complete(id, transcript); err != nil {
		s.writeRegistryError(w, err)
		return
	}
	s.publishLifecycle(id, string(voicereq.StatusCompleted), language, transcript, "")
	writeJSON(w, http.StatusOK, map[string]string{
		"transcript": transcript,
		"status":     string(voicereq.StatusCompleted),
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Get(r.PathValue("id"))
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     string(snap.Status),
		"transcript": snap.Transcript,
		"error":      snap.Err,
	})
}

// handleVoice is the audio-in/audio-out pipeline: transcribe, exchange with
// the session's backend, and speak the reply back as WAV.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	sess, transcript, ok := s.transcribeForSession(w, r)
	if !ok {
		return
	}

	reply := sess.Send(r.Context(), transcript)
	s.recordExchange(r, sess, transcript, reply)

	clip, err := s.synthesizer.Synthesize(r.Context(), reply)
	if err != nil {
		s.logger.Error("synthesis failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}

	w.Header().Set("X-Session-ID", sess.ID())
	if err := serveClipWAV(w, clip); err != nil {
		s.logger.Error("failed to serve reply audio", slog.String("error", err.Error()))
	}
}

// handleVoiceText is the same pipeline without the synthesis leg.
func (s *Server) handleVoiceText(w http.ResponseWriter, r *http.Request) {
	sess, transcript, ok := s.transcribeForSession(w, r)
	if !ok {
		return
	}

	reply := sess.Send(r.Context(), transcript)
	s.recordExchange(r, sess, transcript, reply)

	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sess.ID(),
		"transcript": transcript,
		"response":   reply,
	})
}

func (s *Server) handleSessionNew(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.sessions.GetOrCreate("")
	if err != nil {
		s.logger.Error("failed to create session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sess.ID()})
}

func (s *Server) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Clear(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		s.logger.Error("failed to clear session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "cleared"})
}

// transcribeForSession handles the shared front half of the voice endpoints:
// resolve the session from the X-Session-ID header, decode the body, and
// transcribe it. An empty transcript ends the request with 400 "no speech
// detected"; it is not treated as a fault.
func (s *Server) transcribeForSession(w http.ResponseWriter, r *http.Request) (*session.Session, string, bool) {
	sess, err := s.sessions.GetOrCreate(r.Header.Get("X-Session-ID"))
	if err != nil {
		s.logger.Error("failed to resolve session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to resolve session")
		return nil, "", false
	}

	clip, err := s.readClip(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid audio: %v", err))
		return nil, "", false
	}

	transcript, err := s.transcriber.Transcribe(r.Context(), clip, r.URL.Query().Get("language"))
	if err != nil {
		s.logger.Error("transcription failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "transcription failed")
		return nil, "", false
	}
	if transcript == "" {
		w.Header().Set("X-Session-ID", sess.ID())
		writeError(w, http.StatusBadRequest, "no speech detected")
		return nil, "", false
	}
	return sess, transcript, true
}

func (s *Server) readClip(r *http.Request) (audio.Clip, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAudioBody))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return audio.Clip{}, errors.New("empty body")
	}
	return audio.DecodeWAV(bytes.NewReader(body))
}

// failRequest marks the request errored and reports the same message to the
// submitting client.
func (s *Server) failRequest(w http.ResponseWriter, id, message string, status int) {
	if err := s.registry.Fail(id, message); err != nil {
		s.logger.Error("failed to record request error",
			slog.String("request", id), slog.String("error", err.Error()))
	}
	s.publishLifecycle(id, string(voicereq.StatusError), "", "", message)
	writeError(w, status, message)
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voicereq.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown voice request")
	case errors.Is(err, voicereq.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) publishLifecycle(id, status, language, transcript, errMsg string) {
	if s.bus == nil {
		return
	}
	msg := protocol.RequestLifecycle{
		RequestID:  id,
		Status:     status,
		Language:   language,
		Transcript: transcript,
		Error:      errMsg,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.bus.PublishJSON(protocol.SubjectRequestLifecycle, msg); err != nil {
		s.logger.Warn("failed to publish lifecycle event", slog.String("error", err.Error()))
	}
}

// recordExchange fans the finished exchange out to the bus and the timeline
// store. Both legs are best effort.
func (s *Server) recordExchange(r *http.Request, sess *session.Session, transcript, reply string) {
	sessionID := sess.ID()
	now := time.Now().UTC()
	if s.bus != nil {
		if err := s.bus.PublishJSON(protocol.SubjectTranscriptFinal, protocol.Transcript{
			SessionID: sessionID,
			Text:      transcript,
			Language:  r.URL.Query().Get("language"),
			Timestamp: now,
		}); err != nil {
			s.logger.Warn("failed to publish transcript", slog.String("error", err.Error()))
		}
		if err := s.bus.PublishJSON(protocol.SubjectReplyFinal, protocol.Reply{
			SessionID: sessionID,
			Text:      reply,
			Degraded:  sess.Degraded(),
			Timestamp: now,
		}); err != nil {
			s.logger.Warn("failed to publish reply", slog.String("error", err.Error()))
		}
	}
	if s.store != nil {
		ctx := r.Context()
		if err := s.store.EnsureSession(ctx, sessionID); err != nil {
			s.logger.Warn("failed to record session", slog.String("error", err.Error()))
			return
		}
		if err := s.store.AppendEvent(ctx, eventstore.Event{
			SessionID: sessionID, Kind: eventstore.KindTranscript, Payload: []byte(transcript),
		}); err != nil {
			s.logger.Warn("failed to record transcript", slog.String("error", err.Error()))
		}
		if err := s.store.AppendEvent(ctx, eventstore.Event{
			SessionID: sessionID, Kind: eventstore.KindReply, Payload: []byte(reply),
		}); err != nil {
			s.logger.Warn("failed to record reply", slog.String("error", err.Error()))
		}
	}
}

// serveClipWAV stages the encoded WAV in a temp file because the encoder
// needs a seekable target to patch up chunk sizes.
func serveClipWAV(w http.ResponseWriter, clip audio.Clip) error {
	tmp, err := os.CreateTemp("", "parley-reply-*.wav")
	if err != nil {
		return fmt.Errorf("create reply temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := clip.EncodeWAV(tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind reply file: %w", err)
	}
	w.Header().Set("Content-Type", "audio/wav")
	if _, err := io.Copy(w, tmp); err != nil {
		return fmt.Errorf("stream reply audio: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
