// Package runtime assembles the gateway: telemetry, the optional bus, the
// event store, the speech adapters, the session store, and the HTTP server.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parleylabs/parley-core/internal/agent"
	"github.com/parleylabs/parley-core/internal/asr"
	"github.com/parleylabs/parley-core/internal/bus"
	"github.com/parleylabs/parley-core/internal/config"
	"github.com/parleylabs/parley-core/internal/eventstore"
	"github.com/parleylabs/parley-core/internal/gateway"
	"github.com/parleylabs/parley-core/internal/natsserver"
	"github.com/parleylabs/parley-core/internal/session"
	"github.com/parleylabs/parley-core/internal/synth"
	"github.com/parleylabs/parley-core/internal/voicereq"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx is cancelled, then tears
// down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var busClient *bus.Client
	var embedded *natsserver.EmbeddedServer
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	sessions, err := session.NewStore(r.cfg.Sessions.Dir, r.backendFactory(), r.logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.CloseAll()

	srv := gateway.NewServer(
		r.cfg,
		r.logger,
		voicereq.NewRegistry(),
		sessions,
		r.transcriber(),
		r.synthesizer(),
		busClient,
		store,
	)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(metricsHandler, r.ready.Load),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("gateway started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("gateway stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) transcriber() asr.Transcriber {
	if r.cfg.ASR.Mode == "mock" {
		r.logger.Warn("using mock transcriber")
		return asr.NewMockTranscriber()
	}
	return asr.NewStreamTranscriber(r.cfg.ASR, r.logger)
}

func (r *Runtime) synthesizer() synth.Synthesizer {
	if r.cfg.Synth.Mode == "mock" {
		r.logger.Warn("using mock synthesizer")
		return synth.NewMockSynthesizer(r.cfg.Synth.SampleRate)
	}
	return synth.NewStreamSynthesizer(r.cfg.Synth, r.logger)
}

// backendFactory builds the agent channels for each new session: an
// interactive subprocess when configured, always backed by a one-shot
// fallback. A broken interactive config degrades the session instead of
// failing it.
func (r *Runtime) backendFactory() session.BackendFactory {
	agentCfg := r.cfg.Agent
	grace := time.Duration(agentCfg.GracePeriodMS) * time.Millisecond
	invokeTimeout := time.Duration(agentCfg.InvokeTimeoutMS) * time.Millisecond

	return func(sessionID string) (agent.Exchanger, agent.Exchanger, error) {
		fallback, err := agent.NewOneShot(agentCfg.Command, agentCfg.PromptFlag, agentCfg.ContextTurns, invokeTimeout)
		if err != nil {
			return nil, nil, err
		}
		if !agentCfg.Interactive {
			return nil, fallback, nil
		}
		primary, err := agent.NewInteractive(agentCfg.Command, agentCfg.PromptMarker, grace, r.logger)
		if err != nil {
			r.logger.Warn("interactive channel unavailable, session starts degraded",
				slog.String("session", sessionID), slog.String("error", err.Error()))
			return nil, fallback, nil
		}
		return primary, fallback, nil
	}
}
