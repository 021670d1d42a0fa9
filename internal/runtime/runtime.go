// Package runtime assembles the daemon: telemetry, the message bus, the
// event store, the recognition pipeline and the HTTP surface, with ordered
// startup and shutdown.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gesturelabs/signcast/internal/bus"
	"github.com/gesturelabs/signcast/internal/classifier"
	"github.com/gesturelabs/signcast/internal/config"
	"github.com/gesturelabs/signcast/internal/detector"
	"github.com/gesturelabs/signcast/internal/eventstore"
	"github.com/gesturelabs/signcast/internal/ledger"
	"github.com/gesturelabs/signcast/internal/natsserver"
	"github.com/gesturelabs/signcast/internal/orchestrator"
	"github.com/gesturelabs/signcast/internal/playback"
	"github.com/gesturelabs/signcast/internal/protocol"
	"github.com/gesturelabs/signcast/internal/recognition"
	"golang.org/x/sync/errgroup"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error

	embedded *natsserver.EmbeddedServer
	bus      *bus.Client
	store    *eventstore.Store
	orch     *orchestrator.Orchestrator
	ledger   *ledger.Ledger
	gate     *playback.Gate
	service  *recognition.Service

	ready   atomic.Bool
	wg      sync.WaitGroup
	servers errgroup.Group
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings the runtime up and blocks until ctx is cancelled, then tears
// everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}

	r.bus, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.embedded.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		r.bus.Close()
		r.embedded.Shutdown()
		return fmt.Errorf("failed to open event store: %w", err)
	}

	if err := r.buildPipeline(ctx); err != nil {
		r.store.Close()
		r.bus.Close()
		r.embedded.Shutdown()
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.ledger.RunSweeper(ctx, time.Duration(r.cfg.Ledger.SweepEveryMS)*time.Millisecond)
	}()

	if err := r.service.Start(); err != nil {
		return fmt.Errorf("failed to start recognition service: %w", err)
	}

	r.startHTTP(metricsHandler)

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.httpServer.Addr),
		slog.String("detector", r.cfg.Detector.Mode),
		slog.String("classifier", r.cfg.Classifier.Mode),
		slog.Bool("speech", r.cfg.Speech.Enabled))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}

	_ = r.servers.Wait()

	r.orch.Close()
	r.service.Close()
	if r.gate != nil {
		r.gate.Wait()
	}
	cancel()
	r.wg.Wait()

	if err := r.store.Close(); err != nil {
		r.logger.Error("event store close error", slog.String("error", err.Error()))
	}
	r.bus.Close()
	r.embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildPipeline constructs the collaborators, the orchestrator and the
// recognition service from config.
func (r *Runtime) buildPipeline(ctx context.Context) error {
	var det detector.Detector
	var err error
	switch r.cfg.Detector.Mode {
	case "exec":
		det, err = detector.NewExecDetector(r.cfg.Detector)
		if err != nil {
			return fmt.Errorf("failed to build detector: %w", err)
		}
	default:
		det = detector.NewMockDetector()
	}
	gatekeeper := detector.NewGatekeeper(det, r.logger)

	cls, err := classifier.New(r.cfg.Classifier)
	if err != nil {
		return fmt.Errorf("failed to build classifier: %w", err)
	}

	r.orch = orchestrator.New(
		gatekeeper,
		cls,
		classifier.NewRetryPolicy(r.cfg.Classifier.MaxRetries),
		orchestrator.Options{
			DispatchInterval: time.Duration(r.cfg.Recognizer.DispatchIntervalMS) * time.Millisecond,
			SessionCap:       r.cfg.Recognizer.SessionCap,
			Policy:           orchestrator.Policy(r.cfg.Recognizer.Concurrency),
			CancelOnVanish:   r.cfg.Recognizer.CancelOnVanish,
			CallTimeout:      time.Duration(r.cfg.Classifier.TimeoutMS) * time.Millisecond,
		},
		r.logger,
	)

	r.ledger = ledger.New(
		time.Duration(r.cfg.Ledger.TTLMS)*time.Millisecond,
		r.cfg.Ledger.MaxEntries,
	)

	if r.cfg.Speech.Enabled {
		r.gate, err = r.buildGate()
		if err != nil {
			return err
		}
	}

	r.service = recognition.NewService(ctx, r.cfg.Recognizer, r.bus, r.orch, r.ledger, r.store, r.gate, r.logger)
	return nil
}

func (r *Runtime) buildGate() (*playback.Gate, error) {
	var synth playback.Synthesizer
	var err error
	switch r.cfg.Speech.Mode {
	case "exec":
		synth, err = playback.NewExecSynth(r.cfg.Speech.Command, r.cfg.Speech.SampleRate, r.cfg.Speech.Channels)
		if err != nil {
			return nil, fmt.Errorf("failed to build synthesizer: %w", err)
		}
	default:
		synth = playback.NewMockSynth(r.cfg.Speech.SampleRate, r.cfg.Speech.Channels)
	}

	var player playback.Player
	if r.cfg.Speech.PlayerCommand != "" {
		player, err = playback.NewExecPlayer(r.cfg.Speech.PlayerCommand)
		if err != nil {
			return nil, fmt.Errorf("failed to build player: %w", err)
		}
	} else {
		player = playback.NewDiscardPlayer()
	}

	onDone := func(text string, playErr error) {
		done := protocol.SpeakDone{Text: text, Timestamp: time.Now()}
		if playErr != nil {
			done.Err = playErr.Error()
		}
		if err := r.bus.PublishJSON(protocol.SubjectSpeakDone, done); err != nil {
			r.logger.Warn("failed to publish speak done", slog.String("error", err.Error()))
		}
	}

	return playback.NewGate(
		playback.Mode(r.cfg.Speech.Playback),
		synth,
		player,
		r.orch,
		r.cfg.Speech.Voice,
		r.logger,
		onDone,
	), nil
}

// startHTTP serves health, readiness and the live result list, plus the
// Prometheus scrape endpoint on its own bind.
func (r *Runtime) startHTTP(metricsHandler http.Handler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/results", r.handleResults)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.servers.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.servers.Go(func() error {
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
				return err
			}
			return nil
		})
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if r.bus != nil && !r.bus.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus disconnected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.service.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleResults returns the unexpired ledger entries, oldest first.
func (r *Runtime) handleResults(w http.ResponseWriter, _ *http.Request) {
	entries := r.ledger.Snapshot(time.Now())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		r.logger.Warn("failed to encode results", slog.String("error", err.Error()))
	}
}
