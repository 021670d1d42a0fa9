// Package recognition runs the orchestrator as a bus-facing service: frames
// come in over NATS or direct submission, events fan out to bus subjects, the
// result ledger, the event store and the speech gate.
package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gesturelabs/signcast/internal/bus"
	"github.com/gesturelabs/signcast/internal/config"
	"github.com/gesturelabs/signcast/internal/eventstore"
	"github.com/gesturelabs/signcast/internal/ledger"
	"github.com/gesturelabs/signcast/internal/orchestrator"
	"github.com/gesturelabs/signcast/internal/playback"
	"github.com/gesturelabs/signcast/internal/protocol"
	"github.com/gesturelabs/signcast/internal/vision"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Service owns the orchestrator event loop. The bus client, ledger, store and
// gate are borrowed from the runtime.
type Service struct {
	cfg    config.RecognizerConfig
	bus    *bus.Client
	orch   *orchestrator.Orchestrator
	ledger *ledger.Ledger
	store  *eventstore.Store
	gate   *playback.Gate
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription
	wg     sync.WaitGroup
	ready  bool

	pending atomic.Int64

	frames     metric.Int64Counter
	dispatches metric.Int64Counter
	results    metric.Int64Counter
	errors     metric.Int64Counter
}

// NewService wires the service; Start launches it. gate may be nil when
// speech is disabled.
func NewService(parent context.Context, cfg config.RecognizerConfig, busClient *bus.Client, orch *orchestrator.Orchestrator, led *ledger.Ledger, store *eventstore.Store, gate *playback.Gate, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:    cfg,
		bus:    busClient,
		orch:   orch,
		ledger: led,
		store:  store,
		gate:   gate,
		log:    log.With(slog.String("component", "recognition")),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers metrics, subscribes to the frame subject when configured,
// and launches the event fan-out loop.
func (s *Service) Start() error {
	if err := s.initMetrics(); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	if s.cfg.FrameSubject {
		sub, err := s.bus.Conn().Subscribe(protocol.SubjectVideoFrame, s.handleFrame)
		if err != nil {
			return fmt.Errorf("subscribe video frames: %w", err)
		}
		s.sub = sub
	}

	s.wg.Add(1)
	go s.run()

	s.ready = true
	return nil
}

// Close stops intake and waits for the fan-out loop to drain. The
// orchestrator itself is closed by the runtime, which closes the event
// channel this loop ranges over.
func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

// Submit feeds one frame into the orchestrator, for local producers that
// bypass the bus.
func (s *Service) Submit(ctx context.Context, frame *vision.Frame) error {
	if s.frames != nil {
		s.frames.Add(ctx, 1)
	}
	return s.orch.SubmitFrame(ctx, frame)
}

// handleFrame decodes a bus-published frame and submits it.
func (s *Service) handleFrame(msg *nats.Msg) {
	var vf protocol.VideoFrame
	if err := json.Unmarshal(msg.Data, &vf); err != nil {
		s.log.Warn("failed to decode video frame", slog.String("error", err.Error()))
		return
	}
	frame := &vision.Frame{Width: vf.Width, Height: vf.Height, Pix: vf.Pix}
	if !frame.Valid() {
		s.log.Warn("discarding malformed video frame",
			slog.Int("width", vf.Width), slog.Int("height", vf.Height), slog.Int("bytes", len(vf.Pix)))
		return
	}
	if err := s.Submit(s.ctx, frame); err != nil {
		s.log.Warn("frame rejected", slog.String("error", err.Error()))
	}
}

// run fans orchestrator events out to the bus, ledger, event store and
// speech gate. It exits when the orchestrator closes its event channel.
func (s *Service) run() {
	defer s.wg.Done()

	for evt := range s.orch.Events() {
		switch evt.Kind {
		case orchestrator.EventPresenceChanged:
			s.onPresence(evt)
		case orchestrator.EventStatusChanged:
			s.onStatus(evt)
		case orchestrator.EventResultReceived:
			s.onResult(evt)
		case orchestrator.EventPendingCountChanged:
			// The pending count only grows on a dispatch.
			if prev := s.pending.Swap(int64(evt.Pending)); int64(evt.Pending) > prev && s.dispatches != nil {
				s.dispatches.Add(s.ctx, int64(evt.Pending)-prev)
			}
			s.publish(protocol.SubjectPending, protocol.Pending{Count: evt.Pending, Timestamp: evt.Time})
		}
	}
}

func (s *Service) onPresence(evt orchestrator.Event) {
	if evt.Present {
		if err := s.store.BeginSession(s.ctx, evt.SessionID); err != nil {
			s.log.Warn("failed to record session start", slog.String("error", err.Error()))
		}
	}
	s.appendStored(eventstore.Event{
		SessionID: evt.SessionID,
		Type:      eventstore.TypePresence,
		Detail:    fmt.Sprintf("present=%t", evt.Present),
		CreatedAt: evt.Time,
	})
	s.publish(protocol.SubjectPresence, protocol.PresenceChange{
		SessionID: evt.SessionID,
		Present:   evt.Present,
		Timestamp: evt.Time,
	})
	s.log.Info("presence changed", slog.Bool("present", evt.Present), slog.String("session_id", evt.SessionID))
}

func (s *Service) onStatus(evt orchestrator.Event) {
	if strings.HasPrefix(evt.Status, "error:") {
		if s.errors != nil {
			s.errors.Add(s.ctx, 1)
		}
		s.appendStored(eventstore.Event{
			SessionID: evt.SessionID,
			Type:      eventstore.TypeStatus,
			Detail:    evt.Status,
			CreatedAt: evt.Time,
		})
	}
	s.publish(protocol.SubjectStatus, protocol.Status{
		SessionID: evt.SessionID,
		Text:      evt.Status,
		Timestamp: evt.Time,
	})
}

func (s *Service) onResult(evt orchestrator.Event) {
	if s.results != nil {
		s.results.Add(s.ctx, 1)
	}
	s.ledger.Insert(evt.Label, evt.Time)
	s.appendStored(eventstore.Event{
		SessionID: evt.SessionID,
		Type:      eventstore.TypeResult,
		Label:     evt.Label,
		CreatedAt: evt.Time,
	})
	s.publish(protocol.SubjectResult, protocol.Result{
		SessionID: evt.SessionID,
		Label:     evt.Label,
		Sequence:  evt.Sequence,
		Timestamp: evt.Time,
	})

	if s.gate != nil {
		accepted := s.gate.OnResult(s.ctx, evt.Label)
		if accepted {
			s.publish(protocol.SubjectSpeakRequest, protocol.SpeakRequest{
				SessionID: evt.SessionID,
				Text:      evt.Label,
			})
		}
	}
}

func (s *Service) appendStored(evt eventstore.Event) {
	if err := s.store.AppendEvent(s.ctx, evt); err != nil {
		s.log.Warn("failed to append event", slog.String("type", evt.Type), slog.String("error", err.Error()))
	}
}

func (s *Service) publish(subject string, v any) {
	if err := s.bus.PublishJSON(subject, v); err != nil {
		s.log.Warn("failed to publish", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (s *Service) initMetrics() error {
	meter := otel.Meter("github.com/gesturelabs/signcast/recognition")

	var err error
	if s.frames, err = meter.Int64Counter("signcast.frames.submitted", metric.WithDescription("Frames submitted to the orchestrator")); err != nil {
		return err
	}
	if s.dispatches, err = meter.Int64Counter("signcast.classification.dispatches", metric.WithDescription("Classifier calls dispatched")); err != nil {
		return err
	}
	if s.results, err = meter.Int64Counter("signcast.results.received", metric.WithDescription("Gesture labels received from the classifier")); err != nil {
		return err
	}
	if s.errors, err = meter.Int64Counter("signcast.classification.errors", metric.WithDescription("Classifier calls that settled with an error")); err != nil {
		return err
	}

	pendingGauge, err := meter.Int64ObservableGauge("signcast.classification.pending", metric.WithDescription("Classifier calls currently in flight"))
	if err != nil {
		return err
	}
	ledgerGauge, err := meter.Int64ObservableGauge("signcast.ledger.entries", metric.WithDescription("Unexpired entries in the result ledger"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(pendingGauge, s.pending.Load())
		obs.ObserveInt64(ledgerGauge, int64(s.ledger.Len()))
		return nil
	}, pendingGauge, ledgerGauge)
	return err
}
