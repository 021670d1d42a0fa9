package detector

import (
	"context"
	"log/slog"

	"github.com/gesturelabs/signcast/internal/vision"
)

// Detection captures gatekeeper output for one frame.
type Detection struct {
	Present    bool
	Confidence float64
}

// Detector abstracts the cheap local presence check that gates the remote
// classifier.
type Detector interface {
	Detect(ctx context.Context, frame *vision.Frame) (Detection, error)
	Close() error
}

// Gatekeeper wraps a Detector and fails closed: any detector error is logged
// and reported as "absent" so a flaky local model can never stall or crash
// the recognition loop.
type Gatekeeper struct {
	inner Detector
	log   *slog.Logger
}

func NewGatekeeper(inner Detector, log *slog.Logger) *Gatekeeper {
	return &Gatekeeper{
		inner: inner,
		log:   log.With(slog.String("component", "gatekeeper")),
	}
}

// Present runs the detector on the frame. Errors never propagate.
func (g *Gatekeeper) Present(ctx context.Context, frame *vision.Frame) bool {
	det, err := g.inner.Detect(ctx, frame)
	if err != nil {
		g.log.Warn("detector failed, treating frame as absent", slog.String("error", err.Error()))
		return false
	}
	return det.Present
}

// Close releases the underlying detector.
func (g *Gatekeeper) Close() error {
	return g.inner.Close()
}
