package detector

import (
	"context"

	"github.com/gesturelabs/signcast/internal/vision"
)

// mockDetector reports presence whenever the frame carries any non-black
// pixel. Useful for development rigs without a hand-landmark model.
type mockDetector struct{}

func NewMockDetector() Detector {
	return &mockDetector{}
}

func (m *mockDetector) Detect(_ context.Context, frame *vision.Frame) (Detection, error) {
	if !frame.Valid() {
		return Detection{}, nil
	}
	for i := 0; i < len(frame.Pix); i += 4 {
		if frame.Pix[i] != 0 || frame.Pix[i+1] != 0 || frame.Pix[i+2] != 0 {
			return Detection{Present: true, Confidence: 1}, nil
		}
	}
	return Detection{}, nil
}

func (m *mockDetector) Close() error { return nil }
