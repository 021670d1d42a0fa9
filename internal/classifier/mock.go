package classifier

import (
	"context"
	"time"

	"github.com/gesturelabs/signcast/internal/vision"
)

type mockClassifier struct{}

func NewMockClassifier() Classifier { return &mockClassifier{} }

func (m *mockClassifier) Classify(ctx context.Context, frame *vision.Frame) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	if !frame.Valid() {
		return "", nil
	}
	return "HELLO", nil
}

func (m *mockClassifier) Close() error { return nil }
