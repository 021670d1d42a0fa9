package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/gesturelabs/signcast/internal/config"
	"github.com/gesturelabs/signcast/internal/vision"
)

// Classifier maps a frame to a gesture label. An empty label means the model
// saw no recognizable gesture; errors carry the transport failure.
type Classifier interface {
	Classify(ctx context.Context, frame *vision.Frame) (string, error)
	Close() error
}

// New builds a Classifier from config.
func New(cfg config.ClassifierConfig) (Classifier, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockClassifier(), nil
	case "http":
		return NewHTTPClassifier(cfg), nil
	case "exec":
		return NewExecClassifier(cfg)
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.Mode)
	}
}

// NormalizeLabel cleans raw model output into a displayable label. The
// model's UNKNOWN sentinel (and empty output) collapse to "".
func NormalizeLabel(raw string) string {
	label := strings.TrimSpace(raw)
	label = strings.Trim(label, `"'`)
	label = strings.TrimSuffix(label, ".")
	label = strings.TrimSpace(label)
	if label == "" || strings.EqualFold(label, "unknown") {
		return ""
	}
	return label
}
