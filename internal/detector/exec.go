package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/gesturelabs/signcast/internal/config"
	"github.com/gesturelabs/signcast/internal/vision"
	"github.com/mattn/go-shellwords"
)

// execDetector shells out to an external presence detector. The frame is
// written to a temporary JPEG and passed via --image; the command answers
// with a single JSON object on stdout.
type execDetector struct {
	cmd []string
	mu  sync.Mutex
}

type execDetection struct {
	Present    bool    `json:"present"`
	Confidence float64 `json:"confidence"`
}

func NewExecDetector(cfg config.DetectorConfig) (Detector, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse detector command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("detector command is empty")
	}
	return &execDetector{cmd: args}, nil
}

func (d *execDetector) Detect(ctx context.Context, frame *vision.Frame) (Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	jpg, err := frame.EncodeJPEG(80)
	if err != nil {
		return Detection{}, err
	}

	file, err := os.CreateTemp(os.TempDir(), "signcast_frame_*.jpg")
	if err != nil {
		return Detection{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if _, err := file.Write(jpg); err != nil {
		return Detection{}, fmt.Errorf("write frame: %w", err)
	}

	base := d.cmd[0]
	args := append([]string{}, d.cmd[1:]...)
	args = append(args, "--image", file.Name())

	command := exec.CommandContext(ctx, base, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Detection{}, fmt.Errorf("detector command failed: %w: %s", err, stderr.String())
	}

	var resp execDetection
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Detection{}, fmt.Errorf("decode detector response: %w", err)
	}
	return Detection{Present: resp.Present, Confidence: resp.Confidence}, nil
}

func (d *execDetector) Close() error { return nil }
