package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/gesturelabs/signcast/internal/config"
	"github.com/gesturelabs/signcast/internal/vision"
	"github.com/mattn/go-shellwords"
)

// execClassifier shells out to a local model wrapper: JSON request on stdin,
// JSON answer on stdout.
type execClassifier struct {
	cmd []string
	cfg config.ClassifierConfig
	mu  sync.Mutex
}

type execClassifyRequest struct {
	Prompt      string `json:"prompt"`
	ImageBase64 string `json:"image_base64"`
}

type execClassifyResponse struct {
	Label string `json:"label"`
}

func NewExecClassifier(cfg config.ClassifierConfig) (Classifier, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command is empty")
	}
	return &execClassifier{cmd: args, cfg: cfg}, nil
}

func (c *execClassifier) Classify(ctx context.Context, frame *vision.Frame) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	small := vision.Downscale(frame, c.cfg.MaxWidth, c.cfg.MaxHeight)
	jpg, err := small.EncodeJPEG(c.cfg.Quality)
	if err != nil {
		return "", err
	}

	input, err := json.Marshal(execClassifyRequest{
		Prompt:      c.cfg.Prompt,
		ImageBase64: base64.StdEncoding.EncodeToString(jpg),
	})
	if err != nil {
		return "", err
	}

	base := c.cmd[0]
	args := append([]string{}, c.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("classifier command failed: %w", err)
	}

	var resp execClassifyResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode classifier exec response: %w", err)
	}
	return NormalizeLabel(resp.Label), nil
}

func (c *execClassifier) Close() error { return nil }
