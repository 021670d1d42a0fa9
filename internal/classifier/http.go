package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gesturelabs/signcast/internal/config"
	"github.com/gesturelabs/signcast/internal/vision"
)

// httpClassifier sends downscaled frames to an Ollama-style vision endpoint
// (/api/generate with base64 images) and reads back a one-line label.
type httpClassifier struct {
	cfg    config.ClassifierConfig
	client *http.Client
}

func NewHTTPClassifier(cfg config.ClassifierConfig) Classifier {
	return &httpClassifier{
		cfg:    cfg,
		client: http.DefaultClient,
	}
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Images  []string        `json:"images"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *httpClassifier) Classify(ctx context.Context, frame *vision.Frame) (string, error) {
	small := vision.Downscale(frame, c.cfg.MaxWidth, c.cfg.MaxHeight)
	jpg, err := small.EncodeJPEG(c.cfg.Quality)
	if err != nil {
		return "", err
	}

	payload := generateRequest{
		Model:   c.cfg.Model,
		Prompt:  c.cfg.Prompt,
		Images:  []string{base64.StdEncoding.EncodeToString(jpg)},
		Stream:  false,
		Options: generateOptions{Temperature: c.cfg.Temp},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", statusError(resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode classifier response: %w", err)
	}
	return NormalizeLabel(out.Response), nil
}

func (c *httpClassifier) Close() error { return nil }

// statusError builds a classified error from a non-2xx response, preferring
// the structured status code and Retry-After header over message sniffing.
func statusError(resp *http.Response) *Error {
	detail := resp.Status
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 512)); err == nil && len(bytes.TrimSpace(body)) > 0 {
		detail = fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(body))
	}

	e := &Error{Detail: detail}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Class = ClassUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		e.Class = ClassForbidden
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Class = ClassRateLimited
		e.RetryAfter = retryAfterHeader(resp)
	case resp.StatusCode >= 500:
		e.Class = ClassServerError
	default:
		e.Class = ClassifyMessage(detail)
	}
	return e
}

func retryAfterHeader(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
