package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tinytelemetry/triage/internal/model"
)

// ErrMalformedResponse reports a solver reply that is not a usable solution.
var ErrMalformedResponse = errors.New("solver: malformed response")

const maxResponseBytes = 4 << 20

// HTTP posts each problem as JSON to an external analysis service and decodes
// the solution it returns. The reply may be wrapped in a ```json fence.
type HTTP struct {
	url    string
	client *http.Client
}

// NewHTTP creates a solver posting to endpoint.
func NewHTTP(endpoint string, timeout time.Duration) (*HTTP, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("solver: invalid url %q", endpoint)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTP{url: u.String(), client: &http.Client{Timeout: timeout}}, nil
}

func (*HTTP) Name() string { return NameHTTP }

// Solve sends p and returns the decoded solution.
func (h *HTTP) Solve(ctx context.Context, p model.Problem) (*model.Solution, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("solver: marshal problem: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("solver: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solver: post: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("solver: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("solver: status %d: %s", resp.StatusCode, snippet(data))
	}
	return decodeSolution(data)
}

func decodeSolution(data []byte) (*model.Solution, error) {
	text := strings.TrimSpace(string(data))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var sol model.Solution
	if err := json.Unmarshal([]byte(text), &sol); err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrMalformedResponse, err, snippet(data))
	}
	if err := sol.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &sol, nil
}

func snippet(b []byte) string {
	const n = 500
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
