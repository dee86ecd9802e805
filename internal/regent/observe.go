// Package regent plays reigns automatically against the HTTP API.
// It observes a reign, decides an allocation via the oracle, and acts
// through the reign endpoints.
package regent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/engine"
)

// Status mirrors GET /api/v1/status.
type Status struct {
	Name     string `json:"name"`
	Oracle   string `json:"oracle"`
	Reigns   int    `json:"reigns"`
	MaxTurns int    `json:"max_turns"`
	Archive  bool   `json:"archive"`
}

// Observer reads reign state from the API.
type Observer struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewObserver creates an Observer targeting the given API base URL.
func NewObserver(baseURL string) *Observer {
	return &Observer{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Status fetches the server status.
func (o *Observer) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := o.fetch(ctx, "/api/v1/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Observe fetches the current view of a reign.
func (o *Observer) Observe(ctx context.Context, reignID string) (*engine.View, error) {
	var v engine.View
	if err := o.fetch(ctx, "/api/v1/reigns/"+reignID, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Reveal fetches the council's disclosed goals once the reign is over.
func (o *Observer) Reveal(ctx context.Context, reignID string) ([]council.Reveal, error) {
	var reveals []council.Reveal
	if err := o.fetch(ctx, "/api/v1/reigns/"+reignID+"/reveal", &reveals); err != nil {
		return nil, err
	}
	return reveals, nil
}

func (o *Observer) fetch(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s returned %d: %s", path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WaitForAPI polls the status endpoint with exponential backoff until it
// responds or ctx is done.
func (o *Observer) WaitForAPI(ctx context.Context) error {
	backoff := 2 * time.Second
	maxBackoff := 30 * time.Second

	for {
		if _, err := o.Status(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("court API not ready: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
