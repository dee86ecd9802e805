package regent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/talgya/royal-intrigue/internal/council"
	"github.com/talgya/royal-intrigue/internal/engine"
)

// Actor performs reign actions through the API.
type Actor struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewActor creates an Actor targeting the given API base URL. Consultations
// wait on the oracle, so the timeout is generous.
func NewActor(baseURL string) *Actor {
	return &Actor{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Create starts a new reign and returns its view.
func (a *Actor) Create(ctx context.Context) (*engine.View, error) {
	var v engine.View
	if err := a.post(ctx, "/api/v1/reigns", nil, http.StatusCreated, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Begin draws the first crisis.
func (a *Actor) Begin(ctx context.Context, reignID string) error {
	return a.post(ctx, reignPath(reignID, "begin"), nil, http.StatusOK, nil)
}

// Consult asks the council and returns the spoken advice.
func (a *Actor) Consult(ctx context.Context, reignID string) ([]council.Response, error) {
	var out struct {
		Advice []council.Response `json:"advice"`
	}
	if err := a.post(ctx, reignPath(reignID, "consult"), nil, http.StatusOK, &out); err != nil {
		return nil, err
	}
	return out.Advice, nil
}

// Allocate submits an allocation.
func (a *Actor) Allocate(ctx context.Context, reignID string, pcts []int) (*engine.Resolution, error) {
	var res engine.Resolution
	body := map[string][]int{"allocation": pcts}
	if err := a.post(ctx, reignPath(reignID, "allocate"), body, http.StatusOK, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Next draws the following crisis.
func (a *Actor) Next(ctx context.Context, reignID string) error {
	return a.post(ctx, reignPath(reignID, "next"), nil, http.StatusOK, nil)
}

func reignPath(id, action string) string {
	return "/api/v1/reigns/" + id + "/" + action
}

func (a *Actor) post(ctx context.Context, path string, payload any, want int, target any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("POST %s failed (%d): %s", path, resp.StatusCode, string(respBody))
	}
	if target == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
