// Package engine integrates the external crawling/extraction provider.
//
// Defines an Engine interface plus an HTTP implementation and a stub for
// tests and offline development. The orchestration core only starts an
// engine call, records its result or error, and reacts to completion —
// page retrieval and extraction themselves happen on the provider side.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ExecRequest is the input handed to an engine invocation. Config and the
// plan payloads are opaque to this package; they are forwarded verbatim.
type ExecRequest struct {
	Prompt      string         `json:"prompt"`
	Site        *string        `json:"site,omitempty"`
	StartingURL *string        `json:"starting_url,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
	Pagination  map[string]any `json:"pagination,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// ExecResult is the provider's output: extracted records plus whatever
// metadata the provider reports (pages fetched, credits used, …).
type ExecResult struct {
	Data map[string]any `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Progress is a provider-side progress message relayed into the
// execution's log stream.
type Progress struct {
	Message string
	Payload map[string]any
}

// Engine performs one crawl/extract invocation. Implementations must
// honor ctx cancellation; the caller never force-interrupts beyond that.
// The onProgress callback may be nil.
type Engine interface {
	// Name identifies the engine in execution records.
	Name() string

	// Run executes the request and returns the provider's result.
	Run(ctx context.Context, req ExecRequest, onProgress func(Progress)) (ExecResult, error)
}

// HTTPEngine calls a remote crawl/extract API.
type HTTPEngine struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPEngine creates an engine client for the provider at baseURL.
func NewHTTPEngine(name, baseURL, apiKey string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name identifies the engine in execution records.
func (e *HTTPEngine) Name() string {
	return e.name
}

type extractResponse struct {
	Data  map[string]any `json:"data"`
	Meta  map[string]any `json:"meta"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Run posts the request to the provider's extract endpoint and decodes
// the result. Provider-reported errors and non-2xx statuses both surface
// as errors; the caller records them on the execution.
func (e *HTTPEngine) Run(ctx context.Context, req ExecRequest, onProgress func(Progress)) (ExecResult, error) {
	if onProgress != nil {
		onProgress(Progress{Message: "dispatching extract request", Payload: map[string]any{"engine": e.name}})
	}

	reqBody, err := json.Marshal(req)
	if err != nil {
		return ExecResult{}, fmt.Errorf("engine: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/extract", bytes.NewReader(reqBody))
	if err != nil {
		return ExecResult{}, fmt.Errorf("engine: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return ExecResult{}, fmt.Errorf("engine: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecResult{}, fmt.Errorf("engine: read response: %w", err)
	}

	var decoded extractResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return ExecResult{}, fmt.Errorf("engine: decode response (status %d): %w", resp.StatusCode, err)
	}
	if decoded.Error != nil {
		return ExecResult{}, fmt.Errorf("engine: provider error: %s", decoded.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ExecResult{}, fmt.Errorf("engine: provider returned status %d", resp.StatusCode)
	}

	if onProgress != nil {
		onProgress(Progress{Message: "extract request completed"})
	}
	return ExecResult{Data: decoded.Data, Meta: decoded.Meta}, nil
}

// StubEngine returns a canned result after an optional delay. Used in
// tests and when no provider is configured.
type StubEngine struct {
	Delay  time.Duration
	Result ExecResult
	Err    error
}

// Name identifies the engine in execution records.
func (e *StubEngine) Name() string {
	return "stub"
}

// Run waits for the configured delay, emits one progress message, and
// returns the canned result or error.
func (e *StubEngine) Run(ctx context.Context, req ExecRequest, onProgress func(Progress)) (ExecResult, error) {
	if e.Delay > 0 {
		select {
		case <-ctx.Done():
			return ExecResult{}, ctx.Err()
		case <-time.After(e.Delay):
		}
	}
	if onProgress != nil {
		onProgress(Progress{Message: "stub engine invoked", Payload: map[string]any{"prompt": req.Prompt}})
	}
	if e.Err != nil {
		return ExecResult{}, e.Err
	}
	if e.Result.Data == nil {
		return ExecResult{Data: map[string]any{"records": []any{}}}, nil
	}
	return e.Result, nil
}
