// Package client calls a running prediction server.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"defect-predictor/internal/common"
	"defect-predictor/internal/drift"
	"defect-predictor/internal/server"
)

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error: status %d: %s", e.Status, e.Message)
}

// Is lets errors.Is match the model-not-loaded response.
func (e *APIError) Is(target error) bool {
	return target == common.ErrModelNotLoaded && e.Message == common.ErrMsgModelNotLoaded
}

type Client struct {
	base string
	rest *resty.Client
}

// New creates a client for the server at base.
func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(10 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// Module is one module to score.
type Module struct {
	ModuleID string
	Features map[string]any
}

// Health returns the server's health report.
func (c *Client) Health(ctx context.Context) (server.HealthResponse, error) {
	var out server.HealthResponse
	err := c.call(ctx, "GET", "/health", nil, &out)
	return out, err
}

// Predict scores and explains one module.
func (c *Client) Predict(ctx context.Context, moduleID string, features map[string]any) (server.PredictResponse, error) {
	var out server.PredictResponse
	body := server.PredictRequest{ModuleID: moduleID, Features: features}
	err := c.call(ctx, "POST", "/predict", body, &out)
	return out, err
}

// PredictBatch scores several modules. Item failures come back inside the
// response, not as an error.
func (c *Client) PredictBatch(ctx context.Context, modules []Module) (server.BatchResponse, error) {
	body := server.BatchRequest{Modules: make([]server.PredictRequest, len(modules))}
	for i, m := range modules {
		body.Modules[i] = server.PredictRequest{ModuleID: m.ModuleID, Features: m.Features}
	}
	var out server.BatchResponse
	err := c.call(ctx, "POST", "/predict-batch", body, &out)
	return out, err
}

// ModelInfo returns the loaded model's description.
func (c *Client) ModelInfo(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "GET", "/model/info", nil, &out)
	return out, err
}

// Drift returns the server's input drift report.
func (c *Client) Drift(ctx context.Context) (drift.Report, error) {
	var out drift.Report
	err := c.call(ctx, "GET", "/model/drift", nil, &out)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	apiErr := &server.ErrorResponse{}
	req := c.rest.R().
		SetContext(ctx).
		SetResult(result).
		SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, c.base+path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.String()
		}
		return &APIError{Status: resp.StatusCode(), Message: msg}
	}
	return nil
}

// IsModelNotLoaded reports whether err is the server's model-not-loaded reply.
func IsModelNotLoaded(err error) bool {
	return errors.Is(err, common.ErrModelNotLoaded)
}
