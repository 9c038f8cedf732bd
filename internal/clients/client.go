package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/noah-isme/uni-onboarding-api/pkg/config"
)

// Sentinel errors shared by all external-service clients. Executors branch
// on these instead of inspecting error text.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrAccountExists = errors.New("account already exists")
)

// httpClient bundles the transport pieces every service client needs.
type httpClient struct {
	base   string
	client *http.Client
	tokens *TokenSource
}

func newHTTPClient(cfg config.ClientConfig) httpClient {
	return httpClient{
		base:   cfg.BaseURL,
		client: &http.Client{Timeout: cfg.Timeout},
		tokens: NewTokenSource(cfg),
	}
}

// doJSON issues one request with a bounded timeout and decodes a JSON
// response into out when out is non-nil. Returns the HTTP status code so
// callers can map 404/409 to sentinels.
func (c httpClient) doJSON(ctx context.Context, method, path string, in, out interface{}) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return resp.StatusCode, fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil && resp.StatusCode < http.StatusBadRequest {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
