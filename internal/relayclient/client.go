// Package relayclient calls the inference relay on behalf of the conversation controller.
package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xiaot623/relaychat/internal/domain"
)

// ErrRelayCallFailed is returned for any non-2xx relay response. Only the status
// code is kept.
var ErrRelayCallFailed = errors.New("relay call failed")

// Client is a relay HTTP client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a new relay client.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type callRequest struct {
	Model  domain.Model `json:"model"`
	Inputs string       `json:"inputs"`
}

// Call posts one inference request and returns the relay's JSON result.
func (c *Client) Call(ctx context.Context, model domain.Model, inputs string) (json.RawMessage, error) {
	body, err := json.Marshal(callRequest{Model: model, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrRelayCallFailed, resp.StatusCode)
	}
	if !json.Valid(respBody) {
		return nil, fmt.Errorf("relay returned invalid JSON")
	}
	return json.RawMessage(respBody), nil
}
