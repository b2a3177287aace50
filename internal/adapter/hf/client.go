// Package hf provides a client for the Hugging Face Inference API.
package hf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the Hugging Face Inference API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new inference client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// TextGenerationRequest is the text-generation task payload.
type TextGenerationRequest struct {
	Inputs     string                   `json:"inputs"`
	Parameters TextGenerationParameters `json:"parameters"`
}

// TextGenerationParameters are the generation knobs sent upstream.
type TextGenerationParameters struct {
	MaxLength   int     `json:"max_length,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// TextGenerationOutput is a single generation result.
type TextGenerationOutput struct {
	GeneratedText string `json:"generated_text"`
}

// SummarizationRequest is the summarization task payload.
type SummarizationRequest struct {
	Inputs     string                  `json:"inputs"`
	Parameters SummarizationParameters `json:"parameters"`
}

// SummarizationParameters bound the summary length.
type SummarizationParameters struct {
	MaxLength int `json:"max_length,omitempty"`
	MinLength int `json:"min_length,omitempty"`
}

// SummarizationOutput is a single summarization result.
type SummarizationOutput struct {
	SummaryText string `json:"summary_text"`
}

// ImageClassificationOutput is one label of an image classification result.
type ImageClassificationOutput struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// APIError is returned when the inference API answers with a non-200 status.
// Its message is the upstream error text, unmodified.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return e.Message
}

// TextGeneration runs the text-generation task on the given model.
func (c *Client) TextGeneration(ctx context.Context, model string, req *TextGenerationRequest) (*TextGenerationOutput, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.post(ctx, model, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	outputs, err := decodeList[TextGenerationOutput](respBody)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty text-generation response")
	}
	return &outputs[0], nil
}

// Summarization runs the summarization task on the given model.
func (c *Client) Summarization(ctx context.Context, model string, req *SummarizationRequest) (*SummarizationOutput, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.post(ctx, model, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	outputs, err := decodeList[SummarizationOutput](respBody)
	if err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("empty summarization response")
	}
	return &outputs[0], nil
}

// ImageClassification runs the image-classification task on raw image bytes.
func (c *Client) ImageClassification(ctx context.Context, model string, data []byte) ([]ImageClassificationOutput, error) {
	respBody, err := c.post(ctx, model, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return decodeList[ImageClassificationOutput](respBody)
}

func (c *Client) post(ctx context.Context, model, contentType string, body io.Reader) ([]byte, error) {
	endpoint := c.baseURL + "/" + escapeModel(model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq, contentType)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, respBody),
		}
	}
	return respBody, nil
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request, contentType string) {
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// escapeModel escapes each path segment of an "org/name" model id.
func escapeModel(model string) string {
	parts := strings.Split(model, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// decodeList accepts both a JSON array of T and a bare T.
func decodeList[T any](body []byte) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var single T
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response: %w", err)
		}
		return []T{single}, nil
	}

	var list []T
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return list, nil
}

// errorMessage extracts the provider's error text. The API reports either
// {"error": "..."} or {"error": ["...", "..."]}.
func errorMessage(status int, body []byte) string {
	var errResp struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && len(errResp.Error) > 0 {
		var msg string
		if err := json.Unmarshal(errResp.Error, &msg); err == nil && msg != "" {
			return msg
		}
		var msgs []string
		if err := json.Unmarshal(errResp.Error, &msgs); err == nil && len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("inference API returned status %d", status)
}
