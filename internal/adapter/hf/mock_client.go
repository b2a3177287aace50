package hf

import (
	"context"
	"fmt"
	"strings"
)

// MockClient is an offline Inferencer for local runs and tests.
type MockClient struct{}

// NewMockClient creates a new mock inference client.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Ensure MockClient implements Inferencer interface.
var _ Inferencer = (*MockClient)(nil)

// TextGeneration echoes the prompt back.
func (m *MockClient) TextGeneration(ctx context.Context, model string, req *TextGenerationRequest) (*TextGenerationOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &TextGenerationOutput{
		GeneratedText: fmt.Sprintf("[MOCK %s] %s", model, truncate(req.Inputs, 100)),
	}, nil
}

// ImageClassification returns a fixed label set sized by the image.
func (m *MockClient) ImageClassification(ctx context.Context, model string, data []byte) ([]ImageClassificationOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, &APIError{StatusCode: 400, Message: "empty image"}
	}
	return []ImageClassificationOutput{
		{Label: "mock object", Score: 0.9},
		{Label: fmt.Sprintf("mock %d bytes", len(data)), Score: 0.1},
	}, nil
}

// Summarization returns the first sentence of the input.
func (m *MockClient) Summarization(ctx context.Context, model string, req *SummarizationRequest) (*SummarizationOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	summary := req.Inputs
	if i := strings.IndexAny(summary, ".!?"); i >= 0 {
		summary = summary[:i+1]
	}
	return &SummarizationOutput{SummaryText: truncate(summary, req.Parameters.MaxLength)}, nil
}

// truncate truncates a string to the given length.
func truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
