package hf

import "context"

// Inferencer defines the upstream inference operations used by the relay.
type Inferencer interface {
	// TextGeneration continues the input text.
	TextGeneration(ctx context.Context, model string, req *TextGenerationRequest) (*TextGenerationOutput, error)

	// ImageClassification labels raw image bytes.
	ImageClassification(ctx context.Context, model string, data []byte) ([]ImageClassificationOutput, error)

	// Summarization condenses the input text.
	Summarization(ctx context.Context, model string, req *SummarizationRequest) (*SummarizationOutput, error)
}

// Ensure Client implements Inferencer interface.
var _ Inferencer = (*Client)(nil)
