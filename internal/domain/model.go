// Package domain defines the core domain models shared by the relay and the chat server.
package domain

import (
	"errors"
	"fmt"
)

// Model identifies one of the inference operations the relay can forward.
type Model string

const (
	ModelTextGeneration      Model = "text-generation"
	ModelImageClassification Model = "image-classification"
	ModelSummarization       Model = "summarization"
)

// Relay errors.
var (
	ErrUnsupportedModel = errors.New("unsupported model type")
	ErrInvalidInputs    = errors.New("invalid inputs")
	ErrAdmissionDenied  = errors.New("request denied")
)

// Models returns every supported model in a stable order.
func Models() []Model {
	return []Model{
		ModelTextGeneration,
		ModelImageClassification,
		ModelSummarization,
	}
}

// ParseModel converts a wire value into a Model.
func ParseModel(s string) (Model, error) {
	switch m := Model(s); m {
	case ModelTextGeneration, ModelImageClassification, ModelSummarization:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, s)
	}
}

// String implements fmt.Stringer.
func (m Model) String() string {
	return string(m)
}
