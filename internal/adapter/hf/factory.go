package hf

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// ModeMock selects the mock inferencer.
const ModeMock = "MOCK"

// NewInferencer returns a MockClient when mode is MOCK and a real Client otherwise.
func NewInferencer(mode, baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) Inferencer {
	if strings.EqualFold(mode, ModeMock) {
		logger.Info("RELAY_MODE=MOCK detected, using mock inference client")
		return NewMockClient()
	}
	if apiKey == "" {
		logger.Warn("HUGGINGFACE_API_KEY is empty, upstream calls will be anonymous")
	}
	return NewClient(baseURL, apiKey, timeout)
}
