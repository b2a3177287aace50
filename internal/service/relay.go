package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/adapter/hf"
	"github.com/xiaot623/relaychat/internal/domain"
	"github.com/xiaot623/relaychat/internal/policy"
)

// DeniedError carries the admission policy's reason for refusing a request.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	if e.Reason == "" {
		return domain.ErrAdmissionDenied.Error()
	}
	return e.Reason
}

func (e *DeniedError) Unwrap() error {
	return domain.ErrAdmissionDenied
}

// ledgerModelMax bounds the requested model string stored for rejected calls.
const ledgerModelMax = 64

// relayCall is a validated request, ready for the upstream.
type relayCall struct {
	model         domain.Model
	upstreamModel string
	text          string
	image         []byte
}

func (c *relayCall) size() int {
	if c.model == domain.ModelImageClassification {
		return len(c.image)
	}
	return len(c.text)
}

// Infer validates, admits and forwards one relay request. It makes at most one
// upstream call and returns the upstream result unchanged.
func (s *Service) Infer(ctx context.Context, req *domain.InferenceRequest) (any, error) {
	start := time.Now()
	ledger := &domain.InferenceCall{
		CallID:    "call_" + uuid.New().String()[:8],
		Model:     truncate(req.Model, ledgerModelMax),
		Status:    domain.CallStatusPending,
		CreatedAt: start,
	}

	result, label, err := s.infer(ctx, req, ledger)
	elapsed := time.Since(start)

	status, outcome := domain.CallStatusSucceeded, OutcomeSuccess
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		status, outcome = domain.CallStatusFailed, OutcomeFailed
		if isRejection(err) {
			status, outcome = domain.CallStatusRejected, OutcomeRejected
		}
	}

	s.completeCall(ctx, ledger.CallID, status, elapsed, errMsg)
	s.metrics.observe(label, outcome, elapsed)

	if err != nil {
		s.logger.Info("relay call failed",
			zap.String("call_id", ledger.CallID),
			zap.String("model", label),
			zap.String("status", string(status)),
			zap.Error(err))
		return nil, err
	}
	s.logger.Debug("relay call succeeded",
		zap.String("call_id", ledger.CallID),
		zap.String("model", label),
		zap.Duration("elapsed", elapsed))
	return result, nil
}

func (s *Service) infer(ctx context.Context, req *domain.InferenceRequest, ledger *domain.InferenceCall) (any, string, error) {
	call, err := s.prepare(req)
	if err != nil {
		s.createCall(ctx, ledger)
		label := "unsupported"
		if model, perr := domain.ParseModel(req.Model); perr == nil {
			label = model.String()
		}
		return nil, label, err
	}
	label := call.model.String()

	ledger.UpstreamModel = call.upstreamModel
	ledger.InputsSize = call.size()
	s.createCall(ctx, ledger)

	decision, err := s.policyEngine.Evaluate(ctx, policy.Input{
		Model:      call.model.String(),
		InputsSize: call.size(),
	})
	if err != nil {
		return nil, label, fmt.Errorf("admission check failed: %w", err)
	}
	if !decision.Allow {
		return nil, label, &DeniedError{Reason: decision.Reason}
	}

	result, err := s.dispatch(ctx, call)
	return result, label, err
}

// prepare maps the wire request onto a branch and its fixed upstream preset.
func (s *Service) prepare(req *domain.InferenceRequest) (*relayCall, error) {
	model, err := domain.ParseModel(req.Model)
	if err != nil {
		return nil, err
	}

	var inputs string
	if err := json.Unmarshal(req.Inputs, &inputs); err != nil {
		return nil, fmt.Errorf("%w: inputs must be a JSON string", domain.ErrInvalidInputs)
	}

	call := &relayCall{model: model}
	switch model {
	case domain.ModelTextGeneration:
		call.upstreamModel = s.models.TextGeneration.Model
		call.text = inputs
	case domain.ModelImageClassification:
		call.upstreamModel = s.models.ImageClassification.Model
		image, err := decodeImage(inputs)
		if err != nil {
			return nil, err
		}
		call.image = image
	case domain.ModelSummarization:
		call.upstreamModel = s.models.Summarization.Model
		call.text = inputs
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, model)
	}
	return call, nil
}

// dispatch performs the single upstream call for the branch.
func (s *Service) dispatch(ctx context.Context, call *relayCall) (any, error) {
	switch call.model {
	case domain.ModelTextGeneration:
		preset := s.models.TextGeneration
		return s.inferencer.TextGeneration(ctx, preset.Model, &hf.TextGenerationRequest{
			Inputs: call.text,
			Parameters: hf.TextGenerationParameters{
				MaxLength:   preset.MaxLength,
				Temperature: preset.Temperature,
			},
		})
	case domain.ModelImageClassification:
		return s.inferencer.ImageClassification(ctx, s.models.ImageClassification.Model, call.image)
	case domain.ModelSummarization:
		preset := s.models.Summarization
		return s.inferencer.Summarization(ctx, preset.Model, &hf.SummarizationRequest{
			Inputs: call.text,
			Parameters: hf.SummarizationParameters{
				MaxLength: preset.MaxLength,
				MinLength: preset.MinLength,
			},
		})
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedModel, call.model)
	}
}

// decodeImage accepts a data URL (data:<media>;base64,<payload>) or bare base64.
func decodeImage(inputs string) ([]byte, error) {
	payload := inputs
	if strings.HasPrefix(inputs, "data:") {
		header, data, ok := strings.Cut(inputs, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, fmt.Errorf("%w: image must be a base64 data URL", domain.ErrInvalidInputs)
		}
		payload = data
	}

	image, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not valid base64", domain.ErrInvalidInputs)
	}
	return image, nil
}

func isRejection(err error) bool {
	return errors.Is(err, domain.ErrUnsupportedModel) ||
		errors.Is(err, domain.ErrInvalidInputs) ||
		errors.Is(err, domain.ErrAdmissionDenied)
}

func (s *Service) createCall(ctx context.Context, call *domain.InferenceCall) {
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.store.CreateCall(ledgerCtx, call); err != nil {
		s.logger.Warn("failed to record relay call", zap.String("call_id", call.CallID), zap.Error(err))
	}
}

func (s *Service) completeCall(ctx context.Context, callID string, status domain.CallStatus, elapsed time.Duration, errMsg string) {
	ledgerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := s.store.CompleteCall(ledgerCtx, callID, status, elapsed.Milliseconds(), errMsg); err != nil {
		s.logger.Warn("failed to complete relay call", zap.String("call_id", callID), zap.Error(err))
	}
}

// truncate cuts s to at most maxLen bytes without splitting a rune.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
