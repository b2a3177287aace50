// Package service implements the inference relay.
package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/relaychat/internal/adapter/hf"
	"github.com/xiaot623/relaychat/internal/config"
	"github.com/xiaot623/relaychat/internal/policy"
	"github.com/xiaot623/relaychat/internal/repository"
)

// Service forwards relay requests upstream and records them in the call ledger.
type Service struct {
	store           store.Store
	inferencer      hf.Inferencer
	models          config.UpstreamModels
	policyEngine    *policy.Engine
	metrics         *Metrics
	upstreamTimeout time.Duration
	logger          *zap.Logger
}

// New creates a relay service.
func New(store store.Store, inferencer hf.Inferencer, models config.UpstreamModels, policyEngine *policy.Engine, metrics *Metrics, upstreamTimeout time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:           store,
		inferencer:      inferencer,
		models:          models,
		policyEngine:    policyEngine,
		metrics:         metrics,
		upstreamTimeout: upstreamTimeout,
		logger:          logger,
	}
}

// Store exposes the call ledger to read-only handlers.
func (s *Service) Store() store.Store {
	return s.store
}

// Metrics exposes the relay collectors for the /metrics route.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}
