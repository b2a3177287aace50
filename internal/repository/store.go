// Package store defines the relay call ledger and its SQLite implementation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/xiaot623/relaychat/internal/domain"
)

// ErrNotFound is returned when a call does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the interface for the relay call ledger.
type Store interface {
	// Call operations
	CreateCall(ctx context.Context, call *domain.InferenceCall) error
	CompleteCall(ctx context.Context, callID string, status domain.CallStatus, latencyMs int64, errMsg string) error
	GetCall(ctx context.Context, callID string) (*domain.InferenceCall, error)
	ListCalls(ctx context.Context, filter CallFilter) ([]domain.InferenceCall, error)
	AbandonStaleCalls(ctx context.Context, olderThan time.Time) (int64, error)

	// Lifecycle
	Close() error
}

// CallFilter provides filtering options for ListCalls.
type CallFilter struct {
	Model string
	Limit int
}
