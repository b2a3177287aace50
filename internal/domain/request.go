package domain

import (
	"encoding/json"
	"time"
)

// InferenceRequest is the relay request body.
type InferenceRequest struct {
	Model  string          `json:"model"`
	Inputs json.RawMessage `json:"inputs"`
}

// ErrorResponse is the relay failure body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// CallStatus represents the status of a relay call in the ledger.
type CallStatus string

const (
	CallStatusPending   CallStatus = "PENDING"
	CallStatusSucceeded CallStatus = "SUCCEEDED"
	CallStatusFailed    CallStatus = "FAILED"
	CallStatusRejected  CallStatus = "REJECTED"
	CallStatusAbandoned CallStatus = "ABANDONED"
)

// InferenceCall is one relay invocation as recorded in the call ledger.
type InferenceCall struct {
	CallID        string     `json:"call_id"`
	Model         string     `json:"model"`
	UpstreamModel string     `json:"upstream_model,omitempty"`
	Status        CallStatus `json:"status"`
	InputsSize    int        `json:"inputs_size"`
	LatencyMs     int64      `json:"latency_ms"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
