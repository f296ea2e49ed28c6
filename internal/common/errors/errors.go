// Package errors provides standardized error handling for the decision engine.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Evaluator capability errors. These are absorbed by the agent layer
	// and never propagate out of an orchestration run.
	ErrCodeLLMUnavailable  ErrorCode = "LLM_UNAVAILABLE"
	ErrCodeLLMTimeout      ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMBadResponse  ErrorCode = "LLM_BAD_RESPONSE"
	ErrCodeSchemaViolation ErrorCode = "SCHEMA_VIOLATION"

	// Persistence errors. Memo/audit writes are best-effort within a run.
	ErrCodeMemoPersistFailed    ErrorCode = "MEMO_PERSIST_FAILED"
	ErrCodeAuditPersistFailed   ErrorCode = "AUDIT_PERSIST_FAILED"
	ErrCodeLoanUpdateFailed     ErrorCode = "LOAN_UPDATE_FAILED"
	ErrCodeLoanNotFound         ErrorCode = "LOAN_NOT_FOUND"
	ErrCodeDatabaseQueryFailed  ErrorCode = "DATABASE_QUERY_FAILED"
	ErrCodeDatabaseInsertFailed ErrorCode = "DATABASE_INSERT_FAILED"

	// Workflow logic faults. These are programming errors and fatal.
	ErrCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeInvariantViolation     ErrorCode = "INVARIANT_VIOLATION"

	// Input errors.
	ErrCodeInvalidFacts ErrorCode = "INVALID_FACTS"

	// Notification errors.
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// New creates a StandardError with the current timestamp.
func New(code ErrorCode, message string) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryable(code),
		Timestamp: time.Now(),
	}
}

// Newf creates a StandardError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *StandardError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a StandardError carrying the underlying error as details.
func Wrap(code ErrorCode, message string, err error) *StandardError {
	se := New(code, message)
	if err != nil {
		se.Details = err.Error()
	}
	return se
}

// WithMetadata attaches structured context to the error.
func (e *StandardError) WithMetadata(meta map[string]interface{}) *StandardError {
	e.Metadata = meta
	return e
}

// ==========================
// 2. Classification
// ==========================

// IsRetryable reports whether an operation failing with this code may be
// retried. Capability and persistence failures are transient; workflow
// logic faults never are.
func IsRetryable(code ErrorCode) bool {
	switch code {
	case ErrCodeLLMTimeout,
		ErrCodeLLMUnavailable,
		ErrCodeMemoPersistFailed,
		ErrCodeAuditPersistFailed,
		ErrCodeLoanUpdateFailed,
		ErrCodeDatabaseQueryFailed,
		ErrCodeDatabaseInsertFailed,
		ErrCodeNotificationSendFailed:
		return true
	}
	return false
}

// IsFatal reports whether this code marks a programming-logic fault that
// must propagate to the caller instead of being absorbed.
func IsFatal(code ErrorCode) bool {
	return code == ErrCodeInvalidStateTransition || code == ErrCodeInvariantViolation
}
