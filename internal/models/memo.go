// internal/models/memo.go
package models

import "time"

// Evaluator role names as persisted in memo records.
const (
	RoleSales      = "Sales"
	RoleRisk       = "Risk"
	RoleCompliance = "Compliance"
	RoleModerator  = "Moderator"
)

// EvaluatorMemo is one entry of a run's debate transcript. Round 0 is the
// initial review; debate rounds start at 1. Entries are append-only.
type EvaluatorMemo struct {
	ID        string    `json:"id"`
	LoanID    string    `json:"loanId"`
	Round     int       `json:"round"`
	Role      string    `json:"role"`
	Score     float64   `json:"score"`
	Content   string    `json:"content"`
	Flags     []string  `json:"flags,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuditEvent is one append-only entry of the audit trail. LoanID may be
// empty for system-level events.
type AuditEvent struct {
	ID        string                 `json:"id"`
	LoanID    string                 `json:"loanId,omitempty"`
	EventType string                 `json:"eventType"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}
