// internal/models/loan.go
package models

import "time"

// Workflow status labels for a loan application.
const (
	StatusPending  = "Pending"
	StatusApproved = "Approved"
	StatusRejected = "Rejected"
)

// FinancialFacts is the flat record produced by the extraction pipeline.
// Missing numeric fields stay nil: "unknown" and "zero" mean different
// things for revenue, debt and DSCR.
type FinancialFacts struct {
	Revenue            *float64 `json:"revenue,omitempty"`
	Debt               *float64 `json:"debt,omitempty"`
	DSCR               *float64 `json:"dscr,omitempty"`
	CollateralPresent  bool     `json:"collateralPresent"`
	ComplianceKeywords []string `json:"complianceKeywords,omitempty"`
}

type LoanApplication struct {
	ID              string          `json:"id"`
	CompanyName     string          `json:"companyName"`
	Industry        string          `json:"industry"`
	RequestedAmount float64         `json:"requestedAmount"`
	Facts           *FinancialFacts `json:"extractedFinancials,omitempty"`
	ComplianceFlag  bool            `json:"complianceFlag"`
	Status          string          `json:"status"`
	WorkflowState   string          `json:"workflowState"`
	FinalScore      *float64        `json:"finalScore,omitempty"`
	ConfidenceScore *float64        `json:"confidenceScore,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// LoanOutcome is the terminal result of one orchestration run. It exists
// only for applications that reached the FINALIZED state.
type LoanOutcome struct {
	LoanID         string  `json:"loanId"`
	FinalScore     float64 `json:"finalScore"`
	Decision       string  `json:"decision"`
	Confidence     float64 `json:"confidence"`
	ComplianceVeto bool    `json:"complianceVeto"`
	WorkflowState  string  `json:"workflowState"`
}
