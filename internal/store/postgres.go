// internal/store/postgres.go

// Package store holds the persistence collaborators of the decision
// engine: append-only postgres stores for memos and audit events, the loan
// record store, a redis cache for risk matrices and a best-effort
// elasticsearch audit indexer.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresStore implements the memo, audit and loan stores over one
// database handle. Memo and audit writes are INSERT-only.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "store"}),
	}
}

// CreateLoan inserts a new application in the Pending/INGESTED state.
func (s *PostgresStore) CreateLoan(ctx context.Context, loan *models.LoanApplication) error {
	if loan.ID == "" {
		loan.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	loan.CreatedAt = now
	loan.UpdatedAt = now
	if loan.Status == "" {
		loan.Status = models.StatusPending
	}
	if loan.WorkflowState == "" {
		loan.WorkflowState = "INGESTED"
	}

	factsJSON, err := json.Marshal(loan.Facts)
	if err != nil {
		return fmt.Errorf("marshal facts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO loan_applications (
			id, company_name, industry, requested_amount, extracted_financials,
			compliance_flag, status, workflow_state, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		loan.ID,
		loan.CompanyName,
		loan.Industry,
		loan.RequestedAmount,
		factsJSON,
		loan.ComplianceFlag,
		loan.Status,
		loan.WorkflowState,
		now,
	)
	if err != nil {
		return fmt.Errorf("insert loan: %w", err)
	}
	return nil
}

// GetLoan loads one application by id.
func (s *PostgresStore) GetLoan(ctx context.Context, loanID string) (*models.LoanApplication, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_name, industry, requested_amount, extracted_financials,
		       compliance_flag, status, workflow_state, final_score, confidence_score,
		       created_at, updated_at
		FROM loan_applications WHERE id = $1`,
		loanID,
	)

	var loan models.LoanApplication
	var factsJSON []byte
	var finalScore, confidence sql.NullFloat64
	err := row.Scan(
		&loan.ID, &loan.CompanyName, &loan.Industry, &loan.RequestedAmount, &factsJSON,
		&loan.ComplianceFlag, &loan.Status, &loan.WorkflowState, &finalScore, &confidence,
		&loan.CreatedAt, &loan.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("loan %s not found", loanID)
	}
	if err != nil {
		return nil, fmt.Errorf("query loan: %w", err)
	}

	if len(factsJSON) > 0 {
		var facts models.FinancialFacts
		if err := json.Unmarshal(factsJSON, &facts); err != nil {
			return nil, fmt.Errorf("unmarshal facts: %w", err)
		}
		loan.Facts = &facts
	}
	if finalScore.Valid {
		loan.FinalScore = &finalScore.Float64
	}
	if confidence.Valid {
		loan.ConfidenceScore = &confidence.Float64
	}
	return &loan, nil
}

// UpdateWorkflowState mirrors the state machine's current state so a
// crashed run can be diagnosed and restarted.
func (s *PostgresStore) UpdateWorkflowState(ctx context.Context, loanID, state string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE loan_applications SET workflow_state = $2, updated_at = $3 WHERE id = $1`,
		loanID, state, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update workflow state: %w", err)
	}
	return nil
}

// SaveOutcome records the terminal decision for a finalized run.
func (s *PostgresStore) SaveOutcome(ctx context.Context, loanID string, outcome *models.LoanOutcome) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE loan_applications
		SET status = $2, final_score = $3, confidence_score = $4,
		    compliance_flag = compliance_flag OR $5, workflow_state = $6, updated_at = $7
		WHERE id = $1`,
		loanID,
		outcome.Decision,
		outcome.FinalScore,
		outcome.Confidence,
		outcome.ComplianceVeto,
		outcome.WorkflowState,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	return nil
}

// SaveMemo appends one evaluator memo. Memos are never updated or deleted.
func (s *PostgresStore) SaveMemo(ctx context.Context, memo *models.EvaluatorMemo) error {
	if memo.ID == "" {
		memo.ID = uuid.New().String()
	}
	if memo.CreatedAt.IsZero() {
		memo.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluator_memos (id, loan_id, round, role, score, content, flags, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		memo.ID,
		memo.LoanID,
		memo.Round,
		memo.Role,
		memo.Score,
		memo.Content,
		pq.Array(memo.Flags),
		memo.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert memo: %w", err)
	}
	return nil
}

// ListMemos returns a run's persisted memos in insertion order.
func (s *PostgresStore) ListMemos(ctx context.Context, loanID string) ([]models.EvaluatorMemo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, round, role, score, content, flags, created_at
		FROM evaluator_memos WHERE loan_id = $1 ORDER BY created_at, round`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memos: %w", err)
	}
	defer rows.Close()

	var memos []models.EvaluatorMemo
	for rows.Next() {
		var m models.EvaluatorMemo
		if err := rows.Scan(&m.ID, &m.LoanID, &m.Round, &m.Role, &m.Score, &m.Content, pq.Array(&m.Flags), &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memo: %w", err)
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

// Record appends one audit event. Failures are the caller's to log; the
// store never retries on its own.
func (s *PostgresStore) Record(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		s.logger.Warn("failed to marshal audit details", map[string]interface{}{
			"error": err.Error(),
		})
		detailsJSON = []byte("{}")
	}

	var loanID interface{}
	if event.LoanID != "" {
		loanID = event.LoanID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, loan_id, event_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		event.ID,
		loanID,
		event.EventType,
		detailsJSON,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditEvents returns a run's audit trail in chronological order.
func (s *PostgresStore) ListAuditEvents(ctx context.Context, loanID string) ([]models.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, loan_id, event_type, details, created_at
		FROM audit_events WHERE loan_id = $1 ORDER BY created_at`,
		loanID,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var loanID sql.NullString
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &loanID, &e.EventType, &detailsJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.LoanID = loanID.String
		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &e.Details); err != nil {
				s.logger.Warn("corrupt audit details", map[string]interface{}{
					"eventId": e.ID,
				})
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
