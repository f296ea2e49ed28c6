// internal/store/postgres_test.go
package store

import (
	"context"
	"testing"
	"time"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	store := NewPostgresStore(db, logger.NewNoOpLogger())
	return store, mock, func() { db.Close() }
}

func TestCreateLoan(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO loan_applications`).
		WithArgs(sqlmock.AnyArg(), "Acme Industrial", "manufacturing", float64(500000),
			sqlmock.AnyArg(), false, models.StatusPending, "INGESTED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	loan := &models.LoanApplication{
		CompanyName:     "Acme Industrial",
		Industry:        "manufacturing",
		RequestedAmount: 500000,
		Facts:           &models.FinancialFacts{},
	}
	err := store.CreateLoan(context.Background(), loan)
	require.NoError(t, err)

	assert.NotEmpty(t, loan.ID, "an id is assigned on insert")
	assert.Equal(t, models.StatusPending, loan.Status)
	assert.Equal(t, "INGESTED", loan.WorkflowState)
	assert.False(t, loan.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateLoanPreservesCallerID(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO loan_applications`).
		WithArgs("loan-7", "Acme", "", float64(0),
			sqlmock.AnyArg(), false, models.StatusPending, "INGESTED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	loan := &models.LoanApplication{ID: "loan-7", CompanyName: "Acme"}
	require.NoError(t, store.CreateLoan(context.Background(), loan))
	assert.Equal(t, "loan-7", loan.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLoan(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "company_name", "industry", "requested_amount", "extracted_financials",
		"compliance_flag", "status", "workflow_state", "final_score", "confidence_score",
		"created_at", "updated_at",
	}).AddRow(
		"loan-1", "Acme Industrial", "manufacturing", 500000.0,
		[]byte(`{"revenue": 25000000, "dscr": 1.1, "collateralPresent": true}`),
		false, models.StatusApproved, "FINALIZED", 24.5, 0.94, now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM loan_applications WHERE id = \$1`).
		WithArgs("loan-1").
		WillReturnRows(rows)

	loan, err := store.GetLoan(context.Background(), "loan-1")
	require.NoError(t, err)

	assert.Equal(t, "Acme Industrial", loan.CompanyName)
	require.NotNil(t, loan.Facts)
	require.NotNil(t, loan.Facts.Revenue)
	assert.Equal(t, 25000000.0, *loan.Facts.Revenue)
	assert.True(t, loan.Facts.CollateralPresent)
	require.NotNil(t, loan.FinalScore)
	assert.Equal(t, 24.5, *loan.FinalScore)
	require.NotNil(t, loan.ConfidenceScore)
	assert.Equal(t, 0.94, *loan.ConfidenceScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLoanPendingScoresStayNil(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "company_name", "industry", "requested_amount", "extracted_financials",
		"compliance_flag", "status", "workflow_state", "final_score", "confidence_score",
		"created_at", "updated_at",
	}).AddRow(
		"loan-2", "Beta LLC", "", 100000.0, []byte(`{}`),
		false, models.StatusPending, "INGESTED", nil, nil, now, now,
	)
	mock.ExpectQuery(`SELECT .+ FROM loan_applications WHERE id = \$1`).
		WithArgs("loan-2").
		WillReturnRows(rows)

	loan, err := store.GetLoan(context.Background(), "loan-2")
	require.NoError(t, err)
	assert.Nil(t, loan.FinalScore)
	assert.Nil(t, loan.ConfidenceScore)
}

func TestGetLoanNotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT .+ FROM loan_applications WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.GetLoan(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestUpdateWorkflowState(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE loan_applications SET workflow_state = \$2`).
		WithArgs("loan-1", "DEBATE", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateWorkflowState(context.Background(), "loan-1", "DEBATE"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveOutcome(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`UPDATE loan_applications`).
		WithArgs("loan-1", models.StatusRejected, 0.0, 1.0, true, "FINALIZED", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	outcome := &models.LoanOutcome{
		LoanID:         "loan-1",
		FinalScore:     0.0,
		Decision:       models.StatusRejected,
		Confidence:     1.0,
		ComplianceVeto: true,
		WorkflowState:  "FINALIZED",
	}
	require.NoError(t, store.SaveOutcome(context.Background(), "loan-1", outcome))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMemo(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO evaluator_memos`).
		WithArgs(sqlmock.AnyArg(), "loan-1", 0, models.RoleRisk, 45.0,
			"leverage concern", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	memo := &models.EvaluatorMemo{
		LoanID:  "loan-1",
		Round:   0,
		Role:    models.RoleRisk,
		Score:   45.0,
		Content: "leverage concern",
		Flags:   []string{"high leverage"},
	}
	require.NoError(t, store.SaveMemo(context.Background(), memo))
	assert.NotEmpty(t, memo.ID)
	assert.False(t, memo.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMemos(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "loan_id", "round", "role", "score", "content", "flags", "created_at"}).
		AddRow("m1", "loan-1", 0, models.RoleSales, 85.0, "strong growth", "{}", now).
		AddRow("m2", "loan-1", 0, models.RoleRisk, 45.0, "leverage", `{"high leverage"}`, now.Add(time.Second))
	mock.ExpectQuery(`SELECT .+ FROM evaluator_memos WHERE loan_id = \$1`).
		WithArgs("loan-1").
		WillReturnRows(rows)

	memos, err := store.ListMemos(context.Background(), "loan-1")
	require.NoError(t, err)
	require.Len(t, memos, 2)
	assert.Equal(t, models.RoleSales, memos[0].Role)
	assert.Equal(t, []string{"high leverage"}, memos[1].Flags)
}

func TestRecordAuditEvent(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(sqlmock.AnyArg(), "loan-1", "DECISION", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := &models.AuditEvent{
		LoanID:    "loan-1",
		EventType: "DECISION",
		Details:   map[string]interface{}{"status": models.StatusApproved},
	}
	require.NoError(t, store.Record(context.Background(), event))
	assert.NotEmpty(t, event.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordAuditEventWithoutLoan(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectExec(`INSERT INTO audit_events`).
		WithArgs(sqlmock.AnyArg(), nil, "SERVICE_START", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	event := &models.AuditEvent{EventType: "SERVICE_START"}
	require.NoError(t, store.Record(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAuditEvents(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "loan_id", "event_type", "details", "created_at"}).
		AddRow("e1", "loan-1", "WORKFLOW_START", []byte(`{"state": "INGESTED"}`), now).
		AddRow("e2", "loan-1", "DECISION", []byte(`{"status": "Rejected"}`), now.Add(time.Second))
	mock.ExpectQuery(`SELECT .+ FROM audit_events WHERE loan_id = \$1`).
		WithArgs("loan-1").
		WillReturnRows(rows)

	events, err := store.ListAuditEvents(context.Background(), "loan-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "WORKFLOW_START", events[0].EventType)
	assert.Equal(t, "INGESTED", events[0].Details["state"])
	assert.Equal(t, "DECISION", events[1].EventType)
}
