// cmd/decision-engine/server.go
package main

import (
	"encoding/json"
	"net/http"
	"time"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/common/observability"
	"loan-engine/internal/models"
	"loan-engine/internal/notify"
	"loan-engine/internal/scoring"
	"loan-engine/internal/store"
	"loan-engine/internal/workflow"
)

// server is the thin HTTP edge: decode, delegate, encode. The decision
// logic lives in internal/workflow and internal/scoring.
type server struct {
	orchestrator *workflow.Orchestrator
	store        *store.PostgresStore
	cache        *store.MatrixCache
	notifier     *notify.Notifier
	obs          *observability.Observability
	logger       logger.Logger
}

type serverDeps struct {
	Orchestrator *workflow.Orchestrator
	Store        *store.PostgresStore
	Cache        *store.MatrixCache
	Notifier     *notify.Notifier
	Obs          *observability.Observability
	Logger       logger.Logger
}

func newServer(deps serverDeps) *server {
	return &server{
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		cache:        deps.Cache,
		notifier:     deps.Notifier,
		obs:          deps.Obs,
		logger:       deps.Logger.WithFields(map[string]interface{}{"component": "http"}),
	}
}

func (s *server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/loans", s.handleCreateLoan)
	mux.HandleFunc("POST /api/decisions/{loanID}/run", s.handleRunDecision)
	mux.HandleFunc("GET /api/decisions/{loanID}", s.handleGetDecision)
	mux.HandleFunc("POST /api/scoring/matrix", s.handleScoreMatrix)
}

type createLoanRequest struct {
	CompanyName     string                 `json:"companyName"`
	Industry        string                 `json:"industry"`
	RequestedAmount float64                `json:"requestedAmount"`
	Facts           *models.FinancialFacts `json:"facts"`
	ComplianceFlag  bool                   `json:"complianceFlag"`
}

func (s *server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.CompanyName == "" {
		s.writeError(w, http.StatusBadRequest, "companyName is required")
		return
	}

	loan := &models.LoanApplication{
		CompanyName:     req.CompanyName,
		Industry:        req.Industry,
		RequestedAmount: req.RequestedAmount,
		Facts:           req.Facts,
		ComplianceFlag:  req.ComplianceFlag,
	}
	if err := s.store.CreateLoan(r.Context(), loan); err != nil {
		s.logger.Error("create loan failed", map[string]interface{}{"error": err.Error()})
		s.writeError(w, http.StatusInternalServerError, "could not create loan")
		return
	}
	s.writeJSON(w, http.StatusCreated, loan)
}

func (s *server) handleRunDecision(w http.ResponseWriter, r *http.Request) {
	loanID := r.PathValue("loanID")

	loan, err := s.store.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "loan not found")
		return
	}

	start := time.Now()
	outcome, err := s.orchestrator.Run(r.Context(), loan)
	if err != nil {
		// Only workflow logic faults reach here.
		s.logger.Error("decision run failed", map[string]interface{}{
			"loanId": loanID,
			"error":  err.Error(),
		})
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.obs.RecordRun(r.Context(), outcome.Decision)
	s.obs.RecordRunDuration(r.Context(), time.Since(start), outcome.Decision)

	if s.notifier != nil {
		s.notifier.DecisionFinalized(r.Context(), loan, outcome)
	}

	s.writeJSON(w, http.StatusOK, outcome)
}

func (s *server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	loanID := r.PathValue("loanID")

	loan, err := s.store.GetLoan(r.Context(), loanID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "loan not found")
		return
	}
	memos, err := s.store.ListMemos(r.Context(), loanID)
	if err != nil {
		s.logger.Error("list memos failed", map[string]interface{}{"error": err.Error()})
		s.writeError(w, http.StatusInternalServerError, "could not load memos")
		return
	}
	events, err := s.store.ListAuditEvents(r.Context(), loanID)
	if err != nil {
		s.logger.Error("list audit events failed", map[string]interface{}{"error": err.Error()})
		s.writeError(w, http.StatusInternalServerError, "could not load audit trail")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"loan":        loan,
		"memos":       memos,
		"auditEvents": events,
	})
}

func (s *server) handleScoreMatrix(w http.ResponseWriter, r *http.Request) {
	var facts models.FinancialFacts
	if err := json.NewDecoder(r.Body).Decode(&facts); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var matrix scoring.RiskMatrix
	if s.cache != nil {
		matrix = s.cache.ComputeOrCached(r.Context(), &facts)
	} else {
		matrix = scoring.ComputeRiskMatrix(&facts)
	}
	s.writeJSON(w, http.StatusOK, matrix)
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", map[string]interface{}{"error": err.Error()})
	}
}

func (s *server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
