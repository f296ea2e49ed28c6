// internal/workflow/orchestrator.go

// Package workflow drives a loan application through the decision state
// machine: INGESTED -> INITIAL_REVIEW -> DEBATE* -> CONSENSUS -> FINALIZED.
// One Run processes one application sequentially; distinct applications
// share no mutable state and may run concurrently.
package workflow

import (
	"context"
	"math"
	"strings"
	"time"

	"loan-engine/internal/agents"
	stderrors "loan-engine/internal/common/errors"
	"loan-engine/internal/common/logger"
	"loan-engine/internal/common/metrics"
	"loan-engine/internal/models"
)

// Audit event types emitted over one run.
const (
	EventWorkflowStart    = "WORKFLOW_START"
	EventStateTransition  = "STATE_TRANSITION"
	EventEvaluatorMemo    = "EVALUATOR_MEMO"
	EventAutoReject       = "AUTO_REJECT"
	EventDebateRound      = "DEBATE_ROUND"
	EventConsensusReached = "CONSENSUS_REACHED"
	EventFinalScoreCalc   = "FINAL_SCORE_CALC"
	EventDecision         = "DECISION"
	EventConfidenceCalc   = "CONFIDENCE_CALC"
	EventWorkflowComplete = "WORKFLOW_COMPLETE"
)

// Decision thresholds. The debate trigger and approval threshold are part
// of the decision contract, not tunables.
const (
	debateTriggerSpread   = 20.0
	approvalThreshold     = 20.0
	complianceVetoScore   = 30.0
	defaultMaxDebateRound = 2
)

var vetoKeywords = []string{"aml", "grey list", "offshore", "sanction", "blocked"}

// MemoStore persists evaluator memos. Append-only.
type MemoStore interface {
	SaveMemo(ctx context.Context, memo *models.EvaluatorMemo) error
}

// AuditStore persists audit events. Append-only, never updated.
type AuditStore interface {
	Record(ctx context.Context, event *models.AuditEvent) error
}

// LoanStore updates the externally visible workflow state and outcome.
type LoanStore interface {
	UpdateWorkflowState(ctx context.Context, loanID, state string) error
	SaveOutcome(ctx context.Context, loanID string, outcome *models.LoanOutcome) error
}

// ConsensusEvaluator is the arbitration role: it synthesizes the full
// transcript and judges whether the debate has converged.
type ConsensusEvaluator interface {
	Role() string
	EvaluateConsensus(ctx context.Context, facts *models.FinancialFacts, allMemos []models.EvaluatorMemo) (agents.Result, bool)
}

// Orchestrator sequences the evaluator roles for one run and derives the
// final outcome.
type Orchestrator struct {
	sales      agents.Evaluator
	risk       agents.Evaluator
	compliance agents.Evaluator
	moderator  ConsensusEvaluator

	memos MemoStore
	audit AuditStore
	loans LoanStore

	maxDebateRounds int
	logger          logger.Logger
}

type Options struct {
	Sales      agents.Evaluator
	Risk       agents.Evaluator
	Compliance agents.Evaluator
	Moderator  ConsensusEvaluator

	Memos MemoStore
	Audit AuditStore
	Loans LoanStore

	MaxDebateRounds int
	Logger          logger.Logger
}

func NewOrchestrator(opts Options) *Orchestrator {
	rounds := opts.MaxDebateRounds
	if rounds <= 0 {
		rounds = defaultMaxDebateRound
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewStructured("info", "json")
	}
	return &Orchestrator{
		sales:           opts.Sales,
		risk:            opts.Risk,
		compliance:      opts.Compliance,
		moderator:       opts.Moderator,
		memos:           opts.Memos,
		audit:           opts.Audit,
		loans:           opts.Loans,
		maxDebateRounds: rounds,
		logger:          log.WithFields(map[string]interface{}{"component": "workflow"}),
	}
}

// run owns all per-run mutable state, keeping concurrent runs isolated.
type run struct {
	loan       *models.LoanApplication
	state      State
	transcript []models.EvaluatorMemo

	salesScore      float64
	riskScore       float64
	moderatorResult *agents.Result
}

// Run executes the state machine to completion and returns the outcome.
// Capability failures never surface here: the roles absorb them. Only
// workflow logic faults produce a non-nil error.
func (o *Orchestrator) Run(ctx context.Context, loan *models.LoanApplication) (*models.LoanOutcome, error) {
	start := time.Now()
	log := o.logger.WithFields(map[string]interface{}{"loanId": loan.ID})

	if State(loan.WorkflowState) == StateFinalized {
		return nil, stderrors.Newf(stderrors.ErrCodeInvariantViolation,
			"loan %s already finalized", loan.ID)
	}

	// Any non-terminal persisted state means a prior run crashed mid-flight.
	// Runs are not resumable, so a rerun restarts from the beginning.
	r := &run{loan: loan, state: StateIngested}

	startDetails := map[string]interface{}{"state": string(r.state)}
	if loan.WorkflowState != "" && State(loan.WorkflowState) != StateIngested {
		startDetails["restartedFrom"] = loan.WorkflowState
	}
	o.recordAudit(ctx, loan.ID, EventWorkflowStart, startDetails)

	if err := o.transition(ctx, r, StateInitialReview); err != nil {
		return nil, err
	}

	// Round 0: baseline review by the three debating roles, in order.
	salesResult := o.invoke(ctx, r, o.sales, 0, nil)
	riskResult := o.invoke(ctx, r, o.risk, 0, nil)
	complianceResult := o.invoke(ctx, r, o.compliance, 0, nil)

	r.salesScore = salesResult.Score
	r.riskScore = riskResult.Score

	// Compliance veto bypasses all scoring.
	if vetoed, reason := o.checkVeto(loan, complianceResult); vetoed {
		log.Info("compliance veto triggered", map[string]interface{}{"reason": reason})
		metrics.WorkflowVetoes.Inc()
		return o.autoReject(ctx, r, reason)
	}

	spread := math.Abs(r.salesScore - r.riskScore)
	debated := 0
	if spread > debateTriggerSpread {
		if err := o.transition(ctx, r, StateDebate); err != nil {
			return nil, err
		}
		debated = o.runDebate(ctx, r)
	}
	metrics.DebateRounds.Observe(float64(debated))

	if err := o.transition(ctx, r, StateConsensus); err != nil {
		return nil, err
	}

	final := o.computeFinalScore(ctx, r)
	decision := models.StatusRejected
	if final > approvalThreshold {
		decision = models.StatusApproved
	}
	o.recordAudit(ctx, loan.ID, EventDecision, map[string]interface{}{
		"threshold": approvalThreshold,
		"status":    decision,
	})

	confidence := confidenceFromVariance(r.salesScore, r.riskScore)
	o.recordAudit(ctx, loan.ID, EventConfidenceCalc, map[string]interface{}{
		"sales":      r.salesScore,
		"risk":       r.riskScore,
		"confidence": confidence,
	})

	if err := o.transition(ctx, r, StateFinalized); err != nil {
		return nil, err
	}

	outcome := &models.LoanOutcome{
		LoanID:        loan.ID,
		FinalScore:    final,
		Decision:      decision,
		Confidence:    confidence,
		WorkflowState: string(StateFinalized),
	}
	o.finalize(ctx, r, outcome)

	o.recordAudit(ctx, loan.ID, EventWorkflowComplete, map[string]interface{}{
		"status":      decision,
		"final_score": final,
	})
	metrics.WorkflowRuns.WithLabelValues(decision).Inc()
	metrics.WorkflowDuration.Observe(time.Since(start).Seconds())

	log.Info("workflow complete", map[string]interface{}{
		"decision":     decision,
		"finalScore":   final,
		"confidence":   confidence,
		"debateRounds": debated,
	})
	return outcome, nil
}

func (o *Orchestrator) invoke(ctx context.Context, r *run, role agents.Evaluator, round int, prior []models.EvaluatorMemo) agents.Result {
	result := role.Evaluate(ctx, r.loan.Facts, prior)
	o.appendMemo(ctx, r, round, role.Role(), result)
	return result
}

// appendMemo writes the memo to the transcript and, best effort, to the
// store and audit trail. Persistence failures do not abort the run.
func (o *Orchestrator) appendMemo(ctx context.Context, r *run, round int, role string, result agents.Result) {
	memo := models.EvaluatorMemo{
		LoanID:    r.loan.ID,
		Round:     round,
		Role:      role,
		Score:     result.Score,
		Content:   result.Memo,
		Flags:     result.Flags,
		CreatedAt: time.Now().UTC(),
	}
	r.transcript = append(r.transcript, memo)

	if o.memos != nil {
		if err := o.memos.SaveMemo(ctx, &memo); err != nil {
			o.logger.Error("memo persist failed", map[string]interface{}{
				"loanId": r.loan.ID,
				"role":   role,
				"error":  err.Error(),
			})
		}
	}
	o.recordAudit(ctx, r.loan.ID, EventEvaluatorMemo, map[string]interface{}{
		"role":  role,
		"round": round,
		"score": result.Score,
		"flags": result.Flags,
	})
}

// checkVeto applies the compliance veto rule: incoming flag, a compliance
// score under 30, or a blocked keyword in any compliance flag text.
func (o *Orchestrator) checkVeto(loan *models.LoanApplication, compliance agents.Result) (bool, string) {
	if loan.ComplianceFlag {
		return true, "compliance_flag true"
	}
	if compliance.Score < complianceVetoScore {
		return true, "compliance score below threshold"
	}
	for _, flag := range compliance.Flags {
		lower := strings.ToLower(flag)
		for _, kw := range vetoKeywords {
			if strings.Contains(lower, kw) {
				return true, "compliance flag: " + kw
			}
		}
	}
	return false, ""
}

func (o *Orchestrator) autoReject(ctx context.Context, r *run, reason string) (*models.LoanOutcome, error) {
	o.recordAudit(ctx, r.loan.ID, EventAutoReject, map[string]interface{}{"reason": reason})

	if err := o.transition(ctx, r, StateFinalized); err != nil {
		return nil, err
	}

	outcome := &models.LoanOutcome{
		LoanID:         r.loan.ID,
		FinalScore:     0.0,
		Decision:       models.StatusRejected,
		Confidence:     1.0,
		ComplianceVeto: true,
		WorkflowState:  string(StateFinalized),
	}
	r.loan.ComplianceFlag = true
	o.finalize(ctx, r, outcome)

	metrics.WorkflowRuns.WithLabelValues(models.StatusRejected).Inc()
	return outcome, nil
}

// runDebate executes up to maxDebateRounds rebuttal rounds. Within a round
// the order Sales, Risk, Compliance, Moderator is a correctness
// requirement: later calls see the transcript entries appended by earlier
// calls in the same round. Without a moderator there is no consensus
// judgment and the debate always runs to the cap. Returns the number of
// rounds executed.
func (o *Orchestrator) runDebate(ctx context.Context, r *run) int {
	rounds := 0
	for round := 1; round <= o.maxDebateRounds; round++ {
		rounds = round
		o.recordAudit(ctx, r.loan.ID, EventDebateRound, map[string]interface{}{"round": round})

		salesResult := o.invoke(ctx, r, o.sales, round, r.transcript)
		riskResult := o.invoke(ctx, r, o.risk, round, r.transcript)
		o.invoke(ctx, r, o.compliance, round, r.transcript)

		r.salesScore = salesResult.Score
		r.riskScore = riskResult.Score

		if o.moderator == nil {
			continue
		}
		moderatorResult, consensus := o.moderator.EvaluateConsensus(ctx, r.loan.Facts, r.transcript)
		o.appendMemo(ctx, r, round, o.moderator.Role(), moderatorResult)
		r.moderatorResult = &moderatorResult

		if consensus {
			o.recordAudit(ctx, r.loan.ID, EventConsensusReached, map[string]interface{}{"round": round})
			break
		}
	}
	return rounds
}

// computeFinalScore blends the latest scores. The moderator term only
// participates when a debate actually produced a moderator result.
func (o *Orchestrator) computeFinalScore(ctx context.Context, r *run) float64 {
	var final float64
	formula := "0.4*sales - 0.4*risk"
	details := map[string]interface{}{
		"sales": r.salesScore,
		"risk":  r.riskScore,
	}

	if r.moderatorResult != nil {
		formula = "0.3*sales - 0.3*risk + 0.2*(moderator-50)"
		details["moderator"] = r.moderatorResult.Score
		final = 0.3*r.salesScore - 0.3*r.riskScore + 0.2*(r.moderatorResult.Score-50)
	} else {
		final = 0.4*r.salesScore - 0.4*r.riskScore
	}

	final = round2(final)
	details["formula"] = formula
	details["final_score"] = final
	o.recordAudit(ctx, r.loan.ID, EventFinalScoreCalc, details)
	return final
}

// confidenceFromVariance maps the Sales/Risk score spread to confidence.
// Piecewise-linear, continuous at 10, 20 and 40, floored at 0.1.
func confidenceFromVariance(salesScore, riskScore float64) float64 {
	variance := math.Abs(salesScore - riskScore)

	var confidence float64
	switch {
	case variance <= 10:
		confidence = 1.0 - 0.01*variance
	case variance <= 20:
		confidence = 0.9 - 0.02*(variance-10)
	case variance <= 40:
		confidence = 0.7 - 0.01*(variance-20)
	default:
		confidence = math.Max(0.1, 0.5-0.005*(variance-40))
	}

	return round2(confidence)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// transition advances the state machine and mirrors the new state to the
// loan store so a crash leaves the last committed state visible.
func (o *Orchestrator) transition(ctx context.Context, r *run, to State) error {
	next, err := Transition(r.state, to)
	if err != nil {
		return err
	}
	from := r.state
	r.state = next
	r.loan.WorkflowState = string(next)

	if o.loans != nil {
		if storeErr := o.loans.UpdateWorkflowState(ctx, r.loan.ID, string(next)); storeErr != nil {
			o.logger.Error("workflow state persist failed", map[string]interface{}{
				"loanId": r.loan.ID,
				"state":  string(next),
				"error":  storeErr.Error(),
			})
		}
	}
	o.recordAudit(ctx, r.loan.ID, EventStateTransition, map[string]interface{}{
		"from": string(from),
		"to":   string(next),
	})
	return nil
}

func (o *Orchestrator) finalize(ctx context.Context, r *run, outcome *models.LoanOutcome) {
	r.loan.Status = outcome.Decision
	r.loan.FinalScore = &outcome.FinalScore
	r.loan.ConfidenceScore = &outcome.Confidence

	if o.loans != nil {
		if err := o.loans.SaveOutcome(ctx, r.loan.ID, outcome); err != nil {
			o.logger.Error("outcome persist failed", map[string]interface{}{
				"loanId": r.loan.ID,
				"error":  err.Error(),
			})
		}
	}
}

func (o *Orchestrator) recordAudit(ctx context.Context, loanID, eventType string, details map[string]interface{}) {
	if o.audit == nil {
		return
	}
	event := &models.AuditEvent{
		LoanID:    loanID,
		EventType: eventType,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	if err := o.audit.Record(ctx, event); err != nil {
		o.logger.Error("audit persist failed", map[string]interface{}{
			"loanId":    loanID,
			"eventType": eventType,
			"error":     err.Error(),
		})
	}
}
