// internal/agents/evaluator.go

// Package agents implements the four evaluator roles that review a loan
// application: Sales (optimistic), Risk (skeptical), Compliance
// (procedural) and Moderator (arbitrator). Every role absorbs capability
// failures and returns a usable fallback result, so the orchestrator never
// blocks on or propagates an external failure.
package agents

import (
	"context"
	"time"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/common/metrics"
	"loan-engine/internal/llm"
	"loan-engine/internal/models"
)

const defaultMaxTokens = 800

// Evaluator is the shared contract of the Sales, Risk and Compliance
// roles. priorMemos empty means baseline review; non-empty means a
// rebuttal round over the transcript so far.
type Evaluator interface {
	Role() string
	Evaluate(ctx context.Context, facts *models.FinancialFacts, priorMemos []models.EvaluatorMemo) Result
}

// roleEvaluator carries everything a debating role needs: its instruction
// templates and the capability handle.
type roleEvaluator struct {
	role         string
	systemPrompt string
	debatePrompt string
	capability   llm.Capability
	timeout      time.Duration
	logger       logger.Logger
}

func newRoleEvaluator(role, system, debate string, capability llm.Capability, timeout time.Duration, log logger.Logger) *roleEvaluator {
	return &roleEvaluator{
		role:         role,
		systemPrompt: system,
		debatePrompt: debate,
		capability:   capability,
		timeout:      timeout,
		logger:       log.WithFields(map[string]interface{}{"role": role}),
	}
}

func (e *roleEvaluator) Role() string { return e.role }

func (e *roleEvaluator) Evaluate(ctx context.Context, facts *models.FinancialFacts, priorMemos []models.EvaluatorMemo) Result {
	var prompt string
	if len(priorMemos) > 0 {
		prompt = rebuttalPrompt(e.debatePrompt, facts, priorMemos)
	} else {
		prompt = baselinePrompt(e.systemPrompt, facts)
	}
	return e.complete(ctx, prompt)
}

// complete runs one structured completion with the role's deadline and
// falls back to the neutral result on any failure.
func (e *roleEvaluator) complete(ctx context.Context, prompt string) Result {
	metrics.EvaluatorCalls.WithLabelValues(e.role).Inc()
	start := time.Now()
	defer func() {
		metrics.EvaluatorCallDuration.WithLabelValues(e.role).Observe(time.Since(start).Seconds())
	}()

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.capability.CompleteStructured(callCtx, prompt, defaultMaxTokens)
	if err != nil {
		e.logger.Warn("capability call failed, using fallback result", map[string]interface{}{
			"error": err.Error(),
		})
		metrics.EvaluatorFallbacks.WithLabelValues(e.role).Inc()
		return fallbackResult(e.role)
	}

	result, ok := parseResult(raw)
	if !ok {
		e.logger.Warn("capability returned payload outside result contract", nil)
		metrics.EvaluatorFallbacks.WithLabelValues(e.role).Inc()
		return fallbackResult(e.role)
	}
	return result
}

// NewSales creates the optimistic, growth-oriented evaluator.
func NewSales(capability llm.Capability, timeout time.Duration, log logger.Logger) Evaluator {
	return newRoleEvaluator(models.RoleSales, salesSystemPrompt, salesDebatePrompt, capability, timeout, log)
}

// NewRisk creates the skeptical, data-driven evaluator.
func NewRisk(capability llm.Capability, timeout time.Duration, log logger.Logger) Evaluator {
	return newRoleEvaluator(models.RoleRisk, riskSystemPrompt, riskDebatePrompt, capability, timeout, log)
}

// NewCompliance creates the procedural evaluator that blocks AML, grey
// list and offshore risk.
func NewCompliance(capability llm.Capability, timeout time.Duration, log logger.Logger) Evaluator {
	return newRoleEvaluator(models.RoleCompliance, complianceSystemPrompt, complianceDebatePrompt, capability, timeout, log)
}
