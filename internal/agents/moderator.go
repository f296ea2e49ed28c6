// internal/agents/moderator.go
package agents

import (
	"context"
	"fmt"
	"time"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/common/metrics"
	"loan-engine/internal/llm"
	"loan-engine/internal/models"
)

// Moderator weighs the other roles' arguments, produces a synthesis score
// and judges whether the debate has converged.
type Moderator struct {
	inner *roleEvaluator
}

func NewModerator(capability llm.Capability, timeout time.Duration, log logger.Logger) *Moderator {
	return &Moderator{
		inner: newRoleEvaluator(models.RoleModerator, moderatorSystemPrompt, "", capability, timeout, log),
	}
}

func (m *Moderator) Role() string { return models.RoleModerator }

// Evaluate produces a one-shot synthesis over the latest outputs of the
// other three roles.
func (m *Moderator) Evaluate(ctx context.Context, facts *models.FinancialFacts, outputs []models.EvaluatorMemo) Result {
	prompt := fmt.Sprintf("%s\n\nFinancial data:\n%s\n\nEvaluator outputs (Sales, Risk, Compliance):\n%s\n\nReturn JSON only.",
		moderatorSystemPrompt, factsJSON(facts), transcriptText(outputs))
	return m.inner.complete(ctx, prompt)
}

// EvaluateConsensus reviews the full chronological transcript and reports
// whether the visible score spread is reasonably aligned. The judgment
// comes from the capability itself and is best-effort; on fallback the
// debate simply continues. consensusReached is always false on failure.
func (m *Moderator) EvaluateConsensus(ctx context.Context, facts *models.FinancialFacts, allMemos []models.EvaluatorMemo) (Result, bool) {
	prompt := fmt.Sprintf("%s\n\nFinancial data:\n%s\n\nAll evaluator memos (chronological):\n%s\n\nReturn JSON only.",
		moderatorConsensusPrompt, factsJSON(facts), chronologicalTranscript(allMemos))

	metrics.EvaluatorCalls.WithLabelValues(m.inner.role).Inc()
	start := time.Now()
	defer func() {
		metrics.EvaluatorCallDuration.WithLabelValues(m.inner.role).Observe(time.Since(start).Seconds())
	}()

	callCtx, cancel := context.WithTimeout(ctx, m.inner.timeout)
	defer cancel()

	raw, err := m.inner.capability.CompleteStructured(callCtx, prompt, defaultMaxTokens)
	if err != nil {
		m.inner.logger.Warn("consensus call failed, using fallback result", map[string]interface{}{
			"error": err.Error(),
		})
		metrics.EvaluatorFallbacks.WithLabelValues(m.inner.role).Inc()
		return fallbackResult(models.RoleModerator), false
	}

	result, ok := parseResult(raw)
	if !ok {
		metrics.EvaluatorFallbacks.WithLabelValues(m.inner.role).Inc()
		return fallbackResult(models.RoleModerator), false
	}

	consensus, _ := raw["consensus"].(bool)
	return result, consensus
}
