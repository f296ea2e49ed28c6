// internal/agents/evaluator_test.go
package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"loan-engine/internal/common/logger"
	"loan-engine/internal/llm"
	"loan-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCapability returns a canned structured payload, or an error, and
// records the prompts it received.
type fakeCapability struct {
	payload map[string]interface{}
	err     error
	prompts []string
}

func (f *fakeCapability) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return "", f.err
}

func (f *fakeCapability) CompleteStructured(_ context.Context, prompt string, _ int) (map[string]interface{}, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func testFacts() *models.FinancialFacts {
	revenue := 25_000_000.0
	return &models.FinancialFacts{Revenue: &revenue, CollateralPresent: true}
}

func newTestEvaluator(t *testing.T, ctor func(llm.Capability, time.Duration, logger.Logger) Evaluator, cap llm.Capability) Evaluator {
	t.Helper()
	return ctor(cap, 5*time.Second, logger.NewNoOpLogger())
}

func TestEvaluateReturnsParsedResult(t *testing.T) {
	cap := &fakeCapability{payload: map[string]interface{}{
		"memo":  "Strong revenue base with collateral.",
		"score": 82.0,
		"flags": []interface{}{"collateral present"},
	}}
	eval := newTestEvaluator(t, NewSales, cap)

	result := eval.Evaluate(context.Background(), testFacts(), nil)
	assert.Equal(t, "Strong revenue base with collateral.", result.Memo)
	assert.Equal(t, 82.0, result.Score)
	assert.Equal(t, []string{"collateral present"}, result.Flags)
}

func TestEvaluateClampsOutOfRangeScore(t *testing.T) {
	tests := []struct {
		name     string
		score    float64
		expected float64
	}{
		{"above range", 140.0, 100.0},
		{"below range", -5.0, 0.0},
		{"in range", 55.5, 55.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cap := &fakeCapability{payload: map[string]interface{}{
				"memo":  "assessment",
				"score": tt.score,
			}}
			eval := newTestEvaluator(t, NewRisk, cap)
			result := eval.Evaluate(context.Background(), testFacts(), nil)
			assert.Equal(t, tt.expected, result.Score)
		})
	}
}

func TestEvaluateFallbackOnCapabilityError(t *testing.T) {
	cap := &fakeCapability{err: llm.ErrUnavailable}
	eval := newTestEvaluator(t, NewCompliance, cap)

	result := eval.Evaluate(context.Background(), testFacts(), nil)
	assert.Equal(t, "Compliance review unavailable.", result.Memo)
	assert.Equal(t, 50.0, result.Score)
	assert.Empty(t, result.Flags)
	assert.NotNil(t, result.Flags, "fallback flags must be empty, not nil")
}

func TestEvaluateFallbackOnContractViolation(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"missing memo", map[string]interface{}{"score": 70.0}},
		{"missing score", map[string]interface{}{"memo": "text"}},
		{"score wrong type", map[string]interface{}{"memo": "text", "score": "high"}},
		{"blank memo", map[string]interface{}{"memo": "   ", "score": 70.0}},
		{"flags wrong type", map[string]interface{}{"memo": "text", "score": 70.0, "flags": "not-a-list"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cap := &fakeCapability{payload: tt.payload}
			eval := newTestEvaluator(t, NewSales, cap)
			result := eval.Evaluate(context.Background(), testFacts(), nil)
			assert.Equal(t, "Sales review unavailable.", result.Memo)
			assert.Equal(t, 50.0, result.Score)
		})
	}
}

func TestEvaluateBaselineVersusRebuttalPrompt(t *testing.T) {
	cap := &fakeCapability{payload: map[string]interface{}{"memo": "m", "score": 50.0}}
	eval := newTestEvaluator(t, NewRisk, cap)

	eval.Evaluate(context.Background(), testFacts(), nil)
	require.Len(t, cap.prompts, 1)
	assert.NotContains(t, cap.prompts[0], "Prior evaluator memos")
	assert.Contains(t, cap.prompts[0], "Financial data:")

	prior := []models.EvaluatorMemo{
		{Role: models.RoleSales, Round: 0, Score: 85, Content: "growth story"},
	}
	eval.Evaluate(context.Background(), testFacts(), prior)
	require.Len(t, cap.prompts, 2)
	assert.Contains(t, cap.prompts[1], "Prior evaluator memos")
	assert.Contains(t, cap.prompts[1], "[Sales] (score 85): growth story")
}

func TestEvaluateOmitsUnknownFactsFromPrompt(t *testing.T) {
	cap := &fakeCapability{payload: map[string]interface{}{"memo": "m", "score": 50.0}}
	eval := newTestEvaluator(t, NewSales, cap)

	eval.Evaluate(context.Background(), &models.FinancialFacts{}, nil)
	require.Len(t, cap.prompts, 1)
	assert.NotContains(t, cap.prompts[0], `"revenue"`)
	assert.NotContains(t, cap.prompts[0], "null")
	assert.Contains(t, cap.prompts[0], "collateral_present")
}

func TestRoleNames(t *testing.T) {
	cap := &fakeCapability{}
	assert.Equal(t, models.RoleSales, newTestEvaluator(t, NewSales, cap).Role())
	assert.Equal(t, models.RoleRisk, newTestEvaluator(t, NewRisk, cap).Role())
	assert.Equal(t, models.RoleCompliance, newTestEvaluator(t, NewCompliance, cap).Role())
}

func TestModeratorEvaluateConsensus(t *testing.T) {
	memos := []models.EvaluatorMemo{
		{Role: models.RoleSales, Round: 0, Score: 85, Content: "optimistic"},
		{Role: models.RoleRisk, Round: 0, Score: 45, Content: "leverage concern"},
		{Role: models.RoleSales, Round: 1, Score: 70, Content: "conceding some risk"},
	}

	t.Run("consensus true from payload", func(t *testing.T) {
		cap := &fakeCapability{payload: map[string]interface{}{
			"memo":      "Scores converged.",
			"score":     60.0,
			"consensus": true,
		}}
		mod := NewModerator(cap, 5*time.Second, logger.NewNoOpLogger())

		result, consensus := mod.EvaluateConsensus(context.Background(), testFacts(), memos)
		assert.True(t, consensus)
		assert.Equal(t, 60.0, result.Score)

		require.Len(t, cap.prompts, 1)
		assert.Contains(t, cap.prompts[0], "[Round 1 - Sales] (score 70): conceding some risk")
	})

	t.Run("consensus absent defaults to false", func(t *testing.T) {
		cap := &fakeCapability{payload: map[string]interface{}{
			"memo":  "Still divided.",
			"score": 55.0,
		}}
		mod := NewModerator(cap, 5*time.Second, logger.NewNoOpLogger())

		_, consensus := mod.EvaluateConsensus(context.Background(), testFacts(), memos)
		assert.False(t, consensus)
	})

	t.Run("fallback never reports consensus", func(t *testing.T) {
		cap := &fakeCapability{err: llm.ErrUnavailable}
		mod := NewModerator(cap, 5*time.Second, logger.NewNoOpLogger())

		result, consensus := mod.EvaluateConsensus(context.Background(), testFacts(), memos)
		assert.False(t, consensus)
		assert.Equal(t, "Moderator synthesis unavailable.", result.Memo)
		assert.Equal(t, 50.0, result.Score)
	})
}

func TestModeratorEvaluateSynthesis(t *testing.T) {
	cap := &fakeCapability{payload: map[string]interface{}{
		"memo":  "Balanced view.",
		"score": 58.0,
	}}
	mod := NewModerator(cap, 5*time.Second, logger.NewNoOpLogger())

	outputs := []models.EvaluatorMemo{
		{Role: models.RoleSales, Score: 80, Content: "strengths"},
		{Role: models.RoleRisk, Score: 50, Content: "concerns"},
		{Role: models.RoleCompliance, Score: 75, Content: "clean"},
	}
	result := mod.Evaluate(context.Background(), testFacts(), outputs)
	assert.Equal(t, 58.0, result.Score)

	require.Len(t, cap.prompts, 1)
	assert.True(t, strings.Contains(cap.prompts[0], "[Risk] (score 50): concerns"))
}
