// internal/agents/prompts.go
package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"loan-engine/internal/models"
)

const salesSystemPrompt = `You are a sales evaluator reviewing loan applications.
You are optimistic and growth-oriented. Highlight strengths, justify approval.
Return ONLY valid JSON in this exact structure:
{"memo": "<your memo text>", "score": <0-100>, "flags": ["<flag1>", "<flag2>"]}
Score: higher for strong revenue, collateral, growth potential.
Flags: optional list of positive or cautionary notes.`

const salesDebatePrompt = `You are a sales evaluator in a multi-agent debate about a loan application.
You have seen the other evaluators' arguments below. Respond to their points, defend your
position where you have evidence, and update your score if their arguments are compelling.
Be specific about which evaluator's points you agree or disagree with.
Return ONLY valid JSON in this exact structure:
{"memo": "<your rebuttal/updated memo>", "score": <0-100>, "flags": ["<flag1>"]}`

const riskSystemPrompt = `You are a risk evaluator reviewing loan applications.
You are skeptical and data-driven. Focus on DSCR, leverage, volatility.
Return ONLY valid JSON in this exact structure:
{"memo": "<your memo text>", "score": <0-100>, "flags": ["<flag1>", "<flag2>"]}
Score: higher for strong DSCR (>1.25), low leverage, stable cash flow. Lower for weak DSCR, high debt.
Flags: list risk concerns (e.g. low DSCR, high leverage).`

const riskDebatePrompt = `You are a risk evaluator in a multi-agent debate about a loan application.
You have seen the other evaluators' arguments below. Hold your ground where the data
supports you, concede where it does not, and update your score accordingly.
Return ONLY valid JSON in this exact structure:
{"memo": "<your rebuttal/updated memo>", "score": <0-100>, "flags": ["<flag1>"]}`

const complianceSystemPrompt = `You are a compliance evaluator reviewing loan applications.
You are procedural and strict. Block AML, grey list, offshore risks.
Return ONLY valid JSON in this exact structure:
{"memo": "<your memo text>", "score": <0-100>, "flags": ["<flag1>", "<flag2>"]}
Score: 0-30 if compliance keywords include offshore/AML/grey list; 70-100 if clean.
Flags: list compliance issues (e.g. offshore mention, AML concern, grey list).`

const complianceDebatePrompt = `You are a compliance evaluator in a multi-agent debate about a loan application.
You have seen the other evaluators' arguments below. Reassess compliance risk in light of
their observations. If other evaluators identified facts that change the risk picture,
adjust your score. Be firm on regulatory red-lines but fair on borderline cases.
Return ONLY valid JSON in this exact structure:
{"memo": "<your rebuttal/updated memo>", "score": <0-100>, "flags": ["<flag1>"]}`

const moderatorSystemPrompt = `You are a moderator synthesizing evaluator outputs for a loan application.
Weigh Sales, Risk, and Compliance arguments. Calculate a final risk-adjusted score.
Return ONLY valid JSON in this exact structure:
{"memo": "<your synthesis memo>", "score": <0-100>, "flags": ["<flag1>", "<flag2>"]}
Score: risk-adjusted blend of evaluator scores; weight Risk and Compliance higher for safety.
Flags: critical issues that affect final decision.`

const moderatorConsensusPrompt = `You are a moderator in a multi-round debate about a loan.
Below are the latest memos from all evaluators across debate rounds.
Your job is to:
1. Identify where evaluators agree and disagree.
2. Push evaluators toward consensus by highlighting strong arguments.
3. Provide your own risk-adjusted score.
4. In the "consensus" field, say true if evaluators are reasonably aligned (score spread < 15), false otherwise.

Return ONLY valid JSON:
{"memo": "<synthesis>", "score": <0-100>, "flags": ["<flag>"], "consensus": true/false}`

// factsJSON serializes a facts record for a prompt, omitting unknown
// fields entirely rather than rendering them as null or zero.
func factsJSON(facts *models.FinancialFacts) string {
	m := map[string]interface{}{}
	if facts != nil {
		if facts.Revenue != nil {
			m["revenue"] = *facts.Revenue
		}
		if facts.Debt != nil {
			m["debt"] = *facts.Debt
		}
		if facts.DSCR != nil {
			m["dscr"] = *facts.DSCR
		}
		m["collateral_present"] = facts.CollateralPresent
		if len(facts.ComplianceKeywords) > 0 {
			m["compliance_keywords"] = facts.ComplianceKeywords
		}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// transcriptText renders prior memos the way roles see them in a rebuttal.
func transcriptText(memos []models.EvaluatorMemo) string {
	lines := make([]string, 0, len(memos))
	for _, m := range memos {
		lines = append(lines, fmt.Sprintf("[%s] (score %g): %s", m.Role, m.Score, m.Content))
	}
	return strings.Join(lines, "\n")
}

// chronologicalTranscript renders the full debate history with round
// markers for the moderator's consensus pass.
func chronologicalTranscript(memos []models.EvaluatorMemo) string {
	lines := make([]string, 0, len(memos))
	for _, m := range memos {
		lines = append(lines, fmt.Sprintf("[Round %d - %s] (score %g): %s", m.Round, m.Role, m.Score, m.Content))
	}
	return strings.Join(lines, "\n")
}

func baselinePrompt(system string, facts *models.FinancialFacts) string {
	return fmt.Sprintf("%s\n\nFinancial data:\n%s\n\nReturn JSON only.", system, factsJSON(facts))
}

func rebuttalPrompt(debate string, facts *models.FinancialFacts, memos []models.EvaluatorMemo) string {
	return fmt.Sprintf("%s\n\nFinancial data:\n%s\n\nPrior evaluator memos:\n%s\n\nReturn JSON only.",
		debate, factsJSON(facts), transcriptText(memos))
}
