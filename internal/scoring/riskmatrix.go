// internal/scoring/riskmatrix.go

// Package scoring derives a deterministic risk breakdown from a financial
// facts record. No evaluator involvement: identical facts always produce
// identical scores, which also makes the results safe to cache.
package scoring

import (
	"fmt"
	"strings"

	"loan-engine/internal/models"
)

// CategoryScore is a 1-10 rating with the evidence lines that produced it.
// Evidence is never empty; a placeholder is substituted when no signal
// fired.
type CategoryScore struct {
	Score    int      `json:"score"`
	Evidence []string `json:"evidence"`
}

// RiskMatrix is the full deterministic breakdown. Financial, regulatory
// and reputation risk read 10 as worst; growth strength reads 10 as best.
type RiskMatrix struct {
	FinancialRisk  CategoryScore `json:"financialRisk"`
	GrowthStrength CategoryScore `json:"growthStrength"`
	RegulatoryRisk CategoryScore `json:"regulatoryRisk"`
	ReputationRisk CategoryScore `json:"reputationRisk"`
}

type weightedKeyword struct {
	keyword string
	weight  int
}

// Table order matters: an input keyword takes the weight of the first
// table entry it matches.
var regulatoryWeights = []weightedKeyword{
	{"offshore", 3},
	{"grey list", 2},
	{"gray list", 2},
	{"aml", 2},
	{"anti-money laundering", 2},
	{"sanctions", 2},
	{"pep", 2},
	{"politically exposed", 2},
}

var reputationWeights = []weightedKeyword{
	{"grey list", 3},
	{"gray list", 3},
	{"pep", 3},
	{"politically exposed", 3},
	{"offshore", 2},
	{"aml", 1},
	{"anti-money laundering", 1},
	{"sanctions", 2},
}

func clamp(score int) int {
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

// ComputeRiskMatrix computes all four category scores. Pure and
// order-insensitive: the categories do not feed each other.
func ComputeRiskMatrix(facts *models.FinancialFacts) RiskMatrix {
	if facts == nil {
		facts = &models.FinancialFacts{}
	}
	return RiskMatrix{
		FinancialRisk:  financialRisk(facts),
		GrowthStrength: growthStrength(facts),
		RegulatoryRisk: regulatoryRisk(facts.ComplianceKeywords),
		ReputationRisk: reputationRisk(facts.ComplianceKeywords),
	}
}

// dscrToRisk maps DSCR to the base financial risk score and its evidence.
// A missing DSCR is a strong negative signal, not a neutral one.
func dscrToRisk(dscr *float64) (int, []string) {
	if dscr == nil {
		return 9, []string{"DSCR not available"}
	}
	d := *dscr
	switch {
	case d <= 0:
		return 10, []string{fmt.Sprintf("DSCR %g indicates inability to service debt", d)}
	case d < 0.5:
		return 9, []string{fmt.Sprintf("DSCR %.2f severely below 1.0 threshold", d)}
	case d < 1.0:
		return 8, []string{fmt.Sprintf("DSCR %.2f below 1.0 (cannot cover debt service)", d)}
	case d < 1.25:
		return 6, []string{fmt.Sprintf("DSCR %.2f below 1.25 typical covenant", d)}
	case d < 1.5:
		return 4, []string{fmt.Sprintf("DSCR %.2f adequate buffer", d)}
	default:
		return 2, []string{fmt.Sprintf("DSCR %.2f strong debt service coverage", d)}
	}
}

// debtRevenueAdjustment contributes a leverage term to financial risk.
// Undefined when revenue or debt is unknown or revenue is non-positive.
func debtRevenueAdjustment(revenue, debt *float64) (int, []string) {
	if revenue == nil || debt == nil || *revenue <= 0 {
		return 0, nil
	}
	ratio := *debt / *revenue
	switch {
	case ratio > 3:
		return 2, []string{fmt.Sprintf("Debt/Revenue %.1fx indicates high leverage", ratio)}
	case ratio > 2:
		return 1, []string{fmt.Sprintf("Debt/Revenue %.1fx moderate leverage", ratio)}
	case ratio > 1:
		return 0, []string{fmt.Sprintf("Debt/Revenue %.1fx", ratio)}
	default:
		return -1, []string{fmt.Sprintf("Debt/Revenue %.1fx conservative structure", ratio)}
	}
}

func financialRisk(facts *models.FinancialFacts) CategoryScore {
	score, evidence := dscrToRisk(facts.DSCR)

	adj, adjEvidence := debtRevenueAdjustment(facts.Revenue, facts.Debt)
	score = clamp(score + adj)
	evidence = append(evidence, adjEvidence...)

	if facts.CollateralPresent {
		score = clamp(score - 1)
		evidence = append(evidence, "Collateral present reduces financial risk")
	}

	if len(evidence) == 0 {
		evidence = []string{"Insufficient financial data for assessment"}
	}

	return CategoryScore{Score: score, Evidence: evidence}
}

func growthStrength(facts *models.FinancialFacts) CategoryScore {
	evidence := []string{}
	score := 5 // baseline when revenue is unknown

	if facts.Revenue != nil && *facts.Revenue > 0 {
		revenue := *facts.Revenue
		switch {
		case revenue >= 100_000_000:
			score = 9
			evidence = append(evidence, fmt.Sprintf("Revenue $%.0fM indicates scale", revenue/1e6))
		case revenue >= 10_000_000:
			score = 7
			evidence = append(evidence, fmt.Sprintf("Revenue $%.1fM solid base", revenue/1e6))
		case revenue >= 1_000_000:
			score = 6
			evidence = append(evidence, fmt.Sprintf("Revenue $%.2fM", revenue/1e6))
		default:
			score = 4
			evidence = append(evidence, fmt.Sprintf("Revenue $%.0f", revenue))
		}
	}

	if facts.DSCR != nil {
		d := *facts.DSCR
		switch {
		case d >= 1.5:
			score += 2
			evidence = append(evidence, fmt.Sprintf("DSCR %.2f suggests strong cash flow", d))
		case d >= 1.25:
			score++
			evidence = append(evidence, fmt.Sprintf("DSCR %.2f supports growth capacity", d))
		case d < 1.0:
			score -= 2
			evidence = append(evidence, fmt.Sprintf("DSCR %.2f constrains growth capacity", d))
		}
	}

	if facts.CollateralPresent {
		score++
		evidence = append(evidence, "Collateral supports financing capacity")
	}

	if len(evidence) == 0 {
		evidence = []string{"Limited data for growth assessment"}
	}

	return CategoryScore{Score: clamp(score), Evidence: evidence}
}

// matchKeywords scores input keywords against a fixed weight table.
// Substring match in either direction, case-insensitive; each input
// keyword contributes its matched weight once.
func matchKeywords(keywords []string, weights []weightedKeyword) (int, []string) {
	score := 1
	evidence := []string{}
	seen := map[string]bool{}

	for _, raw := range keywords {
		kw := strings.ToLower(strings.TrimSpace(raw))
		if kw == "" || seen[kw] {
			continue
		}
		for _, entry := range weights {
			if strings.Contains(kw, entry.keyword) || strings.Contains(entry.keyword, kw) {
				seen[kw] = true
				score += entry.weight
				evidence = append(evidence, "Keyword detected: "+kw)
				break
			}
		}
	}

	return score, evidence
}

func regulatoryRisk(keywords []string) CategoryScore {
	score, evidence := matchKeywords(keywords, regulatoryWeights)
	if len(evidence) == 0 {
		evidence = []string{"No compliance keywords detected"}
	}
	return CategoryScore{Score: clamp(score), Evidence: evidence}
}

func reputationRisk(keywords []string) CategoryScore {
	score, evidence := matchKeywords(keywords, reputationWeights)
	if len(evidence) == 0 {
		evidence = []string{"No reputation risk keywords detected"}
	}
	return CategoryScore{Score: clamp(score), Evidence: evidence}
}
