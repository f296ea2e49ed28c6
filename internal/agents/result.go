// internal/agents/result.go
package agents

import (
	"encoding/json"
	"fmt"
	"strings"

	"loan-engine/internal/models"

	"github.com/xeipuuv/gojsonschema"
)

// Result is the normalized output of one evaluator invocation. It is never
// mutated after creation; each round produces a fresh value.
type Result struct {
	Memo  string   `json:"memo"`
	Score float64  `json:"score"`
	Flags []string `json:"flags"`
}

const resultSchemaJSON = `{
	"type": "object",
	"properties": {
		"memo": {"type": "string"},
		"score": {"type": "number"},
		"flags": {"type": "array", "items": {"type": "string"}},
		"consensus": {"type": "boolean"}
	},
	"required": ["memo", "score"],
	"additionalProperties": true
}`

var resultSchema = gojsonschema.NewStringLoader(resultSchemaJSON)

// clampScore forces a capability-reported score into [0,100]. The model is
// instructed to stay in range but is not trusted to.
func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// parseResult validates and extracts a Result from a raw structured
// completion. Returns false when the payload does not match the contract.
func parseResult(raw map[string]interface{}) (Result, bool) {
	doc, err := json.Marshal(raw)
	if err != nil {
		return Result{}, false
	}

	validation, err := gojsonschema.Validate(resultSchema, gojsonschema.NewBytesLoader(doc))
	if err != nil || !validation.Valid() {
		return Result{}, false
	}

	res := Result{
		Memo:  fmt.Sprintf("%v", raw["memo"]),
		Flags: []string{},
	}

	if score, ok := raw["score"].(float64); ok {
		res.Score = clampScore(score)
	}

	if rawFlags, ok := raw["flags"].([]interface{}); ok {
		for _, f := range rawFlags {
			if s, ok := f.(string); ok {
				res.Flags = append(res.Flags, s)
			}
		}
	}

	if strings.TrimSpace(res.Memo) == "" {
		return Result{}, false
	}

	return res, true
}

// fallbackResult is the fixed neutral result a role returns when the
// capability fails. Score 50 keeps downstream formulas well-defined.
func fallbackResult(role string) Result {
	memo := role + " review unavailable."
	if role == models.RoleModerator {
		memo = "Moderator synthesis unavailable."
	}
	return Result{
		Memo:  memo,
		Score: 50.0,
		Flags: []string{},
	}
}
