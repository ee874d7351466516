package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/helmcode/fixos/pkg/model"
)

// DefaultConfidence applies when a verdict carries no usable confidence.
const DefaultConfidence = 0.5

// ParseEvaluation decodes an evaluate reply. Unknown verdicts read as failed
// and confidence is clamped to [0, 1].
func ParseEvaluation(raw string) (*model.Evaluation, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var wire struct {
		Verdict     string        `json:"verdict"`
		Confidence  number        `json:"confidence"`
		NewProblems []problemWire `json:"new_problems"`
		Explanation string        `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return nil, fmt.Errorf("decode evaluation: %w", err)
	}

	confidence := DefaultConfidence
	if wire.Confidence.set {
		confidence = min(max(wire.Confidence.value, 0), 1)
	}
	return &model.Evaluation{
		Verdict:     model.ParseVerdict(strings.ToLower(strings.TrimSpace(wire.Verdict))),
		Confidence:  confidence,
		NewProblems: specs(wire.NewProblems),
		Explanation: wire.Explanation,
	}, nil
}
