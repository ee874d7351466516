package parser

import (
	"encoding/json"
	"fmt"

	"github.com/helmcode/fixos/pkg/model"
)

type problemWire struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Severity    string     `json:"severity"`
	FixCommands stringList `json:"fix_commands"`
	CausedBy    stringList `json:"caused_by"`
	RelatedTo   stringList `json:"related_to"`
}

func (w problemWire) spec() model.ProblemSpec {
	return model.ProblemSpec{
		ID:          w.ID,
		Description: w.Description,
		Severity:    w.Severity,
		FixCommands: w.FixCommands,
		CausedBy:    w.CausedBy,
		RelatedTo:   w.RelatedTo,
	}
}

func specs(ws []problemWire) []model.ProblemSpec {
	out := make([]model.ProblemSpec, 0, len(ws))
	for _, w := range ws {
		if w.ID == "" && w.Description == "" && len(w.FixCommands) == 0 {
			continue
		}
		out = append(out, w.spec())
	}
	return out
}

// ParseDiagnosis decodes a diagnose reply.
func ParseDiagnosis(raw string) (*model.Diagnosis, error) {
	obj, err := ExtractJSON(raw)
	if err != nil {
		return nil, err
	}
	var wire struct {
		NewProblems []problemWire `json:"new_problems"`
		Explanation string        `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return nil, fmt.Errorf("decode diagnosis: %w", err)
	}
	return &model.Diagnosis{
		NewProblems: specs(wire.NewProblems),
		Explanation: wire.Explanation,
	}, nil
}
