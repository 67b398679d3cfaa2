package app

import (
	"errors"
	"fmt"
)

// Judge is one evaluator definition. Name is the unique key.
type Judge struct {
	Name        string `json:"name" yaml:"name"`
	Role        string `json:"role" yaml:"role"`
	Instruction string `json:"-" yaml:"instruction"`
}

// Panel is an immutable, ordered list of judges. It is safe for concurrent use.
type Panel struct {
	judges []Judge
}

// NewPanel validates and freezes a judge list.
func NewPanel(judges []Judge) (*Panel, error) {
	if len(judges) == 0 {
		return nil, errors.New("judge panel is empty")
	}
	seen := make(map[string]struct{}, len(judges))
	frozen := make([]Judge, len(judges))
	for i, j := range judges {
		if j.Name == "" {
			return nil, fmt.Errorf("judge %d has no name", i)
		}
		if _, dup := seen[j.Name]; dup {
			return nil, fmt.Errorf("duplicate judge %q", j.Name)
		}
		seen[j.Name] = struct{}{}
		frozen[i] = j
	}
	return &Panel{judges: frozen}, nil
}

// Judges returns a copy of the panel in display order.
func (p *Panel) Judges() []Judge {
	out := make([]Judge, len(p.judges))
	copy(out, p.judges)
	return out
}

// Size is the number of judges.
func (p *Panel) Size() int {
	return len(p.judges)
}

const verdictFormat = `
Return ONLY a JSON object with exactly this shape:
{
  "score": number between 0 and 100,
  "feedback": "at most 5 lines",
  "tags": ["concept1", "concept2", "concept3"]
}`

// DefaultJudges is the stock four-member panel.
func DefaultJudges() []Judge {
	return []Judge{
		{
			Name: "Professor Naim",
			Role: "Conceptual depth",
			Instruction: `You are "Professor Naim", the course lecturer. Judge the conceptual quality and depth of a student's answer. Consider:
- whether course concepts are used correctly
- whether they are connected to the question at hand
- whether the answer avoids clichés and shows genuine understanding` + verdictFormat,
		},
		{
			Name: "Assistant Mariela",
			Role: "Clarity and structure",
			Instruction: `You are "Assistant Mariela", focused on clarity and structure. Judge:
- clarity of the argument
- internal coherence and ordering of ideas
- appropriate use of examples or evidence
Do not comment on spelling, only overall readability.` + verdictFormat,
		},
		{
			Name: "Assistant Carlos",
			Role: "Rigor and course connection",
			Instruction: `You are "Assistant Carlos", focused on rigor. Judge:
- correct use of key concepts (institutions, inequality, conflict)
- whether the answer avoids oversimplification
- whether it connects to the discussions held in class` + verdictFormat,
		},
		{
			Name: "Assistant Max",
			Role: "Creative synthesis",
			Instruction: `You are "Assistant Max", a creative synthesis specialist. Judge how well the answer connects different course concepts, finds cross-cutting patterns and produces integrative insight. Reward grounded originality and non-obvious but valid connections. Do not invent facts.` + verdictFormat,
		},
	}
}
