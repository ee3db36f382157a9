package engine

import "strings"

// gotoPrefix marks a scene transition inside a button action string.
const gotoPrefix = "goto:"

// StepKind tags one decoded action step.
type StepKind int

const (
	// StepGoto switches the active scene to the named target.
	StepGoto StepKind = iota
	// StepExpr feeds a variable expression to the engine.
	StepExpr
)

// Step is one decoded element of a button action string: either a scene
// transition or a variable expression. Decoding happens once at the worker
// boundary; nothing downstream re-parses raw action text.
type Step struct {
	Kind  StepKind
	Value string // goto target or expression text
}

// DecodeAction splits a raw action string on ';' and classifies each
// non-empty element. Elements are returned in order; evaluation order is
// strictly left to right.
func DecodeAction(action string) []Step {
	parts := strings.Split(action, ";")
	steps := make([]Step, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.HasPrefix(part, gotoPrefix) {
			target := strings.TrimSpace(strings.TrimPrefix(part, gotoPrefix))
			steps = append(steps, Step{Kind: StepGoto, Value: target})
			continue
		}
		steps = append(steps, Step{Kind: StepExpr, Value: part})
	}
	return steps
}
