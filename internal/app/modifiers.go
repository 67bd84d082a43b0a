package app

import (
	"strings"

	"live-quiz-service/internal/domain"
)

// ResultsModifier adjusts the instructor's results view for one question type.
type ResultsModifier interface {
	ModifyResultsDisplay(q domain.QuestionDef, attempts []domain.Attempt, raw domain.ResultsView) domain.ResultsView
}

// ResultsModifierFunc adapts a plain function to ResultsModifier.
type ResultsModifierFunc func(q domain.QuestionDef, attempts []domain.Attempt, raw domain.ResultsView) domain.ResultsView

func (f ResultsModifierFunc) ModifyResultsDisplay(q domain.QuestionDef, attempts []domain.Attempt, raw domain.ResultsView) domain.ResultsView {
	return f(q, attempts, raw)
}

// ModifierRegistry maps a question type to its results modifier.
type ModifierRegistry struct {
	byType map[string]ResultsModifier
}

func NewModifierRegistry() *ModifierRegistry {
	return &ModifierRegistry{byType: map[string]ResultsModifier{}}
}

// Register installs m for qtype, replacing any earlier modifier.
func (r *ModifierRegistry) Register(qtype string, m ResultsModifier) {
	r.byType[qtype] = m
}

// Apply runs the modifier for q's type. Types without one pass through unchanged.
func (r *ModifierRegistry) Apply(q domain.QuestionDef, attempts []domain.Attempt, raw domain.ResultsView) domain.ResultsView {
	if r == nil {
		return raw
	}
	m, ok := r.byType[q.Type]
	if !ok {
		return raw
	}
	return m.ModifyResultsDisplay(q, attempts, raw)
}

// DefaultModifiers tallies responses per choice for choice-based types.
func DefaultModifiers() *ModifierRegistry {
	r := NewModifierRegistry()
	tally := ResultsModifierFunc(tallyChoices)
	r.Register("multichoice", tally)
	r.Register("truefalse", tally)
	return r
}

// tallyChoices counts responses by choice text. Every choice is listed, picked or not.
func tallyChoices(q domain.QuestionDef, _ []domain.Attempt, raw domain.ResultsView) domain.ResultsView {
	counts := make(map[string]int, len(q.Choices))
	for _, c := range q.Choices {
		counts[c.Text] = 0
	}
	for _, line := range raw.Responses {
		for _, picked := range strings.Split(line.Response, "; ") {
			picked = strings.TrimSpace(picked)
			if _, ok := counts[picked]; ok {
				counts[picked]++
			}
		}
	}
	raw.Tally = counts
	return raw
}
