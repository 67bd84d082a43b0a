package app

import (
	"context"
	"errors"

	"live-quiz-service/internal/domain"
)

// Catalog is the thin adapter over the question bank plus per-question timing rules.
type Catalog struct {
	bank QuestionBank
}

func NewCatalog(bank QuestionBank) *Catalog {
	return &Catalog{bank: bank}
}

// Lookup loads a question definition by bank reference.
func (c *Catalog) Lookup(ctx context.Context, ref string) (domain.QuestionDef, error) {
	if ref == "" {
		return domain.QuestionDef{}, domain.Invalid("questionRef")
	}
	def, err := c.bank.GetQuestion(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.QuestionDef{}, err
		}
		return domain.QuestionDef{}, domain.Engine(err)
	}
	return def, nil
}

// Definition loads the definition behind an attached question.
func (c *Catalog) Definition(ctx context.Context, spec domain.QuestionSpec) (domain.QuestionDef, error) {
	return c.Lookup(ctx, spec.QuestionRef)
}

// QuestionTime is the effective time budget in seconds; 0 means untimed.
// An explicit per-question override wins over the notime flag.
func QuestionTime(inst domain.QuizInstance, spec domain.QuestionSpec) int {
	if spec.QuestionTime > 0 {
		return spec.QuestionTime
	}
	if spec.NoTime {
		return 0
	}
	return inst.DefaultQuestionTime
}
