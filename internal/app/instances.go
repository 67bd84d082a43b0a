package app

import (
	"context"
	"log"
	"time"

	"live-quiz-service/internal/domain"
)

// Instances manages quiz instance settings.
type Instances struct {
	repo   Repository
	grader *Grader
	logger *log.Logger
	now    func() time.Time
}

func NewInstances(d Deps, grader *Grader) *Instances {
	d = d.withDefaults()
	return &Instances{repo: d.Repo, grader: grader, logger: d.Logger, now: d.Now}
}

// Create stores a new instance with an empty question order.
func (s *Instances) Create(ctx context.Context, actor domain.Actor, inst domain.QuizInstance) (domain.QuizInstance, error) {
	if err := requireController(actor); err != nil {
		return domain.QuizInstance{}, err
	}
	if err := validateInstance(inst); err != nil {
		return domain.QuizInstance{}, err
	}
	inst.ID = 0
	inst.QuestionOrder = nil
	inst.Modified = s.now()
	if err := s.repo.CreateInstance(ctx, &inst); err != nil {
		return domain.QuizInstance{}, domain.Persistence(err)
	}
	return inst, nil
}

func (s *Instances) Get(ctx context.Context, id int64) (domain.QuizInstance, error) {
	return s.repo.GetInstance(ctx, id)
}

// Update replaces an instance's settings. The question order is kept as stored.
// Changing the scale or grade method regrades every closed session in the same transaction.
func (s *Instances) Update(ctx context.Context, actor domain.Actor, next domain.QuizInstance) (domain.QuizInstance, error) {
	if err := requireController(actor); err != nil {
		return domain.QuizInstance{}, err
	}
	if err := validateInstance(next); err != nil {
		return domain.QuizInstance{}, err
	}
	var updated domain.QuizInstance
	err := s.repo.InTx(ctx, func(tx Repository) error {
		cur, err := editableInstance(ctx, tx, next.ID)
		if err != nil {
			return err
		}
		next.QuestionOrder = cur.QuestionOrder
		next.Modified = s.now()
		if err := tx.UpdateInstance(ctx, &next); err != nil {
			return domain.Persistence(err)
		}
		if cur.Scale != next.Scale || cur.GradeMethod != next.GradeMethod {
			if err := s.grader.recomputeInstance(ctx, tx, next); err != nil {
				return err
			}
		}
		updated = next
		return nil
	})
	if err != nil {
		return domain.QuizInstance{}, err
	}
	s.logger.Printf("instance %d settings updated", updated.ID)
	return updated, nil
}

func validateInstance(inst domain.QuizInstance) error {
	switch {
	case inst.Scale < 0:
		return domain.Invalid("scale")
	case inst.DefaultQuestionTime < 0:
		return domain.Invalid("defaultQuestionTime")
	case inst.WaitDelay < 0:
		return domain.Invalid("waitDelay")
	}
	switch inst.GradeMethod {
	case domain.GradeHighest, domain.GradeAverage, domain.GradeFirst, domain.GradeLast:
	default:
		return domain.ErrInvalidGradeMethod
	}
	if inst.GroupMode && inst.GroupingID == 0 {
		return domain.Invalid("groupingId")
	}
	return nil
}
