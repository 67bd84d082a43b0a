package app

import (
	"context"
	"errors"
	"log"

	"live-quiz-service/internal/domain"
)

// Direction is a single-step move within the question order.
type Direction string

const (
	MoveUp   Direction = "up"
	MoveDown Direction = "down"
)

// QuestionOrder owns the ordered list of questions attached to a quiz instance.
type QuestionOrder struct {
	repo    Repository
	catalog *Catalog
	grader  *Grader
	logger  *log.Logger
}

func NewQuestionOrder(d Deps, catalog *Catalog, grader *Grader) *QuestionOrder {
	d = d.withDefaults()
	return &QuestionOrder{repo: d.Repo, catalog: catalog, grader: grader, logger: d.Logger}
}

// List returns the instance's questions in display order.
func (o *QuestionOrder) List(ctx context.Context, instanceID int64) ([]domain.QuestionSpec, error) {
	inst, err := o.repo.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	specs, err := o.repo.ListQuestions(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return inOrder(inst.QuestionOrder, specs), nil
}

// Add attaches a bank question to the end of the order.
func (o *QuestionOrder) Add(ctx context.Context, actor domain.Actor, instanceID int64, ref string, cfg domain.QuestionConfig) (domain.QuestionSpec, error) {
	if err := requireController(actor); err != nil {
		return domain.QuestionSpec{}, err
	}
	if cfg.Points < 0 {
		return domain.QuestionSpec{}, domain.Invalid("points")
	}
	if cfg.QuestionTime < 0 || cfg.Tries < 0 {
		return domain.QuestionSpec{}, domain.Invalid("questionTime")
	}

	var added domain.QuestionSpec
	err := o.repo.InTx(ctx, func(tx Repository) error {
		inst, err := editableInstance(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		specs, err := tx.ListQuestions(ctx, instanceID)
		if err != nil {
			return err
		}
		for _, s := range specs {
			if s.QuestionRef == ref {
				return domain.ErrDuplicateQuestion
			}
		}
		if _, err := o.catalog.Lookup(ctx, ref); err != nil {
			return err
		}

		added = domain.QuestionSpec{
			InstanceID:   instanceID,
			QuestionRef:  ref,
			NoTime:       cfg.NoTime,
			QuestionTime: cfg.QuestionTime,
			Tries:        cfg.Tries,
			Points:       cfg.Points,
			ShowHistory:  cfg.ShowHistory,
		}
		if err := tx.InsertQuestion(ctx, &added); err != nil {
			return domain.Persistence(err)
		}
		inst.QuestionOrder = append(inst.QuestionOrder, added.ID)
		return domain.Persistence(tx.UpdateInstance(ctx, &inst))
	})
	if err != nil {
		return domain.QuestionSpec{}, err
	}
	return added, nil
}

// Move swaps a question with its neighbour.
func (o *QuestionOrder) Move(ctx context.Context, actor domain.Actor, questionID int64, dir Direction) error {
	if err := requireController(actor); err != nil {
		return err
	}
	if dir != MoveUp && dir != MoveDown {
		return domain.ErrInvalidDirection
	}
	return o.repo.InTx(ctx, func(tx Repository) error {
		spec, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		inst, err := editableInstance(ctx, tx, spec.InstanceID)
		if err != nil {
			return err
		}
		pos := indexOf(inst.QuestionOrder, questionID)
		if pos < 0 {
			return domain.ErrQuestionNotFound
		}
		other := pos + 1
		if dir == MoveUp {
			other = pos - 1
		}
		if other < 0 || other >= len(inst.QuestionOrder) {
			return domain.ErrBoundary
		}
		inst.QuestionOrder[pos], inst.QuestionOrder[other] = inst.QuestionOrder[other], inst.QuestionOrder[pos]
		return domain.Persistence(tx.UpdateInstance(ctx, &inst))
	})
}

// Remove detaches a question. Attempts already seeded with it keep their frozen layout.
func (o *QuestionOrder) Remove(ctx context.Context, actor domain.Actor, questionID int64) error {
	if err := requireController(actor); err != nil {
		return err
	}
	return o.repo.InTx(ctx, func(tx Repository) error {
		spec, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		inst, err := editableInstance(ctx, tx, spec.InstanceID)
		if err != nil {
			return err
		}
		pos := indexOf(inst.QuestionOrder, questionID)
		if pos >= 0 {
			inst.QuestionOrder = append(inst.QuestionOrder[:pos], inst.QuestionOrder[pos+1:]...)
		}
		if err := tx.DeleteQuestion(ctx, questionID); err != nil {
			return domain.Persistence(err)
		}
		return domain.Persistence(tx.UpdateInstance(ctx, &inst))
	})
}

// Reorder replaces the order with a permutation of the current question ids.
// Closed sessions keep the slot layout they were seeded with, so per-slot history
// may no longer line up with the displayed list after a reorder.
func (o *QuestionOrder) Reorder(ctx context.Context, actor domain.Actor, instanceID int64, order []int64) error {
	if err := requireController(actor); err != nil {
		return err
	}
	return o.repo.InTx(ctx, func(tx Repository) error {
		inst, err := editableInstance(ctx, tx, instanceID)
		if err != nil {
			return err
		}
		if !isPermutation(inst.QuestionOrder, order) {
			return domain.ErrOrderMismatch
		}
		inst.QuestionOrder = append([]int64(nil), order...)
		return domain.Persistence(tx.UpdateInstance(ctx, &inst))
	})
}

// QuestionAt resolves the question at a 1-based number of attempt's frozen layout
// and records on the attempt whether it is the last one.
func (o *QuestionOrder) QuestionAt(ctx context.Context, number int, attempt *domain.Attempt) (domain.SlotQuestion, error) {
	return o.questionAt(ctx, o.repo, number, attempt)
}

func (o *QuestionOrder) questionAt(ctx context.Context, repo Repository, number int, attempt *domain.Attempt) (domain.SlotQuestion, error) {
	ref, ok := attempt.SlotAt(number)
	if !ok {
		return domain.SlotQuestion{}, domain.ErrInvalidQuestionNumber
	}
	spec, err := repo.GetQuestion(ctx, ref.QuestionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SlotQuestion{}, domain.ErrInvalidQuestionNumber
		}
		return domain.SlotQuestion{}, err
	}
	attempt.IsLast = number == len(attempt.Layout)
	return domain.SlotQuestion{Number: number, Slot: ref.Slot, Spec: spec, IsLast: attempt.IsLast}, nil
}

// UpdatePoints changes a question's point value. Attempts of closed sessions that used
// the question are regraded first; attempts of an open session are left alone.
func (o *QuestionOrder) UpdatePoints(ctx context.Context, actor domain.Actor, questionID int64, points float64) error {
	if err := requireController(actor); err != nil {
		return err
	}
	if points < 0 {
		return domain.Invalid("points")
	}
	var regraded []string
	err := o.repo.InTx(ctx, func(tx Repository) error {
		spec, err := tx.GetQuestion(ctx, questionID)
		if err != nil {
			return err
		}
		if spec.Points == points {
			return nil
		}
		inst, err := tx.GetInstance(ctx, spec.InstanceID)
		if err != nil {
			return err
		}
		regraded, err = o.grader.regradeQuestion(ctx, tx, inst, spec.ID, points)
		if err != nil {
			return err
		}
		spec.Points = points
		if err := tx.UpdateQuestion(ctx, &spec); err != nil {
			return domain.Persistence(err)
		}
		if len(regraded) > 0 {
			if err := o.grader.recomputeInstance(ctx, tx, inst); err != nil {
				return err
			}
		}
		if err := saveUsages(ctx, o.grader.engine, regraded); err != nil {
			return err
		}
		o.logger.Printf("question %d points set to %.2f, %d attempts regraded", spec.ID, points, len(regraded))
		return nil
	})
	if err != nil {
		restoreUsages(ctx, o.grader.engine, o.logger, regraded)
	}
	return err
}

func editableInstance(ctx context.Context, tx Repository, instanceID int64) (domain.QuizInstance, error) {
	inst, err := tx.GetInstance(ctx, instanceID)
	if err != nil {
		return domain.QuizInstance{}, err
	}
	if _, open, err := tx.OpenSession(ctx, instanceID); err != nil {
		return domain.QuizInstance{}, err
	} else if open {
		return domain.QuizInstance{}, domain.ErrSessionAlreadyOpen
	}
	return inst, nil
}

func inOrder(order []int64, specs []domain.QuestionSpec) []domain.QuestionSpec {
	byID := make(map[int64]domain.QuestionSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	out := make([]domain.QuestionSpec, 0, len(order))
	for _, id := range order {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

func indexOf(ids []int64, id int64) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func isPermutation(current, proposed []int64) bool {
	if len(current) != len(proposed) {
		return false
	}
	seen := make(map[int64]int, len(current))
	for _, id := range current {
		seen[id]++
	}
	for _, id := range proposed {
		if seen[id] == 0 {
			return false
		}
		seen[id]--
	}
	return true
}
