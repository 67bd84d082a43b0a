package app

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"live-quiz-service/internal/domain"
)

// Grader computes, aggregates and persists scaled grades.
type Grader struct {
	repo     Repository
	engine   QuestionEngine
	groups   *Groups
	exporter GradeExporter
	logger   *log.Logger
	now      func() time.Time
}

func NewGrader(d Deps, groups *Groups) *Grader {
	d = d.withDefaults()
	return &Grader{
		repo:     d.Repo,
		engine:   d.Engine,
		groups:   groups,
		exporter: d.Exporter,
		logger:   d.Logger,
		now:      d.Now,
	}
}

// ComputeAttemptGrade scales awarded over possible marks across the attempt's layout.
func (g *Grader) ComputeAttemptGrade(ctx context.Context, inst domain.QuizInstance, a domain.Attempt) (float64, error) {
	var awarded, possible float64
	for _, ref := range a.Layout {
		mark, err := g.engine.Mark(ctx, a.UsageRef, ref.Slot)
		if err != nil {
			return 0, domain.Engine(err)
		}
		maxMark, err := g.engine.MaxMark(ctx, a.UsageRef, ref.Slot)
		if err != nil {
			return 0, domain.Engine(err)
		}
		awarded += mark
		possible += maxMark
	}
	return ScaleGrade(awarded, possible, inst.Scale), nil
}

// ScaleGrade returns awarded/possible*scale, or 0 when nothing was possible.
func ScaleGrade(awarded, possible, scale float64) float64 {
	if possible == 0 {
		return 0
	}
	return awarded / possible * scale
}

// SessionGrade grades userID's latest finished, non-preview attempt in a closed session.
// The boolean is false when no attempt qualifies.
func (g *Grader) SessionGrade(ctx context.Context, inst domain.QuizInstance, s domain.Session, userID int64) (float64, bool, error) {
	return g.sessionGrade(ctx, g.repo, inst, s, userID)
}

func (g *Grader) sessionGrade(ctx context.Context, repo Repository, inst domain.QuizInstance, s domain.Session, userID int64) (float64, bool, error) {
	if s.Open {
		return 0, false, nil
	}
	attempts, err := repo.ListAttempts(ctx, AttemptFilter{
		SessionID:      s.ID,
		Owner:          domain.RealUser{ID: userID},
		ExcludePreview: true,
	})
	if err != nil {
		return 0, false, err
	}
	latest, ok := latestFinished(attempts)
	if !ok {
		return 0, false, nil
	}
	grade, err := g.ComputeAttemptGrade(ctx, inst, latest)
	if err != nil {
		return 0, false, err
	}
	return grade, true, nil
}

// Aggregate combines per-session grades, ordered by session creation.
func Aggregate(grades []float64, method domain.GradeMethod) (float64, error) {
	switch method {
	case domain.GradeHighest, domain.GradeAverage, domain.GradeFirst, domain.GradeLast:
	default:
		return 0, domain.ErrInvalidGradeMethod
	}
	if len(grades) == 0 {
		return 0, nil
	}
	switch method {
	case domain.GradeFirst:
		return grades[0], nil
	case domain.GradeLast:
		return grades[len(grades)-1], nil
	case domain.GradeAverage:
		var sum float64
		for _, v := range grades {
			sum += v
		}
		return sum / float64(len(grades)), nil
	default:
		best := grades[0]
		for _, v := range grades[1:] {
			if v > best {
				best = v
			}
		}
		return best, nil
	}
}

// GroupFanOut hands a group attempt's grade to the recorded attendees, or to the
// group's current members when attendance is not tracked.
func (g *Grader) GroupFanOut(ctx context.Context, a domain.Attempt, grade float64, attendance bool) (map[int64]float64, error) {
	return g.groupFanOut(ctx, g.repo, a, grade, attendance)
}

func (g *Grader) groupFanOut(ctx context.Context, repo Repository, a domain.Attempt, grade float64, attendance bool) (map[int64]float64, error) {
	var users []int64
	var err error
	if attendance {
		users, err = g.groups.attendees(ctx, repo, a.ID)
	} else {
		users, err = g.groups.Members(ctx, a.GroupID)
	}
	if err != nil {
		return nil, err
	}
	out := make(map[int64]float64, len(users))
	for _, u := range users {
		out[u] = grade
	}
	return out, nil
}

// mergeHigher keeps the higher grade for users reachable through several attempts.
func mergeHigher(dst, src map[int64]float64) {
	for u, v := range src {
		if cur, ok := dst[u]; !ok || v > cur {
			dst[u] = v
		}
	}
}

// PersistAll upserts one grade per user and exports the batch, all or nothing.
func (g *Grader) PersistAll(ctx context.Context, instanceID int64, grades map[int64]float64) error {
	return g.repo.InTx(ctx, func(tx Repository) error {
		return g.persistAll(ctx, tx, instanceID, grades)
	})
}

func (g *Grader) persistAll(ctx context.Context, tx Repository, instanceID int64, grades map[int64]float64) error {
	users := make([]int64, 0, len(grades))
	for u := range grades {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	now := g.now()
	batch := make([]domain.Grade, 0, len(users))
	for _, u := range users {
		grade := domain.Grade{InstanceID: instanceID, UserID: u, Value: grades[u], Modified: now}
		if err := tx.UpsertGrade(ctx, grade); err != nil {
			return domain.Persistence(err)
		}
		batch = append(batch, grade)
	}
	// Upserts are staged but not committed. An export failure rolls the batch
	// back; a commit failure after a successful export leaves the gradebook ahead.
	if err := g.exporter.Export(ctx, instanceID, batch); err != nil {
		return domain.Persistence(err)
	}
	return nil
}

// RecomputeInstance regrades every closed session of an instance and persists the result.
func (g *Grader) RecomputeInstance(ctx context.Context, instanceID int64) error {
	return g.repo.InTx(ctx, func(tx Repository) error {
		inst, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		return g.recomputeInstance(ctx, tx, inst)
	})
}

func (g *Grader) recomputeInstance(ctx context.Context, tx Repository, inst domain.QuizInstance) error {
	sessions, err := tx.ListSessions(ctx, inst.ID)
	if err != nil {
		return err
	}
	perUser := map[int64][]float64{}
	for _, s := range sessions {
		if s.Open {
			continue
		}
		grades, err := g.closedSessionGrades(ctx, tx, inst, s)
		if err != nil {
			return err
		}
		for u, v := range grades {
			perUser[u] = append(perUser[u], v)
		}
	}

	final := make(map[int64]float64, len(perUser))
	for u, grades := range perUser {
		v, err := Aggregate(grades, inst.GradeMethod)
		if err != nil {
			return err
		}
		final[u] = v
	}
	if err := g.persistAll(ctx, tx, inst.ID, final); err != nil {
		return err
	}
	g.logger.Printf("instance %d: grades recomputed for %d users", inst.ID, len(final))
	return nil
}

// closedSessionGrades returns the grade of every real user that took part in a closed session.
func (g *Grader) closedSessionGrades(ctx context.Context, tx Repository, inst domain.QuizInstance, s domain.Session) (map[int64]float64, error) {
	attempts, err := tx.ListAttempts(ctx, AttemptFilter{SessionID: s.ID, ExcludePreview: true})
	if err != nil {
		return nil, err
	}
	out := map[int64]float64{}

	if inst.GroupMode {
		byGroup := map[int64][]domain.Attempt{}
		for _, a := range attempts {
			if a.GroupID == 0 || domain.IsAnonymous(a.Owner) {
				continue
			}
			byGroup[a.GroupID] = append(byGroup[a.GroupID], a)
		}
		for _, group := range byGroup {
			latest, ok := latestFinished(group)
			if !ok {
				continue
			}
			grade, err := g.ComputeAttemptGrade(ctx, inst, latest)
			if err != nil {
				return nil, err
			}
			fanned, err := g.groupFanOut(ctx, tx, latest, grade, inst.GroupAttendance)
			if err != nil {
				return nil, err
			}
			mergeHigher(out, fanned)
		}
		return out, nil
	}

	seen := map[int64]bool{}
	for _, a := range attempts {
		user, ok := a.Owner.(domain.RealUser)
		if !ok || seen[user.ID] {
			continue
		}
		seen[user.ID] = true
		grade, ok, err := g.sessionGrade(ctx, tx, inst, s, user.ID)
		if err != nil {
			return nil, err
		}
		if ok {
			out[user.ID] = grade
		}
	}
	return out, nil
}

// regradeQuestion rescales questionID in every closed-session attempt seeded with it
// and returns the usages it changed. The caller saves them.
func (g *Grader) regradeQuestion(ctx context.Context, tx Repository, inst domain.QuizInstance, questionID int64, points float64) ([]string, error) {
	sessions, err := tx.ListSessions(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	var regraded []string
	for _, s := range sessions {
		if s.Open {
			continue
		}
		attempts, err := tx.ListAttempts(ctx, AttemptFilter{SessionID: s.ID})
		if err != nil {
			return regraded, err
		}
		for _, a := range attempts {
			ref, ok := a.SlotFor(questionID)
			if !ok {
				continue
			}
			if err := g.engine.RegradeQuestion(ctx, a.UsageRef, ref.Slot, points); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return regraded, domain.ErrRegradeFailed
				}
				return regraded, domain.Engine(err)
			}
			regraded = append(regraded, a.UsageRef)
		}
	}
	return regraded, nil
}

func latestFinished(attempts []domain.Attempt) (domain.Attempt, bool) {
	var latest domain.Attempt
	found := false
	for _, a := range attempts {
		if a.Status != domain.AttemptFinished {
			continue
		}
		if !found || a.Finished.After(latest.Finished) {
			latest = a
			found = true
		}
	}
	return latest, found
}
