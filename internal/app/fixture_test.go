package app_test

import (
	"context"
	"io"
	"log"
	"math"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
)

var (
	instructor = domain.Actor{UserID: 1, Role: domain.RoleInstructor, LoginSession: "ls-teacher"}
	student10  = domain.Actor{UserID: 10, Role: domain.RoleStudent, LoginSession: "ls-10"}
	student11  = domain.Actor{UserID: 11, Role: domain.RoleStudent, LoginSession: "ls-11"}
	student12  = domain.Actor{UserID: 12, Role: domain.RoleStudent, LoginSession: "ls-12"}
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	engine *memory.Engine
	dir    *memory.StaticDirectory
	events *memory.EventRecorder
	core   *app.Core
	now    time.Time
}

func newFixture(t *testing.T, opts ...func(*app.Deps)) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  memory.NewStore(),
		engine: memory.NewEngine(),
		dir: memory.NewStaticDirectory([]memory.Group{
			{ID: 1, GroupingID: 1, Name: "Red", Members: []int64{10, 11}},
			{ID: 2, GroupingID: 1, Name: "Blue", Members: []int64{11, 12}},
		}, map[int64]string{10: "Ten", 11: "Eleven", 12: "Twelve"}),
		events: memory.NewEventRecorder(nil),
		now:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	deps := app.Deps{
		Repo:    f.store,
		Engine:  f.engine,
		Bank:    memory.NewQuestionBank(memory.NewStaticQuestionLoader(sampleBank()), time.Minute),
		Groups:  f.dir,
		Events:  f.events,
		AnonIDs: memory.NewAnonymousIDs(),
		Status:  memory.NewStatusCache(),
		Logger:  log.New(io.Discard, "", 0),
		Now:     func() time.Time { return f.now },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	if e, ok := deps.Engine.(*memory.Engine); ok {
		f.engine = e
	}
	f.core = app.New(deps)
	return f
}

func sampleBank() map[string]domain.QuestionDef {
	return map[string]domain.QuestionDef{
		"mc": {
			Ref: "mc", Name: "Addition", Type: "multichoice", Text: "2 + 2?",
			Choices: []domain.Choice{
				{ID: "a", Text: "3", Fraction: 0},
				{ID: "b", Text: "4", Fraction: 1},
				{ID: "c", Text: "about 4", Fraction: 0.5},
			},
		},
		"sa":  {Ref: "sa", Name: "Capital", Type: "shortanswer", Text: "Capital of France?", Answer: "Paris"},
		"num": {Ref: "num", Name: "Pi", Type: "numerical", Text: "Pi to two places?", Answer: "3.14", Tolerance: 0.005},
		"scaled": {
			Ref: "scaled", Name: "Scaled", Type: "multichoice", Text: "Pick one",
			Choices: []domain.Choice{
				{ID: "x", Text: "thirty", Fraction: 0.3},
				{ID: "y", Text: "fifty-five", Fraction: 0.55},
			},
		},
	}
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) instance(inst domain.QuizInstance, refs map[string]float64, order ...string) (domain.QuizInstance, []domain.QuestionSpec) {
	f.t.Helper()
	if inst.GradeMethod == 0 {
		inst.GradeMethod = domain.GradeHighest
	}
	if inst.Scale == 0 {
		inst.Scale = 100
	}
	created, err := f.core.Instances.Create(f.ctx, instructor, inst)
	if err != nil {
		f.t.Fatalf("create instance: %v", err)
	}
	var specs []domain.QuestionSpec
	for _, ref := range order {
		spec, err := f.core.Questions.Add(f.ctx, instructor, created.ID, ref, domain.QuestionConfig{Points: refs[ref]})
		if err != nil {
			f.t.Fatalf("add question %s: %v", ref, err)
		}
		specs = append(specs, spec)
	}
	return created, specs
}

// threeQuestions attaches mc (10 points), sa (10) and num (5).
func (f *fixture) threeQuestions(inst domain.QuizInstance) (domain.QuizInstance, []domain.QuestionSpec) {
	return f.instance(inst, map[string]float64{"mc": 10, "sa": 10, "num": 5}, "mc", "sa", "num")
}

func (f *fixture) openSession(instanceID int64) domain.Session {
	f.t.Helper()
	s, err := f.core.Sessions.Create(f.ctx, instructor, instanceID, app.SessionOptions{Name: "live"})
	if err != nil {
		f.t.Fatalf("create session: %v", err)
	}
	return s
}

func (f *fixture) join(actor domain.Actor, sessionID int64, opts app.JoinOptions) domain.Attempt {
	f.t.Helper()
	a, err := f.core.Sessions.Join(f.ctx, actor, sessionID, opts)
	if err != nil {
		f.t.Fatalf("join as %d: %v", actor.UserID, err)
	}
	return a
}

func (f *fixture) answer(actor domain.Actor, a domain.Attempt, slot int, value string) error {
	seq, err := f.engine.SequenceNumber(f.ctx, a.UsageRef, slot)
	if err != nil {
		return err
	}
	sub := domain.Submission{Slots: map[int]domain.SlotResponse{
		slot: {Sequence: seq, Fields: map[string]string{"answer": value}},
	}}
	_, err = f.core.Attempts.SubmitResponse(f.ctx, actor, a.ID, slot, sub)
	return err
}

func (f *fixture) mustAnswer(actor domain.Actor, a domain.Attempt, slot int, value string) {
	f.t.Helper()
	if err := f.answer(actor, a, slot, value); err != nil {
		f.t.Fatalf("answer slot %d as %d: %v", slot, actor.UserID, err)
	}
}

func (f *fixture) attempt(id int64) domain.Attempt {
	f.t.Helper()
	a, err := f.store.GetAttempt(f.ctx, id)
	if err != nil {
		f.t.Fatalf("get attempt: %v", err)
	}
	return a
}

func (f *fixture) gradesByUser(instanceID int64) map[int64]float64 {
	f.t.Helper()
	grades, err := f.store.ListGrades(f.ctx, instanceID)
	if err != nil {
		f.t.Fatalf("list grades: %v", err)
	}
	out := make(map[int64]float64, len(grades))
	for _, g := range grades {
		out[g.UserID] = g.Value
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }
