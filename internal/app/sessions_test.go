package app_test

import (
	"errors"
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestBasicRound(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{Name: "round", DefaultQuestionTime: 30, WaitDelay: 5})
	s := f.openSession(inst.ID)
	if s.Status != domain.StatusNotRunning || !s.Open {
		t.Fatalf("unexpected new session %+v", s)
	}

	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	if !teacher.Preview {
		t.Fatalf("expected controller attempt to be a preview")
	}
	a := f.join(student10, s.ID, app.JoinOptions{})
	if a.Status != domain.AttemptInProgress || len(a.Layout) != 3 {
		t.Fatalf("unexpected attempt %+v", a)
	}

	s, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.Status != domain.StatusRunning || s.CurrentIndex != 1 || s.QuestionTime != 30 {
		t.Fatalf("unexpected running session %+v", s)
	}
	if want := f.now.Add(5 * time.Second); !s.NextStartTime.Equal(want) {
		t.Fatalf("expected next start %v, got %v", want, s.NextStartTime)
	}

	f.advance(10 * time.Second)
	f.mustAnswer(student10, a, a.Layout[0].Slot, "b")

	if _, err := f.core.Sessions.EndQuestion(f.ctx, instructor, s.ID); err != nil {
		t.Fatalf("end question: %v", err)
	}
	view, err := f.core.Sessions.Results(f.ctx, instructor, s.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(view.Responses) != 1 || view.Responses[0].Name != "Ten" || view.Tally["4"] != 1 {
		t.Fatalf("unexpected results %+v", view)
	}

	s, err = f.core.Sessions.Next(f.ctx, instructor, s.ID, teacher.ID)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if s.CurrentIndex != 2 {
		t.Fatalf("expected question 2, got %d", s.CurrentIndex)
	}
	f.mustAnswer(student10, a, a.Layout[1].Slot, "paris")

	closed, err := f.core.Sessions.Close(f.ctx, instructor, s.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Open || closed.Status != domain.StatusNotRunning || closed.CurrentSlot != 0 {
		t.Fatalf("unexpected closed session %+v", closed)
	}
	for _, id := range []int64{a.ID, teacher.ID} {
		if got := f.attempt(id); got.Status != domain.AttemptFinished {
			t.Fatalf("attempt %d not finished: %s", id, got.Status)
		}
	}
	if len(f.events.Ended()) != 2 {
		t.Fatalf("expected 2 ended notifications, got %d", len(f.events.Ended()))
	}

	grades := f.gradesByUser(inst.ID)
	if len(grades) != 1 {
		t.Fatalf("expected one grade, got %v", grades)
	}
	if !approx(grades[10], 80) {
		t.Fatalf("expected grade 80, got %v", grades[10])
	}
}

func TestOneOpenSessionPerInstance(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	first := f.openSession(inst.ID)

	again, err := f.core.Sessions.Create(f.ctx, instructor, inst.ID, app.SessionOptions{})
	if !errors.Is(err, domain.ErrSessionAlreadyOpen) {
		t.Fatalf("expected session already open, got %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected redirect to session %d, got %d", first.ID, again.ID)
	}

	if _, err := f.core.Sessions.Close(f.ctx, instructor, first.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	second := f.openSession(inst.ID)
	if second.ID == first.ID {
		t.Fatalf("expected a new session")
	}
}

func TestStaleSubmissionRejected(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	a := f.join(student10, s.ID, app.JoinOptions{})

	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.core.Sessions.GoToQuestion(f.ctx, instructor, s.ID, teacher.ID, 3); err != nil {
		t.Fatalf("goto: %v", err)
	}

	err := f.answer(student10, a, a.Layout[1].Slot, "Paris")
	if !errors.Is(err, domain.ErrStaleQuestion) {
		t.Fatalf("expected stale question, got %v", err)
	}
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("expected state conflict kind, got %v", err)
	}
	got := f.attempt(a.ID)
	if got.Responded || got.RespondedCount != 0 {
		t.Fatalf("stale submission mutated attempt: %+v", got)
	}
	if mark, _ := f.engine.Mark(f.ctx, a.UsageRef, a.Layout[1].Slot); mark != 0 {
		t.Fatalf("stale submission reached the engine: %v", mark)
	}
}

func TestAdvanceResetsRespondedIdempotently(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	a := f.join(student10, s.ID, app.JoinOptions{})

	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.mustAnswer(student10, a, a.Layout[0].Slot, "a")
	if got := f.attempt(a.ID); got.RespondedCount != 1 {
		t.Fatalf("expected responded count 1, got %d", got.RespondedCount)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.core.Sessions.Next(f.ctx, instructor, s.ID, teacher.ID); err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
		if got := f.attempt(a.ID); got.Responded || got.RespondedCount != 0 {
			t.Fatalf("advance %d left responded state %+v", i, got)
		}
	}

	if _, err := f.core.Sessions.Next(f.ctx, instructor, s.ID, teacher.ID); !errors.Is(err, domain.ErrInvalidQuestionNumber) {
		t.Fatalf("expected invalid question number past the end, got %v", err)
	}
}

func TestTransitionsFollowStateMachine(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})

	if _, err := f.core.Sessions.Next(f.ctx, instructor, s.ID, teacher.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected next before start to fail, got %v", err)
	}
	if _, err := f.core.Sessions.ReviewResults(f.ctx, instructor, s.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected review before end to fail, got %v", err)
	}
	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected second start to fail, got %v", err)
	}
	if _, err := f.core.Sessions.Repoll(f.ctx, instructor, s.ID, teacher.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected repoll while running to fail, got %v", err)
	}

	for i := 0; i < 2; i++ {
		got, err := f.core.Sessions.EndQuestion(f.ctx, instructor, s.ID)
		if err != nil || got.Status != domain.StatusEndQuestion {
			t.Fatalf("end question %d: %+v %v", i, got, err)
		}
	}
	got, err := f.core.Sessions.Repoll(f.ctx, instructor, s.ID, teacher.ID)
	if err != nil || got.Status != domain.StatusRunning || got.CurrentIndex != 1 {
		t.Fatalf("repoll: %+v %v", got, err)
	}
	if _, err := f.core.Sessions.GoToQuestion(f.ctx, instructor, s.ID, teacher.ID, 9); !errors.Is(err, domain.ErrInvalidQuestionNumber) {
		t.Fatalf("expected goto out of range to fail, got %v", err)
	}

	if _, err := f.core.Sessions.Start(f.ctx, student10, s.ID, teacher.ID); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("expected permission error for student, got %v", err)
	}
}

func TestQuestionTimeUsesOverrideThenNoTime(t *testing.T) {
	f := newFixture(t)
	inst, err := f.core.Instances.Create(f.ctx, instructor, domain.QuizInstance{Scale: 10, GradeMethod: domain.GradeLast, DefaultQuestionTime: 45})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	cfgs := []domain.QuestionConfig{
		{Points: 1, QuestionTime: 20},
		{Points: 1, NoTime: true},
		{Points: 1},
	}
	for i, ref := range []string{"mc", "sa", "num"} {
		if _, err := f.core.Questions.Add(f.ctx, instructor, inst.ID, ref, cfgs[i]); err != nil {
			t.Fatalf("add %s: %v", ref, err)
		}
	}
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})

	s, _ = f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID)
	if s.QuestionTime != 20 {
		t.Fatalf("expected override 20, got %d", s.QuestionTime)
	}
	s, _ = f.core.Sessions.Next(f.ctx, instructor, s.ID, teacher.ID)
	if s.QuestionTime != 0 {
		t.Fatalf("expected untimed, got %d", s.QuestionTime)
	}
	s, _ = f.core.Sessions.Next(f.ctx, instructor, s.ID, teacher.ID)
	if s.QuestionTime != 45 {
		t.Fatalf("expected default 45, got %d", s.QuestionTime)
	}
}

func TestStatusSnapshot(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{DefaultQuestionTime: 30, WaitDelay: 3})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})

	snap, err := f.core.Sessions.Status(f.ctx, s.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := app.StatusPayload(snap, f.now); got["status"] != "notrunning" {
		t.Fatalf("unexpected payload %v", got)
	}

	if _, err := f.core.Sessions.GoToQuestion(f.ctx, instructor, s.ID, teacher.ID, 1); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected goto before start to fail, got %v", err)
	}
	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.core.Sessions.GoToQuestion(f.ctx, instructor, s.ID, teacher.ID, 3); err != nil {
		t.Fatalf("goto: %v", err)
	}

	snap, _ = f.core.Sessions.Status(f.ctx, s.ID)
	payload := app.StatusPayload(snap, f.now.Add(5*time.Second))
	if payload["status"] != "running" || payload["questionnumber"] != 3 || payload["lastquestion"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}
	if payload["delay"] != -2 {
		t.Fatalf("expected delay -2, got %v", payload["delay"])
	}
	if payload["currentquestion"] != teacher.Layout[2].Slot {
		t.Fatalf("expected slot %d, got %v", teacher.Layout[2].Slot, payload["currentquestion"])
	}

	if _, err := f.core.Sessions.Close(f.ctx, instructor, s.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	snap, _ = f.core.Sessions.Status(f.ctx, s.ID)
	if got := app.StatusPayload(snap, f.now); got["status"] != "sessionclosed" {
		t.Fatalf("unexpected payload after close %v", got)
	}
}

func TestNotRespondedAndCounts(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	a10 := f.join(student10, s.ID, app.JoinOptions{})
	f.join(student11, s.ID, app.JoinOptions{})

	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.mustAnswer(student10, a10, a10.Layout[0].Slot, "b")

	names, err := f.core.Sessions.NotResponded(f.ctx, instructor, s.ID)
	if err != nil {
		t.Fatalf("not responded: %v", err)
	}
	if len(names) != 1 || names[0] != "Eleven" {
		t.Fatalf("unexpected not responded %v", names)
	}
	counts, err := f.core.Sessions.CurrentCounts(f.ctx, instructor, s.ID)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Responded != 1 || counts.Total != 2 {
		t.Fatalf("unexpected counts %+v", counts)
	}
}

func TestTriesLimitSubmissions(t *testing.T) {
	f := newFixture(t)
	inst, err := f.core.Instances.Create(f.ctx, instructor, domain.QuizInstance{Scale: 10, GradeMethod: domain.GradeHighest})
	if err != nil {
		t.Fatalf("create instance: %v", err)
	}
	if _, err := f.core.Questions.Add(f.ctx, instructor, inst.ID, "mc", domain.QuestionConfig{Points: 1, Tries: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	a := f.join(student10, s.ID, app.JoinOptions{})
	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.mustAnswer(student10, a, a.Layout[0].Slot, "a")
	if err := f.answer(student10, a, a.Layout[0].Slot, "b"); !errors.Is(err, domain.ErrNoTriesLeft) {
		t.Fatalf("expected no tries left, got %v", err)
	}

	if _, err := f.core.Sessions.Repoll(f.ctx, instructor, s.ID, teacher.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected repoll while running to fail, got %v", err)
	}
	if _, err := f.core.Sessions.EndQuestion(f.ctx, instructor, s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := f.core.Sessions.Repoll(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("repoll: %v", err)
	}
	f.mustAnswer(student10, a, a.Layout[0].Slot, "b")
}

func TestSubmitToOtherAttemptDenied(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	a := f.join(student10, s.ID, app.JoinOptions{})
	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.answer(student11, a, a.Layout[0].Slot, "b"); !errors.Is(err, domain.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestRejoinReturnsLiveAttempt(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)
	first := f.join(student10, s.ID, app.JoinOptions{})
	second := f.join(student10, s.ID, app.JoinOptions{})
	if first.ID != second.ID {
		t.Fatalf("expected the same live attempt, got %d and %d", first.ID, second.ID)
	}
	live, _ := f.store.ListAttempts(f.ctx, app.AttemptFilter{SessionID: s.ID, Owner: domain.RealUser{ID: 10}, LiveOnly: true})
	if len(live) != 1 {
		t.Fatalf("expected one live attempt, got %d", len(live))
	}
}

func TestFullAnonymizationExcludesGrades(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	full := true
	s, err := f.core.Sessions.Create(f.ctx, instructor, inst.ID, app.SessionOptions{FullAnonymize: &full})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !s.AnonymizeResponses {
		t.Fatalf("full anonymization implies anonymized responses")
	}
	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	a := f.join(student10, s.ID, app.JoinOptions{})
	anon, ok := a.Owner.(domain.AnonymousUser)
	if !ok || anon.SyntheticID >= 0 {
		t.Fatalf("expected anonymous owner, got %#v", a.Owner)
	}
	if again := f.join(student10, s.ID, app.JoinOptions{}); again.ID != a.ID {
		t.Fatalf("synthetic id not stable for the login session")
	}

	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.mustAnswer(student10, a, a.Layout[0].Slot, "b")

	names, _ := f.core.Sessions.NotResponded(f.ctx, instructor, s.ID)
	if len(names) != 0 {
		t.Fatalf("unexpected not responded %v", names)
	}
	if _, err := f.core.Sessions.EndQuestion(f.ctx, instructor, s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	view, err := f.core.Sessions.Results(f.ctx, instructor, s.ID)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(view.Responses) != 1 || view.Responses[0].Name != "" {
		t.Fatalf("expected anonymous response line, got %+v", view.Responses)
	}

	if _, err := f.core.Sessions.Close(f.ctx, instructor, s.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if grades := f.gradesByUser(inst.ID); len(grades) != 0 {
		t.Fatalf("anonymous attempts must not be graded, got %v", grades)
	}
}

func TestListQuestionsAndRightResponse(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})

	list, err := f.core.Sessions.ListQuestions(f.ctx, instructor, s.ID, teacher.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Name != "Addition" || list[2].Number != 3 {
		t.Fatalf("unexpected listing %+v", list)
	}

	if _, err := f.core.Sessions.RightResponse(f.ctx, instructor, s.ID, teacher.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected right response before start to fail, got %v", err)
	}
	if _, err := f.core.Sessions.Start(f.ctx, instructor, s.ID, teacher.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	html, err := f.core.Sessions.RightResponse(f.ctx, instructor, s.ID, teacher.ID)
	if err != nil {
		t.Fatalf("right response: %v", err)
	}
	if html == "" {
		t.Fatalf("expected markup")
	}
}
