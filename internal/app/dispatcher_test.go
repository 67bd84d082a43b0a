package app_test

import (
	"testing"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestDispatchRound(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{DefaultQuestionTime: 30})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	a := f.join(student10, s.ID, app.JoinOptions{})
	d := f.core.Dispatcher

	res := d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, AttemptID: teacher.ID, Action: "startquiz"})
	if res["status"] != "success" || res["sessionstatus"] != "running" || res["questiontime"] != 30 {
		t.Fatalf("unexpected start result %v", res)
	}

	slot := a.Layout[0].Slot
	res = d.Dispatch(f.ctx, student10, app.Request{
		SessionID:  s.ID,
		AttemptID:  a.ID,
		Action:     "savequestion",
		QuestionID: slot,
		Submission: domain.Submission{Slots: map[int]domain.SlotResponse{slot: {Fields: map[string]string{"answer": "b"}}}},
	})
	if res["status"] != "success" || res["responded"] != 1 {
		t.Fatalf("unexpected save result %v", res)
	}

	res = d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, Action: "getcurrentresults"})
	if res["responded"] != 1 || res["total"] != 1 {
		t.Fatalf("unexpected current results %v", res)
	}
	if res = d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, Action: "endquestion"}); res["status"] != "success" {
		t.Fatalf("unexpected end result %v", res)
	}
	res = d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, Action: "getresults"})
	view, ok := res["results"].(domain.ResultsView)
	if !ok || len(view.Responses) != 1 {
		t.Fatalf("unexpected results %v", res)
	}

	res = d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, AttemptID: teacher.ID, Action: "nextquestion"})
	if res["questionnumber"] != 2 {
		t.Fatalf("unexpected next result %v", res)
	}
	res = d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, Action: "getnotresponded"})
	if names, _ := res["notresponded"].([]string); len(names) != 1 || names[0] != "Ten" {
		t.Fatalf("unexpected not responded %v", res)
	}

	res = d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, Action: "closesession"})
	if res["status"] != "success" {
		t.Fatalf("unexpected close result %v", res)
	}
}

func TestDispatchHidesPermissionDetail(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)

	for _, action := range []string{"startquiz", "getresults", "closesession", "getnotresponded", "listquestions"} {
		res := f.core.Dispatcher.Dispatch(f.ctx, student10, app.Request{SessionID: s.ID, Action: action})
		if res["status"] != "error" || res["error"] != "invalidaction" || res["message"] != "invalidaction" {
			t.Fatalf("%s: unexpected result %v", action, res)
		}
	}
}

func TestDispatchReportsStateConflicts(t *testing.T) {
	f := newFixture(t)
	inst, _ := f.threeQuestions(domain.QuizInstance{})
	s := f.openSession(inst.ID)
	teacher := f.join(instructor, s.ID, app.JoinOptions{})
	a := f.join(student10, s.ID, app.JoinOptions{})
	d := f.core.Dispatcher

	d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, AttemptID: teacher.ID, Action: "startquiz"})
	res := d.Dispatch(f.ctx, student10, app.Request{SessionID: s.ID, AttemptID: a.ID, Action: "savequestion", QuestionID: a.Layout[2].Slot})
	if res["status"] != "error" || res["error"] != "stalequestion" {
		t.Fatalf("unexpected stale result %v", res)
	}
	res = d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, AttemptID: teacher.ID, Action: "gotoquestion", QuestionNumber: 7})
	if res["error"] != "invalidquestionnumber" {
		t.Fatalf("unexpected goto result %v", res)
	}
	res = d.Dispatch(f.ctx, instructor, app.Request{SessionID: s.ID, Action: "bogus"})
	if res["error"] != "invalidaction" {
		t.Fatalf("unexpected result for unknown action %v", res)
	}
}
