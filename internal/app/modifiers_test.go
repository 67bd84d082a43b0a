package app_test

import (
	"testing"
	"time"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

func TestModifierRegistryFallsBackToIdentity(t *testing.T) {
	reg := app.NewModifierRegistry()
	raw := domain.ResultsView{Type: "essay", Responses: []domain.ResponseLine{{Response: "long text"}}}
	got := reg.Apply(domain.QuestionDef{Type: "essay"}, nil, raw)
	if got.Tally != nil || len(got.Responses) != 1 {
		t.Fatalf("expected raw view, got %+v", got)
	}

	reg.Register("essay", app.ResultsModifierFunc(func(_ domain.QuestionDef, _ []domain.Attempt, raw domain.ResultsView) domain.ResultsView {
		raw.Responses = nil
		return raw
	}))
	if got := reg.Apply(domain.QuestionDef{Type: "essay"}, nil, raw); len(got.Responses) != 0 {
		t.Fatalf("expected registered modifier to run, got %+v", got)
	}
}

func TestDefaultModifiersTallyChoices(t *testing.T) {
	def := sampleBank()["mc"]
	raw := domain.ResultsView{Responses: []domain.ResponseLine{
		{Response: "4"}, {Response: "4"}, {Response: "3; about 4"},
	}}
	got := app.DefaultModifiers().Apply(def, nil, raw)
	want := map[string]int{"3": 1, "4": 2, "about 4": 1}
	for k, v := range want {
		if got.Tally[k] != v {
			t.Fatalf("tally %q: expected %d, got %d (%v)", k, v, got.Tally[k], got.Tally)
		}
	}
}

func TestStatusPayloadStates(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	cases := map[string]domain.StatusSnapshot{
		"sessionclosed": {Open: false, Status: domain.StatusRunning},
		"notrunning":    {Open: true, Status: domain.StatusNotRunning},
		"endquestion":   {Open: true, Status: domain.StatusEndQuestion},
		"reviewing":     {Open: true, Status: domain.StatusReviewing},
	}
	for want, snap := range cases {
		got := app.StatusPayload(snap, now)
		if got["status"] != want || len(got) != 1 {
			t.Fatalf("expected only status %s, got %v", want, got)
		}
	}

	running := domain.StatusSnapshot{Open: true, Status: domain.StatusRunning, CurrentSlot: 4, QuestionTime: 30, NextStartTime: now.Add(3 * time.Second)}
	got := app.StatusPayload(running, now)
	if got["currentquestion"] != 4 || got["questiontime"] != 30 || got["delay"] != 3 {
		t.Fatalf("unexpected running payload %v", got)
	}
}
