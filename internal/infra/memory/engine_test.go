package memory

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func TestEngineScoresQuestionTypes(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	ref, _ := e.CreateUsage(ctx)

	defs := []domain.QuestionDef{
		sampleQuestion(),
		{Type: "numerical", Answer: "3.14", Tolerance: 0.01},
		{Type: "shortanswer", Answer: "Paris"},
	}
	for _, def := range defs {
		if _, err := e.AddQuestion(ctx, ref, def, 10); err != nil {
			t.Fatalf("add question: %v", err)
		}
	}
	if err := e.StartAll(ctx, ref); err != nil {
		t.Fatalf("start: %v", err)
	}

	sub := domain.Submission{Slots: map[int]domain.SlotResponse{
		1: {Fields: map[string]string{"answer": "b"}},
		2: {Fields: map[string]string{"answer": "3.145"}},
		3: {Fields: map[string]string{"answer": "london"}},
	}}
	if err := e.ProcessAllActions(ctx, ref, sub, time.Now()); err != nil {
		t.Fatalf("process: %v", err)
	}

	want := []float64{10, 10, 0}
	for i, w := range want {
		got, err := e.Mark(ctx, ref, i+1)
		if err != nil {
			t.Fatalf("mark slot %d: %v", i+1, err)
		}
		if got != w {
			t.Fatalf("slot %d: expected %.1f, got %.1f", i+1, w, got)
		}
	}
	total, _ := e.TotalMark(ctx, ref)
	if total != 20 {
		t.Fatalf("expected total 20, got %.1f", total)
	}
	summary, _ := e.ResponseSummary(ctx, ref, 1)
	if summary != "4" {
		t.Fatalf("expected summary 4, got %q", summary)
	}
}

func TestEngineSequenceAndFinish(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	ref, _ := e.CreateUsage(ctx)
	if _, err := e.AddQuestion(ctx, ref, sampleQuestion(), 1); err != nil {
		t.Fatalf("add question: %v", err)
	}
	_ = e.StartAll(ctx, ref)

	stale := domain.Submission{Slots: map[int]domain.SlotResponse{1: {Sequence: 3, Fields: map[string]string{"answer": "a"}}}}
	if err := e.ProcessAllActions(ctx, ref, stale, time.Now()); !errors.Is(err, domain.ErrSequenceMismatch) {
		t.Fatalf("expected sequence mismatch, got %v", err)
	}
	if err := e.ProcessSingleAction(ctx, ref, 1, map[string]string{"answer": "b"}, time.Now(), domain.AnonymousUser{SyntheticID: -1}); err != nil {
		t.Fatalf("single action: %v", err)
	}
	if seq, _ := e.SequenceNumber(ctx, ref, 1); seq != 1 {
		t.Fatalf("expected sequence 1, got %d", seq)
	}

	if err := e.FinishAll(ctx, ref, time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := e.ProcessSingleAction(ctx, ref, 1, map[string]string{"answer": "a"}, time.Now(), nil); err == nil {
		t.Fatalf("expected finished slot to reject answers")
	}

	html, err := e.Render(ctx, ref, 1, domain.DisplayOptions{ReadOnly: true, RightAnswer: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, `class="rightanswer">4<`) || !strings.Contains(html, "disabled") {
		t.Fatalf("unexpected markup %s", html)
	}
}

func TestEngineRegradeUnknownSlot(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	ref, _ := e.CreateUsage(ctx)
	if err := e.RegradeQuestion(ctx, ref, 4, 2); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessAllActionsIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	ref, _ := e.CreateUsage(ctx)
	_, _ = e.AddQuestion(ctx, ref, sampleQuestion(), 10)
	_, _ = e.AddQuestion(ctx, ref, domain.QuestionDef{Type: "shortanswer", Answer: "Paris"}, 10)
	_ = e.StartAll(ctx, ref)

	sub := domain.Submission{Slots: map[int]domain.SlotResponse{
		1: {Sequence: 0, Fields: map[string]string{"answer": "b"}},
		2: {Sequence: 7, Fields: map[string]string{"answer": "Paris"}},
	}}
	for i := 0; i < 20; i++ {
		if err := e.ProcessAllActions(ctx, ref, sub, time.Now()); !errors.Is(err, domain.ErrSequenceMismatch) {
			t.Fatalf("expected sequence mismatch, got %v", err)
		}
	}
	for slot := 1; slot <= 2; slot++ {
		if seq, _ := e.SequenceNumber(ctx, ref, slot); seq != 0 {
			t.Fatalf("slot %d: expected untouched sequence, got %d", slot, seq)
		}
		if mark, _ := e.Mark(ctx, ref, slot); mark != 0 {
			t.Fatalf("slot %d: expected no mark, got %.1f", slot, mark)
		}
	}
}

func TestLoadRestoresLastSave(t *testing.T) {
	ctx := context.Background()
	e := NewEngine()
	ref, _ := e.CreateUsage(ctx)
	_, _ = e.AddQuestion(ctx, ref, sampleQuestion(), 10)
	_ = e.StartAll(ctx, ref)
	if err := e.Save(ctx, ref); err != nil {
		t.Fatalf("save: %v", err)
	}

	_ = e.ProcessSingleAction(ctx, ref, 1, map[string]string{"answer": "b"}, time.Now(), nil)
	if mark, _ := e.Mark(ctx, ref, 1); mark != 10 {
		t.Fatalf("expected mark 10 before restore, got %.1f", mark)
	}
	if err := e.Load(ctx, ref); err != nil {
		t.Fatalf("load: %v", err)
	}
	if mark, _ := e.Mark(ctx, ref, 1); mark != 0 {
		t.Fatalf("expected unsaved answer dropped, got %.1f", mark)
	}
	if seq, _ := e.SequenceNumber(ctx, ref, 1); seq != 0 {
		t.Fatalf("expected sequence 0 after restore, got %d", seq)
	}
}

type mapUsageStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapUsageStore() *mapUsageStore { return &mapUsageStore{data: map[string][]byte{}} }

func (s *mapUsageStore) PutUsage(_ context.Context, ref string, state []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[ref] = append([]byte(nil), state...)
	return nil
}

func (s *mapUsageStore) GetUsage(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.data[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return state, nil
}

func (s *mapUsageStore) DeleteUsage(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, ref)
	return nil
}

func TestEngineReadsSavedUsagesBack(t *testing.T) {
	ctx := context.Background()
	store := newMapUsageStore()
	e := NewEngineWithStore(store)
	ref, _ := e.CreateUsage(ctx)
	_, _ = e.AddQuestion(ctx, ref, sampleQuestion(), 10)
	_ = e.StartAll(ctx, ref)
	_ = e.ProcessSingleAction(ctx, ref, 1, map[string]string{"answer": "b"}, time.Now(), nil)
	if err := e.Save(ctx, ref); err != nil {
		t.Fatalf("save: %v", err)
	}

	restarted := NewEngineWithStore(store)
	mark, err := restarted.Mark(ctx, ref, 1)
	if err != nil {
		t.Fatalf("mark after restart: %v", err)
	}
	if mark != 10 {
		t.Fatalf("expected mark 10 after restart, got %.1f", mark)
	}
	if summary, _ := restarted.ResponseSummary(ctx, ref, 1); summary != "4" {
		t.Fatalf("expected summary 4, got %q", summary)
	}

	if err := restarted.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := NewEngineWithStore(store).TotalMark(ctx, ref); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected deleted usage gone, got %v", err)
	}
}
