package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-quiz-service/internal/domain"
)

// UsageStore keeps saved usage state so it outlives the process.
type UsageStore interface {
	PutUsage(ctx context.Context, ref string, state []byte) error
	GetUsage(ctx context.Context, ref string) ([]byte, error)
	DeleteUsage(ctx context.Context, ref string) error
}

// Engine is an in-process question engine that scores the built-in question types.
// Save checkpoints a usage; Load drops anything changed since the last Save.
// With a UsageStore, usages missing from memory are read back from it.
type Engine struct {
	mu     sync.Mutex
	usages map[string]*usage
	saved  map[string][]byte
	store  UsageStore
}

type usage struct {
	Slots    []*slotState `json:"slots"`
	Started  bool         `json:"started"`
	Finished bool         `json:"finished"`
}

type slotState struct {
	Def      domain.QuestionDef `json:"def"`
	MaxMark  float64            `json:"maxMark"`
	Sequence int                `json:"sequence"`
	Answer   string             `json:"answer"`
	Fraction float64            `json:"fraction"`
	Answered bool               `json:"answered"`
	Finished bool               `json:"finished"`
	History  []string           `json:"history,omitempty"`
}

func NewEngine() *Engine {
	return &Engine{usages: make(map[string]*usage), saved: make(map[string][]byte)}
}

// NewEngineWithStore builds an engine that persists saved usages to store.
func NewEngineWithStore(store UsageStore) *Engine {
	e := NewEngine()
	e.store = store
	return e
}

func (e *Engine) CreateUsage(_ context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ref := uuid.NewString()
	e.usages[ref] = &usage{}
	return ref, nil
}

func (e *Engine) AddQuestion(ctx context.Context, ref string, def domain.QuestionDef, maxMark float64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.usage(ctx, ref)
	if err != nil {
		return 0, err
	}
	if u.Started {
		return 0, fmt.Errorf("usage %s already started", ref)
	}
	u.Slots = append(u.Slots, &slotState{Def: def, MaxMark: maxMark})
	return len(u.Slots), nil
}

func (e *Engine) StartAll(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.usage(ctx, ref)
	if err != nil {
		return err
	}
	u.Started = true
	return nil
}

func (e *Engine) Render(ctx context.Context, ref string, slot int, opts domain.DisplayOptions) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.slot(ctx, ref, slot)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="que %s" data-slot="%d" data-sequence="%d">`, html.EscapeString(st.Def.Type), slot, st.Sequence)
	fmt.Fprintf(&b, `<div class="qtext">%s</div>`, html.EscapeString(st.Def.Text))
	disabled := ""
	if opts.ReadOnly || st.Finished {
		disabled = " disabled"
	}
	switch st.Def.Type {
	case "multichoice", "truefalse":
		picked := splitAnswer(st.Answer)
		for _, c := range st.Def.Choices {
			checked := ""
			if picked[c.ID] {
				checked = " checked"
			}
			fmt.Fprintf(&b, `<label><input type="checkbox" name="answer" value="%s"%s%s>%s</label>`,
				html.EscapeString(c.ID), checked, disabled, html.EscapeString(c.Text))
		}
	default:
		fmt.Fprintf(&b, `<input type="text" name="answer" value="%s"%s>`, html.EscapeString(st.Answer), disabled)
	}
	if opts.Correctness && st.Answered {
		fmt.Fprintf(&b, `<div class="outcome %s"></div>`, correctness(st.Fraction))
	}
	if opts.Marks && st.Answered {
		fmt.Fprintf(&b, `<div class="grade">%.2f / %.2f</div>`, st.Fraction*st.MaxMark, st.MaxMark)
	}
	if opts.RightAnswer {
		fmt.Fprintf(&b, `<div class="rightanswer">%s</div>`, html.EscapeString(rightAnswer(st.Def)))
	}
	if opts.History {
		for i, h := range st.History {
			fmt.Fprintf(&b, `<div class="history" data-step="%d">%s</div>`, i+1, html.EscapeString(h))
		}
	}
	b.WriteString(`</div>`)
	return b.String(), nil
}

// ProcessAllActions applies the posted slot responses. Every slot is checked
// before any is changed, so a rejected submission leaves the usage untouched.
func (e *Engine) ProcessAllActions(ctx context.Context, ref string, sub domain.Submission, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	targets := make(map[int]*slotState, len(sub.Slots))
	for slot, resp := range sub.Slots {
		st, err := e.open(ctx, ref, slot)
		if err != nil {
			return err
		}
		if resp.Sequence != st.Sequence {
			return domain.ErrSequenceMismatch
		}
		targets[slot] = st
	}
	for slot, st := range targets {
		apply(st, sub.Slots[slot].Fields)
	}
	return nil
}

// ProcessSingleAction applies one slot response on behalf of who. The caller has checked the sequence.
func (e *Engine) ProcessSingleAction(ctx context.Context, ref string, slot int, fields map[string]string, at time.Time, who domain.Identity) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.open(ctx, ref, slot)
	if err != nil {
		return err
	}
	apply(st, fields)
	return nil
}

// open returns a slot that still accepts responses.
func (e *Engine) open(ctx context.Context, ref string, slot int) (*slotState, error) {
	st, err := e.slot(ctx, ref, slot)
	if err != nil {
		return nil, err
	}
	if st.Finished {
		return nil, fmt.Errorf("slot %d of usage %s is finished", slot, ref)
	}
	return st, nil
}

func apply(st *slotState, fields map[string]string) {
	st.Answer = strings.TrimSpace(fields["answer"])
	st.Answered = st.Answer != ""
	st.Fraction = score(st.Def, st.Answer)
	st.Sequence++
	st.History = append(st.History, st.Answer)
}

func (e *Engine) SequenceNumber(ctx context.Context, ref string, slot int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.slot(ctx, ref, slot)
	if err != nil {
		return 0, err
	}
	return st.Sequence, nil
}

// ResponseSummary describes the current answer of a slot, or "" when unanswered.
// Choice answers are summarized as choice texts joined by "; ".
func (e *Engine) ResponseSummary(ctx context.Context, ref string, slot int) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.slot(ctx, ref, slot)
	if err != nil {
		return "", err
	}
	if !st.Answered {
		return "", nil
	}
	switch st.Def.Type {
	case "multichoice", "truefalse":
		picked := splitAnswer(st.Answer)
		var texts []string
		for _, c := range st.Def.Choices {
			if picked[c.ID] {
				texts = append(texts, c.Text)
			}
		}
		return strings.Join(texts, "; "), nil
	default:
		return st.Answer, nil
	}
}

func (e *Engine) FinishAll(ctx context.Context, ref string, at time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.usage(ctx, ref)
	if err != nil {
		return err
	}
	for _, st := range u.Slots {
		st.Finished = true
	}
	u.Finished = true
	return nil
}

func (e *Engine) Mark(ctx context.Context, ref string, slot int) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.slot(ctx, ref, slot)
	if err != nil {
		return 0, err
	}
	return st.Fraction * st.MaxMark, nil
}

func (e *Engine) MaxMark(ctx context.Context, ref string, slot int) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.slot(ctx, ref, slot)
	if err != nil {
		return 0, err
	}
	return st.MaxMark, nil
}

func (e *Engine) TotalMark(ctx context.Context, ref string) (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.usage(ctx, ref)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, st := range u.Slots {
		total += st.Fraction * st.MaxMark
	}
	return total, nil
}

// RegradeAll rescores every slot against its current definition.
func (e *Engine) RegradeAll(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.usage(ctx, ref)
	if err != nil {
		return err
	}
	for _, st := range u.Slots {
		st.Fraction = score(st.Def, st.Answer)
	}
	return nil
}

func (e *Engine) RegradeQuestion(ctx context.Context, ref string, slot int, newMaxMark float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, err := e.slot(ctx, ref, slot)
	if err != nil {
		return err
	}
	st.MaxMark = newMaxMark
	st.Fraction = score(st.Def, st.Answer)
	return nil
}

// Save checkpoints the usage and writes it to the store when one is set.
func (e *Engine) Save(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	u, err := e.usage(ctx, ref)
	if err != nil {
		return err
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode usage %s: %w", ref, err)
	}
	if e.store != nil {
		if err := e.store.PutUsage(ctx, ref, data); err != nil {
			return fmt.Errorf("save usage %s: %w", ref, err)
		}
	}
	e.saved[ref] = data
	return nil
}

// Load restores the usage to its last saved state.
func (e *Engine) Load(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.saved[ref]
	if !ok {
		_, err := e.usage(ctx, ref)
		return err
	}
	u, err := decodeUsage(ref, data)
	if err != nil {
		return err
	}
	e.usages[ref] = u
	return nil
}

func (e *Engine) Delete(ctx context.Context, ref string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.usages, ref)
	delete(e.saved, ref)
	if e.store != nil {
		return e.store.DeleteUsage(ctx, ref)
	}
	return nil
}

// usage returns the resident usage, reading it back from the store when it is not in memory.
func (e *Engine) usage(ctx context.Context, ref string) (*usage, error) {
	if u, ok := e.usages[ref]; ok {
		return u, nil
	}
	if e.store == nil {
		return nil, fmt.Errorf("usage %s: %w", ref, domain.ErrNotFound)
	}
	data, err := e.store.GetUsage(ctx, ref)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("usage %s: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load usage %s: %w", ref, err)
	}
	u, err := decodeUsage(ref, data)
	if err != nil {
		return nil, err
	}
	e.usages[ref] = u
	e.saved[ref] = data
	return u, nil
}

func decodeUsage(ref string, data []byte) (*usage, error) {
	var u usage
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode usage %s: %w", ref, err)
	}
	return &u, nil
}

func (e *Engine) slot(ctx context.Context, ref string, slot int) (*slotState, error) {
	u, err := e.usage(ctx, ref)
	if err != nil {
		return nil, err
	}
	if slot < 1 || slot > len(u.Slots) {
		return nil, fmt.Errorf("usage %s slot %d: %w", ref, slot, domain.ErrNotFound)
	}
	return u.Slots[slot-1], nil
}

// score returns the fraction of the max mark an answer earns, in [0, 1].
func score(def domain.QuestionDef, answer string) float64 {
	if answer == "" {
		return 0
	}
	switch def.Type {
	case "multichoice", "truefalse":
		picked := splitAnswer(answer)
		var sum float64
		for _, c := range def.Choices {
			if picked[c.ID] {
				sum += c.Fraction
			}
		}
		return math.Max(0, math.Min(1, sum))
	case "numerical":
		got, err := strconv.ParseFloat(answer, 64)
		if err != nil {
			return 0
		}
		want, err := strconv.ParseFloat(def.Answer, 64)
		if err != nil {
			return 0
		}
		if math.Abs(got-want) <= def.Tolerance {
			return 1
		}
		return 0
	default:
		if strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(def.Answer)) {
			return 1
		}
		return 0
	}
}

func splitAnswer(answer string) map[string]bool {
	out := map[string]bool{}
	for _, id := range strings.Split(answer, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = true
		}
	}
	return out
}

func rightAnswer(def domain.QuestionDef) string {
	switch def.Type {
	case "multichoice", "truefalse":
		var texts []string
		for _, c := range def.Choices {
			if c.Fraction > 0 {
				texts = append(texts, c.Text)
			}
		}
		return strings.Join(texts, "; ")
	default:
		return def.Answer
	}
}

func correctness(fraction float64) string {
	switch {
	case fraction >= 1:
		return "correct"
	case fraction > 0:
		return "partiallycorrect"
	default:
		return "incorrect"
	}
}
