package app

import (
	"context"
	"errors"
	"log"
	"time"

	"live-quiz-service/internal/domain"
)

// Attempts implements the attempt lifecycle over the question engine.
type Attempts struct {
	repo      Repository
	engine    QuestionEngine
	catalog   *Catalog
	questions *QuestionOrder
	events    EventSink
	anon      AnonymousIDs
	logger    *log.Logger
	now       func() time.Time
}

func NewAttempts(d Deps, catalog *Catalog, questions *QuestionOrder) *Attempts {
	d = d.withDefaults()
	return &Attempts{
		repo:      d.Repo,
		engine:    d.Engine,
		catalog:   catalog,
		questions: questions,
		events:    d.Events,
		anon:      d.AnonIDs,
		logger:    d.Logger,
		now:       d.Now,
	}
}

// IdentityFor is the identity actor takes part in s under. Fully anonymized sessions
// hand students a synthetic id that is stable for their login session.
func (m *Attempts) IdentityFor(ctx context.Context, s domain.Session, actor domain.Actor) (domain.Identity, error) {
	if !s.FullAnonymize || actor.IsController() {
		return domain.RealUser{ID: actor.UserID}, nil
	}
	if m.anon == nil || actor.LoginSession == "" {
		return nil, domain.Invalid("loginSession")
	}
	id, err := m.anon.For(ctx, actor.LoginSession)
	if err != nil {
		return nil, domain.Persistence(err)
	}
	return domain.AnonymousUser{SyntheticID: id}, nil
}

// Create seeds a fresh engine usage with every question in the current order and
// persists the attempt as notstarted.
func (m *Attempts) Create(ctx context.Context, sessionID int64, owner domain.Identity, groupID int64, preview bool) (domain.Attempt, error) {
	var created domain.Attempt
	err := m.repo.InTx(ctx, func(tx Repository) error {
		s, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		inst, err := tx.GetInstance(ctx, s.InstanceID)
		if err != nil {
			return err
		}
		created, err = m.create(ctx, tx, inst, s, owner, groupID, preview)
		return err
	})
	return created, err
}

func (m *Attempts) create(ctx context.Context, tx Repository, inst domain.QuizInstance, s domain.Session, owner domain.Identity, groupID int64, preview bool) (domain.Attempt, error) {
	specs, err := tx.ListQuestions(ctx, inst.ID)
	if err != nil {
		return domain.Attempt{}, err
	}
	prior, err := tx.ListAttempts(ctx, AttemptFilter{SessionID: s.ID, Owner: owner})
	if err != nil {
		return domain.Attempt{}, err
	}

	usage, err := m.engine.CreateUsage(ctx)
	if err != nil {
		return domain.Attempt{}, domain.Engine(err)
	}
	layout, err := m.seed(ctx, usage, inst, specs)
	if err != nil {
		_ = m.engine.Delete(ctx, usage)
		return domain.Attempt{}, err
	}

	now := m.now()
	a := domain.Attempt{
		SessionID: s.ID,
		Owner:     owner,
		GroupID:   groupID,
		Number:    len(prior) + 1,
		Status:    domain.AttemptNotStarted,
		Preview:   preview,
		Modified:  now,
		UsageRef:  usage,
		Layout:    layout,
	}
	if err := tx.InsertAttempt(ctx, &a); err != nil {
		_ = m.engine.Delete(ctx, usage)
		return domain.Attempt{}, domain.Persistence(err)
	}
	return a, nil
}

func (m *Attempts) seed(ctx context.Context, usage string, inst domain.QuizInstance, specs []domain.QuestionSpec) ([]domain.SlotRef, error) {
	ordered := inOrder(inst.QuestionOrder, specs)
	layout := make([]domain.SlotRef, 0, len(ordered))
	for _, spec := range ordered {
		def, err := m.catalog.Definition(ctx, spec)
		if err != nil {
			return nil, err
		}
		slot, err := m.engine.AddQuestion(ctx, usage, def, spec.Points)
		if err != nil {
			return nil, domain.Engine(err)
		}
		layout = append(layout, domain.SlotRef{Slot: slot, QuestionID: spec.ID})
	}
	if err := m.engine.Save(ctx, usage); err != nil {
		return nil, domain.Engine(err)
	}
	return layout, nil
}

func (m *Attempts) start(ctx context.Context, tx Repository, a *domain.Attempt) error {
	if a.Status != domain.AttemptNotStarted {
		return nil
	}
	if err := m.engine.StartAll(ctx, a.UsageRef); err != nil {
		return domain.Engine(err)
	}
	next := *a
	now := m.now()
	next.Status = domain.AttemptInProgress
	next.Started = now
	next.Modified = now
	if err := tx.UpdateAttempt(ctx, &next); err != nil {
		return domain.Persistence(err)
	}
	if err := m.engine.Save(ctx, a.UsageRef); err != nil {
		return domain.Engine(err)
	}
	*a = next
	return nil
}

// SubmitResponse records the actor's answer for the session's current question.
// The submission may only carry that slot. The engine step, counter update and
// save commit or roll back together; on failure the usage is restored to its
// last saved state.
func (m *Attempts) SubmitResponse(ctx context.Context, actor domain.Actor, attemptID int64, slot int, sub domain.Submission) (domain.Attempt, error) {
	if slot <= 0 {
		return domain.Attempt{}, domain.Invalid("questionid")
	}
	resp, ok := sub.Slots[slot]
	if !ok {
		return domain.Attempt{}, domain.Invalid("responses")
	}
	if len(sub.Slots) != 1 {
		return domain.Attempt{}, domain.ErrStaleQuestion
	}
	var saved domain.Attempt
	var touched string
	err := m.repo.InTx(ctx, func(tx Repository) error {
		a, err := tx.GetAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		s, err := tx.GetSession(ctx, a.SessionID)
		if err != nil {
			return err
		}
		if !s.Open {
			return domain.ErrSessionClosed
		}
		owner, err := m.IdentityFor(ctx, s, actor)
		if err != nil {
			return err
		}
		if a.Owner != owner {
			return domain.ErrPermission
		}
		if a.Status != domain.AttemptInProgress {
			return domain.ErrAttemptNotLive
		}
		if s.CurrentSlot == 0 || s.CurrentSlot != slot {
			return domain.ErrStaleQuestion
		}
		ref, ok := a.SlotAt(s.CurrentIndex)
		if !ok || ref.Slot != slot {
			return domain.ErrStaleQuestion
		}
		spec, err := tx.GetQuestion(ctx, ref.QuestionID)
		if err != nil {
			return err
		}
		if spec.Tries > 0 && a.RespondedCount >= spec.Tries {
			return domain.ErrNoTriesLeft
		}

		now := m.now()
		touched = a.UsageRef
		if anon, ok := owner.(domain.AnonymousUser); ok {
			err = m.processAnonymous(ctx, a, slot, resp, now, anon)
		} else {
			err = m.engine.ProcessAllActions(ctx, a.UsageRef, domain.Submission{Slots: map[int]domain.SlotResponse{slot: resp}}, now)
		}
		if err != nil {
			if errors.Is(err, domain.ErrSequenceMismatch) {
				return err
			}
			return domain.Engine(err)
		}

		a.RespondedCount++
		a.Responded = true
		a.Modified = now
		if err := tx.UpdateAttempt(ctx, &a); err != nil {
			return domain.Persistence(err)
		}
		if err := m.engine.Save(ctx, a.UsageRef); err != nil {
			return domain.Engine(err)
		}
		saved = a
		return nil
	})
	if err != nil {
		m.restore(ctx, touched)
		return domain.Attempt{}, err
	}
	return saved, nil
}

// processAnonymous checks the step sequence of the posted slot and replays it
// against the engine with the synthetic identity attached.
func (m *Attempts) processAnonymous(ctx context.Context, a domain.Attempt, slot int, resp domain.SlotResponse, at time.Time, who domain.AnonymousUser) error {
	if _, ok := slotInLayout(a, slot); !ok {
		return domain.ErrStaleQuestion
	}
	seq, err := m.engine.SequenceNumber(ctx, a.UsageRef, slot)
	if err != nil {
		return err
	}
	if resp.Sequence != seq {
		return domain.ErrSequenceMismatch
	}
	return m.engine.ProcessSingleAction(ctx, a.UsageRef, slot, resp.Fields, at, who)
}

func (m *Attempts) restore(ctx context.Context, usages ...string) {
	restoreUsages(ctx, m.engine, m.logger, usages)
}

// restoreUsages drops unsaved engine changes to the given usages after a rollback.
func restoreUsages(ctx context.Context, engine QuestionEngine, logger *log.Logger, usages []string) {
	for _, ref := range usages {
		if ref == "" {
			continue
		}
		if err := engine.Load(ctx, ref); err != nil {
			logger.Printf("usage %s: restore after rollback failed: %v", ref, err)
		}
	}
}

// Close finishes an attempt outside of a session close.
func (m *Attempts) Close(ctx context.Context, actor domain.Actor, attemptID int64) (domain.Attempt, error) {
	if err := requireController(actor); err != nil {
		return domain.Attempt{}, err
	}
	var closed domain.Attempt
	var touched string
	err := m.repo.InTx(ctx, func(tx Repository) error {
		a, err := tx.GetAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		touched = a.UsageRef
		if err := m.close(ctx, tx, &a); err != nil {
			return err
		}
		if err := m.save(ctx, a.UsageRef); err != nil {
			return err
		}
		closed = a
		return nil
	})
	if err != nil {
		m.restore(ctx, touched)
		return domain.Attempt{}, err
	}
	m.notifyEnded(ctx, closed)
	return closed, nil
}

// close finishes the attempt in the engine and the store. The caller saves the
// usage once the rest of its transaction has succeeded.
func (m *Attempts) close(ctx context.Context, tx Repository, a *domain.Attempt) error {
	if !a.Status.Live() {
		return domain.ErrAttemptNotLive
	}
	now := m.now()
	if err := m.engine.FinishAll(ctx, a.UsageRef, now); err != nil {
		return domain.Engine(err)
	}
	next := *a
	next.Status = domain.AttemptFinished
	next.Finished = now
	next.Modified = now
	if err := tx.UpdateAttempt(ctx, &next); err != nil {
		return domain.Persistence(err)
	}
	*a = next
	return nil
}

func (m *Attempts) save(ctx context.Context, usages ...string) error {
	return saveUsages(ctx, m.engine, usages)
}

func saveUsages(ctx context.Context, engine QuestionEngine, usages []string) error {
	for _, ref := range usages {
		if err := engine.Save(ctx, ref); err != nil {
			return domain.Engine(err)
		}
	}
	return nil
}

// Abandon marks a live attempt abandoned. It is a manual override only.
func (m *Attempts) Abandon(ctx context.Context, actor domain.Actor, attemptID int64) error {
	if err := requireController(actor); err != nil {
		return err
	}
	return m.repo.InTx(ctx, func(tx Repository) error {
		a, err := tx.GetAttempt(ctx, attemptID)
		if err != nil {
			return err
		}
		if !a.Status.Live() {
			return domain.ErrAttemptNotLive
		}
		a.Status = domain.AttemptAbandoned
		a.Modified = m.now()
		return domain.Persistence(tx.UpdateAttempt(ctx, &a))
	})
}

func (m *Attempts) notifyEnded(ctx context.Context, attempts ...domain.Attempt) {
	for _, a := range attempts {
		if err := m.events.AttemptEnded(ctx, a); err != nil {
			m.logger.Printf("attempt %d: ended notification failed: %v", a.ID, err)
		}
	}
}

// Grade is the mark awarded for one slot.
func (m *Attempts) Grade(ctx context.Context, a domain.Attempt, slot int) (float64, error) {
	v, err := m.engine.Mark(ctx, a.UsageRef, slot)
	return v, domain.Engine(err)
}

// MaxGrade is the mark available for one slot.
func (m *Attempts) MaxGrade(ctx context.Context, a domain.Attempt, slot int) (float64, error) {
	v, err := m.engine.MaxMark(ctx, a.UsageRef, slot)
	return v, domain.Engine(err)
}

// TotalGrade is the sum of marks awarded across the attempt.
func (m *Attempts) TotalGrade(ctx context.Context, a domain.Attempt) (float64, error) {
	v, err := m.engine.TotalMark(ctx, a.UsageRef)
	return v, domain.Engine(err)
}

// Render returns the markup of one slot of the actor's own attempt.
func (m *Attempts) Render(ctx context.Context, actor domain.Actor, attemptID int64, slot int) (string, error) {
	a, s, err := m.owned(ctx, actor, attemptID)
	if err != nil {
		return "", err
	}
	if _, ok := slotInLayout(a, slot); !ok {
		return "", domain.ErrInvalidQuestionNumber
	}
	opts := domain.DisplayOptions{}
	if !s.Open || !a.Status.Live() {
		opts.ReadOnly = true
	}
	html, err := m.engine.Render(ctx, a.UsageRef, slot, opts)
	return html, domain.Engine(err)
}

// Review renders every slot of a finished attempt with the instance's after-session options.
func (m *Attempts) Review(ctx context.Context, actor domain.Actor, attemptID int64) ([]string, error) {
	a, s, err := m.owned(ctx, actor, attemptID)
	if err != nil {
		return nil, err
	}
	if s.Open || a.Status != domain.AttemptFinished {
		return nil, domain.ErrInvalidTransition
	}
	inst, err := m.repo.GetInstance(ctx, s.InstanceID)
	if err != nil {
		return nil, err
	}
	if !actor.IsController() && !inst.ReviewAfter.Has(domain.ReviewAttempt) {
		return nil, domain.ErrPermission
	}
	opts := domain.DisplayOptionsFor(inst.ReviewAfter)
	out := make([]string, 0, len(a.Layout))
	for _, ref := range a.Layout {
		html, err := m.engine.Render(ctx, a.UsageRef, ref.Slot, opts)
		if err != nil {
			return nil, domain.Engine(err)
		}
		out = append(out, html)
	}
	return out, nil
}

// owned loads an attempt the actor owns; controllers may read any attempt.
func (m *Attempts) owned(ctx context.Context, actor domain.Actor, attemptID int64) (domain.Attempt, domain.Session, error) {
	a, err := m.repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, domain.Session{}, err
	}
	s, err := m.repo.GetSession(ctx, a.SessionID)
	if err != nil {
		return domain.Attempt{}, domain.Session{}, err
	}
	if actor.IsController() {
		return a, s, nil
	}
	owner, err := m.IdentityFor(ctx, s, actor)
	if err != nil {
		return domain.Attempt{}, domain.Session{}, err
	}
	if a.Owner != owner {
		return domain.Attempt{}, domain.Session{}, domain.ErrPermission
	}
	return a, s, nil
}

func slotInLayout(a domain.Attempt, slot int) (domain.SlotRef, bool) {
	for _, ref := range a.Layout {
		if ref.Slot == slot {
			return ref, true
		}
	}
	return domain.SlotRef{}, false
}
