package app

import (
	"context"
	"log"
	"time"

	"live-quiz-service/internal/domain"
)

// Sessions coordinates live sessions: lifecycle, current question and participant joins.
type Sessions struct {
	repo      Repository
	engine    QuestionEngine
	catalog   *Catalog
	questions *QuestionOrder
	attempts  *Attempts
	grader    *Grader
	groups    *Groups
	status    StatusCache
	modifiers *ModifierRegistry
	logger    *log.Logger
	now       func() time.Time
}

func NewSessions(d Deps, catalog *Catalog, questions *QuestionOrder, attempts *Attempts, grader *Grader, groups *Groups) *Sessions {
	d = d.withDefaults()
	return &Sessions{
		repo:      d.Repo,
		engine:    d.Engine,
		catalog:   catalog,
		questions: questions,
		attempts:  attempts,
		grader:    grader,
		groups:    groups,
		status:    d.Status,
		modifiers: d.Modifiers,
		logger:    d.Logger,
		now:       d.Now,
	}
}

// SessionOptions are the instructor's choices when opening a session.
// Nil anonymization flags take the instance defaults.
type SessionOptions struct {
	Name               string
	AnonymizeResponses *bool
	FullAnonymize      *bool
}

// JoinOptions carry the group a student attempts as and who is present.
type JoinOptions struct {
	GroupID   int64
	Attendees []int64
}

// Create opens a new session. When one is already open it is returned with ErrSessionAlreadyOpen
// so the caller can redirect to it.
func (m *Sessions) Create(ctx context.Context, actor domain.Actor, instanceID int64, opts SessionOptions) (domain.Session, error) {
	if err := requireController(actor); err != nil {
		return domain.Session{}, err
	}
	var created domain.Session
	err := m.repo.InTx(ctx, func(tx Repository) error {
		inst, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if open, ok, err := tx.OpenSession(ctx, instanceID); err != nil {
			return err
		} else if ok {
			created = open
			return domain.ErrSessionAlreadyOpen
		}
		created = domain.Session{
			InstanceID:         instanceID,
			Name:               opts.Name,
			Open:               true,
			Status:             domain.StatusNotRunning,
			AnonymizeResponses: inst.AnonymizeResponses,
			FullAnonymize:      inst.FullAnonymize,
			Created:            m.now(),
		}
		if opts.AnonymizeResponses != nil {
			created.AnonymizeResponses = *opts.AnonymizeResponses
		}
		if opts.FullAnonymize != nil {
			created.FullAnonymize = *opts.FullAnonymize
		}
		if created.FullAnonymize {
			created.AnonymizeResponses = true
		}
		return tx.InsertSession(ctx, &created)
	})
	if err != nil {
		return created, err
	}
	m.logger.Printf("instance %d: session %d opened", instanceID, created.ID)
	m.publish(ctx, created, nil)
	return created, nil
}

// Join hands the actor its live attempt in the session, creating one when needed.
// In group mode only one member may hold the group's live attempt.
func (m *Sessions) Join(ctx context.Context, actor domain.Actor, sessionID int64, opts JoinOptions) (domain.Attempt, error) {
	var joined domain.Attempt
	err := m.repo.InTx(ctx, func(tx Repository) error {
		s, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !s.Open {
			return domain.ErrSessionClosed
		}
		inst, err := tx.GetInstance(ctx, s.InstanceID)
		if err != nil {
			return err
		}
		owner, err := m.attempts.IdentityFor(ctx, s, actor)
		if err != nil {
			return err
		}
		preview := actor.IsController()
		groupMode := inst.GroupMode && !preview

		filter := AttemptFilter{SessionID: s.ID, Owner: owner, LiveOnly: true}
		var attendees []int64
		if groupMode {
			if opts.GroupID == 0 {
				return domain.ErrGroupRequired
			}
			member, err := m.groups.IsMember(ctx, opts.GroupID, actor.UserID)
			if err != nil {
				return err
			}
			if !member {
				return domain.ErrNotGroupMember
			}
			filter = AttemptFilter{SessionID: s.ID, GroupID: opts.GroupID, LiveOnly: true}
			if inst.GroupAttendance && !domain.IsAnonymous(owner) {
				attendees, err = m.groups.ResolveAttendees(ctx, opts.GroupID, actor.UserID, opts.Attendees)
				if err != nil {
					return err
				}
			}
		}

		live, err := tx.ListAttempts(ctx, filter)
		if err != nil {
			return err
		}
		if len(live) > 0 {
			if live[0].Owner != owner {
				return domain.ErrGroupAttemptConflict
			}
			joined = live[0]
			return nil
		}

		groupID := int64(0)
		if groupMode {
			groupID = opts.GroupID
		}
		a, err := m.attempts.create(ctx, tx, inst, s, owner, groupID, preview)
		if err != nil {
			return err
		}
		if err := m.attempts.start(ctx, tx, &a); err != nil {
			return err
		}
		if len(attendees) > 0 {
			if err := m.groups.recordAttendance(ctx, tx, inst, a, attendees); err != nil {
				return err
			}
		}
		joined = a
		return nil
	})
	if err != nil {
		return domain.Attempt{}, err
	}
	return joined, nil
}

// Start opens question 1 of a notrunning session.
func (m *Sessions) Start(ctx context.Context, actor domain.Actor, sessionID, attemptID int64) (domain.Session, error) {
	return m.transition(ctx, actor, sessionID, attemptID, func(s domain.Session) (int, error) {
		if s.Status != domain.StatusNotRunning {
			return 0, domain.ErrInvalidTransition
		}
		return 1, nil
	})
}

// Next opens the question after the current one.
func (m *Sessions) Next(ctx context.Context, actor domain.Actor, sessionID, attemptID int64) (domain.Session, error) {
	return m.transition(ctx, actor, sessionID, attemptID, func(s domain.Session) (int, error) {
		if !activeStatus(s.Status) {
			return 0, domain.ErrInvalidTransition
		}
		return s.CurrentIndex + 1, nil
	})
}

// Repoll re-asks the current question.
func (m *Sessions) Repoll(ctx context.Context, actor domain.Actor, sessionID, attemptID int64) (domain.Session, error) {
	return m.transition(ctx, actor, sessionID, attemptID, func(s domain.Session) (int, error) {
		if s.Status != domain.StatusEndQuestion && s.Status != domain.StatusReviewing {
			return 0, domain.ErrInvalidTransition
		}
		return s.CurrentIndex, nil
	})
}

// GoToQuestion jumps to an arbitrary 1-based question number.
func (m *Sessions) GoToQuestion(ctx context.Context, actor domain.Actor, sessionID, attemptID int64, number int) (domain.Session, error) {
	return m.transition(ctx, actor, sessionID, attemptID, func(s domain.Session) (int, error) {
		if !activeStatus(s.Status) {
			return 0, domain.ErrInvalidTransition
		}
		return number, nil
	})
}

// transition activates the question chosen by target against the controller's attempt.
func (m *Sessions) transition(ctx context.Context, actor domain.Actor, sessionID, attemptID int64, target func(domain.Session) (int, error)) (domain.Session, error) {
	if err := requireController(actor); err != nil {
		return domain.Session{}, err
	}
	var updated domain.Session
	var current domain.SlotQuestion
	err := m.repo.InTx(ctx, func(tx Repository) error {
		s, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !s.Open {
			return domain.ErrSessionClosed
		}
		number, err := target(s)
		if err != nil {
			return err
		}
		a, err := m.controllerAttempt(ctx, tx, actor, s, attemptID)
		if err != nil {
			return err
		}
		current, err = m.questions.questionAt(ctx, tx, number, &a)
		if err != nil {
			return err
		}
		inst, err := tx.GetInstance(ctx, s.InstanceID)
		if err != nil {
			return err
		}

		s.Status = domain.StatusRunning
		s.CurrentIndex = number
		s.CurrentSlot = current.Slot
		s.QuestionTime = QuestionTime(inst, current.Spec)
		s.NextStartTime = m.now().Add(time.Duration(inst.WaitDelay) * time.Second)
		if err := tx.UpdateSession(ctx, &s); err != nil {
			return domain.Persistence(err)
		}
		if err := resetResponded(ctx, tx, s.ID); err != nil {
			return err
		}
		updated = s
		return nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	m.logger.Printf("session %d: question %d (slot %d) running for %ds", updated.ID, updated.CurrentIndex, updated.CurrentSlot, updated.QuestionTime)
	m.publish(ctx, updated, &current)
	return updated, nil
}

// resetResponded clears the per-question counters of every live attempt.
// Attempts that are already clear are not rewritten.
func resetResponded(ctx context.Context, tx Repository, sessionID int64) error {
	live, err := tx.ListAttempts(ctx, AttemptFilter{SessionID: sessionID, LiveOnly: true})
	if err != nil {
		return err
	}
	for i := range live {
		a := live[i]
		if !a.Responded && a.RespondedCount == 0 {
			continue
		}
		a.Responded = false
		a.RespondedCount = 0
		if err := tx.UpdateAttempt(ctx, &a); err != nil {
			return domain.Persistence(err)
		}
	}
	return nil
}

// EndQuestion stops the current question. Ending an already ended question is a no-op
// so a timer expiry and an instructor click can race safely.
func (m *Sessions) EndQuestion(ctx context.Context, actor domain.Actor, sessionID int64) (domain.Session, error) {
	return m.flip(ctx, actor, sessionID, domain.StatusRunning, domain.StatusEndQuestion)
}

// ReviewResults marks that the instructor is reviewing the current question's responses.
func (m *Sessions) ReviewResults(ctx context.Context, actor domain.Actor, sessionID int64) (domain.Session, error) {
	return m.flip(ctx, actor, sessionID, domain.StatusEndQuestion, domain.StatusReviewing)
}

func (m *Sessions) flip(ctx context.Context, actor domain.Actor, sessionID int64, from, to domain.SessionStatus) (domain.Session, error) {
	if err := requireController(actor); err != nil {
		return domain.Session{}, err
	}
	var updated domain.Session
	err := m.repo.InTx(ctx, func(tx Repository) error {
		s, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !s.Open {
			return domain.ErrSessionClosed
		}
		updated = s
		if s.Status == to {
			return nil
		}
		if s.Status != from {
			return domain.ErrInvalidTransition
		}
		updated.Status = to
		return domain.Persistence(tx.UpdateSession(ctx, &updated))
	})
	if err != nil {
		return domain.Session{}, err
	}
	m.publish(ctx, updated, nil)
	return updated, nil
}

// Close finishes every live attempt, clears the current question, closes the session
// and recomputes the instance's grades, all in one transaction.
func (m *Sessions) Close(ctx context.Context, actor domain.Actor, sessionID int64) (domain.Session, error) {
	if err := requireController(actor); err != nil {
		return domain.Session{}, err
	}
	var closed domain.Session
	var ended []domain.Attempt
	err := m.repo.InTx(ctx, func(tx Repository) error {
		s, err := tx.LockSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if !s.Open {
			return domain.ErrSessionClosed
		}
		live, err := tx.ListAttempts(ctx, AttemptFilter{SessionID: s.ID, LiveOnly: true})
		if err != nil {
			return err
		}
		ended = live
		for i := range live {
			if err := m.attempts.close(ctx, tx, &live[i]); err != nil {
				return err
			}
		}

		s.Open = false
		s.Status = domain.StatusNotRunning
		s.CurrentIndex = 0
		s.CurrentSlot = 0
		s.QuestionTime = 0
		s.NextStartTime = time.Time{}
		if err := tx.UpdateSession(ctx, &s); err != nil {
			return domain.Persistence(err)
		}
		inst, err := tx.GetInstance(ctx, s.InstanceID)
		if err != nil {
			return err
		}
		if err := m.grader.recomputeInstance(ctx, tx, inst); err != nil {
			return err
		}
		if err := m.attempts.save(ctx, usageRefs(ended)...); err != nil {
			return err
		}
		closed = s
		return nil
	})
	if err != nil {
		m.attempts.restore(ctx, usageRefs(ended)...)
		return domain.Session{}, err
	}
	m.logger.Printf("session %d closed, %d attempts finished", closed.ID, len(ended))
	m.attempts.notifyEnded(ctx, ended...)
	m.publish(ctx, closed, nil)
	return closed, nil
}

// Status is the snapshot participants poll for. The status cache is consulted first.
func (m *Sessions) Status(ctx context.Context, sessionID int64) (domain.StatusSnapshot, error) {
	if m.status != nil {
		if snap, ok, err := m.status.Get(ctx, sessionID); err == nil && ok {
			return snap, nil
		} else if err != nil {
			m.logger.Printf("session %d: status cache read failed: %v", sessionID, err)
		}
	}
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.StatusSnapshot{}, err
	}
	var current *domain.SlotQuestion
	if s.Open && s.CurrentIndex > 0 {
		if q, err := m.currentQuestion(ctx, m.repo, s); err == nil {
			current = &q
		}
	}
	snap := snapshotOf(s, current)
	m.cache(ctx, snap)
	return snap, nil
}

// currentQuestion resolves the session's current question through any live attempt
// seeded with the current slot.
func (m *Sessions) currentQuestion(ctx context.Context, repo Repository, s domain.Session) (domain.SlotQuestion, error) {
	attempts, err := repo.ListAttempts(ctx, AttemptFilter{SessionID: s.ID})
	if err != nil {
		return domain.SlotQuestion{}, err
	}
	for i := range attempts {
		if ref, ok := attempts[i].SlotAt(s.CurrentIndex); ok && ref.Slot == s.CurrentSlot {
			return m.questions.questionAt(ctx, repo, s.CurrentIndex, &attempts[i])
		}
	}
	return domain.SlotQuestion{}, domain.ErrInvalidQuestionNumber
}

func snapshotOf(s domain.Session, current *domain.SlotQuestion) domain.StatusSnapshot {
	snap := domain.StatusSnapshot{
		SessionID:      s.ID,
		Open:           s.Open,
		Status:         s.Status,
		CurrentSlot:    s.CurrentSlot,
		QuestionNumber: s.CurrentIndex,
		QuestionTime:   s.QuestionTime,
		NextStartTime:  s.NextStartTime,
	}
	if current != nil {
		snap.LastQuestion = current.IsLast
		snap.ShowHistory = current.Spec.ShowHistory
	}
	return snap
}

func (m *Sessions) publish(ctx context.Context, s domain.Session, current *domain.SlotQuestion) {
	m.cache(ctx, snapshotOf(s, current))
}

func (m *Sessions) cache(ctx context.Context, snap domain.StatusSnapshot) {
	if m.status == nil {
		return
	}
	if err := m.status.Put(ctx, snap); err != nil {
		m.logger.Printf("session %d: status cache write failed: %v", snap.SessionID, err)
	}
}

// NotResponded lists the display names of live, non-preview attempts that have not
// answered the current question. The read is not transactional.
func (m *Sessions) NotResponded(ctx context.Context, actor domain.Actor, sessionID int64) ([]string, error) {
	if err := requireController(actor); err != nil {
		return nil, err
	}
	s, inst, err := m.sessionAndInstance(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	live, err := m.repo.ListAttempts(ctx, AttemptFilter{SessionID: s.ID, LiveOnly: true, ExcludePreview: true})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(live))
	for _, a := range live {
		if a.Responded {
			continue
		}
		if s.AnonymizeResponses {
			names = append(names, "Anonymous")
			continue
		}
		name, err := m.groups.DisplayName(ctx, inst, a)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// ResponseCounts reports how many live participants have answered the current question.
type ResponseCounts struct {
	Responded int `json:"responded"`
	Total     int `json:"total"`
}

// CurrentCounts returns the live response counters for the current question.
func (m *Sessions) CurrentCounts(ctx context.Context, actor domain.Actor, sessionID int64) (ResponseCounts, error) {
	if err := requireController(actor); err != nil {
		return ResponseCounts{}, err
	}
	live, err := m.repo.ListAttempts(ctx, AttemptFilter{SessionID: sessionID, LiveOnly: true, ExcludePreview: true})
	if err != nil {
		return ResponseCounts{}, err
	}
	counts := ResponseCounts{Total: len(live)}
	for _, a := range live {
		if a.Responded {
			counts.Responded++
		}
	}
	return counts, nil
}

// Results moves the session to reviewing and returns the responses to the current question.
func (m *Sessions) Results(ctx context.Context, actor domain.Actor, sessionID int64) (domain.ResultsView, error) {
	s, err := m.ReviewResults(ctx, actor, sessionID)
	if err != nil {
		return domain.ResultsView{}, err
	}
	return m.results(ctx, s)
}

func (m *Sessions) results(ctx context.Context, s domain.Session) (domain.ResultsView, error) {
	inst, err := m.repo.GetInstance(ctx, s.InstanceID)
	if err != nil {
		return domain.ResultsView{}, err
	}
	current, err := m.currentQuestion(ctx, m.repo, s)
	if err != nil {
		return domain.ResultsView{}, err
	}
	def, err := m.catalog.Definition(ctx, current.Spec)
	if err != nil {
		return domain.ResultsView{}, err
	}
	attempts, err := m.repo.ListAttempts(ctx, AttemptFilter{SessionID: s.ID, ExcludePreview: true})
	if err != nil {
		return domain.ResultsView{}, err
	}

	view := domain.ResultsView{Question: def.Text, Type: def.Type}
	responders := make([]domain.Attempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Status == domain.AttemptAbandoned {
			continue
		}
		ref, ok := a.SlotFor(current.Spec.ID)
		if !ok {
			continue
		}
		summary, err := m.engine.ResponseSummary(ctx, a.UsageRef, ref.Slot)
		if err != nil {
			return domain.ResultsView{}, domain.Engine(err)
		}
		if summary == "" {
			continue
		}
		line := domain.ResponseLine{Response: summary}
		if !s.AnonymizeResponses {
			if line.Name, err = m.groups.DisplayName(ctx, inst, a); err != nil {
				return domain.ResultsView{}, err
			}
		}
		view.Responses = append(view.Responses, line)
		responders = append(responders, a)
	}
	return m.modifiers.Apply(def, responders, view), nil
}

// RightResponse renders the current question of the controller's attempt with the right answer shown.
func (m *Sessions) RightResponse(ctx context.Context, actor domain.Actor, sessionID, attemptID int64) (string, error) {
	if err := requireController(actor); err != nil {
		return "", err
	}
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !s.Open || s.CurrentIndex == 0 {
		return "", domain.ErrInvalidTransition
	}
	a, err := m.controllerAttempt(ctx, m.repo, actor, s, attemptID)
	if err != nil {
		return "", err
	}
	ref, ok := a.SlotAt(s.CurrentIndex)
	if !ok {
		return "", domain.ErrInvalidQuestionNumber
	}
	html, err := m.engine.Render(ctx, a.UsageRef, ref.Slot, domain.DisplayOptions{
		ReadOnly:    true,
		Correctness: true,
		RightAnswer: true,
	})
	return html, domain.Engine(err)
}

// ListQuestions returns the controller attempt's layout as a jump menu.
func (m *Sessions) ListQuestions(ctx context.Context, actor domain.Actor, sessionID, attemptID int64) ([]domain.QuestionListing, error) {
	if err := requireController(actor); err != nil {
		return nil, err
	}
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	a, err := m.controllerAttempt(ctx, m.repo, actor, s, attemptID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QuestionListing, 0, len(a.Layout))
	for i := range a.Layout {
		q, err := m.questions.questionAt(ctx, m.repo, i+1, &a)
		if err != nil {
			continue
		}
		def, err := m.catalog.Definition(ctx, q.Spec)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.QuestionListing{Number: i + 1, Slot: q.Slot, Name: def.Name})
	}
	return out, nil
}

// controllerAttempt loads the controller's own attempt in s.
func (m *Sessions) controllerAttempt(ctx context.Context, repo Repository, actor domain.Actor, s domain.Session, attemptID int64) (domain.Attempt, error) {
	a, err := repo.GetAttempt(ctx, attemptID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if a.SessionID != s.ID || a.Owner != (domain.RealUser{ID: actor.UserID}) {
		return domain.Attempt{}, domain.ErrPermission
	}
	return a, nil
}

func (m *Sessions) sessionAndInstance(ctx context.Context, sessionID int64) (domain.Session, domain.QuizInstance, error) {
	s, err := m.repo.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, domain.QuizInstance{}, err
	}
	inst, err := m.repo.GetInstance(ctx, s.InstanceID)
	if err != nil {
		return domain.Session{}, domain.QuizInstance{}, err
	}
	return s, inst, nil
}

func activeStatus(s domain.SessionStatus) bool {
	return s == domain.StatusRunning || s == domain.StatusEndQuestion || s == domain.StatusReviewing
}

func usageRefs(attempts []domain.Attempt) []string {
	refs := make([]string, 0, len(attempts))
	for _, a := range attempts {
		refs = append(refs, a.UsageRef)
	}
	return refs
}
