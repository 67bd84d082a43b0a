package app

import (
	"context"
	"time"

	"live-quiz-service/internal/domain"
)

// Repository is the record store behind the core (in-memory, Postgres, etc).
// Methods called on the Repository handed to an InTx callback run inside that transaction;
// InTx on a transactional Repository joins the running transaction.
type Repository interface {
	InTx(ctx context.Context, fn func(tx Repository) error) error

	CreateInstance(ctx context.Context, inst *domain.QuizInstance) error
	GetInstance(ctx context.Context, id int64) (domain.QuizInstance, error)
	UpdateInstance(ctx context.Context, inst *domain.QuizInstance) error

	InsertQuestion(ctx context.Context, q *domain.QuestionSpec) error
	GetQuestion(ctx context.Context, id int64) (domain.QuestionSpec, error)
	ListQuestions(ctx context.Context, instanceID int64) ([]domain.QuestionSpec, error)
	UpdateQuestion(ctx context.Context, q *domain.QuestionSpec) error
	DeleteQuestion(ctx context.Context, id int64) error

	InsertSession(ctx context.Context, s *domain.Session) error
	GetSession(ctx context.Context, id int64) (domain.Session, error)
	// LockSession reads a session and holds it against concurrent writers until the transaction ends.
	LockSession(ctx context.Context, id int64) (domain.Session, error)
	// OpenSession returns the open session of an instance, if any.
	OpenSession(ctx context.Context, instanceID int64) (domain.Session, bool, error)
	// ListSessions returns sessions ordered by creation time.
	ListSessions(ctx context.Context, instanceID int64) ([]domain.Session, error)
	UpdateSession(ctx context.Context, s *domain.Session) error

	InsertAttempt(ctx context.Context, a *domain.Attempt) error
	GetAttempt(ctx context.Context, id int64) (domain.Attempt, error)
	ListAttempts(ctx context.Context, filter AttemptFilter) ([]domain.Attempt, error)
	UpdateAttempt(ctx context.Context, a *domain.Attempt) error

	UpsertGrade(ctx context.Context, g domain.Grade) error
	ListGrades(ctx context.Context, instanceID int64) ([]domain.Grade, error)

	InsertAttendance(ctx context.Context, rec *domain.GroupAttendanceRecord) error
	ListAttendance(ctx context.Context, attemptID int64) ([]domain.GroupAttendanceRecord, error)
}

// AttemptFilter narrows ListAttempts. SessionID is required; zero values match everything.
type AttemptFilter struct {
	SessionID      int64
	Owner          domain.Identity
	GroupID        int64
	LiveOnly       bool
	ExcludePreview bool
}

// Match reports whether a satisfies the filter.
func (f AttemptFilter) Match(a domain.Attempt) bool {
	if a.SessionID != f.SessionID {
		return false
	}
	if f.Owner != nil && a.Owner != f.Owner {
		return false
	}
	if f.GroupID != 0 && a.GroupID != f.GroupID {
		return false
	}
	if f.LiveOnly && !a.Status.Live() {
		return false
	}
	if f.ExcludePreview && a.Preview {
		return false
	}
	return true
}

// QuestionEngine is the external question-usage engine that holds actual answers.
type QuestionEngine interface {
	CreateUsage(ctx context.Context) (string, error)
	AddQuestion(ctx context.Context, usage string, def domain.QuestionDef, maxMark float64) (int, error)
	StartAll(ctx context.Context, usage string) error
	Render(ctx context.Context, usage string, slot int, opts domain.DisplayOptions) (string, error)
	ProcessAllActions(ctx context.Context, usage string, sub domain.Submission, at time.Time) error
	ProcessSingleAction(ctx context.Context, usage string, slot int, fields map[string]string, at time.Time, who domain.Identity) error
	SequenceNumber(ctx context.Context, usage string, slot int) (int, error)
	ResponseSummary(ctx context.Context, usage string, slot int) (string, error)
	FinishAll(ctx context.Context, usage string, at time.Time) error
	Mark(ctx context.Context, usage string, slot int) (float64, error)
	MaxMark(ctx context.Context, usage string, slot int) (float64, error)
	TotalMark(ctx context.Context, usage string) (float64, error)
	RegradeAll(ctx context.Context, usage string) error
	RegradeQuestion(ctx context.Context, usage string, slot int, newMaxMark float64) error
	// Save checkpoints the usage durably. Load discards changes made since the last Save.
	Save(ctx context.Context, usage string) error
	Load(ctx context.Context, usage string) error
	Delete(ctx context.Context, usage string) error
}

// QuestionBank loads question definitions (from cache/backing store).
type QuestionBank interface {
	GetQuestion(ctx context.Context, ref string) (domain.QuestionDef, error)
}

// GroupDirectory resolves group membership and display names.
type GroupDirectory interface {
	MembersOf(ctx context.Context, groupID int64) ([]int64, error)
	GroupsOf(ctx context.Context, userID, groupingID int64) ([]int64, error)
	NameOf(ctx context.Context, groupID int64) (string, error)
	IsMember(ctx context.Context, groupID, userID int64) (bool, error)
	UserName(ctx context.Context, userID int64) (string, error)
}

// GradeExporter pushes persisted grades to an external grade book.
type GradeExporter interface {
	Export(ctx context.Context, instanceID int64, grades []domain.Grade) error
}

// EventSink receives attempt lifecycle notifications.
type EventSink interface {
	AttemptEnded(ctx context.Context, a domain.Attempt) error
}

// AnonymousIDs hands out synthetic ids that stay stable for one login session.
type AnonymousIDs interface {
	For(ctx context.Context, loginSession string) (int64, error)
}

// StatusCache holds the last status snapshot of each session for pollers. Optional.
type StatusCache interface {
	Put(ctx context.Context, snap domain.StatusSnapshot) error
	Get(ctx context.Context, sessionID int64) (domain.StatusSnapshot, bool, error)
}
