package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

type instanceRow struct {
	bun.BaseModel `bun:"table:quiz_instances,alias:qi"`

	ID                  int64     `bun:"id,pk,autoincrement"`
	Name                string    `bun:"name,notnull"`
	DefaultQuestionTime int       `bun:"default_question_time,notnull"`
	WaitDelay           int       `bun:"wait_delay,notnull"`
	Scale               float64   `bun:"scale,notnull"`
	GradeMethod         int       `bun:"grade_method,notnull"`
	GroupMode           bool      `bun:"group_mode,notnull"`
	GroupingID          int64     `bun:"grouping_id,notnull"`
	GroupAttendance     bool      `bun:"group_attendance,notnull"`
	AnonymizeResponses  bool      `bun:"anonymize_responses,notnull"`
	FullAnonymize       bool      `bun:"full_anonymize,notnull"`
	ReviewAfter         int       `bun:"review_after,notnull"`
	QuestionOrder       []int64   `bun:"question_order,array"`
	Modified            time.Time `bun:"modified,nullzero"`
}

func instanceFromDomain(inst domain.QuizInstance) instanceRow {
	return instanceRow{
		ID:                  inst.ID,
		Name:                inst.Name,
		DefaultQuestionTime: inst.DefaultQuestionTime,
		WaitDelay:           inst.WaitDelay,
		Scale:               inst.Scale,
		GradeMethod:         int(inst.GradeMethod),
		GroupMode:           inst.GroupMode,
		GroupingID:          inst.GroupingID,
		GroupAttendance:     inst.GroupAttendance,
		AnonymizeResponses:  inst.AnonymizeResponses,
		FullAnonymize:       inst.FullAnonymize,
		ReviewAfter:         int(inst.ReviewAfter),
		QuestionOrder:       append([]int64{}, inst.QuestionOrder...),
		Modified:            inst.Modified,
	}
}

func (r instanceRow) toDomain() domain.QuizInstance {
	return domain.QuizInstance{
		ID:                  r.ID,
		Name:                r.Name,
		DefaultQuestionTime: r.DefaultQuestionTime,
		WaitDelay:           r.WaitDelay,
		Scale:               r.Scale,
		GradeMethod:         domain.GradeMethod(r.GradeMethod),
		GroupMode:           r.GroupMode,
		GroupingID:          r.GroupingID,
		GroupAttendance:     r.GroupAttendance,
		AnonymizeResponses:  r.AnonymizeResponses,
		FullAnonymize:       r.FullAnonymize,
		ReviewAfter:         domain.ReviewOption(r.ReviewAfter),
		QuestionOrder:       r.QuestionOrder,
		Modified:            r.Modified,
	}
}

type questionRow struct {
	bun.BaseModel `bun:"table:quiz_questions,alias:qq"`

	ID           int64   `bun:"id,pk,autoincrement"`
	InstanceID   int64   `bun:"instance_id,notnull"`
	QuestionRef  string  `bun:"question_ref,notnull"`
	NoTime       bool    `bun:"no_time,notnull"`
	QuestionTime int     `bun:"question_time,notnull"`
	Tries        int     `bun:"tries,notnull"`
	Points       float64 `bun:"points,notnull"`
	ShowHistory  bool    `bun:"show_history,notnull"`
}

func questionFromDomain(q domain.QuestionSpec) questionRow {
	return questionRow{
		ID:           q.ID,
		InstanceID:   q.InstanceID,
		QuestionRef:  q.QuestionRef,
		NoTime:       q.NoTime,
		QuestionTime: q.QuestionTime,
		Tries:        q.Tries,
		Points:       q.Points,
		ShowHistory:  q.ShowHistory,
	}
}

func (r questionRow) toDomain() domain.QuestionSpec {
	return domain.QuestionSpec{
		ID:           r.ID,
		InstanceID:   r.InstanceID,
		QuestionRef:  r.QuestionRef,
		NoTime:       r.NoTime,
		QuestionTime: r.QuestionTime,
		Tries:        r.Tries,
		Points:       r.Points,
		ShowHistory:  r.ShowHistory,
	}
}

type sessionRow struct {
	bun.BaseModel `bun:"table:quiz_sessions,alias:qs"`

	ID                 int64     `bun:"id,pk,autoincrement"`
	InstanceID         int64     `bun:"instance_id,notnull"`
	Name               string    `bun:"name,notnull"`
	Open               bool      `bun:"open,notnull"`
	Status             string    `bun:"status,notnull"`
	CurrentIndex       int       `bun:"current_index,notnull"`
	CurrentSlot        int       `bun:"current_slot,notnull"`
	QuestionTime       int       `bun:"question_time,notnull"`
	NextStartTime      time.Time `bun:"next_start_time,nullzero"`
	AnonymizeResponses bool      `bun:"anonymize_responses,notnull"`
	FullAnonymize      bool      `bun:"full_anonymize,notnull"`
	Created            time.Time `bun:"created,notnull"`
}

func sessionFromDomain(s domain.Session) sessionRow {
	return sessionRow{
		ID:                 s.ID,
		InstanceID:         s.InstanceID,
		Name:               s.Name,
		Open:               s.Open,
		Status:             string(s.Status),
		CurrentIndex:       s.CurrentIndex,
		CurrentSlot:        s.CurrentSlot,
		QuestionTime:       s.QuestionTime,
		NextStartTime:      s.NextStartTime,
		AnonymizeResponses: s.AnonymizeResponses,
		FullAnonymize:      s.FullAnonymize,
		Created:            s.Created,
	}
}

func (r sessionRow) toDomain() domain.Session {
	return domain.Session{
		ID:                 r.ID,
		InstanceID:         r.InstanceID,
		Name:               r.Name,
		Open:               r.Open,
		Status:             domain.SessionStatus(r.Status),
		CurrentIndex:       r.CurrentIndex,
		CurrentSlot:        r.CurrentSlot,
		QuestionTime:       r.QuestionTime,
		NextStartTime:      r.NextStartTime,
		AnonymizeResponses: r.AnonymizeResponses,
		FullAnonymize:      r.FullAnonymize,
		Created:            r.Created,
	}
}

// attemptRow stores the owner as user_id plus an anonymous flag.
type attemptRow struct {
	bun.BaseModel `bun:"table:quiz_attempts,alias:qa"`

	ID             int64            `bun:"id,pk,autoincrement"`
	SessionID      int64            `bun:"session_id,notnull"`
	UserID         int64            `bun:"user_id,notnull"`
	Anonymous      bool             `bun:"anonymous,notnull"`
	GroupID        int64            `bun:"group_id,notnull"`
	Number         int              `bun:"number,notnull"`
	Status         string           `bun:"status,notnull"`
	Preview        bool             `bun:"preview,notnull"`
	Responded      bool             `bun:"responded,notnull"`
	RespondedCount int              `bun:"responded_count,notnull"`
	Started        time.Time        `bun:"started,nullzero"`
	Finished       time.Time        `bun:"finished,nullzero"`
	Modified       time.Time        `bun:"modified,nullzero"`
	UsageRef       string           `bun:"usage_ref,notnull"`
	Layout         []domain.SlotRef `bun:"layout,type:jsonb"`
}

func attemptFromDomain(a domain.Attempt) attemptRow {
	return attemptRow{
		ID:             a.ID,
		SessionID:      a.SessionID,
		UserID:         a.Owner.StoredID(),
		Anonymous:      domain.IsAnonymous(a.Owner),
		GroupID:        a.GroupID,
		Number:         a.Number,
		Status:         string(a.Status),
		Preview:        a.Preview,
		Responded:      a.Responded,
		RespondedCount: a.RespondedCount,
		Started:        a.Started,
		Finished:       a.Finished,
		Modified:       a.Modified,
		UsageRef:       a.UsageRef,
		Layout:         a.Layout,
	}
}

func (r attemptRow) toDomain() domain.Attempt {
	return domain.Attempt{
		ID:             r.ID,
		SessionID:      r.SessionID,
		Owner:          domain.IdentityFrom(r.UserID, r.Anonymous),
		GroupID:        r.GroupID,
		Number:         r.Number,
		Status:         domain.AttemptStatus(r.Status),
		Preview:        r.Preview,
		Responded:      r.Responded,
		RespondedCount: r.RespondedCount,
		Started:        r.Started,
		Finished:       r.Finished,
		Modified:       r.Modified,
		UsageRef:       r.UsageRef,
		Layout:         r.Layout,
	}
}

type gradeRow struct {
	bun.BaseModel `bun:"table:quiz_grades,alias:qg"`

	InstanceID int64     `bun:"instance_id,pk"`
	UserID     int64     `bun:"user_id,pk"`
	Value      float64   `bun:"value,notnull"`
	Modified   time.Time `bun:"modified,notnull"`
}

type attendanceRow struct {
	bun.BaseModel `bun:"table:quiz_group_attendance,alias:ga"`

	ID         int64 `bun:"id,pk,autoincrement"`
	InstanceID int64 `bun:"instance_id,notnull"`
	SessionID  int64 `bun:"session_id,notnull"`
	AttemptID  int64 `bun:"attempt_id,notnull"`
	GroupID    int64 `bun:"group_id,notnull"`
	UserID     int64 `bun:"user_id,notnull"`
}

type eventRow struct {
	bun.BaseModel `bun:"table:quiz_event_log,alias:ev"`

	ID        int64                  `bun:"id,pk,autoincrement"`
	Kind      string                 `bun:"kind,notnull"`
	SessionID int64                  `bun:"session_id,notnull"`
	AttemptID int64                  `bun:"attempt_id,notnull"`
	Payload   map[string]interface{} `bun:"payload,type:jsonb"`
	Created   time.Time              `bun:"created,notnull"`
}
