package postgres

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

// EventLog appends attempt lifecycle events to quiz_event_log.
type EventLog struct {
	db  bun.IDB
	now func() time.Time
}

func NewEventLog(db bun.IDB) *EventLog {
	return &EventLog{db: db, now: time.Now}
}

func (l *EventLog) AttemptEnded(ctx context.Context, a domain.Attempt) error {
	row := eventRow{
		Kind:      "attempt_ended",
		SessionID: a.SessionID,
		AttemptID: a.ID,
		Payload: map[string]interface{}{
			"userid":    a.Owner.StoredID(),
			"anonymous": domain.IsAnonymous(a.Owner),
			"groupid":   a.GroupID,
			"status":    string(a.Status),
			"preview":   a.Preview,
		},
		Created: l.now().UTC(),
	}
	if _, err := l.db.NewInsert().Model(&row).Exec(ctx); err != nil {
		return domain.Persistence(err)
	}
	return nil
}
