package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Repository implements app.Repository on Postgres through bun.
type Repository struct {
	db   *bun.DB
	conn bun.IDB
	tx   bool
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db, conn: db}
}

// InTx runs fn in one database transaction. Nested calls join the running transaction.
func (r *Repository) InTx(ctx context.Context, fn func(tx app.Repository) error) error {
	if r.tx {
		return fn(r)
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(&Repository{db: r.db, conn: tx, tx: true})
	})
}

func (r *Repository) CreateInstance(ctx context.Context, inst *domain.QuizInstance) error {
	row := instanceFromDomain(*inst)
	if _, err := r.conn.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return domain.Persistence(err)
	}
	inst.ID = row.ID
	return nil
}

func (r *Repository) GetInstance(ctx context.Context, id int64) (domain.QuizInstance, error) {
	var row instanceRow
	if err := r.conn.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.QuizInstance{}, notFound(err, domain.ErrInstanceNotFound)
	}
	return row.toDomain(), nil
}

func (r *Repository) UpdateInstance(ctx context.Context, inst *domain.QuizInstance) error {
	row := instanceFromDomain(*inst)
	res, err := r.conn.NewUpdate().Model(&row).WherePK().Exec(ctx)
	return affected(res, err, domain.ErrInstanceNotFound)
}

func (r *Repository) InsertQuestion(ctx context.Context, q *domain.QuestionSpec) error {
	row := questionFromDomain(*q)
	if _, err := r.conn.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return domain.Persistence(err)
	}
	q.ID = row.ID
	return nil
}

func (r *Repository) GetQuestion(ctx context.Context, id int64) (domain.QuestionSpec, error) {
	var row questionRow
	if err := r.conn.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.QuestionSpec{}, notFound(err, domain.ErrQuestionNotFound)
	}
	return row.toDomain(), nil
}

func (r *Repository) ListQuestions(ctx context.Context, instanceID int64) ([]domain.QuestionSpec, error) {
	var rows []questionRow
	if err := r.conn.NewSelect().Model(&rows).Where("instance_id = ?", instanceID).Order("id ASC").Scan(ctx); err != nil {
		return nil, domain.Persistence(err)
	}
	out := make([]domain.QuestionSpec, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *Repository) UpdateQuestion(ctx context.Context, q *domain.QuestionSpec) error {
	row := questionFromDomain(*q)
	res, err := r.conn.NewUpdate().Model(&row).WherePK().Exec(ctx)
	return affected(res, err, domain.ErrQuestionNotFound)
}

func (r *Repository) DeleteQuestion(ctx context.Context, id int64) error {
	res, err := r.conn.NewDelete().Model((*questionRow)(nil)).Where("id = ?", id).Exec(ctx)
	return affected(res, err, domain.ErrQuestionNotFound)
}

func (r *Repository) InsertSession(ctx context.Context, s *domain.Session) error {
	row := sessionFromDomain(*s)
	if _, err := r.conn.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSessionAlreadyOpen
		}
		return domain.Persistence(err)
	}
	s.ID = row.ID
	return nil
}

func (r *Repository) GetSession(ctx context.Context, id int64) (domain.Session, error) {
	return r.session(ctx, id, false)
}

// LockSession selects the session FOR UPDATE; outside a transaction it is a plain read.
func (r *Repository) LockSession(ctx context.Context, id int64) (domain.Session, error) {
	return r.session(ctx, id, r.tx)
}

func (r *Repository) session(ctx context.Context, id int64, lock bool) (domain.Session, error) {
	var row sessionRow
	q := r.conn.NewSelect().Model(&row).Where("id = ?", id)
	if lock {
		q = q.For("UPDATE")
	}
	if err := q.Scan(ctx); err != nil {
		return domain.Session{}, notFound(err, domain.ErrSessionNotFound)
	}
	return row.toDomain(), nil
}

func (r *Repository) OpenSession(ctx context.Context, instanceID int64) (domain.Session, bool, error) {
	var row sessionRow
	err := r.conn.NewSelect().Model(&row).
		Where("instance_id = ?", instanceID).
		Where("open").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, domain.Persistence(err)
	}
	return row.toDomain(), true, nil
}

func (r *Repository) ListSessions(ctx context.Context, instanceID int64) ([]domain.Session, error) {
	var rows []sessionRow
	if err := r.conn.NewSelect().Model(&rows).Where("instance_id = ?", instanceID).Order("created ASC", "id ASC").Scan(ctx); err != nil {
		return nil, domain.Persistence(err)
	}
	out := make([]domain.Session, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *Repository) UpdateSession(ctx context.Context, s *domain.Session) error {
	row := sessionFromDomain(*s)
	res, err := r.conn.NewUpdate().Model(&row).WherePK().Exec(ctx)
	return affected(res, err, domain.ErrSessionNotFound)
}

func (r *Repository) InsertAttempt(ctx context.Context, a *domain.Attempt) error {
	row := attemptFromDomain(*a)
	if _, err := r.conn.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return domain.Persistence(err)
	}
	a.ID = row.ID
	return nil
}

func (r *Repository) GetAttempt(ctx context.Context, id int64) (domain.Attempt, error) {
	var row attemptRow
	if err := r.conn.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx); err != nil {
		return domain.Attempt{}, notFound(err, domain.ErrAttemptNotFound)
	}
	return row.toDomain(), nil
}

func (r *Repository) ListAttempts(ctx context.Context, f app.AttemptFilter) ([]domain.Attempt, error) {
	var rows []attemptRow
	q := r.conn.NewSelect().Model(&rows).Where("session_id = ?", f.SessionID)
	if f.Owner != nil {
		q = q.Where("user_id = ?", f.Owner.StoredID()).Where("anonymous = ?", domain.IsAnonymous(f.Owner))
	}
	if f.GroupID != 0 {
		q = q.Where("group_id = ?", f.GroupID)
	}
	if f.LiveOnly {
		q = q.Where("status IN (?)", bun.In([]string{string(domain.AttemptNotStarted), string(domain.AttemptInProgress)}))
	}
	if f.ExcludePreview {
		q = q.Where("NOT preview")
	}
	if err := q.Order("id ASC").Scan(ctx); err != nil {
		return nil, domain.Persistence(err)
	}
	out := make([]domain.Attempt, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

func (r *Repository) UpdateAttempt(ctx context.Context, a *domain.Attempt) error {
	row := attemptFromDomain(*a)
	res, err := r.conn.NewUpdate().Model(&row).WherePK().Exec(ctx)
	return affected(res, err, domain.ErrAttemptNotFound)
}

func (r *Repository) UpsertGrade(ctx context.Context, g domain.Grade) error {
	row := gradeRow{InstanceID: g.InstanceID, UserID: g.UserID, Value: g.Value, Modified: g.Modified}
	_, err := r.conn.NewInsert().Model(&row).
		On("CONFLICT (instance_id, user_id) DO UPDATE").
		Set("value = EXCLUDED.value").
		Set("modified = EXCLUDED.modified").
		Exec(ctx)
	return domain.Persistence(err)
}

func (r *Repository) ListGrades(ctx context.Context, instanceID int64) ([]domain.Grade, error) {
	var rows []gradeRow
	if err := r.conn.NewSelect().Model(&rows).Where("instance_id = ?", instanceID).Order("user_id ASC").Scan(ctx); err != nil {
		return nil, domain.Persistence(err)
	}
	out := make([]domain.Grade, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Grade{InstanceID: row.InstanceID, UserID: row.UserID, Value: row.Value, Modified: row.Modified})
	}
	return out, nil
}

func (r *Repository) InsertAttendance(ctx context.Context, rec *domain.GroupAttendanceRecord) error {
	row := attendanceRow{
		InstanceID: rec.InstanceID,
		SessionID:  rec.SessionID,
		AttemptID:  rec.AttemptID,
		GroupID:    rec.GroupID,
		UserID:     rec.UserID,
	}
	if _, err := r.conn.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return domain.Persistence(err)
	}
	rec.ID = row.ID
	return nil
}

func (r *Repository) ListAttendance(ctx context.Context, attemptID int64) ([]domain.GroupAttendanceRecord, error) {
	var rows []attendanceRow
	if err := r.conn.NewSelect().Model(&rows).Where("attempt_id = ?", attemptID).Order("id ASC").Scan(ctx); err != nil {
		return nil, domain.Persistence(err)
	}
	out := make([]domain.GroupAttendanceRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.GroupAttendanceRecord{
			ID:         row.ID,
			InstanceID: row.InstanceID,
			SessionID:  row.SessionID,
			AttemptID:  row.AttemptID,
			GroupID:    row.GroupID,
			UserID:     row.UserID,
		})
	}
	return out, nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel
	}
	return domain.Persistence(err)
}

func affected(res sql.Result, err error, sentinel error) error {
	if err != nil {
		return domain.Persistence(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence(err)
	}
	if n == 0 {
		return sentinel
	}
	return nil
}

// isUniqueViolation matches SQLSTATE 23505, raised by the one-open-session index.
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
