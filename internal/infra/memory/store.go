package memory

import (
	"context"
	"sort"
	"sync"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

// Store is an in-memory implementation of app.Repository.
// A transaction works on a private copy of the state that replaces the shared state on commit.
type Store struct {
	shared *shared
	st     *state
	tx     bool
}

type shared struct {
	mu sync.Mutex
	st *state
}

type gradeKey struct {
	instanceID int64
	userID     int64
}

type state struct {
	nextID     int64
	instances  map[int64]domain.QuizInstance
	questions  map[int64]domain.QuestionSpec
	sessions   map[int64]domain.Session
	attempts   map[int64]domain.Attempt
	grades     map[gradeKey]domain.Grade
	attendance map[int64]domain.GroupAttendanceRecord
}

func NewStore() *Store {
	return &Store{shared: &shared{st: newState()}}
}

func newState() *state {
	return &state{
		instances:  make(map[int64]domain.QuizInstance),
		questions:  make(map[int64]domain.QuestionSpec),
		sessions:   make(map[int64]domain.Session),
		attempts:   make(map[int64]domain.Attempt),
		grades:     make(map[gradeKey]domain.Grade),
		attendance: make(map[int64]domain.GroupAttendanceRecord),
	}
}

func (st *state) clone() *state {
	c := newState()
	c.nextID = st.nextID
	for k, v := range st.instances {
		c.instances[k] = copyInstance(v)
	}
	for k, v := range st.questions {
		c.questions[k] = v
	}
	for k, v := range st.sessions {
		c.sessions[k] = v
	}
	for k, v := range st.attempts {
		c.attempts[k] = copyAttempt(v)
	}
	for k, v := range st.grades {
		c.grades[k] = v
	}
	for k, v := range st.attendance {
		c.attendance[k] = v
	}
	return c
}

func (st *state) id() int64 {
	st.nextID++
	return st.nextID
}

func copyInstance(inst domain.QuizInstance) domain.QuizInstance {
	inst.QuestionOrder = append([]int64(nil), inst.QuestionOrder...)
	return inst
}

func copyAttempt(a domain.Attempt) domain.Attempt {
	a.Layout = append([]domain.SlotRef(nil), a.Layout...)
	return a
}

// view runs fn against the transaction's state, or against the shared state under the lock.
func (s *Store) view(fn func(st *state) error) error {
	if s.tx {
		return fn(s.st)
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()
	return fn(s.shared.st)
}

// InTx serializes transactions. Nested calls join the running transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx app.Repository) error) error {
	if s.tx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.shared.mu.Lock()
	defer s.shared.mu.Unlock()

	tx := &Store{shared: s.shared, st: s.shared.st.clone(), tx: true}
	if err := fn(tx); err != nil {
		return err
	}
	s.shared.st = tx.st
	return nil
}

func (s *Store) CreateInstance(_ context.Context, inst *domain.QuizInstance) error {
	return s.view(func(st *state) error {
		inst.ID = st.id()
		st.instances[inst.ID] = copyInstance(*inst)
		return nil
	})
}

func (s *Store) GetInstance(_ context.Context, id int64) (domain.QuizInstance, error) {
	var out domain.QuizInstance
	err := s.view(func(st *state) error {
		inst, ok := st.instances[id]
		if !ok {
			return domain.ErrInstanceNotFound
		}
		out = copyInstance(inst)
		return nil
	})
	return out, err
}

func (s *Store) UpdateInstance(_ context.Context, inst *domain.QuizInstance) error {
	return s.view(func(st *state) error {
		if _, ok := st.instances[inst.ID]; !ok {
			return domain.ErrInstanceNotFound
		}
		st.instances[inst.ID] = copyInstance(*inst)
		return nil
	})
}

func (s *Store) InsertQuestion(_ context.Context, q *domain.QuestionSpec) error {
	return s.view(func(st *state) error {
		q.ID = st.id()
		st.questions[q.ID] = *q
		return nil
	})
}

func (s *Store) GetQuestion(_ context.Context, id int64) (domain.QuestionSpec, error) {
	var out domain.QuestionSpec
	err := s.view(func(st *state) error {
		q, ok := st.questions[id]
		if !ok {
			return domain.ErrQuestionNotFound
		}
		out = q
		return nil
	})
	return out, err
}

func (s *Store) ListQuestions(_ context.Context, instanceID int64) ([]domain.QuestionSpec, error) {
	var out []domain.QuestionSpec
	err := s.view(func(st *state) error {
		for _, q := range st.questions {
			if q.InstanceID == instanceID {
				out = append(out, q)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (s *Store) UpdateQuestion(_ context.Context, q *domain.QuestionSpec) error {
	return s.view(func(st *state) error {
		if _, ok := st.questions[q.ID]; !ok {
			return domain.ErrQuestionNotFound
		}
		st.questions[q.ID] = *q
		return nil
	})
}

func (s *Store) DeleteQuestion(_ context.Context, id int64) error {
	return s.view(func(st *state) error {
		if _, ok := st.questions[id]; !ok {
			return domain.ErrQuestionNotFound
		}
		delete(st.questions, id)
		return nil
	})
}

func (s *Store) InsertSession(_ context.Context, sess *domain.Session) error {
	return s.view(func(st *state) error {
		if sess.Open {
			for _, other := range st.sessions {
				if other.InstanceID == sess.InstanceID && other.Open {
					return domain.ErrSessionAlreadyOpen
				}
			}
		}
		sess.ID = st.id()
		st.sessions[sess.ID] = *sess
		return nil
	})
}

func (s *Store) GetSession(_ context.Context, id int64) (domain.Session, error) {
	var out domain.Session
	err := s.view(func(st *state) error {
		sess, ok := st.sessions[id]
		if !ok {
			return domain.ErrSessionNotFound
		}
		out = sess
		return nil
	})
	return out, err
}

// LockSession is GetSession; transactions already hold the store lock.
func (s *Store) LockSession(ctx context.Context, id int64) (domain.Session, error) {
	return s.GetSession(ctx, id)
}

func (s *Store) OpenSession(_ context.Context, instanceID int64) (domain.Session, bool, error) {
	var out domain.Session
	var found bool
	err := s.view(func(st *state) error {
		for _, sess := range st.sessions {
			if sess.InstanceID == instanceID && sess.Open {
				out, found = sess, true
				return nil
			}
		}
		return nil
	})
	return out, found, err
}

func (s *Store) ListSessions(_ context.Context, instanceID int64) ([]domain.Session, error) {
	var out []domain.Session
	err := s.view(func(st *state) error {
		for _, sess := range st.sessions {
			if sess.InstanceID == instanceID {
				out = append(out, sess)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Created.Equal(out[j].Created) {
				return out[i].ID < out[j].ID
			}
			return out[i].Created.Before(out[j].Created)
		})
		return nil
	})
	return out, err
}

func (s *Store) UpdateSession(_ context.Context, sess *domain.Session) error {
	return s.view(func(st *state) error {
		if _, ok := st.sessions[sess.ID]; !ok {
			return domain.ErrSessionNotFound
		}
		st.sessions[sess.ID] = *sess
		return nil
	})
}

func (s *Store) InsertAttempt(_ context.Context, a *domain.Attempt) error {
	return s.view(func(st *state) error {
		a.ID = st.id()
		st.attempts[a.ID] = copyAttempt(*a)
		return nil
	})
}

func (s *Store) GetAttempt(_ context.Context, id int64) (domain.Attempt, error) {
	var out domain.Attempt
	err := s.view(func(st *state) error {
		a, ok := st.attempts[id]
		if !ok {
			return domain.ErrAttemptNotFound
		}
		out = copyAttempt(a)
		return nil
	})
	return out, err
}

func (s *Store) ListAttempts(_ context.Context, filter app.AttemptFilter) ([]domain.Attempt, error) {
	var out []domain.Attempt
	err := s.view(func(st *state) error {
		for _, a := range st.attempts {
			if filter.Match(a) {
				out = append(out, copyAttempt(a))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}

func (s *Store) UpdateAttempt(_ context.Context, a *domain.Attempt) error {
	return s.view(func(st *state) error {
		if _, ok := st.attempts[a.ID]; !ok {
			return domain.ErrAttemptNotFound
		}
		st.attempts[a.ID] = copyAttempt(*a)
		return nil
	})
}

func (s *Store) UpsertGrade(_ context.Context, g domain.Grade) error {
	return s.view(func(st *state) error {
		st.grades[gradeKey{g.InstanceID, g.UserID}] = g
		return nil
	})
}

func (s *Store) ListGrades(_ context.Context, instanceID int64) ([]domain.Grade, error) {
	var out []domain.Grade
	err := s.view(func(st *state) error {
		for k, g := range st.grades {
			if k.instanceID == instanceID {
				out = append(out, g)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
		return nil
	})
	return out, err
}

func (s *Store) InsertAttendance(_ context.Context, rec *domain.GroupAttendanceRecord) error {
	return s.view(func(st *state) error {
		rec.ID = st.id()
		st.attendance[rec.ID] = *rec
		return nil
	})
}

func (s *Store) ListAttendance(_ context.Context, attemptID int64) ([]domain.GroupAttendanceRecord, error) {
	var out []domain.GroupAttendanceRecord
	err := s.view(func(st *state) error {
		for _, rec := range st.attendance {
			if rec.AttemptID == attemptID {
				out = append(out, rec)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return nil
	})
	return out, err
}
