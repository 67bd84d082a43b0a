package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// QuestionLoader reads question definitions stored as JSONB in the question_bank table.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestion(ctx context.Context, ref string) (domain.QuestionDef, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM question_bank WHERE ref=$1`, ref).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionDef{}, fmt.Errorf("question %q: %w", ref, domain.ErrQuestionNotFound)
	}
	if err != nil {
		return domain.QuestionDef{}, domain.Persistence(fmt.Errorf("load question: %w", err))
	}
	var def domain.QuestionDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return domain.QuestionDef{}, fmt.Errorf("unmarshal question %q: %w", ref, err)
	}
	if def.Ref == "" {
		def.Ref = ref
	}
	return def, nil
}

// SaveQuestion upserts a definition into the bank.
func (l *QuestionLoader) SaveQuestion(ctx context.Context, def domain.QuestionDef) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal question %q: %w", def.Ref, err)
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO question_bank (ref, data) VALUES ($1, $2)
		 ON CONFLICT (ref) DO UPDATE SET data = EXCLUDED.data`, def.Ref, raw)
	return domain.Persistence(err)
}
