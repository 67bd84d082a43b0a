package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"live-quiz-service/internal/domain"
)

type usageRow struct {
	bun.BaseModel `bun:"table:question_usages,alias:qu"`

	Ref      string          `bun:"ref,pk"`
	State    json.RawMessage `bun:"state,type:jsonb,notnull"`
	Modified time.Time       `bun:"modified,notnull"`
}

// UsageStore keeps saved question engine usages in question_usages.
type UsageStore struct {
	db  bun.IDB
	now func() time.Time
}

func NewUsageStore(db bun.IDB) *UsageStore {
	return &UsageStore{db: db, now: time.Now}
}

func (s *UsageStore) PutUsage(ctx context.Context, ref string, state []byte) error {
	row := usageRow{Ref: ref, State: state, Modified: s.now().UTC()}
	_, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (ref) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("modified = EXCLUDED.modified").
		Exec(ctx)
	return domain.Persistence(err)
}

func (s *UsageStore) GetUsage(ctx context.Context, ref string) ([]byte, error) {
	var row usageRow
	err := s.db.NewSelect().Model(&row).Where("ref = ?", ref).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("usage %s: %w", ref, domain.ErrNotFound)
	}
	if err != nil {
		return nil, domain.Persistence(err)
	}
	return row.State, nil
}

func (s *UsageStore) DeleteUsage(ctx context.Context, ref string) error {
	_, err := s.db.NewDelete().Model((*usageRow)(nil)).Where("ref = ?", ref).Exec(ctx)
	return domain.Persistence(err)
}
