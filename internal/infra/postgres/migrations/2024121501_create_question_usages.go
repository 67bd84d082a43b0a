package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
)

var (
	//go:embed 0002_create_question_usages.up.sql
	createUsagesSQL string
	//go:embed 0002_create_question_usages.down.sql
	dropUsagesSQL string
)

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createUsagesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, dropUsagesSQL)
			return err
		},
	)
}
