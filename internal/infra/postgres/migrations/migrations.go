package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_identity.sql
var identitySQL string

//go:embed 0002_catalog.sql
var catalogSQL string

//go:embed 0003_tournaments.sql
var tournamentsSQL string

//go:embed 0004_attempts.sql
var attemptsSQL string

var Migrations = migrate.NewMigrations()

func init() {
	register("0001", "identity", identitySQL, `DROP TABLE IF EXISTS activity_log, guest_accounts, users CASCADE`)
	register("0002", "catalog", catalogSQL, `DROP TABLE IF EXISTS quiz_attempts, item_questions, options, questions, items, categories, quizzes CASCADE`)
	register("0003", "tournaments", tournamentsSQL, `DROP TABLE IF EXISTS tournament_winners, tournament_prizes, tournament_questions, tournaments CASCADE`)
	register("0004", "attempts", attemptsSQL, `DROP TABLE IF EXISTS leaderboard_entries, tournament_attempt_questions, tournament_attempts CASCADE`)
}

func register(name, comment, up, down string) {
	Migrations.Add(migrate.Migration{
		Name:    name,
		Comment: comment,
		Up: func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, up)
			return err
		},
		Down: func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, down)
			return err
		},
	})
}
