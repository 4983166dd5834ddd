// Package history archives punishment outcomes in Postgres so incidents
// outlive the in-memory engine and the key-value store retention.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"aegis-community/internal/antinuke"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Archive struct {
	db *sql.DB
}

var _ antinuke.Archiver = (*Archive)(nil)

// Open connects through the pgx stdlib driver and verifies the connection.
func Open(ctx context.Context, url string) (*Archive, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return &Archive{db: db}, nil
}

// Migrate applies the embedded goose migrations.
func (a *Archive) Migrate() error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(a.db, "migrations")
}

func (a *Archive) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func (a *Archive) ArchiveOutcome(ctx context.Context, outcome antinuke.PunishmentOutcome) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO punishment_outcomes
  (incident_id, guild_id, actor_id, level, action, trigger_action, reason, duration_ms, error, applied_at)
VALUES
  ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (incident_id) DO NOTHING
`, outcome.IncidentID, outcome.GuildID, outcome.ActorID, int(outcome.Level), string(outcome.Action),
		string(outcome.Trigger), outcome.Reason, outcome.Duration.Milliseconds(), outcome.Error, outcome.AppliedAt)
	if err != nil {
		return fmt.Errorf("archive outcome: %w", err)
	}
	return nil
}

// Recent returns the actor's newest outcomes, at most limit of them.
func (a *Archive) Recent(ctx context.Context, guildID, actorID string, limit int) ([]antinuke.PunishmentOutcome, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT incident_id, guild_id, actor_id, level, action, trigger_action, reason, duration_ms, error, applied_at
  FROM punishment_outcomes
 WHERE guild_id = $1 AND actor_id = $2
 ORDER BY applied_at DESC
 LIMIT $3
`, guildID, actorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []antinuke.PunishmentOutcome
	for rows.Next() {
		var (
			outcome    antinuke.PunishmentOutcome
			level      int
			action     string
			trigger    string
			durationMs int64
		)
		if err := rows.Scan(&outcome.IncidentID, &outcome.GuildID, &outcome.ActorID, &level, &action, &trigger,
			&outcome.Reason, &durationMs, &outcome.Error, &outcome.AppliedAt); err != nil {
			return nil, err
		}
		outcome.Level = antinuke.Level(level)
		outcome.Action = antinuke.Punishment(action)
		outcome.Trigger = antinuke.ActionType(trigger)
		outcome.Duration = time.Duration(durationMs) * time.Millisecond
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}
