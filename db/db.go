// Package db provides the Postgres connection, schema migration and the optional archive that
// mirrors every logged record into the chat_records table.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/ghostlog/record"
	"github.com/onnwee/ghostlog/telemetry"
)

// ErrNoDSN is returned by Connect when no DSN is configured.
var ErrNoDSN = errors.New("db: empty DSN")

// Connect opens a Postgres connection for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	database.SetMaxOpenConns(4)
	database.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return database, nil
}

// Archive inserts records into chat_records. It satisfies recorder.Sink.
type Archive struct {
	db  *sql.DB
	now func() time.Time
}

// NewArchive wraps an open, migrated database.
func NewArchive(database *sql.DB) *Archive {
	return &Archive{db: database, now: time.Now}
}

// Store inserts one record. body holds the canonical encoding, tags the tag map as jsonb.
// Tag bytes jsonb cannot hold are replaced by U+FFFD there; body keeps the exact bytes.
func (a *Archive) Store(ctx context.Context, channel string, rec record.Record) error {
	ctx, span := telemetry.StartSpan(ctx, "db", "archive.store")
	defer span.End()

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO chat_records (channel, command, body, tags, recorded_at) VALUES ($1, $2, $3, $4::jsonb, $5)`,
		channel, rec.Command(), rec.Encode(), jsonbTags(rec.RecordTags()), a.now().UTC())
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("insert chat record: %w", err)
	}
	return nil
}

// jsonbTags renders t for a jsonb column, which rejects invalid UTF-8 and NUL.
func jsonbTags(t record.Tags) string {
	clean := func(s string) string {
		return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "\uFFFD")
	}
	out := make(record.Tags, len(t))
	for k, v := range t {
		out[clean(k)] = clean(v)
	}
	return out.String()
}

// Row is one archived record.
type Row struct {
	ID         int64
	Channel    string
	Command    string
	Body       string
	Tags       record.Tags
	RecordedAt time.Time
}

// Recent returns up to limit records of channel, newest first.
func (a *Archive) Recent(ctx context.Context, channel string, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT id, channel, command, body, tags::text, recorded_at FROM chat_records WHERE channel = $1 ORDER BY recorded_at DESC, id DESC LIMIT $2`,
		channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query chat records: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var tags string
		if err := rows.Scan(&r.ID, &r.Channel, &r.Command, &r.Body, &tags, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan chat record: %w", err)
		}
		if r.Tags, err = record.ParseTags(tags); err != nil {
			return nil, fmt.Errorf("chat record %d: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
