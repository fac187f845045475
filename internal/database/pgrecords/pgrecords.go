// Package pgrecords archives finalized call records into PostgreSQL for
// long-term retention and cross-instance reporting. It is optional: when no
// DSN is configured the rest of the system runs on SQLite alone.
package pgrecords

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dialcore/dialcore/internal/bus"
	"github.com/dialcore/dialcore/internal/call"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store writes terminal call records to PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens a PostgreSQL connection and runs pending migrations.
func New(dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgresql: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgresql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, logger: logger.With("subsystem", "pgrecords")}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("postgresql archive opened")
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate runs all pending SQL migration files in order.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		s.logger.Info("applied migration", "version", version)
	}

	return nil
}

// Archive upserts the terminal snapshot of a call. Replayed events hit the
// conflict branch and leave the existing row untouched.
func (s *Store) Archive(ctx context.Context, sess call.Session) error {
	var recordingRef *string
	if sess.RecordingRef != "" {
		recordingRef = &sess.RecordingRef
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO archived_calls (call_id, from_number, to_number, direction, state,
		     started_at, ended_at, duration_seconds, recording_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (call_id) DO NOTHING`,
		sess.ID, sess.From, sess.To, string(sess.Direction), string(sess.State),
		sess.StartedAt, sess.EndedAt, sess.DurationSeconds, recordingRef,
	)
	if err != nil {
		return fmt.Errorf("archiving call %s: %w", sess.ID, err)
	}
	return nil
}

// CountArchived returns the number of archived calls.
func (s *Store) CountArchived(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archived_calls`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting archived calls: %w", err)
	}
	return count, nil
}

// Run consumes ended-call events from the subscription until the context is
// canceled or the subscription is closed. Archive failures are logged and
// skipped; the archive is best-effort by design of the event bus.
func (s *Store) Run(ctx context.Context, sub *bus.Subscription) {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					s.logger.Warn("archive subscription dropped", "error", err)
				}
				return
			}
			if ev.Type != bus.EventCallEnded {
				continue
			}
			if err := s.Archive(ctx, ev.Call); err != nil {
				s.logger.Error("archiving call failed", "call_id", ev.Call.ID, "error", err)
			}
		}
	}
}
