// Package recording captures labelled sensor sessions for training the
// activity model: a CSV file per session and, optionally, a SQLite store.
package recording

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/activity.report/internal/sensor"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("recording session not found")

// Store persists recording sessions in SQLite.
type Store struct {
	db *sql.DB
}

// Session describes one labelled recording.
type Session struct {
	ID          string     `json:"id"`
	Label       string     `json:"label"`
	Source      string     `json:"source"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	SampleCount int        `json:"sample_count"`
}

// OpenStore opens (creating if needed) the database at path and applies any
// pending migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the shared database handle.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty state.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// StartSession creates a new session.
func (s *Store) StartSession(ctx context.Context, label, source string, started time.Time) (Session, error) {
	sess := Session{
		ID:        uuid.NewString(),
		Label:     label,
		Source:    source,
		StartedAt: started.UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recording_sessions (session_id, label, source, started_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Label, sess.Source, sess.StartedAt)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// AppendSamples stores samples after those already in the session, in one
// transaction.
func (s *Store) AppendSamples(ctx context.Context, sessionID string, samples []sensor.RawSample) error {
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var next int
	err = tx.QueryRowContext(ctx,
		`SELECT sample_count FROM recording_sessions WHERE session_id = ?`, sessionID).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO recording_samples (session_id, seq, timestamp, ax, ay, az, gx, gy, gz)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, smp := range samples {
		if _, err := stmt.ExecContext(ctx, sessionID, next+i, smp.Timestamp,
			smp.Accel.X, smp.Accel.Y, smp.Accel.Z, smp.Gyro.X, smp.Gyro.Y, smp.Gyro.Z); err != nil {
			return fmt.Errorf("failed to insert sample %d: %w", next+i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE recording_sessions SET sample_count = ? WHERE session_id = ?`,
		next+len(samples), sessionID); err != nil {
		return fmt.Errorf("failed to update sample count: %w", err)
	}
	return tx.Commit()
}

// EndSession marks a session finished.
func (s *Store) EndSession(ctx context.Context, sessionID string, ended time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recording_sessions SET ended_at = ? WHERE session_id = ?`, ended.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return nil
}

// Sessions lists sessions, most recent first. An empty label lists all.
func (s *Store) Sessions(ctx context.Context, label string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, label, source, started_at, ended_at, sample_count
		   FROM recording_sessions
		  WHERE ? = '' OR label = ?
		  ORDER BY started_at DESC`, label, label)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess  Session
			ended sql.NullTime
		)
		if err := rows.Scan(&sess.ID, &sess.Label, &sess.Source, &sess.StartedAt, &ended, &sess.SampleCount); err != nil {
			return nil, err
		}
		if ended.Valid {
			t := ended.Time
			sess.EndedAt = &t
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Samples returns a session's samples in arrival order.
func (s *Store) Samples(ctx context.Context, sessionID string) ([]sensor.RawSample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT timestamp, ax, ay, az, gx, gy, gz FROM recording_samples
		  WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to read samples: %w", err)
	}
	defer rows.Close()

	var out []sensor.RawSample
	for rows.Next() {
		var smp sensor.RawSample
		if err := rows.Scan(&smp.Timestamp, &smp.Accel.X, &smp.Accel.Y, &smp.Accel.Z,
			&smp.Gyro.X, &smp.Gyro.Y, &smp.Gyro.Z); err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}
