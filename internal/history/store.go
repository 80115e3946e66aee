// Package history persists one row per completed guest iteration to a
// local SQLite file, purely as an operator-facing debugging aid — it
// is never consulted by the manager protocol.
package history

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Outcome classifies how one iteration ended.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeFailureExit    Outcome = "failure_exit"
	OutcomeFailureSignal  Outcome = "failure_signal"
	OutcomeFailureTimeout Outcome = "failure_timeout"
)

// Entry is one completed iteration.
type Entry struct {
	ModuleUUID  string
	ModuleIndex int
	Iteration   int
	Outcome     Outcome
	Detail      string
	CPUTimeUS   uint64
	RecordedAt  time.Time
}

// Store wraps a SQLite-backed iterations table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite file at dsn and
// applies any pending migrations.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", dsn, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// pendingMigrations lists the embedded *.sql filenames not yet recorded
// in schema_migrations, in apply order.
func (s *Store) pendingMigrations() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("history: list embedded migrations: %w", err)
	}
	var all []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			all = append(all, e.Name())
		}
	}
	sort.Strings(all)

	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("history: list applied migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("history: scan applied migration: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: list applied migrations: %w", err)
	}

	pending := all[:0]
	for _, name := range all {
		if !applied[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// migrate bootstraps schema_migrations, then applies every pending
// migration file in one transaction each: run its SQL, record its
// version, commit. A mid-run failure leaves earlier migrations applied
// and the rest pending for the next Open.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("history: bootstrap schema_migrations: %w", err)
	}

	pending, err := s.pendingMigrations()
	if err != nil {
		return err
	}

	for _, name := range pending {
		if err := s.applyMigration(name); err != nil {
			return fmt.Errorf("history: apply %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(name string) error {
	content, err := migrationsFS.ReadFile("migrations/" + name)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(content)); err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", name); err != nil {
		return fmt.Errorf("record applied version: %w", err)
	}
	return tx.Commit()
}

// Record appends one iteration row.
func (s *Store) Record(e Entry) error {
	_, err := s.db.Exec(`INSERT INTO iterations
		(module_uuid, module_index, iteration, outcome, detail, cpu_time_us)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ModuleUUID, e.ModuleIndex, e.Iteration, string(e.Outcome), nullableString(e.Detail), e.CPUTimeUS)
	if err != nil {
		return fmt.Errorf("record iteration: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Recent returns the n most recent rows for moduleUUID, newest first.
func (s *Store) Recent(moduleUUID string, n int) ([]Entry, error) {
	rows, err := s.db.Query(`SELECT module_uuid, module_index, iteration, outcome, COALESCE(detail, ''), cpu_time_us, recorded_at
		FROM iterations WHERE module_uuid = ? ORDER BY id DESC LIMIT ?`, moduleUUID, n)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		var recordedAt time.Time
		if err := rows.Scan(&e.ModuleUUID, &e.ModuleIndex, &e.Iteration, &outcome, &e.Detail, &e.CPUTimeUS, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		e.Outcome = Outcome(outcome)
		e.RecordedAt = recordedAt
		out = append(out, e)
	}
	return out, rows.Err()
}
