package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Site schemas are versioned by numbered SQL files such as
// "001_radiopharmacy.sql". Every schema carries its own schema_version
// ledger of the files applied to it.
const ledgerDDL = `CREATE TABLE IF NOT EXISTS %s.schema_version (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var errAlreadyApplied = errors.New("already applied")

type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus is one migration file and, once applied to a schema,
// when that happened.
type MigrationStatus struct {
	Version   int
	Name      string
	AppliedAt *time.Time
}

func (s MigrationStatus) Applied() bool {
	return s.AppliedAt != nil
}

type Migrator struct {
	pool  *pgxpool.Pool
	files fs.FS
}

// NewMigrator reads migrations from the root of files, usually the embedded
// migrations package.
func NewMigrator(pool *pgxpool.Pool, files fs.FS) *Migrator {
	return &Migrator{pool: pool, files: files}
}

// migrationVersion returns the numeric prefix of a migration filename.
func migrationVersion(name string) (int, bool) {
	if path.Ext(name) != ".sql" {
		return 0, false
	}
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(prefix)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// Migrations returns the top-level .sql files ordered by version. Files
// without a positive numeric prefix are ignored; a repeated version is an
// error.
func (m *Migrator) Migrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	var migs []Migration
	for _, entry := range entries {
		version, ok := migrationVersion(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		body, err := fs.ReadFile(m.files, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		migs = append(migs, Migration{Version: version, Name: entry.Name(), SQL: string(body)})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	for i := 1; i < len(migs); i++ {
		if migs[i].Version == migs[i-1].Version {
			return nil, fmt.Errorf("migrations %s and %s share version %d",
				migs[i-1].Name, migs[i].Name, migs[i].Version)
		}
	}
	return migs, nil
}

// Up applies every migration missing from the schema's ledger and reports
// how many ran. Each file runs in its own transaction under an advisory lock
// on the schema, so concurrent runners apply each file once.
func (m *Migrator) Up(ctx context.Context, schema string) (int, error) {
	statuses, err := m.Status(ctx, schema)
	if err != nil {
		return 0, err
	}
	migs, err := m.Migrations()
	if err != nil {
		return 0, err
	}

	count := 0
	for i, mig := range migs {
		if statuses[i].Applied() {
			continue
		}
		err := m.apply(ctx, schema, mig)
		if errors.Is(err, errAlreadyApplied) {
			continue
		}
		if err != nil {
			return count, fmt.Errorf("migration %s: %w", mig.Name, err)
		}
		count++
	}
	return count, nil
}

func (m *Migrator) apply(ctx context.Context, schema string, mig Migration) error {
	return pgx.BeginFunc(ctx, m.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", schema); err != nil {
			return fmt.Errorf("lock %s: %w", schema, err)
		}
		var done bool
		err := tx.QueryRow(ctx,
			fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s.schema_version WHERE version = $1)", schema),
			mig.Version).Scan(&done)
		if err != nil {
			return fmt.Errorf("check ledger: %w", err)
		}
		if done {
			return errAlreadyApplied
		}

		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL search_path TO %s, public", schema)); err != nil {
			return fmt.Errorf("set search_path: %w", err)
		}
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, "INSERT INTO schema_version (version, name) VALUES ($1, $2)", mig.Version, mig.Name)
		return err
	})
}

// Status lists every migration file with its applied time in schema,
// creating the schema and its ledger first if needed.
func (m *Migrator) Status(ctx context.Context, schema string) ([]MigrationStatus, error) {
	migs, err := m.Migrations()
	if err != nil {
		return nil, err
	}
	for _, ddl := range []string{"CREATE SCHEMA IF NOT EXISTS %s", ledgerDDL} {
		if _, err := m.pool.Exec(ctx, fmt.Sprintf(ddl, schema)); err != nil {
			return nil, fmt.Errorf("prepare %s: %w", schema, err)
		}
	}

	rows, err := m.pool.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s.schema_version", schema))
	if err != nil {
		return nil, fmt.Errorf("read ledger of %s: %w", schema, err)
	}
	applied, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ledgerRow, error) {
		var r ledgerRow
		err := row.Scan(&r.version, &r.appliedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("read ledger of %s: %w", schema, err)
	}
	return mergeLedger(migs, applied), nil
}

type ledgerRow struct {
	version   int
	appliedAt time.Time
}

// mergeLedger pairs each migration with its ledger row, if any. Ledger rows
// for files no longer shipped are dropped.
func mergeLedger(migs []Migration, ledger []ledgerRow) []MigrationStatus {
	at := make(map[int]time.Time, len(ledger))
	for _, r := range ledger {
		at[r.version] = r.appliedAt
	}
	statuses := make([]MigrationStatus, len(migs))
	for i, mig := range migs {
		statuses[i] = MigrationStatus{Version: mig.Version, Name: mig.Name}
		if t, ok := at[mig.Version]; ok {
			statuses[i].AppliedAt = &t
		}
	}
	return statuses
}
