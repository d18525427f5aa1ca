// Package ledger keeps a local SQLite record of every staged artifact and
// its upload confirmation. The ledger is an audit trail, not a gatekeeper:
// capture and upload never block on it.
package ledger

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/bugg-resources/buggd/internal/fsutil"
	"github.com/bugg-resources/buggd/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Artifact is one ledger row.
type Artifact struct {
	ID         string
	Path       string
	Mode       int
	Bytes      int64
	CreatedAt  time.Time
	UploadedAt *time.Time
	Missing    bool
}

// Ledger wraps the artifact database.
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger at path and applies pending
// schema migrations.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	// A single writer keeps SQLite happy on flash storage.
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("ledger: migration source: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("ledger: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("ledger: migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ledger: migrate up: %w", err)
	}
	return nil
}

// migrateLogger routes migrate output through the package logger.
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool { return false }

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Stage records a freshly processed artifact and returns its id.
func (l *Ledger) Stage(path string, mode int, bytes int64) (string, error) {
	id := uuid.NewString()
	_, err := l.db.Exec(
		`INSERT INTO artifacts (id, path, mode, bytes) VALUES (?, ?, ?, ?)`,
		id, filepath.Clean(path), mode, bytes)
	if err != nil {
		return "", fmt.Errorf("ledger: stage %s: %w", path, err)
	}
	return id, nil
}

// MarkUploaded confirms the artifact at path. Unknown paths are ignored:
// artifacts recorded before a ledger wipe still upload fine.
func (l *Ledger) MarkUploaded(path string) error {
	_, err := l.db.Exec(
		`UPDATE artifacts SET uploaded_at = CURRENT_TIMESTAMP
		 WHERE path = ? AND uploaded_at IS NULL`,
		filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("ledger: mark uploaded %s: %w", path, err)
	}
	return nil
}

// Pending returns artifacts staged but not yet confirmed uploaded,
// oldest first.
func (l *Ledger) Pending() ([]Artifact, error) {
	rows, err := l.db.Query(
		`SELECT id, path, mode, bytes, created_at, uploaded_at, missing
		 FROM artifacts WHERE uploaded_at IS NULL AND missing = 0
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("ledger: query pending: %w", err)
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		var uploaded sql.NullTime
		var missing int
		if err := rows.Scan(&a.ID, &a.Path, &a.Mode, &a.Bytes, &a.CreatedAt, &uploaded, &missing); err != nil {
			return nil, fmt.Errorf("ledger: scan: %w", err)
		}
		if uploaded.Valid {
			t := uploaded.Time
			a.UploadedAt = &t
		}
		a.Missing = missing != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// Reconcile marks pending rows whose file no longer exists on disk. These
// are artifacts that were uploaded and deleted without the confirmation
// landing (crash mid-sync), or files lost to card problems. Returns how
// many rows were newly marked.
func (l *Ledger) Reconcile(fsys fsutil.FileSystem) (int, error) {
	pending, err := l.Pending()
	if err != nil {
		return 0, err
	}
	marked := 0
	for _, a := range pending {
		if fsys.Exists(a.Path) {
			continue
		}
		if _, err := l.db.Exec(`UPDATE artifacts SET missing = 1 WHERE id = ?`, a.ID); err != nil {
			return marked, fmt.Errorf("ledger: mark missing %s: %w", a.Path, err)
		}
		marked++
	}
	if marked > 0 {
		monitoring.Logf("ledger: reconciled %d orphaned rows", marked)
	}
	return marked, nil
}
