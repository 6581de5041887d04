// Package repostate is the registry of repositories and their sync
// watermarks, kept in a SQLite database under the data directory.
package repostate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	name                TEXT PRIMARY KEY,
	tenant              TEXT NOT NULL,
	path                TEXT NOT NULL,
	branch              TEXT NOT NULL,
	collection_name     TEXT NOT NULL UNIQUE,
	last_synced_commit  TEXT NOT NULL DEFAULT '',
	last_synced_at      INTEGER NOT NULL DEFAULT 0,
	last_repair_reason  TEXT NOT NULL DEFAULT '',
	added_at            INTEGER NOT NULL
);`

// Repository is one registered repository.
type Repository struct {
	Name   string
	Tenant string
	// Path is the absolute path of the working tree.
	Path   string
	Branch string
	// CollectionName is derived once at registration and never shared.
	CollectionName   string
	LastSyncedCommit string
	LastSyncedAt     time.Time
	LastRepairReason string
	AddedAt          time.Time
}

// Store persists repositories. Safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the registry at path. An empty path keeps it in
// memory.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, persistError("create registry directory", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, persistError("open registry", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, persistError("set pragma", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, persistError("create schema", err)
	}
	return &Store{db: db, path: path}, nil
}

func persistError(msg string, err error) *errors.SagittaError {
	return errors.New(errors.ErrCodeStatePersist, msg, err)
}

// Add registers a repository. Names are unique.
func (s *Store) Add(ctx context.Context, r *Repository) error {
	if r.Name == "" || r.Path == "" || r.CollectionName == "" {
		return errors.ValidationError("repository name, path and collection are required", nil)
	}
	if !ValidName(r.Name) {
		return errors.ValidationError(fmt.Sprintf("repository name %q may only contain letters, digits, '_' and '-'", r.Name), nil)
	}
	if r.AddedAt.IsZero() {
		r.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories(name, tenant, path, branch, collection_name, added_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		r.Name, r.Tenant, r.Path, r.Branch, r.CollectionName, r.AddedAt.UnixNano())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return errors.ValidationError(fmt.Sprintf("repository %q is already registered", r.Name), err)
		}
		return persistError("add repository", err)
	}
	return nil
}

const selectColumns = `name, tenant, path, branch, collection_name, last_synced_commit,
	last_synced_at, last_repair_reason, added_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRepository(row scanner) (*Repository, error) {
	var r Repository
	var syncedAt, addedAt int64
	err := row.Scan(&r.Name, &r.Tenant, &r.Path, &r.Branch, &r.CollectionName,
		&r.LastSyncedCommit, &syncedAt, &r.LastRepairReason, &addedAt)
	if err != nil {
		return nil, err
	}
	if syncedAt != 0 {
		r.LastSyncedAt = time.Unix(0, syncedAt)
	}
	r.AddedAt = time.Unix(0, addedAt)
	return &r, nil
}

// Get returns a repository by name.
func (s *Store) Get(ctx context.Context, name string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM repositories WHERE name = ?`, name)
	r, err := scanRepository(row)
	if err == sql.ErrNoRows {
		return nil, errors.RepoNotFound(name)
	}
	if err != nil {
		return nil, persistError("read repository", err)
	}
	return r, nil
}

// List returns every repository ordered by name.
func (s *Store) List(ctx context.Context) ([]*Repository, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM repositories ORDER BY name`)
	if err != nil {
		return nil, persistError("list repositories", err)
	}
	defer rows.Close()

	var out []*Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, persistError("scan repository", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistError("list repositories", err)
	}
	return out, nil
}

// Remove unregisters a repository.
func (s *Store) Remove(ctx context.Context, name string) error {
	return s.update(ctx, "remove repository", name, `DELETE FROM repositories WHERE name = ?`, name)
}

// SetWatermark records the commit a sync fully indexed.
func (s *Store) SetWatermark(ctx context.Context, name, commit string, at time.Time) error {
	return s.update(ctx, "write watermark", name,
		`UPDATE repositories SET last_synced_commit = ?, last_synced_at = ? WHERE name = ?`,
		commit, at.UnixNano(), name)
}

// ClearWatermark forgets the last synced commit so the next sync is Full.
func (s *Store) ClearWatermark(ctx context.Context, name string) error {
	return s.update(ctx, "clear watermark", name,
		`UPDATE repositories SET last_synced_commit = '' WHERE name = ?`, name)
}

// SetRepairReason records why a repository was last repaired.
func (s *Store) SetRepairReason(ctx context.Context, name, reason string) error {
	return s.update(ctx, "write repair reason", name,
		`UPDATE repositories SET last_repair_reason = ? WHERE name = ?`, reason, name)
}

func (s *Store) update(ctx context.Context, op, name, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return persistError(op, err).WithDetail("repo", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistError(op, err).WithDetail("repo", name)
	}
	if n == 0 {
		return errors.RepoNotFound(name)
	}
	return nil
}

// Path returns the database path, or "" when in memory.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CollectionName derives the collection of a tenant's repository branch:
// <prefix><tenant>_<repo>_br_<first 8 hex of sha256(branch)>, restricted to
// [a-z0-9_-].
func CollectionName(prefix, tenant, repo, branch string) string {
	sum := sha256.Sum256([]byte(branch))
	name := fmt.Sprintf("%s%s_%s_br_%s", prefix, tenant, repo, hex.EncodeToString(sum[:4]))
	return sanitize(name)
}

// ValidName reports whether name survives sanitizing unchanged apart from
// case. Names are used as lock file names and collection name parts.
func ValidName(name string) bool {
	return name != "" && sanitize(name) == strings.ToLower(name)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
