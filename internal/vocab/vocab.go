// Package vocab maps tokens to stable sparse-vector indices.
//
// Each collection owns one SQLite database. Ids are append-only: an id is
// never reused or reassigned, and every new id is committed with
// synchronous=FULL before it is returned, so a vector can never reference an
// id that a crash would lose.
package vocab

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/llamaha/sagitta-sub001/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS vocabulary (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

const fingerprintKey = "tokenizer_fingerprint"

// Manager is the token↔id table of one collection. Safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	ids    map[string]uint32
	closed bool
}

// Open opens (or creates) the vocabulary at path. fingerprint identifies the
// tokenizer configuration; opening a vocabulary built with a different
// configuration fails with ERR_407_TOKENIZER_MISMATCH. An empty path opens an
// in-memory vocabulary.
func Open(ctx context.Context, path, fingerprint string) (*Manager, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.VocabularyPersistenceError("create vocabulary directory", err).WithDetail("path", path)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.VocabularyPersistenceError("open vocabulary", err).WithDetail("path", path)
	}

	// Single writer; also keeps an in-memory database alive on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.VocabularyPersistenceError("set pragma", err).WithDetail("pragma", pragma)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.VocabularyPersistenceError("create schema", err)
	}

	m := &Manager{db: db, path: path, ids: make(map[string]uint32)}
	if err := m.checkFingerprint(ctx, fingerprint); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	slog.Debug("vocabulary_opened",
		slog.String("path", path),
		slog.Int("tokens", len(m.ids)))
	return m, nil
}

func (m *Manager) checkFingerprint(ctx context.Context, fingerprint string) error {
	var stored string
	err := m.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, fingerprintKey).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := m.db.ExecContext(ctx, `INSERT INTO meta(key, value) VALUES(?, ?)`, fingerprintKey, fingerprint); err != nil {
			return errors.VocabularyPersistenceError("record tokenizer fingerprint", err)
		}
		return nil
	case err != nil:
		return errors.VocabularyPersistenceError("read tokenizer fingerprint", err)
	case stored != fingerprint:
		return errors.New(errors.ErrCodeTokenizerMismatch, "vocabulary was built with a different tokenizer configuration", nil).
			WithDetail("path", m.path).
			WithDetail("stored", stored).
			WithDetail("current", fingerprint).
			WithSuggestion("Run 'sagitta repair' to rebuild the index with the current tokenizer settings")
	}
	return nil
}

func (m *Manager) load(ctx context.Context) error {
	rows, err := m.db.QueryContext(ctx, `SELECT id, token FROM vocabulary`)
	if err != nil {
		return errors.VocabularyPersistenceError("load vocabulary", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var token string
		if err := rows.Scan(&id, &token); err != nil {
			return errors.VocabularyPersistenceError("scan vocabulary", err)
		}
		m.ids[token] = uint32(id)
	}
	if err := rows.Err(); err != nil {
		return errors.VocabularyPersistenceError("load vocabulary", err)
	}
	return nil
}

// AddToken returns the id of token, allocating and persisting a new one if
// needed. The id is durable when AddToken returns.
func (m *Manager) AddToken(ctx context.Context, token string) (uint32, error) {
	ids, err := m.AddTokens(ctx, []string{token})
	if err != nil {
		return 0, err
	}
	return ids[token], nil
}

// AddTokens is the batch form of AddToken: all new tokens are inserted in one
// transaction that is committed before the ids are returned.
func (m *Manager) AddTokens(ctx context.Context, tokens []string) (map[string]uint32, error) {
	out := make(map[string]uint32, len(tokens))

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return nil, errors.VocabularyPersistenceError("vocabulary is closed", nil)
	}
	var missing []string
	for _, tok := range tokens {
		if id, ok := m.ids[tok]; ok {
			out[tok] = id
		} else {
			missing = append(missing, tok)
		}
	}
	m.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.VocabularyPersistenceError("vocabulary is closed", nil)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.VocabularyPersistenceError("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert, err := tx.PrepareContext(ctx, `INSERT INTO vocabulary(token) VALUES(?) ON CONFLICT(token) DO NOTHING`)
	if err != nil {
		return nil, errors.VocabularyPersistenceError("prepare insert", err)
	}
	defer insert.Close()
	lookup, err := tx.PrepareContext(ctx, `SELECT id FROM vocabulary WHERE token = ?`)
	if err != nil {
		return nil, errors.VocabularyPersistenceError("prepare lookup", err)
	}
	defer lookup.Close()

	allocated := make(map[string]uint32, len(missing))
	for _, tok := range missing {
		// Another goroutine may have added it between the locks.
		if id, ok := m.ids[tok]; ok {
			out[tok] = id
			continue
		}
		if _, ok := allocated[tok]; ok {
			continue
		}
		if _, err := insert.ExecContext(ctx, tok); err != nil {
			return nil, errors.VocabularyPersistenceError("insert token", err)
		}
		var id int64
		if err := lookup.QueryRowContext(ctx, tok).Scan(&id); err != nil {
			return nil, errors.VocabularyPersistenceError("read token id", err)
		}
		if id > math.MaxUint32 {
			return nil, errors.VocabularyPersistenceError(fmt.Sprintf("token id %d exceeds sparse index range", id), nil)
		}
		allocated[tok] = uint32(id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.VocabularyPersistenceError("commit tokens", err)
	}

	// Only publish ids once they are durable.
	for tok, id := range allocated {
		m.ids[tok] = id
		out[tok] = id
	}
	return out, nil
}

// GetID looks up a token without ever inserting it. Tokens added by another
// process since Open are found through the database.
func (m *Manager) GetID(ctx context.Context, token string) (uint32, bool) {
	m.mu.RLock()
	id, ok := m.ids[token]
	closed := m.closed
	m.mu.RUnlock()
	if ok || closed {
		return id, ok
	}

	var dbID int64
	if err := m.db.QueryRowContext(ctx, `SELECT id FROM vocabulary WHERE token = ?`, token).Scan(&dbID); err != nil {
		if err != sql.ErrNoRows {
			slog.Debug("vocabulary_lookup_failed",
				slog.String("token", token),
				slog.String("error", err.Error()))
		}
		return 0, false
	}

	m.mu.Lock()
	m.ids[token] = uint32(dbID)
	m.mu.Unlock()
	return uint32(dbID), true
}

// Len returns the number of known tokens.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ids)
}

// Path returns the database path ("" for in-memory).
func (m *Manager) Path() string {
	return m.path
}

// Close releases the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.db.Close()
}
