package identity

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/Aman-CERP/indexkeeper/internal/errors"
)

// SQLiteStore keeps identities in a SQLite database. Several processes may
// open the same file.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ Directory = (*SQLiteStore)(nil)

// OpenSQLite opens or creates the identity database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection; other processes wait on busy_timeout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		name         TEXT NOT NULL UNIQUE COLLATE NOCASE,
		alias        TEXT NOT NULL DEFAULT '',
		email        TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		owner        TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }

const selectColumns = `SELECT id, name, alias, email, display_name, owner FROM identities`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (Identity, error) {
	var i Identity
	err := row.Scan(&i.ID, &i.Name, &i.Alias, &i.Email, &i.DisplayName, &i.Owner)
	return i, err
}

// ByID returns the identity with the given stable id.
func (s *SQLiteStore) ByID(ctx context.Context, id int64) (Identity, error) {
	return s.queryOne(ctx, strconv.FormatInt(id, 10), selectColumns+` WHERE id = ?`, id)
}

// ByName returns the identity with the given name, ignoring case.
func (s *SQLiteStore) ByName(ctx context.Context, name string) (Identity, error) {
	return s.queryOne(ctx, name, selectColumns+` WHERE name = ?`, name)
}

func (s *SQLiteStore) queryOne(ctx context.Context, key, query string, arg any) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Identity{}, errors.ErrClosed
	}

	i, err := scanIdentity(s.db.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return Identity{}, errors.NotFound("identity", key)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("failed to load identity %s: %w", key, err)
	}
	return i, nil
}

// Each calls fn for every identity in id order. An error from fn stops the
// scan and is returned. fn may call back into the store.
func (s *SQLiteStore) Each(ctx context.Context, fn func(Identity) error) error {
	all, err := s.list(ctx)
	if err != nil {
		return err
	}
	for _, i := range all {
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) list(ctx context.Context) ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var all []Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity: %w", err)
		}
		all = append(all, i)
	}
	return all, rows.Err()
}

// Count returns the number of identities.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.ErrClosed
	}
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n)
	return n, err
}

// Create inserts i and returns it with its assigned id.
func (s *SQLiteStore) Create(ctx context.Context, i Identity) (Identity, error) {
	if err := validate(i); err != nil {
		return Identity{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Identity{}, errors.ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (name, alias, email, display_name, owner) VALUES (?, ?, ?, ?, ?)`,
		i.Name, i.Alias, i.Email, i.DisplayName, strings.ToLower(i.Owner))
	if err != nil {
		return Identity{}, fmt.Errorf("failed to create identity %s: %w", i.Name, err)
	}
	if i.ID, err = res.LastInsertId(); err != nil {
		return Identity{}, err
	}
	i.Owner = strings.ToLower(i.Owner)
	slog.Debug("identity_created", slog.Int64("id", i.ID), slog.String("name", i.Name))
	return i, nil
}

// Update rewrites every field of the identity with i.ID.
func (s *SQLiteStore) Update(ctx context.Context, i Identity) error {
	if err := validate(i); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE identities SET name = ?, alias = ?, email = ?, display_name = ?, owner = ? WHERE id = ?`,
		i.Name, i.Alias, i.Email, i.DisplayName, strings.ToLower(i.Owner), i.ID)
	if err != nil {
		return fmt.Errorf("failed to update identity %d: %w", i.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("identity", strconv.FormatInt(i.ID, 10))
	}
	return nil
}

// Delete removes the identity with id. Deleting a missing id is not an
// error.
func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete identity %d: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func validate(i Identity) error {
	if strings.TrimSpace(i.Name) == "" {
		return errors.ValidationError("identity name is required", nil)
	}
	if _, err := strconv.ParseInt(i.Name, 10, 64); err == nil {
		return errors.ValidationError(fmt.Sprintf("identity name %q must not be numeric", i.Name), nil)
	}
	return nil
}
