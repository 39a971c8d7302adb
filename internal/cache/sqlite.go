package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore persists entries in a SQLite database so they survive restarts.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		payload BLOB NOT NULL,
		size INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		compute_ns INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_cache_entries_label ON cache_entries(label);
	CREATE INDEX IF NOT EXISTS idx_cache_entries_last_accessed ON cache_entries(last_accessed);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Get(ctx context.Context, key Key, now time.Time) (*Entry, bool, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_accessed = ? WHERE key = ?`,
		now.UnixNano(), string(key),
	)
	if err != nil {
		return nil, false, err
	}
	e, err := s.get(ctx, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

func (s *SQLiteStore) get(ctx context.Context, key Key) (*Entry, error) {
	var e Entry
	var k string
	var created, accessed, compute int64
	err := s.db.QueryRowContext(ctx,
		`SELECT key, label, payload, size, created_at, last_accessed, hit_count, compute_ns
		 FROM cache_entries WHERE key = ?`, string(key),
	).Scan(&k, &e.Label, &e.Payload, &e.Size, &created, &accessed, &e.HitCount, &compute)
	if err != nil {
		return nil, err
	}
	e.Key = Key(k)
	e.CreatedAt = time.Unix(0, created)
	e.LastAccessed = time.Unix(0, accessed)
	e.ComputeTime = time.Duration(compute)
	return &e, nil
}

// Insert writes the row with INSERT OR IGNORE, so the payload becomes visible in a single
// statement or not at all.
func (s *SQLiteStore) Insert(ctx context.Context, e *Entry) (*Entry, bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_entries (key, label, payload, size, created_at, last_accessed, hit_count, compute_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Key), e.Label, e.Payload, e.Size, e.CreatedAt.UnixNano(), e.LastAccessed.UnixNano(), e.HitCount, int64(e.ComputeTime),
	)
	if err != nil {
		return nil, false, err
	}
	if n, _ := result.RowsAffected(); n == 1 {
		return nil, true, nil
	}
	existing, err := s.get(ctx, e.Key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("entry %s vanished during insert", e.Key.Short())
	}
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]EntryInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, label, size, created_at, last_accessed, hit_count, compute_ns FROM cache_entries ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EntryInfo
	for rows.Next() {
		var info EntryInfo
		var k string
		var created, accessed, compute int64
		if err := rows.Scan(&k, &info.Label, &info.Size, &created, &accessed, &info.HitCount, &compute); err != nil {
			return nil, err
		}
		info.Key = Key(k)
		info.CreatedAt = time.Unix(0, created)
		info.LastAccessed = time.Unix(0, accessed)
		info.ComputeTime = time.Duration(compute)
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, keys ...Key) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM cache_entries WHERE key = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	total := 0
	for _, k := range keys {
		result, err := stmt.ExecContext(ctx, string(k))
		if err != nil {
			return 0, fmt.Errorf("failed to delete %s: %w", k.Short(), err)
		}
		n, _ := result.RowsAffected()
		total += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// Vacuum reclaims space after large cleanups.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths are skipped (contribute 0); errors during walk are returned.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return 0, err
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.Walk(p, func(_ string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !fi.IsDir() {
				total += fi.Size()
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// DiskUsage reports the bytes used by the database and its WAL files.
func (s *SQLiteStore) DiskUsage() (int64, error) {
	paths := []string{s.path}
	for _, suffix := range []string{"-wal", "-shm"} {
		paths = append(paths, s.path+suffix)
	}
	if strings.HasPrefix(s.path, ":memory:") {
		return 0, nil
	}
	return DiskUsageBytes(paths...)
}
