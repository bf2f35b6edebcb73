package backup

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when no backup exists for a hash or path.
var ErrNotFound = errors.New("backup not found")

const (
	backupExt     = ".bak"
	lockRetry     = 50 * time.Millisecond
	ledgerName    = "ledger.db"
	lockName      = ".lock"
	timestampForm = "2006-01-02T15:04:05.000000000Z07:00" // fixed width, sorts lexically
)

var hashPattern = regexp.MustCompile(`^[0-9a-f]{16,128}$`)

// Record describes one backed-up original.
type Record struct {
	Hash      string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// Store keeps original file contents keyed by content hash, plus a ledger of
// which path each hash was taken from.
type Store struct {
	dir  string
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

// Open creates the backup directory if needed and opens its ledger.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir %q: %w", dir, err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, ledgerName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		dir:  dir,
		db:   db,
		lock: flock.New(filepath.Join(dir, lockName)),
		now:  time.Now,
	}, nil
}

// Close closes the ledger.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Dir returns the backup directory.
func (s *Store) Dir() string {
	return s.dir
}

// Put stores data under hash and records that it was taken from path. The
// blob is written once per hash; repeated puts refresh the ledger timestamp.
func (s *Store) Put(ctx context.Context, hash, path string, data []byte) error {
	if !hashPattern.MatchString(hash) {
		return fmt.Errorf("invalid backup hash %q", hash)
	}
	unlock, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	blob := s.blobPath(hash)
	if _, err := os.Stat(blob); errors.Is(err, os.ErrNotExist) {
		if err := writeFileAtomic(blob, data); err != nil {
			return fmt.Errorf("write backup %s: %w", hash, err)
		}
	} else if err != nil {
		return fmt.Errorf("stat backup %s: %w", hash, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO backups (hash, path, size, created_at) VALUES (?, ?, ?, ?)
         ON CONFLICT (hash, path) DO UPDATE SET size = excluded.size, created_at = excluded.created_at`,
		hash, path, int64(len(data)), s.now().UTC().Format(timestampForm),
	)
	if err != nil {
		return fmt.Errorf("record backup %s: %w", hash, err)
	}
	return nil
}

// Reader opens the backup blob for hash.
func (s *Store) Reader(ctx context.Context, hash string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !hashPattern.MatchString(hash) {
		return nil, fmt.Errorf("invalid backup hash %q: %w", hash, ErrNotFound)
	}
	f, err := os.Open(s.blobPath(hash))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("hash %s: %w", hash, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Latest returns the most recent backup taken from path.
func (s *Store) Latest(ctx context.Context, path string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, path, size, created_at FROM backups
         WHERE path = ? ORDER BY created_at DESC LIMIT 1`, path)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("path %s: %w", path, ErrNotFound)
	}
	return rec, err
}

// List returns every ledger record, newest first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, path, size, created_at FROM backups ORDER BY created_at DESC, path`)
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes backups whose newest ledger record is older than cutoff, and
// stray blobs without ledger records last modified before cutoff. It returns
// the number of blobs removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	unlock, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	stamp := cutoff.UTC().Format(timestampForm)
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash FROM backups GROUP BY hash HAVING MAX(created_at) < ?`, stamp)
	if err != nil {
		return 0, fmt.Errorf("select expired backups: %w", err)
	}
	var expired []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			_ = rows.Close()
			return 0, err
		}
		expired = append(expired, hash)
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	removed := 0
	for _, hash := range expired {
		if err := os.Remove(s.blobPath(hash)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove backup %s: %w", hash, err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM backups WHERE hash = ?`, hash); err != nil {
			return removed, fmt.Errorf("delete ledger rows %s: %w", hash, err)
		}
		removed++
	}

	strays, err := s.strayBlobs(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	for _, blob := range strays {
		if err := os.Remove(blob); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) strayBlobs(ctx context.Context, cutoff time.Time) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != backupExt {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		hash := entry.Name()[:len(entry.Name())-len(backupExt)]
		var count int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM backups WHERE hash = ?`, hash).Scan(&count); err != nil {
			return nil, err
		}
		if count == 0 {
			out = append(out, filepath.Join(s.dir, entry.Name()))
		}
	}
	return out, nil
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	ok, err := s.lock.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("acquire backup lock: %w", err)
	}
	if !ok {
		return nil, errors.New("backup store is locked by another process")
	}
	return func() { _ = s.lock.Unlock() }, nil
}

func (s *Store) blobPath(hash string) string {
	return filepath.Join(s.dir, hash+backupExt)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec     Record
		created string
	)
	if err := row.Scan(&rec.Hash, &rec.Path, &rec.Size, &created); err != nil {
		return Record{}, err
	}
	t, err := time.Parse(timestampForm, created)
	if err != nil {
		return Record{}, fmt.Errorf("parse backup timestamp %q: %w", created, err)
	}
	rec.CreatedAt = t
	return rec, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "backup-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
