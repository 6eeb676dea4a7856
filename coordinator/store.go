package coordinator

import (
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/samber/lo"
)

// Flags a tracked file can carry after the watcher notices a discrepancy
// between the on-disk file and the record.
const (
	FlagMissing = "missing"
	FlagChanged = "changed"
)

// TrackedFile is the local mirror of a file the user added through this
// client. The server stays authoritative for the catalog; the mirror exists
// so the watcher can flag on-disk drift between refreshes.
type TrackedFile struct {
	Name        string
	Path        string
	Size        int64
	Created     float64
	Modified    float64
	AddedAt     float64
	IsPublished bool
	PublishedAt *float64
	Flag        string
}

// Store provides CRUD operations on the tracked-file database.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts or updates a tracked file keyed by name. Re-adding a file
// clears any stale flag.
func (s *Store) Upsert(f TrackedFile) error {
	l := sub("store")
	l.Debug("Upsert", "name", f.Name, "path", f.Path, "size", f.Size, "published", f.IsPublished)
	_, err := s.db.Exec(`
		INSERT INTO tracked_files (name, path, size, created, modified, added_at, is_published, published_at, flag)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			path         = excluded.path,
			size         = excluded.size,
			created      = excluded.created,
			modified     = excluded.modified,
			is_published = excluded.is_published,
			published_at = excluded.published_at,
			flag         = excluded.flag
	`, f.Name, f.Path, f.Size, f.Created, f.Modified, f.AddedAt, f.IsPublished, f.PublishedAt, f.Flag)
	if err != nil {
		l.Error("Upsert failed", "name", f.Name, "err", err)
		return fmt.Errorf("upsert tracked file: %w", err)
	}
	return nil
}

// Get retrieves a tracked file by name. Returns nil when not tracked.
func (s *Store) Get(name string) (*TrackedFile, error) {
	f := &TrackedFile{}
	err := s.db.QueryRow(`
		SELECT name, path, size, created, modified, added_at, is_published, published_at, flag
		FROM tracked_files WHERE name = ?
	`, name).Scan(&f.Name, &f.Path, &f.Size, &f.Created, &f.Modified, &f.AddedAt, &f.IsPublished, &f.PublishedAt, &f.Flag)
	if err == sql.ErrNoRows {
		if logEnabled(slog.LevelDebug) {
			sub("store").Debug("Get", "name", name, "found", false)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked file: %w", err)
	}
	if logEnabled(slog.LevelDebug) {
		sub("store").Debug("Get", "name", name, "found", true)
	}
	return f, nil
}

// Delete removes a tracked file by name.
func (s *Store) Delete(name string) error {
	sub("store").Debug("Delete", "name", name)
	_, err := s.db.Exec("DELETE FROM tracked_files WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("delete tracked file: %w", err)
	}
	return nil
}

// List returns all tracked files ordered by name.
func (s *Store) List() ([]TrackedFile, error) {
	rows, err := s.db.Query(`
		SELECT name, path, size, created, modified, added_at, is_published, published_at, flag
		FROM tracked_files ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	defer rows.Close()

	var files []TrackedFile
	for rows.Next() {
		var f TrackedFile
		if err := rows.Scan(&f.Name, &f.Path, &f.Size, &f.Created, &f.Modified, &f.AddedAt, &f.IsPublished, &f.PublishedAt, &f.Flag); err != nil {
			return nil, fmt.Errorf("scan tracked file: %w", err)
		}
		files = append(files, f)
	}
	if logEnabled(slog.LevelDebug) {
		sub("store").Debug("List", "count", len(files))
	}
	return files, rows.Err()
}

// SetPublished updates the publish state of a tracked file.
func (s *Store) SetPublished(name string, published bool, publishedAt *float64) error {
	sub("store").Debug("SetPublished", "name", name, "published", published)
	_, err := s.db.Exec(`
		UPDATE tracked_files SET is_published = ?, published_at = ? WHERE name = ?
	`, published, publishedAt, name)
	if err != nil {
		return fmt.Errorf("set published: %w", err)
	}
	return nil
}

// SetFlag records a watcher flag ("missing", "changed" or empty to clear).
func (s *Store) SetFlag(name, flag string) error {
	sub("store").Debug("SetFlag", "name", name, "flag", flag)
	_, err := s.db.Exec("UPDATE tracked_files SET flag = ? WHERE name = ?", flag, name)
	if err != nil {
		return fmt.Errorf("set flag: %w", err)
	}
	return nil
}

// ByPath finds the tracked file whose path matches. Returns nil when the
// path is not tracked.
func (s *Store) ByPath(path string) (*TrackedFile, error) {
	f := &TrackedFile{}
	err := s.db.QueryRow(`
		SELECT name, path, size, created, modified, added_at, is_published, published_at, flag
		FROM tracked_files WHERE path = ?
	`, path).Scan(&f.Name, &f.Path, &f.Size, &f.Created, &f.Modified, &f.AddedAt, &f.IsPublished, &f.PublishedAt, &f.Flag)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked file by path: %w", err)
	}
	return f, nil
}

// Directories returns the distinct parent directories of all tracked files,
// for the watcher to register.
func (s *Store) Directories() ([]string, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	dirs := lo.Uniq(lo.Map(files, func(f TrackedFile, _ int) string {
		return filepath.Dir(f.Path)
	}))
	return dirs, nil
}

// Mirror replaces the publish state of tracked files from a fresh local
// snapshot. Files the server no longer knows about keep their rows; the
// user may re-add them.
func (s *Store) Mirror(snap *Snapshot) error {
	if snap == nil || snap.Set != SetLocal {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for name, rec := range snap.Files {
		_, err := tx.Exec(`
			UPDATE tracked_files SET size = ?, modified = ?, is_published = ?, published_at = ?
			WHERE name = ?
		`, rec.Size, rec.ModifiedAt, rec.IsPublished, rec.PublishedAt, name)
		if err != nil {
			return fmt.Errorf("mirror %q: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	sub("store").Debug("Mirror committed", "count", len(snap.Files))
	return nil
}

// AggregateTrackedSize returns the total size of all tracked files.
func (s *Store) AggregateTrackedSize() (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRow(`SELECT SUM(size) FROM tracked_files`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("aggregate tracked size: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}
