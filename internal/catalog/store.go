package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrNotFound is returned when no record exists for the requested id.
var ErrNotFound = errors.New("document not found")

// Document is one catalog record. FileRef is a bare filename within managed
// storage, resolved to an absolute path only at use time. Thumbnail is
// optional JPEG bytes; nil is a valid, renderable state. CreatedAt is set
// once at creation and never touched by page edits.
type Document struct {
	ID        string
	Name      string
	FileRef   string
	CreatedAt time.Time
	Thumbnail []byte
}

// Store is the durable document catalog. Mutations are serialized through a
// single writer lock; read-only queries may run from any goroutine. Listing
// order is always re-derived from created_at descending, never from
// insertion order.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    file_ref   TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    thumbnail  BLOB
);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`

// NewStore opens (creating if necessary) the catalog database at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}

	// WAL keeps readers unblocked while the single writer commits.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Insert adds a record. The caller must have durably written the backing
// file first; the insert never precedes the file write.
func (s *Store) Insert(ctx context.Context, d Document) error {
	if d.ID == "" {
		return errors.New("document id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, name, file_ref, created_at, thumbnail) VALUES (?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.FileRef, d.CreatedAt.UnixNano(), d.Thumbnail)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Delete removes the record with the given id. Deleting an absent id is an
// error (ErrNotFound) so callers can distinguish repeat deletes.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, file_ref, created_at, thumbnail FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return d, err
}

// ListAll returns every record ordered by created_at descending (newest
// first), with id as a tiebreak so the ordering is stable.
func (s *Store) ListAll(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, file_ref, created_at, thumbnail FROM documents ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(sc scanner) (Document, error) {
	var d Document
	var createdAt int64
	if err := sc.Scan(&d.ID, &d.Name, &d.FileRef, &createdAt, &d.Thumbnail); err != nil {
		return Document{}, err
	}
	d.CreatedAt = time.Unix(0, createdAt)
	return d, nil
}
