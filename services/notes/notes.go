// Package notes stores notes in SQLite and announces every change.
package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/panyam/livekit/logging"
	"github.com/panyam/livekit/pubsub"
)

// Live query identifiers owned by this package.
const (
	CountField = "Query.noteCount"
	ListField  = "Query.notes"
)

// ErrNotFound is returned for unknown note ids.
var ErrNotFound = errors.New("note not found")

// Identifier names a single note for live query invalidation.
func Identifier(id string) string {
	return "Note:" + id
}

// Note is one stored note.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Kinds of NotesUpdatesPayload.
const (
	KindCreated = "NOTE_CREATED"
	KindDeleted = "NOTE_DELETED"
)

// NotesUpdatesPayload announces a note being added to or removed from the
// list.
type NotesUpdatesPayload struct {
	Kind   string `json:"kind"`
	NoteID string `json:"noteId"`
}

// NoteUpdatePayload announces a change to a single note.
type NoteUpdatePayload struct {
	NoteID string `json:"noteId"`
	Note   *Note  `json:"note,omitempty"`
}

// Invalidator is told which live query identifiers changed.
type Invalidator interface {
	Invalidate(ids ...string) int
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS notes_created_at ON notes (created_at);
`

// Open opens (creating if needed) the SQLite database at dsn and applies the
// schema.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: databases
	// shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// Deps are the collaborators notified on change. All fields are optional.
type Deps struct {
	NotesUpdates *pubsub.Channel[NotesUpdatesPayload]
	NoteUpdate   *pubsub.Channel[NoteUpdatePayload]
	Invalidator  Invalidator
	Logger       logging.Logger
}

// Service reads and writes notes.
type Service struct {
	db   *sql.DB
	deps Deps
	now  func() time.Time
}

func NewService(db *sql.DB, deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Service{db: db, deps: deps, now: time.Now}
}

// Count returns the number of notes.
func (s *Service) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count notes: %w", err)
	}
	return n, nil
}

// List returns every note, oldest first.
func (s *Service) List(ctx context.Context) ([]*Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content, created_at, updated_at FROM notes ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	out := []*Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return out, nil
}

// Get returns one note or ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Note, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, content, created_at, updated_at FROM notes WHERE id = ?`, id)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n, err
}

// Create stores a new note.
func (s *Service) Create(ctx context.Context, title, content string) (*Note, error) {
	now := s.now().UTC()
	n := &Note{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notes (id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		n.ID, n.Title, n.Content, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create note: %w", err)
	}

	if s.deps.NotesUpdates != nil {
		s.deps.NotesUpdates.Publish(NotesUpdatesPayload{Kind: KindCreated, NoteID: n.ID})
	}
	s.invalidate(CountField, ListField)
	s.deps.Logger.WithField("note_id", n.ID).Debug("Created note")
	return n, nil
}

// Update changes a note's title and content.
func (s *Service) Update(ctx context.Context, id, title, content string) (*Note, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, updated_at = ? WHERE id = ?`,
		title, content, now.UnixNano(), id)
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.deps.NoteUpdate != nil {
		s.deps.NoteUpdate.Publish(NoteUpdatePayload{NoteID: id, Note: n})
	}
	s.invalidate(Identifier(id))
	return n, nil
}

// Delete removes a note.
func (s *Service) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if s.deps.NotesUpdates != nil {
		s.deps.NotesUpdates.Publish(NotesUpdatesPayload{Kind: KindDeleted, NoteID: id})
	}
	if s.deps.NoteUpdate != nil {
		s.deps.NoteUpdate.Publish(NoteUpdatePayload{NoteID: id})
	}
	s.invalidate(CountField, ListField, Identifier(id))
	return nil
}

func (s *Service) invalidate(ids ...string) {
	if s.deps.Invalidator != nil {
		s.deps.Invalidator.Invalidate(ids...)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNote(row scanner) (*Note, error) {
	var (
		n                Note
		created, updated int64
	)
	if err := row.Scan(&n.ID, &n.Title, &n.Content, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan note: %w", err)
	}
	n.CreatedAt = time.Unix(0, created).UTC()
	n.UpdatedAt = time.Unix(0, updated).UTC()
	return &n, nil
}
