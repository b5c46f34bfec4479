package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/agency/pkg/domain"
	"github.com/nstogner/agency/pkg/store"
)

// Store implements ConversationStore, DocumentStore, and ReportStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.ConversationStore = (*Store)(nil)
var _ store.DocumentStore = (*Store)(nil)
var _ store.ReportStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversation_entries (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		agent TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT 'text',
		content TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		thought_signature BLOB,
		timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		seq INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversation_session_seq ON conversation_entries(session_id, seq);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS reports (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		path TEXT NOT NULL,
		chars INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Databases created before thought signatures were kept lack the column.
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('conversation_entries') WHERE name='thought_signature'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.db.Exec(`ALTER TABLE conversation_entries ADD COLUMN thought_signature BLOB`); err != nil {
			return err
		}
	}
	return nil
}

// --- ConversationStore ---

func (s *Store) Append(ctx context.Context, entry *domain.StreamEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	// Sequence allocation and insert share one statement so concurrent
	// appends to a session cannot collide.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_entries (id, session_id, role, agent, content_type, content, model, thought_signature, timestamp, seq)
		 SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(MAX(seq), 0) + 1 FROM conversation_entries WHERE session_id=?`,
		entry.ID, entry.SessionID, entry.Role, entry.Agent, entry.ContentType,
		entry.Content, entry.Model, entry.ThoughtSignature, entry.Timestamp, entry.SessionID,
	)
	if err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return nil
}

func (s *Store) GetEntries(ctx context.Context, sessionID string, limit int) ([]domain.StreamEntry, error) {
	// Find the seq of the last compaction_summary entry (if any).
	var compactionSeq int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM conversation_entries WHERE session_id=? AND role=?`,
		sessionID, domain.RoleCompactionSummary,
	).Scan(&compactionSeq)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, session_id, role, agent, content_type, content, model, thought_signature, timestamp
		FROM conversation_entries WHERE session_id=? AND seq >= ? ORDER BY seq ASC`
	args := []any{sessionID, compactionSeq}

	if limit > 0 {
		// Subquery to get only the last N entries (from the compacted view) in ASC order.
		query = `SELECT id, session_id, role, agent, content_type, content, model, thought_signature, timestamp FROM (
			SELECT id, session_id, role, agent, content_type, content, model, thought_signature, timestamp, seq
			FROM conversation_entries WHERE session_id=? AND seq >= ? ORDER BY seq DESC LIMIT ?
		) sub ORDER BY seq ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.StreamEntry
	for rows.Next() {
		var e domain.StreamEntry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Agent, &e.ContentType, &e.Content, &e.Model, &e.ThoughtSignature, &e.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Compact(ctx context.Context, sessionID string, summary string) error {
	// Append a compaction summary entry. GetEntries will use this as the new
	// starting point, effectively hiding all older entries from the view.
	return s.Append(ctx, &domain.StreamEntry{
		ID:          "compaction-" + uuid.New().String(),
		SessionID:   sessionID,
		Role:        domain.RoleCompactionSummary,
		ContentType: domain.ContentTypeText,
		Content:     summary,
	})
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_entries WHERE session_id=?`, sessionID)
	return err
}

// --- DocumentStore ---

func (s *Store) CreateDocument(ctx context.Context, doc *domain.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, source, content, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Title, doc.Source, doc.Content, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

func (s *Store) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	doc := &domain.Document{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, source, content, created_at, updated_at FROM documents WHERE id=?`, id,
	).Scan(&doc.ID, &doc.Title, &doc.Source, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return doc, err
}

func (s *Store) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT id, title, source, content, created_at, updated_at
		 FROM documents ORDER BY created_at DESC`)
}

func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) SearchDocuments(ctx context.Context, query string, limit int) ([]domain.Document, error) {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil, nil
	}

	var where []string
	var args []any
	for _, w := range words {
		where = append(where, `(title LIKE '%' || ? || '%' OR content LIKE '%' || ? || '%')`)
		args = append(args, w, w)
	}
	q := `SELECT id, title, source, content, created_at, updated_at FROM documents WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryDocuments(ctx, q, args...)
}

func (s *Store) queryDocuments(ctx context.Context, query string, args ...any) ([]domain.Document, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []domain.Document
	for rows.Next() {
		var d domain.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.Content, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- ReportStore ---

func (s *Store) CreateReport(ctx context.Context, r *domain.Report) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, session_id, title, path, chars, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Title, r.Path, r.Chars, r.CreatedAt,
	)
	return err
}

func (s *Store) GetReport(ctx context.Context, id string) (*domain.Report, error) {
	r := &domain.Report{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, title, path, chars, created_at FROM reports WHERE id=?`, id,
	).Scan(&r.ID, &r.SessionID, &r.Title, &r.Path, &r.Chars, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %s: %w", id, store.ErrNotFound)
	}
	return r, err
}

func (s *Store) ListReports(ctx context.Context) ([]domain.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, title, path, chars, created_at FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []domain.Report
	for rows.Next() {
		var r domain.Report
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Title, &r.Path, &r.Chars, &r.CreatedAt); err != nil {
			return nil, err
		}
		reports = append(reports, r)
	}
	return reports, rows.Err()
}
