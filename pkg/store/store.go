package store

import (
	"context"
	"errors"

	"github.com/nstogner/agency/pkg/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ConversationStore manages the append-only conversation memory of research
// sessions. Entries are immutable; compaction works by appending a summary
// entry rather than deleting old entries. Query methods return the "compacted
// view" (entries from the most recent compaction entry onward).
type ConversationStore interface {
	// Append adds a new entry to the end of the session's conversation.
	// The entry's ID should be set by the caller.
	Append(ctx context.Context, entry *domain.StreamEntry) error

	// GetEntries returns the compacted view of entries for a session in
	// chronological order. If limit > 0, returns at most that many.
	GetEntries(ctx context.Context, sessionID string, limit int) ([]domain.StreamEntry, error)

	// Compact appends a compaction_summary entry to the session. Older entries
	// remain in the database but are excluded from GetEntries.
	Compact(ctx context.Context, sessionID string, summary string) error

	// DeleteSession removes every entry of a session.
	DeleteSession(ctx context.Context, sessionID string) error
}

// DocumentStore manages local documents searchable by the file_search tool.
type DocumentStore interface {
	// CreateDocument persists a new document. The ID field must be set by the caller.
	CreateDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by its unique ID.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// ListDocuments returns all documents, ordered by creation time descending.
	ListDocuments(ctx context.Context) ([]domain.Document, error)

	// DeleteDocument removes a document by ID.
	DeleteDocument(ctx context.Context, id string) error

	// SearchDocuments returns documents whose title or content contain every
	// word of the query. If limit > 0, returns at most that many.
	SearchDocuments(ctx context.Context, query string, limit int) ([]domain.Document, error)
}

// ReportStore indexes persisted research reports.
type ReportStore interface {
	// CreateReport records a written report. The ID field must be set by the caller.
	CreateReport(ctx context.Context, r *domain.Report) error

	// GetReport retrieves a report record by ID.
	GetReport(ctx context.Context, id string) (*domain.Report, error)

	// ListReports returns all reports, newest first.
	ListReports(ctx context.Context) ([]domain.Report, error)
}
