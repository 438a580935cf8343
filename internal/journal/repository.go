// Package journal records what happened to each collection: the start
// and end triggers sent for it and the result sets received.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an entry.
type Kind string

const (
	KindNotification Kind = "notification"
	KindResultSet    Kind = "result_set"
)

// Outcomes recorded for entries.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeReceived = "received"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout is fixed-width so created_at sorts as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Entry is one journal row.
type Entry struct {
	ID           string         `json:"id"`
	Kind         Kind           `json:"kind"`
	CollectionID int64          `json:"ispyb_dcid"`
	Event        string         `json:"event,omitempty"`
	Environment  string         `json:"environment,omitempty"`
	Outcome      string         `json:"outcome"`
	Error        string         `json:"error,omitempty"`
	ResultCount  *int           `json:"result_count,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Filter selects entries. Zero fields match everything.
type Filter struct {
	Kind         Kind
	CollectionID int64
	Outcome      string
	Limit        int // default 50, max 200
	Offset       int
}

// ListResult is one page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores journal entries.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores entries in the journal_entries table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db. The schema comes from
// the embedded migrations.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts e, filling ID and CreatedAt when empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		e.ID = "jrn-" + uuid.NewString()[:8]
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	var details any
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshalling journal details: %w", err)
		}
		details = string(b)
	}

	var count any
	if e.ResultCount != nil {
		count = *e.ResultCount
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO journal_entries
		 (id, kind, collection_id, event, environment, outcome, error, result_count, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Kind), e.CollectionID,
		nullable(e.Event), nullable(e.Environment), e.Outcome, nullable(e.Error),
		count, details,
		e.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultLimit
	case filter.Limit > maxLimit:
		filter.Limit = maxLimit
	}
	filter.Offset = max(filter.Offset, 0)

	var conds []string
	var args []any
	if filter.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.CollectionID != 0 {
		conds = append(conds, "collection_id = ?")
		args = append(args, filter.CollectionID)
	}
	if filter.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	//nolint:gosec // WHERE holds only placeholders
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM journal_entries "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	//nolint:gosec // WHERE holds only placeholders
	query := `SELECT id, kind, collection_id, event, environment, outcome, error, result_count, details, created_at
		FROM journal_entries ` + where + ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{Entries: entries, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                         Entry
		kind, createdAt           string
		event, env, errText, dets sql.NullString
		count                     sql.NullInt64
	)
	if err := rows.Scan(&e.ID, &kind, &e.CollectionID, &event, &env, &e.Outcome, &errText, &count, &dets, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}

	e.Kind = Kind(kind)
	e.Event = event.String
	e.Environment = env.String
	e.Error = errText.String
	if count.Valid {
		n := int(count.Int64)
		e.ResultCount = &n
	}
	if dets.Valid && dets.String != "" {
		var m map[string]any
		if json.Unmarshal([]byte(dets.String), &m) == nil {
			e.Details = m
		}
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}
