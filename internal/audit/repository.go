// Package audit records dispatch decisions in the dispatch_audit table and
// serves them back for review.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-fleet/internal/hazard"
)

// Outcome is the result of one dispatch attempt.
type Outcome string

// Outcome constants.
const (
	OutcomeAllowed Outcome = "allowed" // the device was called and answered successfully
	OutcomeBlocked Outcome = "blocked" // policy refused the call; no request was made
	OutcomeFailed  Outcome = "failed"  // validation, transport or device error
)

// timeLayout is fixed-width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrInvalidEntry is returned by Create for entries missing required fields.
var ErrInvalidEntry = errors.New("audit: invalid entry")

// Entry is one audited dispatch decision.
type Entry struct {
	ID       string     `json:"id"`
	DeviceID string     `json:"device_id"`
	Action   string     `json:"action"`
	Outcome  Outcome    `json:"outcome"`
	Hazards  hazard.Set `json:"hazards"`
	// Blocked holds the hazards that caused a block.
	Blocked   hazard.Set    `json:"blocked,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Source    string        `json:"source"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter controls which entries List returns.
type Filter struct {
	DeviceID string
	Action   string
	Outcome  Outcome
	Limit    int // default 50, max 200
	Offset   int
}

// ListResult is one page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and lists audit entries.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository is the SQLite-backed Repository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID, CreatedAt and Source are filled if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.DeviceID == "" || entry.Action == "" {
		return fmt.Errorf("%w: device and action are required", ErrInvalidEntry)
	}
	switch entry.Outcome {
	case OutcomeAllowed, OutcomeBlocked, OutcomeFailed:
	default:
		return fmt.Errorf("%w: outcome %q", ErrInvalidEntry, entry.Outcome)
	}

	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()[:8]
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.Source == "" {
		entry.Source = "api"
	}

	hazards, err := encodeSet(entry.Hazards)
	if err != nil {
		return err
	}
	blocked, err := encodeSet(entry.Blocked)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO dispatch_audit (id, device_id, action, outcome, hazards, blocked, error, duration_ms, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.DeviceID, entry.Action, string(entry.Outcome),
		hazards, blocked, nullableString(entry.Error),
		entry.Duration.Milliseconds(), entry.Source,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, string(filter.Outcome))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM dispatch_audit " + where //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := "SELECT id, device_id, action, outcome, hazards, blocked, error, duration_ms, source, created_at FROM dispatch_audit " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var outcome, createdAt string
		var hazards, blocked, errText sql.NullString
		var durationMS int64

		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Action, &outcome,
			&hazards, &blocked, &errText, &durationMS, &e.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}

		e.Outcome = Outcome(outcome)
		e.Error = errText.String
		e.Duration = time.Duration(durationMS) * time.Millisecond
		if e.Hazards, err = decodeSet(hazards); err != nil {
			return nil, err
		}
		if e.Blocked, err = decodeSet(blocked); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func encodeSet(s hazard.Set) (any, error) {
	if s.IsEmpty() {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshalling hazards: %w", err)
	}
	return string(b), nil
}

func decodeSet(v sql.NullString) (hazard.Set, error) {
	var s hazard.Set
	if !v.Valid || v.String == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(v.String), &s); err != nil {
		return s, fmt.Errorf("decoding hazards %q: %w", v.String, err)
	}
	return s, nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
