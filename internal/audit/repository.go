// Package audit provides access to the action_log table, the persistent
// history of chat actions the bridge matched and dispatched to the device.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// ActionLog represents one matched chat action.
type ActionLog struct {
	ID        string            `json:"id"`
	Action    string            `json:"action"`
	SessionID string            `json:"session_id,omitempty"`
	Device    string            `json:"device,omitempty"`
	Arguments map[string]string `json:"arguments"`
	CreatedAt time.Time         `json:"created_at"`
}

// Filter controls which action logs to return.
type Filter struct {
	Action    string // optional: filter by action name
	SessionID string // optional: filter by chat session
	Limit     int    // default 50, max 200
	Offset    int    // pagination offset
}

// ListResult contains the paginated action log results.
type ListResult struct {
	Actions []ActionLog `json:"actions"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
}

// Repository defines the interface for action log operations.
type Repository interface {
	Create(ctx context.Context, log *ActionLog) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores action logs in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new action log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a new action log entry. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, log *ActionLog) error {
	if log.Action == "" {
		return fmt.Errorf("inserting action log: action is required")
	}
	if log.ID == "" {
		log.ID = "act-" + uuid.NewString()[:8]
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	if log.Arguments == nil {
		log.Arguments = map[string]string{}
	}

	args, err := json.Marshal(log.Arguments)
	if err != nil {
		return fmt.Errorf("marshalling action arguments: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO action_log (id, action, session_id, device, arguments, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID, log.Action, log.SessionID, log.Device, string(args),
		log.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting action log: %w", err)
	}

	return nil
}

// List returns action logs matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter.Limit = ClampLimit(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}
	if filter.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, filter.SessionID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM action_log %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting action logs: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, action, session_id, device, arguments, created_at FROM action_log %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying action logs: %w", err)
	}
	defer rows.Close()

	actions := []ActionLog{}
	for rows.Next() {
		var log ActionLog
		var argsJSON, createdAt string

		if err := rows.Scan(&log.ID, &log.Action, &log.SessionID, &log.Device, &argsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning action log: %w", err)
		}

		log.Arguments = map[string]string{}
		if argsJSON != "" {
			if err := json.Unmarshal([]byte(argsJSON), &log.Arguments); err != nil {
				return nil, fmt.Errorf("decoding arguments of action log %s: %w", log.ID, err)
			}
		}

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			t, err = time.Parse(time.RFC3339, createdAt)
			if err != nil {
				return nil, fmt.Errorf("parsing action log timestamp %q: %w", createdAt, err)
			}
		}
		log.CreatedAt = t

		actions = append(actions, log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating action logs: %w", err)
	}

	return &ListResult{
		Actions: actions,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}
