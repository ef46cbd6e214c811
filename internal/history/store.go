package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/mqttlightbulb/internal/light"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// timestampLayout is fixed width so created_at sorts lexically.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// ErrAccessoryRequired is returned when an accessory name is empty.
var ErrAccessoryRequired = errors.New("accessory name is required")

// Entry is a single recorded state change.
type Entry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Accessory is the configured accessory name.
	Accessory string `json:"accessory"`

	// Field is the characteristic that changed (on, hue, saturation, brightness, hsb).
	Field string `json:"field"`

	// Origin is "device" for MQTT updates and "host" for HomeKit writes.
	Origin string `json:"origin"`

	// State is the light state after the change.
	State light.LightState `json:"state"`

	// CreatedAt is the time of the change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// Store implements light.Recorder on top of the state_history table.
//
// It is safe for concurrent use; database/sql serialises access.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a Store using an open, migrated database.
//
// Parameters:
//   - db: Open SQLite connection with the state_history table
//
// Returns:
//   - *Store: Store ready for use
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// RecordStateChange inserts one history row for the change.
//
// A zero change.Time is replaced with the current time.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - change: The accepted change and the resulting state
//
// Returns:
//   - error: nil on success, otherwise the underlying database error
func (s *Store) RecordStateChange(ctx context.Context, change light.StateChange) error {
	if change.Accessory == "" {
		return ErrAccessoryRequired
	}

	at := change.Time
	if at.IsZero() {
		at = s.now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_history
		 (accessory, field, origin, power_on, hue, saturation, brightness, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		change.Accessory,
		change.Field,
		change.Origin.String(),
		boolToInt(change.State.On),
		change.State.Hue,
		change.State.Saturation,
		change.State.Brightness,
		formatTimestamp(at),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}

	return nil
}

// GetHistory returns recent entries for an accessory, newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - accessory: Configured accessory name
//   - limit: Maximum entries to return (default 50, max 200)
//
// Returns:
//   - []Entry: History entries ordered by created_at DESC (may be empty)
//   - error: nil on success, otherwise the underlying query error
func (s *Store) GetHistory(ctx context.Context, accessory string, limit int) ([]Entry, error) {
	if accessory == "" {
		return nil, ErrAccessoryRequired
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, accessory, field, origin, power_on, hue, saturation, brightness, created_at
		 FROM state_history
		 WHERE accessory = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		accessory,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var on int
		var createdAt string

		if err := rows.Scan(
			&entry.ID,
			&entry.Accessory,
			&entry.Field,
			&entry.Origin,
			&on,
			&entry.State.Hue,
			&entry.State.Saturation,
			&entry.State.Brightness,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		entry.State.On = on == 1

		timestamp, err := parseHistoryTimestamp(createdAt)
		if err != nil {
			return nil, err
		}
		entry.CreatedAt = timestamp

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}

	return entries, nil
}

// PruneHistory deletes entries older than the given duration.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - olderThan: Duration to retain (entries older than now-olderThan are deleted)
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (s *Store) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := formatTimestamp(s.now().Add(-olderThan))
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM state_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// HealthCheck verifies the history table is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM state_history LIMIT 1").Scan(&n); err != nil {
		return fmt.Errorf("history health check failed: %w", err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseHistoryTimestamp parses a timestamp stored in SQLite.
func parseHistoryTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(timestampLayout, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse(time.RFC3339Nano, value)
	if fallbackErr == nil {
		return fallback.UTC(), nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
