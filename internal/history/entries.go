package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"finisher/internal/pipeline"
	"finisher/internal/queue"
)

// Entry is one archived terminal job.
type Entry struct {
	ID            string                  `json:"id"`
	Kind          queue.Kind              `json:"kind"`
	Status        queue.Status            `json:"status"`
	Description   string                  `json:"description,omitempty"`
	BatchID       string                  `json:"batch_id,omitempty"`
	Upscaler      string                  `json:"upscaler,omitempty"`
	ScaleFactor   float64                 `json:"scale_factor,omitempty"`
	FinalScale    float64                 `json:"final_scale,omitempty"`
	Substitutions []pipeline.Substitution `json:"substitutions,omitempty"`
	ErrorKind     string                  `json:"error_kind,omitempty"`
	ErrorMessage  string                  `json:"error_message,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	StartedAt     time.Time               `json:"started_at,omitzero"`
	CompletedAt   time.Time               `json:"completed_at"`
	Duration      time.Duration           `json:"duration"`
}

const entryColumns = "id, kind, status, description, batch_id, upscaler, scale_factor, final_scale, substitutions_json, error_kind, error_message, created_at, started_at, completed_at, duration_ms"

// ErrNotTerminal is returned when asked to archive a job that is still live.
var ErrNotTerminal = errors.New("job is not terminal")

// Record archives a terminal job, replacing any earlier row with the same id.
func (s *Store) Record(ctx context.Context, job queue.Job) error {
	if !job.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotTerminal, job.ID, job.Status)
	}
	completed := job.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	var substitutions any
	if len(job.Substitutions) > 0 {
		encoded, err := json.Marshal(job.Substitutions)
		if err != nil {
			return fmt.Errorf("encode substitutions: %w", err)
		}
		substitutions = string(encoded)
	}
	var duration time.Duration
	if !job.StartedAt.IsZero() {
		duration = completed.Sub(job.StartedAt)
	}

	_, err := s.execWithRetry(ctx,
		`INSERT OR REPLACE INTO jobs (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Kind),
		string(job.Status),
		nullableString(job.Description),
		nullableString(job.BatchID),
		nullableString(job.Config.Upscaler),
		job.Config.ScaleFactor,
		job.Config.FinalScale,
		substitutions,
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		formatTime(job.CreatedAt),
		nullableTime(job.StartedAt),
		formatTime(completed),
		duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.ID, err)
	}
	return nil
}

// List returns the most recently completed entries first. A zero limit means
// no limit; an empty status matches every status.
func (s *Store) List(ctx context.Context, limit int, status queue.Status) ([]Entry, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + entryColumns + ` FROM jobs`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY completed_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Get returns the archived entry for id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM jobs WHERE id = ?`, strings.TrimSpace(id))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get history entry: %w", err)
	}
	return &entry, nil
}

// Stats returns archived counts grouped by status.
func (s *Store) Stats(ctx context.Context) (map[queue.Status]int, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[queue.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[queue.Status(status)] = count
	}
	return stats, rows.Err()
}

// Prune deletes entries completed before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE completed_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		id            string
		kind          string
		status        string
		description   sql.NullString
		batchID       sql.NullString
		upscaler      sql.NullString
		scaleFactor   sql.NullFloat64
		finalScale    sql.NullFloat64
		substitutions sql.NullString
		errorKind     sql.NullString
		errorMessage  sql.NullString
		createdRaw    string
		startedRaw    sql.NullString
		completedRaw  string
		durationMS    int64
	)
	if err := scanner.Scan(
		&id,
		&kind,
		&status,
		&description,
		&batchID,
		&upscaler,
		&scaleFactor,
		&finalScale,
		&substitutions,
		&errorKind,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&durationMS,
	); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		ID:           id,
		Kind:         queue.Kind(kind),
		Status:       queue.Status(status),
		Description:  description.String,
		BatchID:      batchID.String,
		Upscaler:     upscaler.String,
		ScaleFactor:  scaleFactor.Float64,
		FinalScale:   finalScale.Float64,
		ErrorKind:    errorKind.String,
		ErrorMessage: errorMessage.String,
		Duration:     time.Duration(durationMS) * time.Millisecond,
	}
	if substitutions.Valid && substitutions.String != "" {
		if err := json.Unmarshal([]byte(substitutions.String), &entry.Substitutions); err != nil {
			return Entry{}, fmt.Errorf("decode substitutions: %w", err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			entry.StartedAt = started
		}
	}
	if completed, err := parseTimeString(completedRaw); err == nil {
		entry.CompletedAt = completed
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// Fixed-width so lexical order in SQL matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
