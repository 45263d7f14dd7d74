package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/google/uuid"
)

const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// ErrNotFound is returned when a run id is unknown
var ErrNotFound = errors.New("run not found")

// Run is one clip processed by the tool
type Run struct {
	ID        string
	Input     string
	Output    string
	Category  string
	Mode      string
	Target    string
	Status    string
	Crop      image.Rectangle
	Reason    string
	Error     string
	Host      string
	PID       int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Result is the outcome recorded for a finished run
type Result struct {
	Crop   image.Rectangle
	Reason string
}

type Repository interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, result Result) error
	FailRun(ctx context.Context, id string, runErr error) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// fixed-width so timestamps sort lexically
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func now() string {
	return time.Now().UTC().Format(timeFormat)
}

// CreateRun inserts a running run owned by the calling process,
// assigning an ID when it has none
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Host == "" {
		run.Host, _ = os.Hostname()
	}
	if run.PID == 0 {
		run.PID = os.Getpid()
	}
	run.Status = StatusRunning
	ts := now()
	run.CreatedAt, _ = time.Parse(timeFormat, ts)
	run.UpdatedAt = run.CreatedAt

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, input, output, category, mode, target, status, host, pid, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Input, run.Output, run.Category, run.Mode, run.Target, run.Status, run.Host, run.PID, ts, ts)
	return err
}

func (r *SQLiteRepository) FinishRun(ctx context.Context, id string, result Result) error {
	c := result.Crop
	return r.update(ctx, id, `
		UPDATE runs SET status = ?, crop_x = ?, crop_y = ?, crop_w = ?, crop_h = ?, reason = ?, error = '', updated_at = ?
		WHERE id = ?
	`, StatusDone, c.Min.X, c.Min.Y, c.Dx(), c.Dy(), result.Reason, now(), id)
}

func (r *SQLiteRepository) FailRun(ctx context.Context, id string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	return r.update(ctx, id, `
		UPDATE runs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, StatusFailed, msg, now(), id)
}

func (r *SQLiteRepository) update(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const runColumns = `id, input, output, category, mode, target, status, crop_x, crop_y, crop_w, crop_h, reason, error, host, pid, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                  Run
		x, y, w, h           int
		createdAt, updatedAt string
	)
	err := row.Scan(&run.ID, &run.Input, &run.Output, &run.Category, &run.Mode, &run.Target, &run.Status,
		&x, &y, &w, &h, &run.Reason, &run.Error, &run.Host, &run.PID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if w > 0 && h > 0 {
		run.Crop = image.Rect(x, y, x+w, y+h)
	}
	run.CreatedAt, _ = time.Parse(timeFormat, createdAt)
	run.UpdatedAt, _ = time.Parse(timeFormat, updatedAt)
	return &run, nil
}

func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 lists all.
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
