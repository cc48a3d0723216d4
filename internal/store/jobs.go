package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stepdocs/api/internal/model"
)

const jobColumns = `id, status, source_file_path, original_filename, title, category_id, document_id,
	trim_start, trim_end, progress_percent, progress_message, error_message, created_at, updated_at`

// JobUpdate carries the optional fields written alongside a status change.
// Nil fields keep the stored value.
type JobUpdate struct {
	ProgressPercent *int
	ProgressMessage *string
	ErrorMessage    *string
}

// CreateJob inserts a new job. Timestamps are set by the store.
func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	now := s.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.Status == "" {
		job.Status = model.JobStatusPending
	}
	if !job.Status.Valid() {
		return fmt.Errorf("%w: unknown job status %q", model.ErrInvalidInput, job.Status)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.SourceFilePath, job.OriginalFilename, job.Title,
		nullString(job.CategoryID), nullString(job.DocumentID),
		job.TrimStart, nullFloat(job.TrimEnd), nullInt(job.ProgressPercent),
		job.ProgressMessage, job.ErrorMessage, toMillis(now), toMillis(now))
	if err != nil {
		return fmt.Errorf("%w: insert job: %v", model.ErrPersistenceFailed, err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobsByStatus returns jobs in any of the given statuses, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, statuses ...model.JobStatus) ([]model.Job, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (`+placeholders+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// TransitionJob moves a job to status to, validating the change against the
// job state graph inside the transaction. A progress event that races a
// terminal status therefore fails with ErrInvalidTransition instead of
// overwriting it.
func (s *Store) TransitionJob(ctx context.Context, id string, to model.JobStatus, upd JobUpdate) (*model.Job, error) {
	var job *model.Job

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if err := transitionTx(ctx, tx, current, to, upd, s.now()); err != nil {
			return err
		}
		job = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// CancelJob fails a job that has not reached awaiting_review. The status
// check and the write share one transaction, so a job that turns
// reviewable concurrently is left alone and ErrInvalidState is returned.
func (s *Store) CancelJob(ctx context.Context, id, reason string) (*model.Job, error) {
	var job *model.Job

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if current.Status.IsTerminal() || current.Status == model.JobStatusAwaitingReview {
			return fmt.Errorf("%w: job is %s", model.ErrInvalidState, current.Status)
		}
		if err := transitionTx(ctx, tx, current, model.JobStatusFailed, JobUpdate{ErrorMessage: &reason}, s.now()); err != nil {
			return err
		}
		job = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// transitionTx validates and applies a status change to job, updating it in place.
func transitionTx(ctx context.Context, tx *sql.Tx, job *model.Job, to model.JobStatus, upd JobUpdate, now time.Time) error {
	if !model.CanTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, job.Status, to)
	}

	job.Status = to
	if upd.ProgressPercent != nil {
		p := *upd.ProgressPercent
		job.ProgressPercent = &p
	}
	if upd.ProgressMessage != nil {
		job.ProgressMessage = *upd.ProgressMessage
	}
	if upd.ErrorMessage != nil {
		job.ErrorMessage = *upd.ErrorMessage
	}
	job.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, progress_percent = ?, progress_message = ?, error_message = ?,
		    document_id = ?, updated_at = ?
		WHERE id = ?`,
		job.Status, nullInt(job.ProgressPercent), job.ProgressMessage, job.ErrorMessage,
		nullString(job.DocumentID), toMillis(now), job.ID)
	if err != nil {
		return fmt.Errorf("%w: update job: %v", model.ErrPersistenceFailed, err)
	}
	return nil
}

func scanJob(row scanner) (*model.Job, error) {
	var (
		job                  model.Job
		categoryID, docID    sql.NullString
		trimEnd              sql.NullFloat64
		percent              sql.NullInt64
		createdAt, updatedAt int64
	)

	err := row.Scan(&job.ID, &job.Status, &job.SourceFilePath, &job.OriginalFilename, &job.Title,
		&categoryID, &docID, &job.TrimStart, &trimEnd, &percent,
		&job.ProgressMessage, &job.ErrorMessage, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}

	job.CategoryID = stringPtr(categoryID)
	job.DocumentID = stringPtr(docID)
	job.TrimEnd = floatPtr(trimEnd)
	job.ProgressPercent = intPtr(percent)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return &job, nil
}
