package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stepdocs/api/internal/model"
)

const segmentColumns = `id, job_id, segment_index, sort_order, title, text, start_time, end_time,
	screenshot_path, needs_review, created_at, updated_at`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ListSegments returns a job's segments ordered by segment index.
func (s *Store) ListSegments(ctx context.Context, jobID string) ([]model.Segment, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return listSegments(ctx, s.db, jobID)
}

// CompleteTranscription persists the transcript of a job as review segments,
// creates or re-attaches its document and moves the job to awaiting_review,
// all in one transaction. doc.ID must be set; an existing document with
// that id is re-attached to the job.
func (s *Store) CompleteTranscription(ctx context.Context, jobID string, segs []model.TranscriptSegment, doc *model.Document, upd JobUpdate) (*model.Job, error) {
	var job *model.Job
	now := s.now()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
		if err != nil {
			return err
		}
		if !model.CanTransition(current.Status, model.JobStatusAwaitingReview) {
			return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, current.Status, model.JobStatusAwaitingReview)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("%w: clear segments: %v", model.ErrPersistenceFailed, err)
		}

		for i, ts := range segs {
			seg := model.Segment{
				ID:           uuid.NewString(),
				JobID:        jobID,
				SegmentIndex: i,
				Text:         ts.Text,
				StartTime:    ts.Start,
				EndTime:      ts.End,
				NeedsReview:  true,
			}
			if err := insertSegment(ctx, tx, &seg, now); err != nil {
				return err
			}
		}

		if err := attachDocument(ctx, tx, jobID, doc, now); err != nil {
			return err
		}

		current.DocumentID = &doc.ID
		if err := transitionTx(ctx, tx, current, model.JobStatusAwaitingReview, upd, now); err != nil {
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

// ReplaceSegments makes inputs the authoritative segment set of a job.
// Rows whose id appears in inputs are updated in place, rows missing from
// inputs are deleted and inputs without a known id are inserted. Segment
// index is the input position. The whole replace is one transaction.
func (s *Store) ReplaceSegments(ctx context.Context, jobID string, inputs []model.SegmentInput) ([]model.Segment, error) {
	now := s.now()
	var out []model.Segment

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireReviewable(ctx, tx, jobID); err != nil {
			return err
		}

		existing, err := listSegments(ctx, tx, jobID)
		if err != nil {
			return err
		}
		byID := make(map[string]model.Segment, len(existing))
		for _, seg := range existing {
			byID[seg.ID] = seg
		}

		keep := make(map[string]bool, len(inputs))
		for _, in := range inputs {
			if in.ID != nil {
				if _, ok := byID[*in.ID]; ok {
					keep[*in.ID] = true
				}
			}
		}

		for id := range byID {
			if keep[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE id = ?`, id); err != nil {
				return fmt.Errorf("%w: delete segment: %v", model.ErrPersistenceFailed, err)
			}
		}

		// Move surviving rows out of the index range so position reassignment
		// cannot collide on (job_id, segment_index).
		if _, err := tx.ExecContext(ctx,
			`UPDATE segments SET segment_index = -segment_index - 1 WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("%w: shift segment indices: %v", model.ErrPersistenceFailed, err)
		}

		seen := make(map[string]bool, len(inputs))
		for i, in := range inputs {
			seg := segmentFromInput(jobID, i, in)

			prev, known := model.Segment{}, false
			if in.ID != nil && !seen[*in.ID] {
				prev, known = byID[*in.ID]
			}

			if known {
				seen[prev.ID] = true
				seg.ID = prev.ID
				seg.CreatedAt = prev.CreatedAt
				if in.ScreenshotPath == nil {
					seg.ScreenshotPath = prev.ScreenshotPath
				}
				if err := updateSegment(ctx, tx, &seg, now); err != nil {
					return err
				}
			} else {
				seg.ID = uuid.NewString()
				if err := insertSegment(ctx, tx, &seg, now); err != nil {
					return err
				}
			}
			out = append(out, seg)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendSegment adds one reviewed segment after the last segment of a job.
func (s *Store) AppendSegment(ctx context.Context, jobID string, in model.SegmentInput) (*model.Segment, error) {
	now := s.now()
	var seg model.Segment

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireReviewable(ctx, tx, jobID); err != nil {
			return err
		}

		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(segment_index) + 1, 0) FROM segments WHERE job_id = ?`, jobID).Scan(&next); err != nil {
			return fmt.Errorf("query segment index: %w", err)
		}

		in.ID = nil
		seg = segmentFromInput(jobID, next, in)
		seg.ID = uuid.NewString()
		return insertSegment(ctx, tx, &seg, now)
	})
	if err != nil {
		return nil, err
	}
	return &seg, nil
}

// SetScreenshot sets or, with a nil path, clears one segment's screenshot.
func (s *Store) SetScreenshot(ctx context.Context, jobID, segmentID string, path *string) (*model.Segment, error) {
	now := s.now()
	var seg *model.Segment

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := requireReviewable(ctx, tx, jobID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE segments SET screenshot_path = ?, updated_at = ? WHERE id = ? AND job_id = ?`,
			nullString(path), toMillis(now), segmentID, jobID)
		if err != nil {
			return fmt.Errorf("%w: update screenshot: %v", model.ErrPersistenceFailed, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrSegmentNotFound
		}

		seg, err = getSegment(ctx, tx, jobID, segmentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return seg, nil
}

func requireReviewable(ctx context.Context, tx *sql.Tx, jobID string) error {
	var status model.JobStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrJobNotFound
		}
		return fmt.Errorf("query job status: %w", err)
	}
	if !status.AcceptsReview() {
		return fmt.Errorf("%w: job is %s", model.ErrInvalidState, status)
	}
	return nil
}

func segmentFromInput(jobID string, index int, in model.SegmentInput) model.Segment {
	seg := model.Segment{
		JobID:        jobID,
		SegmentIndex: index,
		Order:        in.Order,
		Title:        in.Title,
		Text:         in.Text,
		StartTime:    in.StartTime,
		EndTime:      in.EndTime,
	}
	if in.ScreenshotPath != nil && *in.ScreenshotPath != "" {
		p := *in.ScreenshotPath
		seg.ScreenshotPath = &p
	}
	return seg
}

func insertSegment(ctx context.Context, tx *sql.Tx, seg *model.Segment, now time.Time) error {
	if seg.CreatedAt.IsZero() {
		seg.CreatedAt = now
	}
	seg.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		INSERT INTO segments (`+segmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seg.ID, seg.JobID, seg.SegmentIndex, nullInt(seg.Order), nullString(seg.Title), seg.Text,
		seg.StartTime, seg.EndTime, nullString(seg.ScreenshotPath), seg.NeedsReview,
		toMillis(seg.CreatedAt), toMillis(now))
	if err != nil {
		return fmt.Errorf("%w: insert segment: %v", model.ErrPersistenceFailed, err)
	}
	return nil
}

func updateSegment(ctx context.Context, tx *sql.Tx, seg *model.Segment, now time.Time) error {
	seg.UpdatedAt = now

	_, err := tx.ExecContext(ctx, `
		UPDATE segments
		SET segment_index = ?, sort_order = ?, title = ?, text = ?, start_time = ?, end_time = ?,
		    screenshot_path = ?, needs_review = ?, updated_at = ?
		WHERE id = ?`,
		seg.SegmentIndex, nullInt(seg.Order), nullString(seg.Title), seg.Text, seg.StartTime, seg.EndTime,
		nullString(seg.ScreenshotPath), seg.NeedsReview, toMillis(now), seg.ID)
	if err != nil {
		return fmt.Errorf("%w: update segment: %v", model.ErrPersistenceFailed, err)
	}
	return nil
}

func listSegments(ctx context.Context, q queryer, jobID string) ([]model.Segment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE job_id = ? ORDER BY segment_index ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	segments := []model.Segment{}
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		segments = append(segments, *seg)
	}
	return segments, rows.Err()
}

func getSegment(ctx context.Context, q queryer, jobID, segmentID string) (*model.Segment, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+segmentColumns+` FROM segments WHERE id = ? AND job_id = ?`, segmentID, jobID)
	return scanSegment(row)
}

func scanSegment(row scanner) (*model.Segment, error) {
	var (
		seg                  model.Segment
		order                sql.NullInt64
		title, screenshot    sql.NullString
		createdAt, updatedAt int64
	)

	err := row.Scan(&seg.ID, &seg.JobID, &seg.SegmentIndex, &order, &title, &seg.Text,
		&seg.StartTime, &seg.EndTime, &screenshot, &seg.NeedsReview, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrSegmentNotFound
		}
		return nil, fmt.Errorf("scan segment: %w", err)
	}

	seg.Order = intPtr(order)
	seg.Title = stringPtr(title)
	seg.ScreenshotPath = stringPtr(screenshot)
	seg.CreatedAt = fromMillis(createdAt)
	seg.UpdatedAt = fromMillis(updatedAt)
	return &seg, nil
}
