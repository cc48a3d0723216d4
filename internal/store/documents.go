package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/stepdocs/api/internal/model"
)

const documentColumns = `id, job_id, title, content, category_id, created_at, updated_at`

// GetDocumentByJob returns the document attached to a job.
func (s *Store) GetDocumentByJob(ctx context.Context, jobID string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE job_id = ?`, jobID)
	return scanDocument(row)
}

// CompleteFinalize records the rendered artifact path on the job's document
// and marks the job completed in one transaction.
func (s *Store) CompleteFinalize(ctx context.Context, jobID, content string, upd JobUpdate) (*model.Job, error) {
	now := s.now()
	var job *model.Job

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID))
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET content = ?, updated_at = ? WHERE job_id = ?`,
			content, toMillis(now), jobID)
		if err != nil {
			return fmt.Errorf("%w: update document: %v", model.ErrPersistenceFailed, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return model.ErrDocumentNotFound
		}

		if err := transitionTx(ctx, tx, current, model.JobStatusCompleted, upd, now); err != nil {
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

// attachDocument creates doc for jobID, or moves an existing document with
// the same id over to jobID.
func attachDocument(ctx context.Context, tx *sql.Tx, jobID string, doc *model.Document, now time.Time) error {
	existing, err := scanDocument(tx.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, doc.ID))
	switch {
	case errors.Is(err, model.ErrDocumentNotFound):
		doc.JobID = jobID
		doc.CreatedAt = now
		doc.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (`+documentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.ID, jobID, doc.Title, doc.Content, nullString(doc.CategoryID), toMillis(now), toMillis(now))
		if err != nil {
			return fmt.Errorf("%w: insert document: %v", model.ErrPersistenceFailed, err)
		}
		return nil
	case err != nil:
		return err
	}

	if doc.Title == "" {
		doc.Title = existing.Title
	}
	if doc.CategoryID == nil {
		doc.CategoryID = existing.CategoryID
	}
	doc.JobID = jobID
	doc.Content = existing.Content
	doc.CreatedAt = existing.CreatedAt
	doc.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE documents SET job_id = ?, title = ?, category_id = ?, updated_at = ?
		WHERE id = ?`,
		jobID, doc.Title, nullString(doc.CategoryID), toMillis(now), doc.ID)
	if err != nil {
		return fmt.Errorf("%w: re-attach document: %v", model.ErrPersistenceFailed, err)
	}
	return nil
}

func scanDocument(row scanner) (*model.Document, error) {
	var (
		doc                  model.Document
		categoryID           sql.NullString
		createdAt, updatedAt int64
	)

	err := row.Scan(&doc.ID, &doc.JobID, &doc.Title, &doc.Content, &categoryID, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.CategoryID = stringPtr(categoryID)
	doc.CreatedAt = fromMillis(createdAt)
	doc.UpdatedAt = fromMillis(updatedAt)
	return &doc, nil
}
