package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// AddAnnotation appends an annotation to the submission's child collection.
func (r *SubmissionRepo) AddAnnotation(ctx domain.Context, submissionID string, a domain.Annotation) (domain.Annotation, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.AddAnnotation")
	defer span.End()

	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.CreatedAt = time.Now().UTC()
	if _, err := r.Pool.Exec(ctx,
		`INSERT INTO annotations (id, submission_id, author_id, page, content, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		a.ID, submissionID, a.AuthorID, a.Page, a.Content, a.CreatedAt,
	); err != nil {
		return domain.Annotation{}, fmt.Errorf("op=annotation.add: %w", err)
	}
	return a, nil
}

// GetAnnotation loads one annotation of a submission.
func (r *SubmissionRepo) GetAnnotation(ctx domain.Context, submissionID, annotationID string) (domain.Annotation, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.GetAnnotation")
	defer span.End()

	var a domain.Annotation
	err := r.Pool.QueryRow(ctx,
		`SELECT id, author_id, page, content, created_at FROM annotations WHERE id=$1 AND submission_id=$2`,
		annotationID, submissionID,
	).Scan(&a.ID, &a.AuthorID, &a.Page, &a.Content, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Annotation{}, fmt.Errorf("op=annotation.get: %w", domain.ErrNotFound)
		}
		return domain.Annotation{}, fmt.Errorf("op=annotation.get: %w", err)
	}
	return a, nil
}

// RemoveAnnotation deletes one annotation of a submission.
func (r *SubmissionRepo) RemoveAnnotation(ctx domain.Context, submissionID, annotationID string) error {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.RemoveAnnotation")
	defer span.End()

	tag, err := r.Pool.Exec(ctx,
		`DELETE FROM annotations WHERE id=$1 AND submission_id=$2`, annotationID, submissionID)
	if err != nil {
		return fmt.Errorf("op=annotation.remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=annotation.remove: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *SubmissionRepo) listAnnotations(ctx domain.Context, submissionID string) ([]domain.Annotation, error) {
	rows, err := r.Pool.Query(ctx,
		`SELECT id, author_id, page, content, created_at FROM annotations WHERE submission_id=$1 ORDER BY created_at`,
		submissionID)
	if err != nil {
		return nil, fmt.Errorf("op=annotation.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Annotation
	for rows.Next() {
		var a domain.Annotation
		if err := rows.Scan(&a.ID, &a.AuthorID, &a.Page, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=annotation.list: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=annotation.list: %w", err)
	}
	return out, nil
}

// AddEvent appends a history entry for a submission.
func (r *SubmissionRepo) AddEvent(ctx domain.Context, e domain.SubmissionEvent) error {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.AddEvent")
	defer span.End()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if _, err := r.Pool.Exec(ctx,
		`INSERT INTO submission_events (id, submission_id, actor_id, event, note, created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.SubmissionID, e.ActorID, e.Event, e.Note, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("op=event.add: %w", err)
	}
	return nil
}

// ListEvents returns the submission's history, oldest first.
func (r *SubmissionRepo) ListEvents(ctx domain.Context, submissionID string) ([]domain.SubmissionEvent, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.ListEvents")
	defer span.End()

	rows, err := r.Pool.Query(ctx,
		`SELECT id, submission_id, actor_id, event, note, created_at FROM submission_events WHERE submission_id=$1 ORDER BY created_at`,
		submissionID)
	if err != nil {
		return nil, fmt.Errorf("op=event.list: %w", err)
	}
	defer rows.Close()
	var out []domain.SubmissionEvent
	for rows.Next() {
		var e domain.SubmissionEvent
		if err := rows.Scan(&e.ID, &e.SubmissionID, &e.ActorID, &e.Event, &e.Note, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=event.list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=event.list: %w", err)
	}
	return out, nil
}
