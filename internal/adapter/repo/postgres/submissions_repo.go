// Package postgres provides PostgreSQL database adapters.
//
// It implements the submission store with its lineage/version invariants,
// the content-addressed blob store, and the project title directory.
// Concurrent writes to the same lineage are serialized with per-lineage
// advisory locks inside a transaction.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// SubmissionRepo persists submissions and enforces the lineage invariants.
type SubmissionRepo struct{ Pool PgxPool }

// NewSubmissionRepo constructs a SubmissionRepo with the given pool.
func NewSubmissionRepo(p PgxPool) *SubmissionRepo { return &SubmissionRepo{Pool: p} }

const submissionColumns = `id, project_id, slot, version, uploader_id, storage_key, filename, mime, size,
	status, remarks, review_note, is_late,
	check_status, originality_score, matched_sources, checked_at, check_failure,
	created_at, updated_at`

// CreateVersion assigns the next version number within the lineage and
// inserts the submission. The read-latest-then-insert pair runs under a
// per-lineage advisory lock so racing uploads cannot produce gaps or
// duplicate versions.
func (r *SubmissionRepo) CreateVersion(ctx domain.Context, s domain.Submission) (domain.Submission, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.CreateVersion")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.create: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lin := s.Lineage()
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lin.Key()); err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.create lock: %w", err)
	}

	var latestVersion int
	var latestStatus domain.ReviewStatus
	err = tx.QueryRow(ctx,
		`SELECT version, status FROM submissions WHERE project_id=$1 AND slot=$2 ORDER BY version DESC LIMIT 1`,
		s.ProjectID, string(s.Slot),
	).Scan(&latestVersion, &latestStatus)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		latestVersion = 0
	case err != nil:
		return domain.Submission{}, fmt.Errorf("op=submission.create latest: %w", err)
	default:
		if latestStatus.BlocksUpload() {
			return domain.Submission{}, fmt.Errorf("op=submission.create: %w: latest version is %s", domain.ErrLineageLocked, latestStatus)
		}
	}

	now := time.Now().UTC()
	s.ID = uuid.New().String()
	s.Version = latestVersion + 1
	s.Status = domain.StatusPending
	s.Originality = domain.OriginalityResult{Status: domain.CheckUnchecked}
	s.CreatedAt = now
	s.UpdatedAt = now

	if _, err := tx.Exec(ctx,
		`INSERT INTO submissions (id, project_id, slot, version, uploader_id, storage_key, filename, mime, size, status, remarks, is_late, check_status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		s.ID, s.ProjectID, string(s.Slot), s.Version, s.UploaderID, s.StorageKey, s.Filename, s.MIME, s.Size,
		string(s.Status), s.Remarks, s.IsLate, string(domain.CheckUnchecked), now, now,
	); err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.create insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.create commit: %w", err)
	}
	return s, nil
}

// Get loads a submission with its annotations.
func (r *SubmissionRepo) Get(ctx domain.Context, id string) (domain.Submission, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.Get")
	defer span.End()

	row := r.Pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id)
	s, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Submission{}, fmt.Errorf("op=submission.get: %w", domain.ErrNotFound)
		}
		return domain.Submission{}, fmt.Errorf("op=submission.get: %w", err)
	}
	anns, err := r.listAnnotations(ctx, id)
	if err != nil {
		return domain.Submission{}, err
	}
	s.Annotations = anns
	return s, nil
}

// Latest loads the highest-numbered submission of a lineage.
func (r *SubmissionRepo) Latest(ctx domain.Context, lin domain.Lineage) (domain.Submission, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.Latest")
	defer span.End()

	row := r.Pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE project_id=$1 AND slot=$2 ORDER BY version DESC LIMIT 1`,
		lin.ProjectID, string(lin.Slot))
	s, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Submission{}, fmt.Errorf("op=submission.latest: %w", domain.ErrNotFound)
		}
		return domain.Submission{}, fmt.Errorf("op=submission.latest: %w", err)
	}
	return s, nil
}

// ListByStatus returns a worklist of submissions in the given review state,
// newest first, without annotations.
func (r *SubmissionRepo) ListByStatus(ctx domain.Context, status domain.ReviewStatus, limit int) ([]domain.Submission, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.ListByStatus")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}
	rows, err := r.Pool.Query(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE status=$1 ORDER BY updated_at DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("op=submission.list_by_status: %w", err)
	}
	defer rows.Close()
	var out []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("op=submission.list_by_status: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=submission.list_by_status: %w", err)
	}
	return out, nil
}

// TransitionStatus atomically moves a submission between review states. It
// runs under the same per-lineage advisory lock as CreateVersion, so a
// transition and an upload into the lineage serialize against each other,
// and it only applies to the latest version: a superseded version loses with
// ErrConflict, as does a racing transition out of the allowed states.
func (r *SubmissionRepo) TransitionStatus(ctx domain.Context, id string, from []domain.ReviewStatus, to domain.ReviewStatus, note string) (domain.Submission, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.TransitionStatus")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.transition: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lineage fields are immutable, so reading them before taking the lock
	// is safe.
	var projectID, slot string
	var version int
	err = tx.QueryRow(ctx, `SELECT project_id, slot, version FROM submissions WHERE id=$1`, id).
		Scan(&projectID, &slot, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Submission{}, fmt.Errorf("op=submission.transition: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.transition: %w", err)
	}

	lin := domain.Lineage{ProjectID: projectID, Slot: domain.Slot(slot)}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, lin.Key()); err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.transition lock: %w", err)
	}

	var latest int
	if err := tx.QueryRow(ctx,
		`SELECT version FROM submissions WHERE project_id=$1 AND slot=$2 ORDER BY version DESC LIMIT 1`,
		projectID, slot,
	).Scan(&latest); err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.transition latest: %w", err)
	}
	if version != latest {
		return domain.Submission{}, fmt.Errorf("op=submission.transition: %w: version %d superseded by %d", domain.ErrConflict, version, latest)
	}

	fromStrs := make([]string, 0, len(from))
	for _, f := range from {
		fromStrs = append(fromStrs, string(f))
	}
	row := tx.QueryRow(ctx,
		`UPDATE submissions
		 SET status=$2, review_note=COALESCE(NULLIF($3,''), review_note), updated_at=$4
		 WHERE id=$1 AND status = ANY($5)
		 RETURNING `+submissionColumns,
		id, string(to), note, time.Now().UTC(), fromStrs)
	s, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Submission{}, fmt.Errorf("op=submission.transition: %w: status not in %v", domain.ErrConflict, from)
		}
		return domain.Submission{}, fmt.Errorf("op=submission.transition: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Submission{}, fmt.Errorf("op=submission.transition commit: %w", err)
	}
	return s, nil
}

// SetCheckStatus updates the originality-check state only.
func (r *SubmissionRepo) SetCheckStatus(ctx domain.Context, id string, status domain.CheckStatus, reason string) error {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.SetCheckStatus")
	defer span.End()

	now := time.Now().UTC()
	var tag pgconn.CommandTag
	var err error
	if status == domain.CheckFailed {
		tag, err = r.Pool.Exec(ctx,
			`UPDATE submissions SET check_status=$2, check_failure=$3, checked_at=$4, updated_at=$4 WHERE id=$1`,
			id, string(status), reason, now)
	} else {
		tag, err = r.Pool.Exec(ctx,
			`UPDATE submissions SET check_status=$2, updated_at=$3 WHERE id=$1`,
			id, string(status), now)
	}
	if err != nil {
		return fmt.Errorf("op=submission.set_check_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=submission.set_check_status: %w", domain.ErrNotFound)
	}
	return nil
}

// ApplyOriginalityResult writes a completed result. The WHERE clause carries
// both guards: the version must match the queued job, and no newer version
// may exist in the lineage. A skipped write returns applied=false, not an
// error, because stale results are expected during version races.
func (r *SubmissionRepo) ApplyOriginalityResult(ctx domain.Context, id string, version int, res domain.OriginalityResult, extractedText string) (bool, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.ApplyOriginalityResult")
	defer span.End()

	matches := res.Matches
	if matches == nil {
		matches = []domain.MatchedSource{}
	}
	matchesJSON, err := json.Marshal(matches)
	if err != nil {
		return false, fmt.Errorf("op=submission.apply_result: %w", err)
	}
	checkedAt := time.Now().UTC()
	if res.CheckedAt != nil {
		checkedAt = res.CheckedAt.UTC()
	}
	tag, err := r.Pool.Exec(ctx,
		`UPDATE submissions s
		 SET check_status=$3, originality_score=$4, matched_sources=$5, checked_at=$6, check_failure='', extracted_text=$7, updated_at=$8
		 WHERE s.id=$1 AND s.version=$2
		   AND NOT EXISTS (
		     SELECT 1 FROM submissions n
		     WHERE n.project_id = s.project_id AND n.slot = s.slot AND n.version > s.version
		   )`,
		id, version, string(domain.CheckCompleted), res.Score, matchesJSON, checkedAt, extractedText, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("op=submission.apply_result: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// SweepStuckChecks fails checks that have sat in queued/processing longer
// than maxAge, so they surface on the faculty side instead of spinning
// forever. Returns the number of checks failed.
func (r *SubmissionRepo) SweepStuckChecks(ctx domain.Context, maxAge time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.SweepStuckChecks")
	defer span.End()

	cutoff := time.Now().UTC().Add(-maxAge)
	tag, err := r.Pool.Exec(ctx,
		`UPDATE submissions SET check_status=$1, check_failure=$2, checked_at=$3, updated_at=$3
		 WHERE check_status = ANY($4) AND updated_at < $5`,
		string(domain.CheckFailed), "timeout: check exceeded "+maxAge.String(), time.Now().UTC(),
		[]string{string(domain.CheckQueued), string(domain.CheckProcessing)}, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=submission.sweep_stuck: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CorpusTexts returns the latest archived text per foreign lineage,
// same-slot lineages first, newest first, capped at limit.
func (r *SubmissionRepo) CorpusTexts(ctx domain.Context, exclude domain.Lineage, limit int) ([]domain.CorpusDoc, error) {
	tracer := otel.Tracer("repo.submissions")
	ctx, span := tracer.Start(ctx, "submissions.CorpusTexts")
	defer span.End()

	if limit <= 0 {
		limit = 200
	}
	rows, err := r.Pool.Query(ctx,
		`SELECT id, project_id, title, extracted_text FROM (
		   SELECT DISTINCT ON (s.project_id, s.slot)
		     s.id, s.project_id, s.slot, COALESCE(p.title, s.filename) AS title, s.extracted_text, s.created_at
		   FROM submissions s
		   LEFT JOIN projects p ON p.id = s.project_id
		   WHERE s.extracted_text <> '' AND NOT (s.project_id = $1 AND s.slot = $2)
		   ORDER BY s.project_id, s.slot, s.version DESC
		 ) d
		 ORDER BY (d.slot = $2) DESC, d.created_at DESC
		 LIMIT $3`,
		exclude.ProjectID, string(exclude.Slot), limit)
	if err != nil {
		return nil, fmt.Errorf("op=submission.corpus: %w", err)
	}
	defer rows.Close()
	var out []domain.CorpusDoc
	for rows.Next() {
		var d domain.CorpusDoc
		if err := rows.Scan(&d.SubmissionID, &d.ProjectID, &d.Title, &d.Text); err != nil {
			return nil, fmt.Errorf("op=submission.corpus: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=submission.corpus: %w", err)
	}
	return out, nil
}

func scanSubmission(row pgx.Row) (domain.Submission, error) {
	var s domain.Submission
	var slot, status, checkStatus string
	var score *float64
	var matchesJSON []byte
	var checkedAt *time.Time
	if err := row.Scan(
		&s.ID, &s.ProjectID, &slot, &s.Version, &s.UploaderID, &s.StorageKey, &s.Filename, &s.MIME, &s.Size,
		&status, &s.Remarks, &s.ReviewNote, &s.IsLate,
		&checkStatus, &score, &matchesJSON, &checkedAt, &s.Originality.FailureReason,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return domain.Submission{}, err
	}
	s.Slot = domain.Slot(slot)
	s.Status = domain.ReviewStatus(status)
	s.Originality.Status = domain.CheckStatus(checkStatus)
	if score != nil {
		s.Originality.Score = *score
	}
	s.Originality.CheckedAt = checkedAt
	if len(matchesJSON) > 0 {
		if err := json.Unmarshal(matchesJSON, &s.Originality.Matches); err != nil {
			return domain.Submission{}, err
		}
	}
	return s, nil
}
