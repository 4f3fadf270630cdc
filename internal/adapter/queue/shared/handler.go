// Package shared contains the broker-independent originality-check job
// handler, so the processing logic stays testable without a running broker.
package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/observability"
	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
	"github.com/Patrickjoshanedez/capstone-docs/pkg/similarity"
)

// Terminal failure reasons recorded on the submission. Jobs that fail with
// one of these are never retried; re-running them on the same bytes would
// fail the same way.
const (
	ReasonUnrecognizedFormat = "UnrecognizedFormat"
	ReasonExtractionFailed   = "ExtractionFailed"
	ReasonEmptyDocument      = "EmptyDocument"
	ReasonMissingDocument    = "MissingDocument"
)

// CorpusSource yields the archived documents to compare a submission
// against. The Postgres repo satisfies it directly; the cache wraps it.
type CorpusSource interface {
	CorpusTexts(ctx domain.Context, exclude domain.Lineage, limit int) ([]domain.CorpusDoc, error)
}

// Handler runs one originality check end to end: load bytes, extract text,
// score against the corpus, and write the result back stale-guarded.
type Handler struct {
	Subs        domain.SubmissionRepository
	Blobs       domain.BlobStore
	Extractor   domain.TextExtractor
	Corpus      CorpusSource
	Notifier    domain.Notifier
	Opts        similarity.Options
	CorpusLimit int
}

// NewHandler constructs a Handler.
func NewHandler(subs domain.SubmissionRepository, blobs domain.BlobStore, ex domain.TextExtractor, corpus CorpusSource, n domain.Notifier, opts similarity.Options, corpusLimit int) *Handler {
	if corpusLimit <= 0 {
		corpusLimit = 200
	}
	return &Handler{Subs: subs, Blobs: blobs, Extractor: ex, Corpus: corpus, Notifier: n, Opts: opts, CorpusLimit: corpusLimit}
}

// HandleCheck processes one raw job payload.
//
// Infrastructure errors (database unreachable, and so on) are returned so
// the caller can log them and the job can be redelivered; document-level
// errors are recorded as a terminal failed result and return nil.
func (h *Handler) HandleCheck(ctx context.Context, raw []byte) error {
	tracer := otel.Tracer("worker.check")
	ctx, span := tracer.Start(ctx, "HandleCheck")
	defer span.End()

	var payload domain.CheckTaskPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		// Poison message. Nothing durable to update.
		return fmt.Errorf("op=check.unmarshal: %w", err)
	}
	lg := slog.With(
		slog.String("submission_id", payload.SubmissionID),
		slog.String("lineage", domain.Lineage{ProjectID: payload.ProjectID, Slot: payload.Slot}.Key()),
		slog.Int("version", payload.Version),
	)

	sub, err := h.Subs.Get(ctx, payload.SubmissionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			lg.Warn("check job for unknown submission, dropping")
			return nil
		}
		return fmt.Errorf("op=check.load: %w", err)
	}

	// A newer version supersedes this job before any work is done.
	if latest, lerr := h.Subs.Latest(ctx, sub.Lineage()); lerr == nil && latest.Version > payload.Version {
		lg.Info("skipping superseded check job", slog.Int("latest_version", latest.Version))
		return nil
	}

	if err := h.Subs.SetCheckStatus(ctx, sub.ID, domain.CheckProcessing, ""); err != nil {
		return fmt.Errorf("op=check.mark-processing: %w", err)
	}
	observability.StartCheck()

	text, reason, err := h.extract(ctx, payload)
	if err != nil {
		observability.AbortCheck()
		return err
	}
	if reason != "" {
		return h.fail(ctx, lg, sub, reason)
	}

	corpus, err := h.Corpus.CorpusTexts(ctx, sub.Lineage(), h.CorpusLimit)
	if err != nil {
		observability.AbortCheck()
		return fmt.Errorf("op=check.corpus: %w", err)
	}
	docs := make([]similarity.CorpusDoc, 0, len(corpus))
	for _, d := range corpus {
		docs = append(docs, similarity.CorpusDoc{ID: d.SubmissionID, Title: d.Title, Text: d.Text})
	}
	score, matches := similarity.ScoreDocument(text, docs, h.Opts)

	now := time.Now().UTC()
	res := domain.OriginalityResult{
		Status:    domain.CheckCompleted,
		Score:     score,
		Matches:   toDomainMatches(matches),
		CheckedAt: &now,
	}
	applied, err := h.Subs.ApplyOriginalityResult(ctx, sub.ID, payload.Version, res, text)
	if err != nil {
		observability.AbortCheck()
		return fmt.Errorf("op=check.apply: %w", err)
	}
	if !applied {
		observability.AbortCheck()
		lg.Info("result superseded by newer version, discarded")
		return nil
	}
	observability.FinishCheck("completed")
	observability.ObserveOriginalityScore(score)
	lg.Info("check completed",
		slog.Float64("score", score),
		slog.Int("matches", len(res.Matches)),
		slog.Int("corpus_size", len(corpus)))

	h.notify(ctx, sub, "check_completed", map[string]any{
		"submission_id": sub.ID,
		"score":         score,
		"matches":       len(res.Matches),
	})
	return nil
}

// extract returns the document text, or a terminal failure reason, or an
// infrastructure error.
func (h *Handler) extract(ctx context.Context, payload domain.CheckTaskPayload) (string, string, error) {
	data, err := h.Blobs.Get(ctx, payload.StorageKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", ReasonMissingDocument, nil
		}
		return "", "", fmt.Errorf("op=check.blob: %w", err)
	}
	text, err := h.Extractor.Extract(ctx, data, payload.MIME)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedFormat) {
			return "", ReasonUnrecognizedFormat, nil
		}
		return "", ReasonExtractionFailed, nil
	}
	if strings.TrimSpace(text) == "" {
		return "", ReasonEmptyDocument, nil
	}
	return text, "", nil
}

func (h *Handler) fail(ctx context.Context, lg *slog.Logger, sub domain.Submission, reason string) error {
	if err := h.Subs.SetCheckStatus(ctx, sub.ID, domain.CheckFailed, reason); err != nil {
		return fmt.Errorf("op=check.mark-failed: %w", err)
	}
	observability.FinishCheck("failed")
	lg.Warn("check failed", slog.String("reason", reason))
	h.notify(ctx, sub, "check_failed", map[string]any{
		"submission_id": sub.ID,
		"reason":        reason,
	})
	return nil
}

func (h *Handler) notify(ctx context.Context, sub domain.Submission, event string, payload map[string]any) {
	if h.Notifier == nil {
		return
	}
	if err := h.Notifier.Notify(ctx, sub.UploaderID, event, payload); err != nil {
		slog.Warn("notification failed", slog.String("event", event), slog.Any("error", err))
	}
}

func toDomainMatches(in []similarity.SourceMatch) []domain.MatchedSource {
	out := make([]domain.MatchedSource, 0, len(in))
	for _, m := range in {
		out = append(out, domain.MatchedSource{
			SourceID:        m.SourceID,
			Title:           m.Title,
			MatchPercentage: m.MatchPercentage,
		})
	}
	return out
}
