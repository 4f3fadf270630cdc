// Package usecase contains the application services: orchestration over the
// domain ports, free of transport and storage concerns.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/observability"
	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// DeadlineSource answers whether an upload for a slot at a given time missed
// its deadline.
type DeadlineSource interface {
	IsLate(slot string, at time.Time) bool
}

// SubmissionService owns the document lifecycle: versioned uploads, the
// review state machine, lock management, annotations, and recheck requests.
type SubmissionService struct {
	Subs           domain.SubmissionRepository
	Blobs          domain.BlobStore
	Queue          domain.Queue
	Notifier       domain.Notifier
	Deadlines      DeadlineSource
	MaxUploadBytes int64
}

// NewSubmissionService constructs a SubmissionService.
func NewSubmissionService(subs domain.SubmissionRepository, blobs domain.BlobStore, q domain.Queue, n domain.Notifier, d DeadlineSource, maxUploadBytes int64) SubmissionService {
	return SubmissionService{Subs: subs, Blobs: blobs, Queue: q, Notifier: n, Deadlines: d, MaxUploadBytes: maxUploadBytes}
}

// UploadInput carries one upload request from the transport layer.
type UploadInput struct {
	ProjectID  string
	Slot       string
	UploaderID string
	Filename   string
	MIME       string
	Data       []byte
	Remarks    string
}

// Upload stores the document, assigns the next version in its lineage, and
// enqueues an originality check. A down broker is non-fatal: the upload
// succeeds with queued=false and the check stays unchecked until a recheck
// or sweep picks it up.
func (s SubmissionService) Upload(ctx domain.Context, in UploadInput) (domain.Submission, bool, error) {
	slot, err := domain.ParseSlot(in.Slot)
	if err != nil {
		return domain.Submission{}, false, err
	}
	if strings.TrimSpace(in.ProjectID) == "" || strings.TrimSpace(in.UploaderID) == "" {
		return domain.Submission{}, false, fmt.Errorf("%w: project and uploader are required", domain.ErrInvalidArgument)
	}
	if len(in.Data) == 0 {
		return domain.Submission{}, false, fmt.Errorf("%w: empty document", domain.ErrInvalidArgument)
	}
	if s.MaxUploadBytes > 0 && int64(len(in.Data)) > s.MaxUploadBytes {
		return domain.Submission{}, false, fmt.Errorf("%w: document exceeds %d bytes", domain.ErrInvalidArgument, s.MaxUploadBytes)
	}

	now := time.Now().UTC()
	key, err := s.Blobs.Put(ctx, in.Data, in.MIME)
	if err != nil {
		return domain.Submission{}, false, err
	}
	sub, err := s.Subs.CreateVersion(ctx, domain.Submission{
		ProjectID:  in.ProjectID,
		Slot:       slot,
		UploaderID: in.UploaderID,
		StorageKey: key,
		Filename:   in.Filename,
		MIME:       in.MIME,
		Size:       int64(len(in.Data)),
		Remarks:    strings.TrimSpace(in.Remarks),
		IsLate:     s.Deadlines != nil && s.Deadlines.IsLate(string(slot), now),
	})
	if err != nil {
		return domain.Submission{}, false, err
	}
	s.addEvent(ctx, sub.ID, in.UploaderID, domain.EventUploaded,
		fmt.Sprintf("version %d of %s", sub.Version, sub.Lineage().Key()))

	queued := s.enqueue(ctx, sub)
	return sub, queued, nil
}

// enqueue marks the submission queued and hands it to the broker, reverting
// to unchecked when the broker is unavailable. Returns whether the check is
// actually queued.
func (s SubmissionService) enqueue(ctx domain.Context, sub domain.Submission) bool {
	if err := s.Subs.SetCheckStatus(ctx, sub.ID, domain.CheckQueued, ""); err != nil {
		slog.Warn("failed to mark check queued", slog.String("submission_id", sub.ID), slog.Any("error", err))
		return false
	}
	_, err := s.Queue.EnqueueCheck(ctx, domain.CheckTaskPayload{
		SubmissionID: sub.ID,
		ProjectID:    sub.ProjectID,
		Slot:         sub.Slot,
		Version:      sub.Version,
		StorageKey:   sub.StorageKey,
		MIME:         sub.MIME,
		EnqueuedAt:   time.Now().UTC(),
	})
	if err != nil {
		if rerr := s.Subs.SetCheckStatus(ctx, sub.ID, domain.CheckUnchecked, ""); rerr != nil {
			slog.Warn("failed to revert check status", slog.String("submission_id", sub.ID), slog.Any("error", rerr))
		}
		if errors.Is(err, domain.ErrQueueUnavailable) {
			observability.DeferCheck()
			slog.Warn("check deferred, broker unavailable", slog.String("submission_id", sub.ID))
			return false
		}
		slog.Error("enqueue failed", slog.String("submission_id", sub.ID), slog.Any("error", err))
		return false
	}
	return true
}

// Recheck re-enqueues the originality check for the latest version of a
// lineage. Unlike upload, a down broker is an error here: the caller asked
// specifically for a check, so the request fails with ErrQueueUnavailable.
func (s SubmissionService) Recheck(ctx domain.Context, submissionID, actorID string) (domain.Submission, error) {
	sub, err := s.Subs.Get(ctx, submissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	latest, err := s.Subs.Latest(ctx, sub.Lineage())
	if err != nil {
		return domain.Submission{}, err
	}
	if latest.ID != sub.ID {
		return domain.Submission{}, fmt.Errorf("%w: version %d superseded by %d", domain.ErrConflict, sub.Version, latest.Version)
	}
	if sub.Originality.Status == domain.CheckQueued || sub.Originality.Status == domain.CheckProcessing {
		return domain.Submission{}, fmt.Errorf("%w: check already in flight", domain.ErrConflict)
	}
	if !s.Queue.IsAvailable() {
		return domain.Submission{}, fmt.Errorf("op=recheck: %w", domain.ErrQueueUnavailable)
	}
	if err := s.Subs.SetCheckStatus(ctx, sub.ID, domain.CheckQueued, ""); err != nil {
		return domain.Submission{}, err
	}
	if _, err := s.Queue.EnqueueCheck(ctx, domain.CheckTaskPayload{
		SubmissionID: sub.ID,
		ProjectID:    sub.ProjectID,
		Slot:         sub.Slot,
		Version:      sub.Version,
		StorageKey:   sub.StorageKey,
		MIME:         sub.MIME,
		EnqueuedAt:   time.Now().UTC(),
	}); err != nil {
		if rerr := s.Subs.SetCheckStatus(ctx, sub.ID, domain.CheckUnchecked, ""); rerr != nil {
			slog.Warn("failed to revert check status", slog.String("submission_id", sub.ID), slog.Any("error", rerr))
		}
		return domain.Submission{}, err
	}
	s.addEvent(ctx, sub.ID, actorID, domain.EventRechecked, "")
	return s.Subs.Get(ctx, sub.ID)
}

// Review applies a faculty decision to a reviewable submission. The note is
// optional for every decision; when present it is recorded on the submission.
func (s SubmissionService) Review(ctx domain.Context, submissionID, reviewerID string, decision domain.ReviewDecision, note string) (domain.Submission, error) {
	to, ok := decision.Outcome()
	if !ok {
		return domain.Submission{}, fmt.Errorf("%w: unknown decision %q", domain.ErrInvalidArgument, decision)
	}
	note = strings.TrimSpace(note)
	from := []domain.ReviewStatus{domain.StatusPending, domain.StatusUnderReview}
	sub, err := s.Subs.TransitionStatus(ctx, submissionID, from, to, note)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Submission{}, fmt.Errorf("%w: submission is not awaiting review", domain.ErrNotReviewable)
		}
		return domain.Submission{}, err
	}
	s.addEvent(ctx, sub.ID, reviewerID, domain.EventReviewed, string(decision))
	if decision != domain.DecisionOpen {
		s.notify(ctx, sub.UploaderID, "submission_reviewed", map[string]any{
			"submission_id": sub.ID,
			"status":        string(sub.Status),
			"note":          note,
		})
	}
	return sub, nil
}

// Lock freezes an approved submission so its lineage accepts no further
// uploads.
func (s SubmissionService) Lock(ctx domain.Context, submissionID, actorID string) (domain.Submission, error) {
	sub, err := s.Subs.TransitionStatus(ctx, submissionID,
		[]domain.ReviewStatus{domain.StatusApproved}, domain.StatusLocked, "")
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Submission{}, fmt.Errorf("%w: only approved submissions can be locked", domain.ErrConflict)
		}
		return domain.Submission{}, err
	}
	s.addEvent(ctx, sub.ID, actorID, domain.EventLocked, "")
	return sub, nil
}

// Unlock sends a locked submission back for revisions so its lineage accepts
// uploads again. The reason is mandatory and lands in the event history as
// the audit trail.
func (s SubmissionService) Unlock(ctx domain.Context, submissionID, actorID, reason string) (domain.Submission, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Submission{}, fmt.Errorf("%w: unlock requires a reason", domain.ErrInvalidArgument)
	}
	sub, err := s.Subs.TransitionStatus(ctx, submissionID,
		[]domain.ReviewStatus{domain.StatusLocked}, domain.StatusRevisionsRequired, "")
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Submission{}, fmt.Errorf("%w: submission is not locked", domain.ErrConflict)
		}
		return domain.Submission{}, err
	}
	s.addEvent(ctx, sub.ID, actorID, domain.EventUnlocked, reason)
	s.notify(ctx, sub.UploaderID, "submission_unlocked", map[string]any{
		"submission_id": sub.ID,
		"reason":        reason,
	})
	return sub, nil
}

// Annotate pins a note to a page of a submission.
func (s SubmissionService) Annotate(ctx domain.Context, submissionID, authorID string, page int, content string) (domain.Annotation, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Annotation{}, fmt.Errorf("%w: empty annotation", domain.ErrInvalidArgument)
	}
	if page < 1 {
		return domain.Annotation{}, fmt.Errorf("%w: page must be >= 1", domain.ErrInvalidArgument)
	}
	if _, err := s.Subs.Get(ctx, submissionID); err != nil {
		return domain.Annotation{}, err
	}
	return s.Subs.AddAnnotation(ctx, submissionID, domain.Annotation{
		AuthorID: authorID,
		Page:     page,
		Content:  content,
	})
}

// RemoveAnnotation deletes an annotation. Only its author, or an elevated
// actor, may remove it.
func (s SubmissionService) RemoveAnnotation(ctx domain.Context, submissionID, annotationID, actorID string, elevated bool) error {
	a, err := s.Subs.GetAnnotation(ctx, submissionID, annotationID)
	if err != nil {
		return err
	}
	if a.AuthorID != actorID && !elevated {
		return fmt.Errorf("%w: not the annotation author", domain.ErrForbidden)
	}
	return s.Subs.RemoveAnnotation(ctx, submissionID, annotationID)
}

// Get loads one submission with its annotations.
func (s SubmissionService) Get(ctx domain.Context, submissionID string) (domain.Submission, error) {
	return s.Subs.Get(ctx, submissionID)
}

// Latest loads the current version of a lineage.
func (s SubmissionService) Latest(ctx domain.Context, lin domain.Lineage) (domain.Submission, error) {
	return s.Subs.Latest(ctx, lin)
}

// History returns the submission's event trail, oldest first.
func (s SubmissionService) History(ctx domain.Context, submissionID string) ([]domain.SubmissionEvent, error) {
	return s.Subs.ListEvents(ctx, submissionID)
}

// Worklist lists submissions in the given review state, for faculty queues.
func (s SubmissionService) Worklist(ctx domain.Context, status domain.ReviewStatus, limit int) ([]domain.Submission, error) {
	switch status {
	case domain.StatusPending, domain.StatusUnderReview, domain.StatusApproved,
		domain.StatusRevisionsRequired, domain.StatusRejected, domain.StatusLocked:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, status)
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.Subs.ListByStatus(ctx, status, limit)
}

func (s SubmissionService) addEvent(ctx domain.Context, submissionID, actorID, event, note string) {
	err := s.Subs.AddEvent(ctx, domain.SubmissionEvent{
		SubmissionID: submissionID,
		ActorID:      actorID,
		Event:        event,
		Note:         note,
	})
	if err != nil {
		slog.Warn("failed to record event",
			slog.String("submission_id", submissionID),
			slog.String("event", event),
			slog.Any("error", err))
	}
}

func (s SubmissionService) notify(ctx domain.Context, userID, event string, payload map[string]any) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.Notify(ctx, userID, event, payload); err != nil {
		slog.Warn("notification failed", slog.String("event", event), slog.Any("error", err))
	}
}
