package domain

// SubmissionRepository owns Submission records, their version lineage, and
// lock state. Implementations must serialize concurrent writes to the same
// lineage so that "read latest then write" is atomic per lineage.
type SubmissionRepository interface {
	// CreateVersion assigns the next version within the lineage and inserts
	// the submission. Returns ErrLineageLocked when the current latest
	// version blocks uploads.
	CreateVersion(ctx Context, s Submission) (Submission, error)
	Get(ctx Context, id string) (Submission, error)
	Latest(ctx Context, lin Lineage) (Submission, error)
	ListByStatus(ctx Context, status ReviewStatus, limit int) ([]Submission, error)

	// TransitionStatus moves a submission from one of the given states to the
	// target state, recording the optional note. Returns ErrConflict when the
	// current status is not in from.
	TransitionStatus(ctx Context, id string, from []ReviewStatus, to ReviewStatus, note string) (Submission, error)

	// SetCheckStatus updates only the originality-check state (queued,
	// processing, failed-with-reason). It never touches the review status.
	SetCheckStatus(ctx Context, id string, status CheckStatus, reason string) error

	// ApplyOriginalityResult writes a completed result plus the extracted
	// text for future corpus use. It is idempotent and stale-guarded: the
	// write is skipped (applied=false) when the submission is no longer the
	// latest version of its lineage or the version does not match the queued
	// job.
	ApplyOriginalityResult(ctx Context, id string, version int, res OriginalityResult, extractedText string) (applied bool, err error)

	AddAnnotation(ctx Context, submissionID string, a Annotation) (Annotation, error)
	GetAnnotation(ctx Context, submissionID, annotationID string) (Annotation, error)
	RemoveAnnotation(ctx Context, submissionID, annotationID string) error

	AddEvent(ctx Context, e SubmissionEvent) error
	ListEvents(ctx Context, submissionID string) ([]SubmissionEvent, error)

	// CorpusTexts returns archived extracted texts to compare against,
	// excluding the given lineage. Implementations prefer same-slot documents
	// and cap the result set.
	CorpusTexts(ctx Context, exclude Lineage, limit int) ([]CorpusDoc, error)
}

// BlobStore is the external content-addressed object store. The core treats
// it as opaque put/get byte storage.
type BlobStore interface {
	Put(ctx Context, data []byte, contentType string) (key string, err error)
	Get(ctx Context, key string) ([]byte, error)
}

// Queue is the durable work queue for originality checks. EnqueueCheck
// returns ErrQueueUnavailable when the broker is unreachable; callers treat
// that as non-fatal and leave the submission unchecked (degraded mode).
type Queue interface {
	EnqueueCheck(ctx Context, payload CheckTaskPayload) (string, error)
	// IsAvailable is a cheap liveness answer backed by periodic re-probing;
	// it must never block on a down broker.
	IsAvailable() bool
}

// Notifier is the one-way contract to the external notification transport.
type Notifier interface {
	Notify(ctx Context, userID, event string, payload map[string]any) error
}

// TextExtractor turns raw document bytes into plain text keyed on the
// declared MIME type. Parse failures propagate as typed errors, never as a
// silent empty string.
type TextExtractor interface {
	Extract(ctx Context, data []byte, mimeType string) (string, error)
}

// TitleDirectory lists existing project titles for the synchronous
// title-duplicate check. Project CRUD itself is external.
type TitleDirectory interface {
	List(ctx Context) ([]TitleEntry, error)
}
