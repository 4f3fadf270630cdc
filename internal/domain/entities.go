// Package domain holds the core entities, state machines, and ports for the
// capstone document lifecycle: versioned submissions, the faculty review
// state machine, and the asynchronous originality-check pipeline.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrForbidden         = errors.New("forbidden")
	ErrLineageLocked     = errors.New("lineage locked")
	ErrNotReviewable     = errors.New("not reviewable")
	ErrQueueUnavailable  = errors.New("queue unavailable")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrStaleResult       = errors.New("stale result")
	ErrInternal          = errors.New("internal error")
)

// Slot identifies the artifact position a lineage belongs to within a
// project: one of the five chapters, the compiled proposal, or the final
// paper.
type Slot string

const (
	SlotChapter1   Slot = "chapter-1"
	SlotChapter2   Slot = "chapter-2"
	SlotChapter3   Slot = "chapter-3"
	SlotChapter4   Slot = "chapter-4"
	SlotChapter5   Slot = "chapter-5"
	SlotProposal   Slot = "proposal"
	SlotFinalPaper Slot = "final-paper"
)

// ParseSlot validates a slot string from the transport layer.
func ParseSlot(s string) (Slot, error) {
	switch Slot(strings.ToLower(strings.TrimSpace(s))) {
	case SlotChapter1, SlotChapter2, SlotChapter3, SlotChapter4, SlotChapter5, SlotProposal, SlotFinalPaper:
		return Slot(strings.ToLower(strings.TrimSpace(s))), nil
	}
	return "", fmt.Errorf("%w: unknown slot %q", ErrInvalidArgument, s)
}

// Lineage is the sequence of versioned submissions for one slot of one
// project. All version/lock invariants are enforced per lineage.
type Lineage struct {
	ProjectID string
	Slot      Slot
}

// Key returns a stable string form used for logging and advisory locking.
func (l Lineage) Key() string { return l.ProjectID + "/" + string(l.Slot) }

// ReviewStatus is the faculty review state of one submission version.
type ReviewStatus string

const (
	StatusPending           ReviewStatus = "pending"
	StatusUnderReview       ReviewStatus = "under_review"
	StatusApproved          ReviewStatus = "approved"
	StatusRevisionsRequired ReviewStatus = "revisions_required"
	StatusRejected          ReviewStatus = "rejected"
	StatusLocked            ReviewStatus = "locked"
)

// Reviewable reports whether a review decision may be applied in this state.
// under_review is an advisory sub-state of pending and does not gate actions.
func (s ReviewStatus) Reviewable() bool {
	return s == StatusPending || s == StatusUnderReview
}

// BlocksUpload reports whether a new version may NOT be uploaded into a
// lineage whose latest submission is in this state.
func (s ReviewStatus) BlocksUpload() bool {
	return s == StatusLocked || s == StatusRejected
}

// ReviewDecision is a faculty action on a reviewable submission.
type ReviewDecision string

const (
	DecisionOpen             ReviewDecision = "open"
	DecisionApprove          ReviewDecision = "approve"
	DecisionRequestRevisions ReviewDecision = "request_revisions"
	DecisionReject           ReviewDecision = "reject"
)

// Outcome maps a decision to the resulting review status. ok is false for
// unknown decisions.
func (d ReviewDecision) Outcome() (ReviewStatus, bool) {
	switch d {
	case DecisionOpen:
		return StatusUnderReview, true
	case DecisionApprove:
		return StatusApproved, true
	case DecisionRequestRevisions:
		return StatusRevisionsRequired, true
	case DecisionReject:
		return StatusRejected, true
	}
	return "", false
}

// CheckStatus is the lifecycle of the originality check for one submission
// version. Each version carries its own independent result.
type CheckStatus string

const (
	CheckUnchecked  CheckStatus = "unchecked"
	CheckQueued     CheckStatus = "queued"
	CheckProcessing CheckStatus = "processing"
	CheckCompleted  CheckStatus = "completed"
	CheckFailed     CheckStatus = "failed"
)

// MatchedSource is one corpus document the originality check flagged.
type MatchedSource struct {
	SourceID        string  `json:"source_id"`
	Title           string  `json:"title"`
	MatchPercentage float64 `json:"match_percentage"`
}

// OriginalityResult is embedded on a Submission. Score is an originality
// percentage in [0,100]; it is only meaningful when Status is completed.
type OriginalityResult struct {
	Status        CheckStatus
	Score         float64
	Matches       []MatchedSource
	CheckedAt     *time.Time
	FailureReason string
}

// Annotation is a faculty or student note pinned to a page of a submission.
// Annotations are an owned child collection of the Submission aggregate.
type Annotation struct {
	ID        string
	AuthorID  string
	Page      int
	Content   string
	CreatedAt time.Time
}

// Submission is one version of one slot's document for one project.
// Invariants: versions within a lineage are contiguous starting at 1, and
// exactly one version is the latest.
type Submission struct {
	ID          string
	ProjectID   string
	Slot        Slot
	Version     int
	UploaderID  string
	StorageKey  string
	Filename    string
	MIME        string
	Size        int64
	Status      ReviewStatus
	Remarks     string
	ReviewNote  string
	IsLate      bool
	Originality OriginalityResult
	Annotations []Annotation
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Lineage returns the lineage this submission belongs to.
func (s Submission) Lineage() Lineage { return Lineage{ProjectID: s.ProjectID, Slot: s.Slot} }

// Submission event types recorded in the per-submission history.
const (
	EventUploaded  = "uploaded"
	EventReviewed  = "reviewed"
	EventLocked    = "locked"
	EventUnlocked  = "unlocked"
	EventRechecked = "rechecked"
)

// SubmissionEvent is an append-only history entry (who did what, and why).
// The unlock reason is retrievable from here.
type SubmissionEvent struct {
	ID           string
	SubmissionID string
	ActorID      string
	Event        string
	Note         string
	CreatedAt    time.Time
}

// CheckTaskPayload is the ephemeral work item placed on the queue. All
// durable state lives on the Submission; the payload only carries enough to
// locate the bytes and stale-guard the write-back.
type CheckTaskPayload struct {
	SubmissionID string    `json:"submission_id"`
	ProjectID    string    `json:"project_id"`
	Slot         Slot      `json:"slot"`
	Version      int       `json:"version"`
	StorageKey   string    `json:"storage_key"`
	MIME         string    `json:"mime"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	Attempt      int       `json:"attempt"`
}

// CorpusDoc is one archived document the worker compares against.
type CorpusDoc struct {
	SubmissionID string
	ProjectID    string
	Title        string
	Text         string
}

// TitleEntry is an existing project title with its keyword list, used by the
// synchronous title-duplicate check.
type TitleEntry struct {
	ID       string
	Title    string
	Keywords []string
}

// Context is an alias so the domain package does not spell out std context
// in every port signature. Adapters pass context.Context through unchanged.
type Context = context.Context
