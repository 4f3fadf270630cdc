package usecase

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

type stubRepo struct {
	mu     sync.Mutex
	seq    int
	subs   map[string]domain.Submission
	order  map[string][]string // lineage key -> submission ids, version order
	events []domain.SubmissionEvent
	anns   map[string][]domain.Annotation
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		subs:  map[string]domain.Submission{},
		order: map[string][]string{},
		anns:  map[string][]domain.Annotation{},
	}
}

func (r *stubRepo) CreateVersion(_ domain.Context, s domain.Submission) (domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := s.Lineage().Key()
	ids := r.order[key]
	if len(ids) > 0 {
		latest := r.subs[ids[len(ids)-1]]
		if latest.Status.BlocksUpload() {
			return domain.Submission{}, fmt.Errorf("stub: %w", domain.ErrLineageLocked)
		}
	}
	r.seq++
	s.ID = fmt.Sprintf("sub-%d", r.seq)
	s.Version = len(ids) + 1
	s.Status = domain.StatusPending
	s.Originality = domain.OriginalityResult{Status: domain.CheckUnchecked}
	s.CreatedAt = time.Now().UTC()
	s.UpdatedAt = s.CreatedAt
	r.subs[s.ID] = s
	r.order[key] = append(ids, s.ID)
	return s, nil
}

func (r *stubRepo) Get(_ domain.Context, id string) (domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return domain.Submission{}, fmt.Errorf("stub: %w", domain.ErrNotFound)
	}
	s.Annotations = r.anns[id]
	return s, nil
}

func (r *stubRepo) Latest(_ domain.Context, lin domain.Lineage) (domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.order[lin.Key()]
	if len(ids) == 0 {
		return domain.Submission{}, fmt.Errorf("stub: %w", domain.ErrNotFound)
	}
	return r.subs[ids[len(ids)-1]], nil
}

func (r *stubRepo) ListByStatus(_ domain.Context, status domain.ReviewStatus, _ int) ([]domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Submission
	for _, s := range r.subs {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *stubRepo) TransitionStatus(_ domain.Context, id string, from []domain.ReviewStatus, to domain.ReviewStatus, note string) (domain.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return domain.Submission{}, fmt.Errorf("stub: %w", domain.ErrNotFound)
	}
	allowed := false
	for _, f := range from {
		if s.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.Submission{}, fmt.Errorf("stub: %w", domain.ErrConflict)
	}
	s.Status = to
	if note != "" {
		s.ReviewNote = note
	}
	s.UpdatedAt = time.Now().UTC()
	r.subs[id] = s
	return s, nil
}

func (r *stubRepo) SetCheckStatus(_ domain.Context, id string, status domain.CheckStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok {
		return fmt.Errorf("stub: %w", domain.ErrNotFound)
	}
	s.Originality.Status = status
	s.Originality.FailureReason = reason
	r.subs[id] = s
	return nil
}

func (r *stubRepo) ApplyOriginalityResult(_ domain.Context, id string, version int, res domain.OriginalityResult, _ string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.subs[id]
	if !ok || s.Version != version {
		return false, nil
	}
	ids := r.order[s.Lineage().Key()]
	if len(ids) > 0 && ids[len(ids)-1] != id {
		return false, nil
	}
	s.Originality = res
	r.subs[id] = s
	return true, nil
}

func (r *stubRepo) AddAnnotation(_ domain.Context, submissionID string, a domain.Annotation) (domain.Annotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	a.ID = fmt.Sprintf("ann-%d", r.seq)
	a.CreatedAt = time.Now().UTC()
	r.anns[submissionID] = append(r.anns[submissionID], a)
	return a, nil
}

func (r *stubRepo) GetAnnotation(_ domain.Context, submissionID, annotationID string) (domain.Annotation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.anns[submissionID] {
		if a.ID == annotationID {
			return a, nil
		}
	}
	return domain.Annotation{}, fmt.Errorf("stub: %w", domain.ErrNotFound)
}

func (r *stubRepo) RemoveAnnotation(_ domain.Context, submissionID, annotationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	anns := r.anns[submissionID]
	for i, a := range anns {
		if a.ID == annotationID {
			r.anns[submissionID] = append(anns[:i], anns[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("stub: %w", domain.ErrNotFound)
}

func (r *stubRepo) AddEvent(_ domain.Context, e domain.SubmissionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.CreatedAt = time.Now().UTC()
	r.events = append(r.events, e)
	return nil
}

func (r *stubRepo) ListEvents(_ domain.Context, submissionID string) ([]domain.SubmissionEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SubmissionEvent
	for _, e := range r.events {
		if e.SubmissionID == submissionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *stubRepo) CorpusTexts(_ domain.Context, _ domain.Lineage, _ int) ([]domain.CorpusDoc, error) {
	return nil, nil
}

type stubBlobs struct{ n int }

func (b *stubBlobs) Put(_ domain.Context, _ []byte, _ string) (string, error) {
	b.n++
	return fmt.Sprintf("blob-%d", b.n), nil
}
func (b *stubBlobs) Get(_ domain.Context, _ string) ([]byte, error) { return nil, domain.ErrNotFound }

type stubQueue struct {
	available bool
	enqueued  []domain.CheckTaskPayload
}

func (q *stubQueue) EnqueueCheck(_ domain.Context, p domain.CheckTaskPayload) (string, error) {
	if !q.available {
		return "", fmt.Errorf("stub: %w", domain.ErrQueueUnavailable)
	}
	q.enqueued = append(q.enqueued, p)
	return p.SubmissionID, nil
}
func (q *stubQueue) IsAvailable() bool { return q.available }

type stubNotifier struct{ events []string }

func (n *stubNotifier) Notify(_ domain.Context, _, event string, _ map[string]any) error {
	n.events = append(n.events, event)
	return nil
}

type neverLate struct{}

func (neverLate) IsLate(string, time.Time) bool { return false }

type alwaysLate struct{}

func (alwaysLate) IsLate(string, time.Time) bool { return true }

func newService(repo *stubRepo, q *stubQueue) SubmissionService {
	return NewSubmissionService(repo, &stubBlobs{}, q, &stubNotifier{}, neverLate{}, 1<<20)
}

func upload(t *testing.T, svc SubmissionService, project, slot string) (domain.Submission, bool) {
	t.Helper()
	sub, queued, err := svc.Upload(t.Context(), UploadInput{
		ProjectID:  project,
		Slot:       slot,
		UploaderID: "student-1",
		Filename:   "ch1.pdf",
		MIME:       "application/pdf",
		Data:       []byte("%PDF-1.4 test"),
	})
	require.NoError(t, err)
	return sub, queued
}

func TestUploadAssignsContiguousVersions(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	q := &stubQueue{available: true}
	svc := newService(repo, q)

	s1, queued := upload(t, svc, "p-1", "chapter-1")
	assert.Equal(t, 1, s1.Version)
	assert.True(t, queued)
	s2, _ := upload(t, svc, "p-1", "chapter-1")
	assert.Equal(t, 2, s2.Version)
	// A different lineage starts at version 1 again.
	s3, _ := upload(t, svc, "p-1", "chapter-2")
	assert.Equal(t, 1, s3.Version)

	require.Len(t, q.enqueued, 3)
	assert.Equal(t, s2.ID, q.enqueued[1].SubmissionID)
	assert.Equal(t, 2, q.enqueued[1].Version)

	got, err := repo.Get(t.Context(), s2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckQueued, got.Originality.Status)
}

func TestUploadDegradedModeSucceeds(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	q := &stubQueue{available: false}
	svc := newService(repo, q)

	sub, queued, err := svc.Upload(t.Context(), UploadInput{
		ProjectID:  "p-1",
		Slot:       "proposal",
		UploaderID: "student-1",
		Filename:   "proposal.docx",
		MIME:       "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Data:       []byte("content"),
	})
	require.NoError(t, err)
	assert.False(t, queued)
	assert.Empty(t, q.enqueued)

	// The check stays unchecked rather than stuck in queued.
	got, err := repo.Get(t.Context(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CheckUnchecked, got.Originality.Status)
}

func TestUploadValidation(t *testing.T) {
	t.Parallel()
	svc := newService(newStubRepo(), &stubQueue{available: true})

	_, _, err := svc.Upload(t.Context(), UploadInput{ProjectID: "p", Slot: "chapter-9", UploaderID: "u", Data: []byte("x")})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, _, err = svc.Upload(t.Context(), UploadInput{ProjectID: "", Slot: "chapter-1", UploaderID: "u", Data: []byte("x")})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, _, err = svc.Upload(t.Context(), UploadInput{ProjectID: "p", Slot: "chapter-1", UploaderID: "u"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	big := make([]byte, 2<<20)
	_, _, err = svc.Upload(t.Context(), UploadInput{ProjectID: "p", Slot: "chapter-1", UploaderID: "u", Data: big})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUploadBlockedByLockedLineage(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	svc := newService(repo, &stubQueue{available: true})

	sub, _ := upload(t, svc, "p-1", "final-paper")
	_, err := svc.Review(t.Context(), sub.ID, "fac-1", domain.DecisionApprove, "")
	require.NoError(t, err)
	_, err = svc.Lock(t.Context(), sub.ID, "fac-1")
	require.NoError(t, err)

	_, _, err = svc.Upload(t.Context(), UploadInput{
		ProjectID: "p-1", Slot: "final-paper", UploaderID: "student-1", Data: []byte("v2"),
	})
	assert.ErrorIs(t, err, domain.ErrLineageLocked)
}

func TestUploadMarksLate(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	svc := NewSubmissionService(repo, &stubBlobs{}, &stubQueue{available: true}, &stubNotifier{}, alwaysLate{}, 1<<20)
	sub, _, err := svc.Upload(t.Context(), UploadInput{
		ProjectID: "p-1", Slot: "chapter-1", UploaderID: "student-1", Data: []byte("x"),
	})
	require.NoError(t, err)
	assert.True(t, sub.IsLate)
}

func TestReviewDecisions(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	svc := newService(repo, &stubQueue{available: true})
	sub, _ := upload(t, svc, "p-1", "chapter-1")

	// Opening review is advisory and keeps the submission reviewable.
	got, err := svc.Review(t.Context(), sub.ID, "fac-1", domain.DecisionOpen, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnderReview, got.Status)

	got, err = svc.Review(t.Context(), sub.ID, "fac-1", domain.DecisionRequestRevisions, "fix chapter 2 citations")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevisionsRequired, got.Status)
	assert.Equal(t, "fix chapter 2 citations", got.ReviewNote)

	// A decided submission is no longer reviewable.
	_, err = svc.Review(t.Context(), sub.ID, "fac-1", domain.DecisionApprove, "")
	assert.ErrorIs(t, err, domain.ErrNotReviewable)
}

func TestReviewNoteIsOptional(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	svc := newService(repo, &stubQueue{available: true})

	// Negative decisions go through without a note.
	s1, _ := upload(t, svc, "p-1", "chapter-1")
	got, err := svc.Review(t.Context(), s1.ID, "fac-1", domain.DecisionRequestRevisions, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevisionsRequired, got.Status)
	assert.Empty(t, got.ReviewNote)

	s2, _ := upload(t, svc, "p-2", "chapter-1")
	got, err = svc.Review(t.Context(), s2.ID, "fac-1", domain.DecisionReject, "  ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, got.Status)
	assert.Empty(t, got.ReviewNote)
}

func TestReviewUnknownDecision(t *testing.T) {
	t.Parallel()
	svc := newService(newStubRepo(), &stubQueue{available: true})
	sub, _ := upload(t, svc, "p-1", "chapter-1")

	_, err := svc.Review(t.Context(), sub.ID, "fac-1", domain.ReviewDecision("promote"), "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestLockOnlyApproved(t *testing.T) {
	t.Parallel()
	svc := newService(newStubRepo(), &stubQueue{available: true})
	sub, _ := upload(t, svc, "p-1", "chapter-1")

	_, err := svc.Lock(t.Context(), sub.ID, "fac-1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Review(t.Context(), sub.ID, "fac-1", domain.DecisionApprove, "")
	require.NoError(t, err)
	locked, err := svc.Lock(t.Context(), sub.ID, "fac-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLocked, locked.Status)
}

func TestUnlockRequiresReason(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	svc := newService(repo, &stubQueue{available: true})
	sub, _ := upload(t, svc, "p-1", "chapter-1")
	_, err := svc.Review(t.Context(), sub.ID, "fac-1", domain.DecisionApprove, "")
	require.NoError(t, err)
	_, err = svc.Lock(t.Context(), sub.ID, "fac-1")
	require.NoError(t, err)

	_, err = svc.Unlock(t.Context(), sub.ID, "coord-1", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	got, err := svc.Unlock(t.Context(), sub.ID, "coord-1", "panel requested changes")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRevisionsRequired, got.Status)

	// The unlock reason lands in the event history.
	events, err := svc.History(t.Context(), sub.ID)
	require.NoError(t, err)
	var found bool
	for _, e := range events {
		if e.Event == domain.EventUnlocked {
			found = true
			assert.Equal(t, "panel requested changes", e.Note)
		}
	}
	assert.True(t, found)

	// Back in revisions_required, the lineage accepts uploads again.
	next, _ := upload(t, svc, "p-1", "chapter-1")
	assert.Equal(t, 2, next.Version)
	assert.Equal(t, domain.StatusPending, next.Status)
}

func TestUnlockOnlyLocked(t *testing.T) {
	t.Parallel()
	svc := newService(newStubRepo(), &stubQueue{available: true})
	sub, _ := upload(t, svc, "p-1", "chapter-1")
	_, err := svc.Unlock(t.Context(), sub.ID, "fac-1", "reason")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestAnnotationPermissions(t *testing.T) {
	t.Parallel()
	svc := newService(newStubRepo(), &stubQueue{available: true})
	sub, _ := upload(t, svc, "p-1", "chapter-1")

	a, err := svc.Annotate(t.Context(), sub.ID, "fac-1", 3, "cite your sources here")
	require.NoError(t, err)

	// Another non-elevated user may not remove it.
	err = svc.RemoveAnnotation(t.Context(), sub.ID, a.ID, "student-1", false)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// An elevated actor may.
	err = svc.RemoveAnnotation(t.Context(), sub.ID, a.ID, "coord-1", true)
	assert.NoError(t, err)
}

func TestAnnotateValidation(t *testing.T) {
	t.Parallel()
	svc := newService(newStubRepo(), &stubQueue{available: true})
	sub, _ := upload(t, svc, "p-1", "chapter-1")

	_, err := svc.Annotate(t.Context(), sub.ID, "fac-1", 0, "content")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.Annotate(t.Context(), sub.ID, "fac-1", 1, "  ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = svc.Annotate(t.Context(), "missing", "fac-1", 1, "content")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecheck(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	q := &stubQueue{available: true}
	svc := newService(repo, q)

	s1, _ := upload(t, svc, "p-1", "chapter-1")
	s2, _ := upload(t, svc, "p-1", "chapter-1")

	// Superseded versions cannot be rechecked.
	_, err := svc.Recheck(t.Context(), s1.ID, "fac-1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	// The in-flight check blocks a duplicate recheck.
	_, err = svc.Recheck(t.Context(), s2.ID, "fac-1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	require.NoError(t, repo.SetCheckStatus(t.Context(), s2.ID, domain.CheckFailed, "EmptyDocument"))
	got, err := svc.Recheck(t.Context(), s2.ID, "fac-1")
	require.NoError(t, err)
	assert.Equal(t, domain.CheckQueued, got.Originality.Status)
}

func TestRecheckQueueDown(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	q := &stubQueue{available: true}
	svc := newService(repo, q)
	sub, _ := upload(t, svc, "p-1", "chapter-1")
	require.NoError(t, repo.SetCheckStatus(t.Context(), sub.ID, domain.CheckUnchecked, ""))

	q.available = false
	_, err := svc.Recheck(t.Context(), sub.ID, "fac-1")
	assert.ErrorIs(t, err, domain.ErrQueueUnavailable)
}

func TestWorklist(t *testing.T) {
	t.Parallel()
	repo := newStubRepo()
	svc := newService(repo, &stubQueue{available: true})
	upload(t, svc, "p-1", "chapter-1")
	upload(t, svc, "p-2", "chapter-1")

	subs, err := svc.Worklist(t.Context(), domain.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	_, err = svc.Worklist(t.Context(), domain.ReviewStatus("weird"), 10)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
