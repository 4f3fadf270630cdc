package shared

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
	"github.com/Patrickjoshanedez/capstone-docs/pkg/similarity"
)

type repoStub struct {
	domain.SubmissionRepository

	sub          domain.Submission
	latest       domain.Submission
	checkCalls   []string // "status:reason"
	applied      *domain.OriginalityResult
	applyOK      bool
	applyVersion int
}

func (r *repoStub) Get(_ domain.Context, id string) (domain.Submission, error) {
	if id != r.sub.ID {
		return domain.Submission{}, fmt.Errorf("stub: %w", domain.ErrNotFound)
	}
	return r.sub, nil
}

func (r *repoStub) Latest(_ domain.Context, _ domain.Lineage) (domain.Submission, error) {
	return r.latest, nil
}

func (r *repoStub) SetCheckStatus(_ domain.Context, _ string, status domain.CheckStatus, reason string) error {
	r.checkCalls = append(r.checkCalls, string(status)+":"+reason)
	return nil
}

func (r *repoStub) ApplyOriginalityResult(_ domain.Context, _ string, version int, res domain.OriginalityResult, _ string) (bool, error) {
	r.applied = &res
	r.applyVersion = version
	return r.applyOK, nil
}

type blobStub struct{ data map[string][]byte }

func (b blobStub) Put(domain.Context, []byte, string) (string, error) { return "", nil }
func (b blobStub) Get(_ domain.Context, key string) ([]byte, error) {
	d, ok := b.data[key]
	if !ok {
		return nil, fmt.Errorf("stub: %w", domain.ErrNotFound)
	}
	return d, nil
}

type extractorStub struct{}

func (extractorStub) Extract(_ domain.Context, data []byte, mimeType string) (string, error) {
	switch mimeType {
	case "text/plain":
		return string(data), nil
	case "application/pdf":
		return "", fmt.Errorf("pdf parse failed")
	default:
		return "", fmt.Errorf("stub: %w", domain.ErrUnsupportedFormat)
	}
}

type corpusStub struct{ docs []domain.CorpusDoc }

func (c corpusStub) CorpusTexts(domain.Context, domain.Lineage, int) ([]domain.CorpusDoc, error) {
	return c.docs, nil
}

type notifierStub struct{ events []string }

func (n *notifierStub) Notify(_ domain.Context, _, event string, _ map[string]any) error {
	n.events = append(n.events, event)
	return nil
}

func payloadBytes(t *testing.T, p domain.CheckTaskPayload) []byte {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func fixture() (*repoStub, domain.CheckTaskPayload) {
	sub := domain.Submission{
		ID:         "sub-1",
		ProjectID:  "p-1",
		Slot:       domain.SlotChapter1,
		Version:    2,
		UploaderID: "student-1",
		StorageKey: "blob-1",
		MIME:       "text/plain",
	}
	repo := &repoStub{sub: sub, latest: sub, applyOK: true}
	return repo, domain.CheckTaskPayload{
		SubmissionID: "sub-1",
		ProjectID:    "p-1",
		Slot:         domain.SlotChapter1,
		Version:      2,
		StorageKey:   "blob-1",
		MIME:         "text/plain",
	}
}

func newTestHandler(repo *repoStub, blobs blobStub, corpus corpusStub, n *notifierStub) *Handler {
	return NewHandler(repo, blobs, extractorStub{}, corpus, n, similarity.DefaultOptions(), 200)
}

func TestHandleCheckCompletes(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	text := "a thesis chapter about distributed task scheduling in campus networks"
	n := &notifierStub{}
	h := newTestHandler(repo,
		blobStub{data: map[string][]byte{"blob-1": []byte(text)}},
		corpusStub{docs: []domain.CorpusDoc{{SubmissionID: "other", Title: "Other", Text: text}}},
		n)

	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))

	require.NotNil(t, repo.applied)
	assert.Equal(t, domain.CheckCompleted, repo.applied.Status)
	assert.Equal(t, 2, repo.applyVersion)
	// Identical corpus text means zero originality with one full match.
	assert.InDelta(t, 0.0, repo.applied.Score, 1e-9)
	require.Len(t, repo.applied.Matches, 1)
	assert.Equal(t, "other", repo.applied.Matches[0].SourceID)
	assert.Contains(t, repo.checkCalls, "processing:")
	assert.Equal(t, []string{"check_completed"}, n.events)
}

func TestHandleCheckEmptyCorpusFullyOriginal(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	h := newTestHandler(repo,
		blobStub{data: map[string][]byte{"blob-1": []byte("original work")}},
		corpusStub{}, &notifierStub{})

	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))
	require.NotNil(t, repo.applied)
	assert.InDelta(t, 100.0, repo.applied.Score, 1e-9)
	assert.Empty(t, repo.applied.Matches)
}

func TestHandleCheckUnsupportedFormat(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	repo.sub.MIME = "image/png"
	payload.MIME = "image/png"
	n := &notifierStub{}
	h := newTestHandler(repo, blobStub{data: map[string][]byte{"blob-1": {1, 2, 3}}}, corpusStub{}, n)

	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))
	assert.Nil(t, repo.applied)
	assert.Contains(t, repo.checkCalls, "failed:"+ReasonUnrecognizedFormat)
	assert.Equal(t, []string{"check_failed"}, n.events)
}

func TestHandleCheckExtractionFailure(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	repo.sub.MIME = "application/pdf"
	payload.MIME = "application/pdf"
	h := newTestHandler(repo, blobStub{data: map[string][]byte{"blob-1": []byte("%PDF")}}, corpusStub{}, &notifierStub{})

	// Parse failures are terminal, not returned for redelivery.
	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))
	assert.Contains(t, repo.checkCalls, "failed:"+ReasonExtractionFailed)
}

func TestHandleCheckEmptyDocument(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	h := newTestHandler(repo, blobStub{data: map[string][]byte{"blob-1": []byte("   \n\t ")}}, corpusStub{}, &notifierStub{})

	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))
	assert.Contains(t, repo.checkCalls, "failed:"+ReasonEmptyDocument)
}

func TestHandleCheckMissingBlob(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	h := newTestHandler(repo, blobStub{data: map[string][]byte{}}, corpusStub{}, &notifierStub{})

	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))
	assert.Contains(t, repo.checkCalls, "failed:"+ReasonMissingDocument)
}

func TestHandleCheckSkipsSupersededJob(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	repo.latest = domain.Submission{ID: "sub-2", Version: 3}
	h := newTestHandler(repo, blobStub{data: map[string][]byte{"blob-1": []byte("text")}}, corpusStub{}, &notifierStub{})

	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))
	// Dropped before any state change.
	assert.Empty(t, repo.checkCalls)
	assert.Nil(t, repo.applied)
}

func TestHandleCheckStaleResultDiscarded(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	repo.applyOK = false
	n := &notifierStub{}
	h := newTestHandler(repo, blobStub{data: map[string][]byte{"blob-1": []byte("some text")}}, corpusStub{}, n)

	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))
	// The write was skipped and no completion notification goes out.
	assert.Empty(t, n.events)
}

func TestHandleCheckUnknownSubmissionDropped(t *testing.T) {
	t.Parallel()
	repo, payload := fixture()
	payload.SubmissionID = "ghost"
	h := newTestHandler(repo, blobStub{}, corpusStub{}, &notifierStub{})

	require.NoError(t, h.HandleCheck(t.Context(), payloadBytes(t, payload)))
	assert.Empty(t, repo.checkCalls)
}

func TestHandleCheckMalformedPayload(t *testing.T) {
	t.Parallel()
	repo, _ := fixture()
	h := newTestHandler(repo, blobStub{}, corpusStub{}, &notifierStub{})
	assert.Error(t, h.HandleCheck(t.Context(), []byte("{not json")))
}
