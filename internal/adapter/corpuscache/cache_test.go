package corpuscache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

type countingSource struct {
	calls int
	docs  []domain.CorpusDoc
}

func (s *countingSource) CorpusTexts(domain.Context, domain.Lineage, int) ([]domain.CorpusDoc, error) {
	s.calls++
	return s.docs, nil
}

func newTestCache(t *testing.T, src *countingSource, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, src, ttl), mr
}

func TestCacheReadThrough(t *testing.T) {
	t.Parallel()
	src := &countingSource{docs: []domain.CorpusDoc{
		{SubmissionID: "s1", ProjectID: "p1", Title: "Other", Text: "archived text"},
	}}
	cache, _ := newTestCache(t, src, time.Minute)
	lin := domain.Lineage{ProjectID: "p-9", Slot: domain.SlotChapter1}

	docs, err := cache.CorpusTexts(t.Context(), lin, 200)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, src.calls)

	// Second read is served from Redis.
	docs, err = cache.CorpusTexts(t.Context(), lin, 200)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "s1", docs[0].SubmissionID)
	assert.Equal(t, 1, src.calls)
}

func TestCacheKeysPerLineageAndLimit(t *testing.T) {
	t.Parallel()
	src := &countingSource{}
	cache, _ := newTestCache(t, src, time.Minute)

	_, err := cache.CorpusTexts(t.Context(), domain.Lineage{ProjectID: "a", Slot: domain.SlotChapter1}, 200)
	require.NoError(t, err)
	_, err = cache.CorpusTexts(t.Context(), domain.Lineage{ProjectID: "b", Slot: domain.SlotChapter1}, 200)
	require.NoError(t, err)
	_, err = cache.CorpusTexts(t.Context(), domain.Lineage{ProjectID: "a", Slot: domain.SlotChapter1}, 50)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()
	src := &countingSource{}
	cache, mr := newTestCache(t, src, time.Minute)
	lin := domain.Lineage{ProjectID: "p", Slot: domain.SlotProposal}

	_, err := cache.CorpusTexts(t.Context(), lin, 200)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cache.CorpusTexts(t.Context(), lin, 200)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCacheInvalidate(t *testing.T) {
	t.Parallel()
	src := &countingSource{}
	cache, _ := newTestCache(t, src, time.Minute)
	lin := domain.Lineage{ProjectID: "p", Slot: domain.SlotChapter2}

	_, err := cache.CorpusTexts(t.Context(), lin, 200)
	require.NoError(t, err)
	cache.Invalidate(t.Context())
	_, err = cache.CorpusTexts(t.Context(), lin, 200)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCacheCorruptEntryFallsThrough(t *testing.T) {
	t.Parallel()
	src := &countingSource{}
	cache, mr := newTestCache(t, src, time.Minute)
	lin := domain.Lineage{ProjectID: "p", Slot: domain.SlotChapter3}
	require.NoError(t, mr.Set("corpus:p/chapter-3:200", "{{{ not json"))

	_, err := cache.CorpusTexts(t.Context(), lin, 200)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)
}

func TestCacheNilClientPassesThrough(t *testing.T) {
	t.Parallel()
	src := &countingSource{}
	cache := New(nil, src, time.Minute)
	_, err := cache.CorpusTexts(t.Context(), domain.Lineage{ProjectID: "p", Slot: domain.SlotChapter1}, 200)
	require.NoError(t, err)
	_, err = cache.CorpusTexts(t.Context(), domain.Lineage{ProjectID: "p", Slot: domain.SlotChapter1}, 200)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}
