// Package corpuscache caches the extracted corpus texts in Redis so the
// worker does not re-pull megabytes of archived text from Postgres on every
// check.
package corpuscache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Patrickjoshanedez/capstone-docs/internal/adapter/queue/shared"
	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// Cache is a read-through wrapper around a CorpusSource. Cache misses and
// Redis failures both fall through to the underlying source; the cache is an
// optimization, never a dependency.
type Cache struct {
	rdb  *redis.Client
	next shared.CorpusSource
	ttl  time.Duration
}

// New constructs a Cache. A nil client disables caching entirely.
func New(rdb *redis.Client, next shared.CorpusSource, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{rdb: rdb, next: next, ttl: ttl}
}

// CorpusTexts implements shared.CorpusSource.
func (c *Cache) CorpusTexts(ctx domain.Context, exclude domain.Lineage, limit int) ([]domain.CorpusDoc, error) {
	if c.rdb == nil {
		return c.next.CorpusTexts(ctx, exclude, limit)
	}
	key := cacheKey(exclude, limit)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var docs []domain.CorpusDoc
		if uerr := json.Unmarshal(raw, &docs); uerr == nil {
			return docs, nil
		}
		// Corrupt entry. Drop it and refetch.
		c.rdb.Del(ctx, key)
	} else if err != redis.Nil {
		slog.Warn("corpus cache read failed", slog.String("key", key), slog.Any("error", err))
	}

	docs, err := c.next.CorpusTexts(ctx, exclude, limit)
	if err != nil {
		return nil, err
	}
	if raw, merr := json.Marshal(docs); merr == nil {
		if serr := c.rdb.Set(ctx, key, raw, c.ttl).Err(); serr != nil {
			slog.Warn("corpus cache write failed", slog.String("key", key), slog.Any("error", serr))
		}
	}
	return docs, nil
}

// Invalidate drops cached corpora after a new document is archived. Entries
// are keyed per excluded lineage, so the cheap correct move is a prefix
// sweep.
func (c *Cache) Invalidate(ctx domain.Context) {
	if c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		c.rdb.Del(ctx, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Warn("corpus cache invalidation failed", slog.Any("error", err))
	}
}

const keyPrefix = "corpus:"

func cacheKey(exclude domain.Lineage, limit int) string {
	return fmt.Sprintf("%s%s:%d", keyPrefix, exclude.Key(), limit)
}
