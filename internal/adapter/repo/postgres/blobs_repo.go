package postgres

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// BlobRepo is a content-addressed byte store implementing domain.BlobStore.
// Keys are the hex SHA-256 of the content, so duplicate uploads share one
// row and Put is naturally idempotent.
type BlobRepo struct{ Pool PgxPool }

// NewBlobRepo constructs a BlobRepo with the given pool.
func NewBlobRepo(p PgxPool) *BlobRepo { return &BlobRepo{Pool: p} }

// Put stores data and returns its content key.
func (r *BlobRepo) Put(ctx domain.Context, data []byte, contentType string) (string, error) {
	tracer := otel.Tracer("repo.blobs")
	ctx, span := tracer.Start(ctx, "blobs.Put")
	defer span.End()

	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])
	if _, err := r.Pool.Exec(ctx,
		`INSERT INTO blobs (key, content_type, data, size, created_at) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (key) DO NOTHING`,
		key, contentType, data, int64(len(data)), time.Now().UTC(),
	); err != nil {
		return "", fmt.Errorf("op=blob.put: %w", err)
	}
	return key, nil
}

// Get loads the bytes stored under key.
func (r *BlobRepo) Get(ctx domain.Context, key string) ([]byte, error) {
	tracer := otel.Tracer("repo.blobs")
	ctx, span := tracer.Start(ctx, "blobs.Get")
	defer span.End()

	var data []byte
	err := r.Pool.QueryRow(ctx, `SELECT data FROM blobs WHERE key=$1`, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("op=blob.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=blob.get: %w", err)
	}
	return data, nil
}
