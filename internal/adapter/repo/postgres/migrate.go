package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies the idempotent schema bootstrap. Every statement uses
// IF NOT EXISTS so repeated startups are safe.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("op=schema.ensure: %w", err)
	}
	return nil
}
