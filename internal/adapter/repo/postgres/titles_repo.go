package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// TitleRepo reads the project title directory used by the synchronous
// title-duplicate check. Project CRUD itself lives outside the core; this
// repo only consumes the table.
type TitleRepo struct{ Pool PgxPool }

// NewTitleRepo constructs a TitleRepo with the given pool.
func NewTitleRepo(p PgxPool) *TitleRepo { return &TitleRepo{Pool: p} }

// List returns every registered project title with its keyword list.
func (r *TitleRepo) List(ctx domain.Context) ([]domain.TitleEntry, error) {
	tracer := otel.Tracer("repo.titles")
	ctx, span := tracer.Start(ctx, "titles.List")
	defer span.End()

	rows, err := r.Pool.Query(ctx, `SELECT id, title, keywords FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("op=titles.list: %w", err)
	}
	defer rows.Close()
	var out []domain.TitleEntry
	for rows.Next() {
		var e domain.TitleEntry
		if err := rows.Scan(&e.ID, &e.Title, &e.Keywords); err != nil {
			return nil, fmt.Errorf("op=titles.list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=titles.list: %w", err)
	}
	return out, nil
}
