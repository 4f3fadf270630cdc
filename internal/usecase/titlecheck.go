package usecase

import (
	"fmt"
	"strings"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
	"github.com/Patrickjoshanedez/capstone-docs/pkg/similarity"
)

// TitleCheckService runs the synchronous title-duplicate check against the
// registered project directory.
type TitleCheckService struct {
	Dir  domain.TitleDirectory
	Opts similarity.Options
}

// NewTitleCheckService constructs a TitleCheckService.
func NewTitleCheckService(dir domain.TitleDirectory, opts similarity.Options) TitleCheckService {
	return TitleCheckService{Dir: dir, Opts: opts}
}

// Check scores the proposed title and keywords against every existing
// project and returns the near-duplicates at or above the threshold, best
// first.
func (s TitleCheckService) Check(ctx domain.Context, title string, keywords []string) ([]similarity.Match, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: empty title", domain.ErrInvalidArgument)
	}
	entries, err := s.Dir.List(ctx)
	if err != nil {
		return nil, err
	}
	candidates := make([]similarity.Candidate, 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, similarity.Candidate{ID: e.ID, Title: e.Title, Keywords: e.Keywords})
	}
	return similarity.RankTitleMatches(title, keywords, candidates, s.Opts), nil
}
