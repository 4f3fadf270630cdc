package usecase

import (
	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
)

// ResultService exposes originality-check results for polling clients.
type ResultService struct {
	Subs domain.SubmissionRepository
}

// NewResultService constructs a ResultService.
func NewResultService(subs domain.SubmissionRepository) ResultService {
	return ResultService{Subs: subs}
}

// Result returns the check state of one submission. While a check is in
// flight the result carries only its status; scores and matches are never
// exposed until the check completes, so clients cannot act on partial data.
func (s ResultService) Result(ctx domain.Context, submissionID string) (domain.OriginalityResult, error) {
	sub, err := s.Subs.Get(ctx, submissionID)
	if err != nil {
		return domain.OriginalityResult{}, err
	}
	res := sub.Originality
	if res.Status != domain.CheckCompleted {
		return domain.OriginalityResult{Status: res.Status, FailureReason: res.FailureReason}, nil
	}
	return res, nil
}
