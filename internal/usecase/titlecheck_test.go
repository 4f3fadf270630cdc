package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Patrickjoshanedez/capstone-docs/internal/domain"
	"github.com/Patrickjoshanedez/capstone-docs/pkg/similarity"
)

type stubDirectory struct{ entries []domain.TitleEntry }

func (d stubDirectory) List(domain.Context) ([]domain.TitleEntry, error) { return d.entries, nil }

func TestTitleCheck(t *testing.T) {
	t.Parallel()
	svc := NewTitleCheckService(stubDirectory{entries: []domain.TitleEntry{
		{ID: "p1", Title: "Smart Attendance Monitoring System", Keywords: []string{"attendance", "biometrics", "monitoring"}},
		{ID: "p2", Title: "Crop Yield Prediction Using Drones", Keywords: []string{"agriculture", "drones"}},
	}}, similarity.DefaultOptions())

	matches, err := svc.Check(t.Context(), "Smart Attendance System", []string{"attendance", "biometrics", "monitoring"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "p1", matches[0].ID)

	matches, err = svc.Check(t.Context(), "Blockchain Voting Platform", []string{"blockchain", "voting"})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestTitleCheckEmptyTitle(t *testing.T) {
	t.Parallel()
	svc := NewTitleCheckService(stubDirectory{}, similarity.DefaultOptions())
	_, err := svc.Check(t.Context(), "   ", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
