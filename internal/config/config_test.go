package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(25), cfg.MaxUploadMB)
	assert.Equal(t, int64(25<<20), cfg.MaxUploadBytes())
	assert.Equal(t, 200, cfg.CorpusLimit)
	assert.InDelta(t, 0.7, cfg.StringWeight, 1e-9)
	assert.InDelta(t, 0.3, cfg.KeywordWeight, 1e-9)
	assert.InDelta(t, 0.65, cfg.MatchThreshold, 1e-9)
	assert.True(t, cfg.IsDev())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORT", "9999")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("QUEUE_PROBE_INTERVAL", "5s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProd())
	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5*time.Second, cfg.QueueProbeInterval)
}

func TestLoadDeadlinesMissingFile(t *testing.T) {
	t.Parallel()
	cal, err := LoadDeadlines(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.False(t, cal.IsLate("chapter-1", time.Now()))
}

func TestLoadDeadlinesFromYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "deadlines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"deadlines:\n  chapter-1: \"2026-03-01T23:59:59Z\"\n"), 0o600))

	cal, err := LoadDeadlines(path)
	require.NoError(t, err)
	before := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)
	after := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	assert.False(t, cal.IsLate("chapter-1", before))
	assert.True(t, cal.IsLate("chapter-1", after))
	// No deadline configured means never late.
	assert.False(t, cal.IsLate("chapter-2", after))
}

func TestLoadDeadlinesBadTimestamp(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "deadlines.yaml")
	require.NoError(t, os.WriteFile(path, []byte("deadlines:\n  chapter-1: \"next friday\"\n"), 0o600))
	_, err := LoadDeadlines(path)
	assert.Error(t, err)
}

func TestNewDeadlineCalendar(t *testing.T) {
	t.Parallel()
	cal := NewDeadlineCalendar(map[string]time.Time{"proposal": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)})
	assert.True(t, cal.IsLate("proposal", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.False(t, NewDeadlineCalendar(nil).IsLate("proposal", time.Now()))
}
