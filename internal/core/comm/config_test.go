package comm

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.AsyncThreshold)
	assert.Equal(t, 10, cfg.WorkerPoolSize)
	assert.Equal(t, 30*time.Minute, cfg.IdleTimeout)
}

func TestNormalizeFillsZeroes(t *testing.T) {
	cfg := Config{AsyncThreshold: 3}.Normalize()
	assert.Equal(t, 3, cfg.AsyncThreshold)
	assert.Equal(t, DefaultConfig().WorkerPoolSize, cfg.WorkerPoolSize)
	assert.Equal(t, DefaultConfig().DeferredDelay, cfg.DeferredDelay)
}

func TestValidateRejectsNegatives(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueDrainLimit = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}

func TestLoadYAML(t *testing.T) {
	doc := `
async_threshold: 7
worker_pool_size: 4
deferred_delay: 250ms
enable_journal: true
`
	cfg, err := LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.AsyncThreshold)
	assert.Equal(t, 4, cfg.WorkerPoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.DeferredDelay)
	assert.True(t, cfg.EnableJournal)
	// untouched fields fall back to defaults
	assert.Equal(t, DefaultConfig().SweepInterval, cfg.SweepInterval)
}

func TestLoadJSON(t *testing.T) {
	doc := `{"async_threshold": 2, "history_size": 16}`
	cfg, err := LoadJSON(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.AsyncThreshold)
	assert.Equal(t, 16, cfg.HistorySize)
}

func TestLoadRejectsGarbage(t *testing.T) {
	_, err := LoadJSON(strings.NewReader("{nope"))
	assert.Error(t, err)
	_, err = LoadYAML(strings.NewReader(":\n :"))
	assert.Error(t, err)
}
