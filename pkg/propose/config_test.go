package propose

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.UseDatasetSummary)
	assert.True(t, cfg.UseTip)
	assert.True(t, cfg.SetTipRandomly)
	assert.False(t, cfg.SetHistoryRandomly)
	assert.Equal(t, DefaultNumInstructionCandidates, cfg.NumInstructionCandidates)
}

func TestConfig_Validate(t *testing.T) {
	hot := 2.5
	cfg := Config{
		NumDemosInContext: -1,
		Temperature:       &hot,
		TemperatureStep:   -0.1,
	}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "num_instruction_candidates")
	assert.ErrorContains(t, err, "view_data_batch_size")
	assert.ErrorContains(t, err, "num_demos_in_context")
	assert.ErrorContains(t, err, "max_concurrency")
	assert.ErrorContains(t, err, "temperature must be between")
	assert.ErrorContains(t, err, "temperature_step")
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{UseTip: true}.withDefaults()
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.UseTip)
	assert.False(t, cfg.UseDatasetSummary, "toggles are left alone")
	assert.Equal(t, DefaultViewDataBatchSize, cfg.ViewDataBatchSize)
	assert.Equal(t, DefaultMaxConcurrency, cfg.MaxConcurrency)
	assert.Zero(t, cfg.NumDemosInContext)
}
