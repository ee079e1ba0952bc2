package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slabrecon/internal/models"
	"slabrecon/pkg/alignment"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2, cfg.Processing.DuplicationFactor)
	assert.Equal(t, models.AxisY, cfg.AxisValue())
	assert.Equal(t, alignment.EngineResample, cfg.Alignment.Engine)
	assert.True(t, cfg.Output.Compress)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slabrecon.yaml")
	yaml := `
processing:
  workers: 3
  axis: z
alignment:
  engine: command
  command: spm-coreg
  args: ["{reference}", "{source}", "{companion}"]
output:
  keepTemp: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Processing.Workers)
	assert.Equal(t, 2, cfg.Processing.DuplicationFactor, "unset keys keep their default")
	assert.Equal(t, models.AxisZ, cfg.AxisValue())
	assert.True(t, cfg.Output.KeepTemp)
	assert.True(t, cfg.Output.Compress)

	opts := cfg.AlignmentOptions()
	assert.Equal(t, alignment.EngineCommand, opts.Engine)
	assert.Equal(t, "spm-coreg", opts.Command)
	assert.Equal(t, "r", opts.OutputPrefix)
	assert.Len(t, opts.Args, 3)
}

func TestLoadConfigRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing: [1, 2"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"workers":        func(c *Config) { c.Processing.Workers = 0 },
		"factor":         func(c *Config) { c.Processing.DuplicationFactor = 1 },
		"factorThree":    func(c *Config) { c.Processing.DuplicationFactor = 3 },
		"axis":           func(c *Config) { c.Processing.Axis = "w" },
		"engine":         func(c *Config) { c.Alignment.Engine = "fsl" },
		"missingCommand": func(c *Config) { c.Alignment.Engine = alignment.EngineCommand },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "slabrecon.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}
