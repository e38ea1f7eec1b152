package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.True(t, cfg.SVGEnabled)
	assert.False(t, cfg.WebPEnabled)
	assert.Equal(t, DefaultAssetDir, cfg.AssetGenerationDir)
	assert.Equal(t, runtime.NumCPU(), cfg.MaxConcurrency)
	d, err := cfg.Quiet()
	require.NoError(t, err)
	assert.Equal(t, 300*time.Millisecond, d)
}

func TestParse_OverridesOnlyGivenKeys(t *testing.T) {
	cfg, err := Parse("assetgen.hcl", []byte(`
svg-enabled = false
webp-enabled = true
asset-generation-dir = "exports/{{.Name}}"
quiet-period = "50ms"
max-concurrency = 2
`))
	require.NoError(t, err)
	assert.False(t, cfg.SVGEnabled)
	assert.True(t, cfg.WebPEnabled)
	assert.Equal(t, "exports/{{.Name}}", cfg.AssetGenerationDir)
	assert.Equal(t, 2, cfg.MaxConcurrency)
	assert.False(t, cfg.UseSmartScaling)
	d, err := cfg.Quiet()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, d)
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse("assetgen.json", []byte(`{"include-ancestor-masks": true, "enabled-by-default": true}`))
	require.NoError(t, err)
	assert.True(t, cfg.IncludeAncestorMasks)
	assert.True(t, cfg.EnabledByDefault)
	assert.True(t, cfg.SVGEnabled)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown key":     `colour = "red"`,
		"wrong type":      `svg-enabled = "maybe"`,
		"bad duration":    `quiet-period = "soon"`,
		"negative pool":   `max-concurrency = -1`,
		"broken template": `asset-generation-dir = "{{.Name"`,
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse("assetgen.hcl", []byte(src))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "assetgen.hcl")
	require.NoError(t, os.WriteFile(p, []byte(`unsaved-base-dir = "/tmp/unsaved"`+"\n"), 0o644))

	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/unsaved", cfg.UnsavedBaseDir)

	_, err = Load(filepath.Join(dir, "missing.hcl"))
	assert.Error(t, err)
}
