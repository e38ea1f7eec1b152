// Package config loads assetgen settings from an HCL file.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"text/template"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/agentic-research/assetgen/internal/scheduler"
)

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "assetgen.hcl"

// DefaultAssetDir is the asset directory template relative to the document.
const DefaultAssetDir = "{{.Name}}-assets"

// Config holds every recognized key. Attributes missing from the file keep
// their defaults.
type Config struct {
	SVGEnabled           bool   `hcl:"svg-enabled,optional"`
	WebPEnabled          bool   `hcl:"webp-enabled,optional"`
	AssetGenerationDir   string `hcl:"asset-generation-dir,optional"`
	UseSmartScaling      bool   `hcl:"use-smart-scaling,optional"`
	IncludeAncestorMasks bool   `hcl:"include-ancestor-masks,optional"`
	EnabledByDefault     bool   `hcl:"enabled-by-default,optional"`
	UnsavedBaseDir       string `hcl:"unsaved-base-dir,optional"`
	QuietPeriod          string `hcl:"quiet-period,optional"`
	MaxConcurrency       int    `hcl:"max-concurrency,optional"`
	LedgerPath           string `hcl:"ledger-path,optional"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		SVGEnabled:         true,
		AssetGenerationDir: DefaultAssetDir,
		QuietPeriod:        scheduler.DefaultQuietPeriod.String(),
		MaxConcurrency:     runtime.NumCPU(),
	}
}

// Load reads path over the defaults. A missing default file is not an
// error; a missing explicit file is.
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Parse decodes src over the defaults. filename selects the syntax by
// extension (.hcl or .json).
func Parse(filename string, src []byte) (Config, error) {
	cfg := Default()
	if err := hclsimple.Decode(filename, src, nil, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", filename, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks values the decoder cannot.
func (c Config) Validate() error {
	if _, err := c.Quiet(); err != nil {
		return err
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("max-concurrency must not be negative (is %d)", c.MaxConcurrency)
	}
	if c.AssetGenerationDir != "" {
		if _, err := template.New("asset-generation-dir").Parse(c.AssetGenerationDir); err != nil {
			return fmt.Errorf("asset-generation-dir: %w", err)
		}
	}
	return nil
}

// Quiet returns the debounce quiet period.
func (c Config) Quiet() (time.Duration, error) {
	if c.QuietPeriod == "" {
		return scheduler.DefaultQuietPeriod, nil
	}
	d, err := time.ParseDuration(c.QuietPeriod)
	if err != nil {
		return 0, fmt.Errorf("quiet-period: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("quiet-period must not be negative (is %s)", d)
	}
	return d, nil
}
