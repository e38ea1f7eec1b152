package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/assetgen/internal/config"
)

// version is overridden at link time.
var version = "dev"

var (
	configPath       string
	assetDirFlag     string
	maxConcurrency   int
	quietPeriod      string
	enabledByDefault bool
	ledgerPath       string
	unsavedBaseDir   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to HCL config (default ./"+config.DefaultFile+" if present)")
	pf.StringVar(&assetDirFlag, "asset-dir", "", "Asset directory template, e.g. {{.Name}}-assets")
	pf.IntVarP(&maxConcurrency, "max-concurrency", "j", 0, "Maximum concurrent layer updates (0 = CPU count)")
	pf.StringVar(&quietPeriod, "quiet-period", "", "Debounce window per layer, e.g. 300ms")
	pf.BoolVar(&enabledByDefault, "enabled-by-default", false, "Generate assets for documents without a generator setting")
	pf.StringVar(&ledgerPath, "ledger", "", "SQLite ledger of generated files (default in-memory)")
	pf.StringVar(&unsavedBaseDir, "unsaved-base-dir", "", "Base directory for assets of unsaved documents")
}

var rootCmd = &cobra.Command{
	Use:           "assetgen",
	Short:         "assetgen: generate image assets from layer names",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("asset-dir") {
		cfg.AssetGenerationDir = assetDirFlag
	}
	if flags.Changed("max-concurrency") {
		cfg.MaxConcurrency = maxConcurrency
	}
	if flags.Changed("quiet-period") {
		cfg.QuietPeriod = quietPeriod
	}
	if flags.Changed("enabled-by-default") {
		cfg.EnabledByDefault = enabledByDefault
	}
	if flags.Changed("ledger") {
		cfg.LedgerPath = ledgerPath
	}
	if flags.Changed("unsaved-base-dir") {
		cfg.UnsavedBaseDir = unsavedBaseDir
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
