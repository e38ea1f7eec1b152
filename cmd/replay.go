package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentic-research/assetgen/internal/assetfs"
	"github.com/agentic-research/assetgen/internal/host"
	"github.com/agentic-research/assetgen/internal/ledger"
	"github.com/agentic-research/assetgen/internal/reconcile"
)

var (
	settleTimeout time.Duration
	verbose       bool
)

var replayCmd = &cobra.Command{
	Use:   "replay [session.json|session.yaml]",
	Short: "Play a recorded host session through the asset pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline(cmd, args[0])
		if err != nil {
			return err
		}
		defer p.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		start := time.Now()
		fmt.Fprintf(cmd.OutOrStdout(), "Replaying %d events from %s...\n", len(p.session.Events), args[0])
		if err := p.host.Play(ctx, p.svc); err != nil {
			return err
		}
		if err := p.settle(ctx); err != nil {
			return err
		}
		printStatus(cmd.OutOrStdout(), p.svc.Documents(), p.host.Stats())
		fmt.Fprintf(cmd.OutOrStdout(), "Done in %v.\n", time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	replayCmd.Flags().DurationVar(&settleTimeout, "timeout", 2*time.Minute, "How long to wait for pending updates")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline activity to stderr")
	rootCmd.AddCommand(replayCmd)
}

// pipeline is a reconcile service wired to a replay host on the OS file
// system.
type pipeline struct {
	session *host.Session
	host    *host.Replay
	ledger  *ledger.Ledger
	svc     *reconcile.Service
}

func openPipeline(cmd *cobra.Command, sessionPath string) (*pipeline, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	abs, err := filepath.Abs(sessionPath)
	if err != nil {
		return nil, err
	}
	store := assetfs.NewOS()
	session, err := host.LoadSession(store, abs)
	if err != nil {
		return nil, err
	}
	h, err := host.NewReplay(session, store, logger)
	if err != nil {
		return nil, err
	}
	l, err := ledger.Open(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	svc, err := reconcile.New(h, store, l, reconcile.Options{Config: cfg, Logger: logger})
	if err != nil {
		_ = l.Close()
		return nil, err
	}
	return &pipeline{session: session, host: h, ledger: l, svc: svc}, nil
}

func (p *pipeline) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	if err := p.svc.Settle(ctx); err != nil {
		return fmt.Errorf("waiting for pending updates: %w", err)
	}
	return nil
}

func (p *pipeline) Close() {
	p.svc.Close()
	_ = p.ledger.Close()
}

func printStatus(w io.Writer, docs []reconcile.DocumentStatus, stats host.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DOC\tSTATE\tENABLED\tLAYERS\tEXPORTING\tFILES\tASSET DIR")
	for _, d := range docs {
		dir := d.AssetDir
		if dir == "" {
			dir = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%v\t%d\t%d\t%d\t%s\n", d.ID, d.State, d.Enabled, d.Layers, d.Exporting, d.Files, dir)
	}
	_ = tw.Flush()
	fmt.Fprintf(w, "host: %d fetches, %d bounds, %d pixmaps, %d svgs, %d saves\n",
		stats.DocumentInfo, stats.BoundsOnly, stats.Pixmaps, stats.SVGs, stats.Saves)
}
