package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentic-research/assetgen/internal/spec"
)

var parseJSON bool

var parseCmd = &cobra.Command{
	Use:   "parse [layer name]...",
	Short: "Show the assets a layer name declares",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		a := &spec.Analyzer{SVGEnabled: cfg.SVGEnabled, WebPEnabled: cfg.WebPEnabled}
		return printAnalysis(cmd.OutOrStdout(), a, args, parseJSON)
	},
}

func init() {
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "Print the analysis as JSON")
	rootCmd.AddCommand(parseCmd)
}

func printAnalysis(w io.Writer, a *spec.Analyzer, names []string, asJSON bool) error {
	type analysis struct {
		Name       string           `json:"name"`
		Specs      []spec.AssetSpec `json:"specs"`
		ParseError string           `json:"parseError,omitempty"`
	}
	var all []analysis
	for _, name := range names {
		specs, err := a.AnalyzeLayerName(name)
		an := analysis{Name: name, Specs: specs}
		if err != nil {
			an.ParseError = err.Error()
		}
		all = append(all, an)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(all)
	}
	for _, an := range all {
		fmt.Fprintf(w, "%s\n", an.Name)
		if an.ParseError != "" {
			fmt.Fprintf(w, "  ! %s\n", an.ParseError)
		}
		for _, s := range an.Specs {
			fmt.Fprintf(w, "  %s\n", describe(s))
			for _, e := range s.Errors {
				fmt.Fprintf(w, "    error: %s\n", e)
			}
		}
	}
	return nil
}

// describe renders one spec on a single line.
func describe(s spec.AssetSpec) string {
	var parts []string
	switch {
	case s.Default:
		parts = append(parts, "default")
	case s.HasFile():
		parts = append(parts, s.Path())
	default:
		return fmt.Sprintf("(ignored) %q", s.Name)
	}
	if s.Scale != nil {
		parts = append(parts, fmt.Sprintf("scale=%g", *s.Scale))
	}
	if s.Width != nil || s.Height != nil {
		parts = append(parts, "size="+dim(s.Width, s.WidthUnit)+"x"+dim(s.Height, s.HeightUnit))
	}
	if s.Quality != 0 {
		parts = append(parts, fmt.Sprintf("quality=%d", s.Quality))
	}
	if s.Canvas != nil {
		parts = append(parts, fmt.Sprintf("canvas=%dx%d%+d%+d", s.Canvas.Width, s.Canvas.Height, s.Canvas.OffsetX, s.Canvas.OffsetY))
	}
	if s.Default {
		if len(s.Folder) > 0 {
			parts = append(parts, "folder="+strings.Join(s.Folder, "/"))
		}
		if s.Suffix != "" {
			parts = append(parts, "suffix="+s.Suffix)
		}
	}
	return strings.Join(parts, " ")
}

func dim(v *float64, unit string) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%g%s", *v, unit)
}
