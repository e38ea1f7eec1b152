package export

import (
	"fmt"
	"math"
	"path"
	"strings"

	"github.com/agentic-research/assetgen/internal/dom"
	"github.com/agentic-research/assetgen/internal/host"
	"github.com/agentic-research/assetgen/internal/spec"
)

// Output is one file to generate for a layer.
type Output struct {
	// Spec is the effective component after default expansion.
	Spec spec.AssetSpec
	// Path is the absolute output path.
	Path string
}

// Expand turns a layer's valid components into outputs under dir. Components
// without their own size are emitted once per document default, which
// contributes its size, folder prefix and file-name suffix. Later outputs
// with an already claimed path are dropped.
func Expand(components, defaults []spec.AssetSpec, dir string) []Output {
	var out []Output
	seen := make(map[string]bool)
	add := func(s spec.AssetSpec) {
		p := path.Join(dir, s.Path())
		if seen[p] {
			return
		}
		seen[p] = true
		out = append(out, Output{Spec: s, Path: p})
	}
	for _, c := range components {
		if c.HasSize() || len(defaults) == 0 {
			add(c)
			continue
		}
		for _, d := range defaults {
			add(applyDefault(c, d))
		}
	}
	return out
}

func applyDefault(c, d spec.AssetSpec) spec.AssetSpec {
	s := c
	s.Folder = append(append([]string(nil), d.Folder...), c.Folder...)
	if d.Suffix != "" {
		s.File = spec.SanitizeFileName(withSuffix(c.File, c.Extension, d.Suffix))
	}
	s.Scale, s.Width, s.Height = d.Scale, d.Width, d.Height
	s.WidthUnit, s.HeightUnit = d.WidthUnit, d.HeightUnit
	if s.Canvas == nil {
		s.Canvas = d.Canvas
	}
	return s
}

// withSuffix inserts suffix before the extension: icon.png + @2x = icon@2x.png.
func withSuffix(file, ext, suffix string) string {
	if ext == "" {
		return file + suffix
	}
	i := strings.LastIndex(file, ".")
	if i < 0 {
		return file + suffix
	}
	return file[:i] + suffix + file[i:]
}

// ToPixels converts a length in unit to pixels at ppi.
func ToPixels(v float64, unit string, ppi float64) float64 {
	switch unit {
	case "in":
		return v * ppi
	case "cm":
		return v * ppi / 2.54
	case "mm":
		return v * ppi / 25.4
	}
	return v
}

// Sizing is the render geometry of one output.
type Sizing struct {
	ScaleX, ScaleY float64
	Width, Height  int
	Padding        host.Padding
}

// Size computes the scale factors, the scaled image size and the canvas
// padding of an output for a layer with the given exact bounds.
func Size(s spec.AssetSpec, exact dom.Bounds, ppi float64) (Sizing, error) {
	bw, bh := float64(exact.Width()), float64(exact.Height())
	if bw <= 0 || bh <= 0 {
		return Sizing{}, fmt.Errorf("layer has no pixels")
	}
	z := Sizing{ScaleX: 1, ScaleY: 1}
	switch {
	case s.Scale != nil:
		z.ScaleX, z.ScaleY = *s.Scale, *s.Scale
	case s.Width != nil && s.Height != nil:
		z.ScaleX = ToPixels(*s.Width, s.WidthUnit, ppi) / bw
		z.ScaleY = ToPixels(*s.Height, s.HeightUnit, ppi) / bh
	case s.Width != nil:
		z.ScaleX = ToPixels(*s.Width, s.WidthUnit, ppi) / bw
		z.ScaleY = z.ScaleX
	case s.Height != nil:
		z.ScaleY = ToPixels(*s.Height, s.HeightUnit, ppi) / bh
		z.ScaleX = z.ScaleY
	}
	z.Width = int(math.Round(bw * z.ScaleX))
	z.Height = int(math.Round(bh * z.ScaleY))
	if z.Width == 0 || z.Height == 0 {
		return Sizing{}, fmt.Errorf("scaled image is empty (%gx%g)", bw*z.ScaleX, bh*z.ScaleY)
	}
	if c := s.Canvas; c != nil {
		z.Padding.Left = max(0, (c.Width-z.Width)/2+c.OffsetX)
		z.Padding.Right = max(0, c.Width-z.Width-z.Padding.Left)
		z.Padding.Top = max(0, (c.Height-z.Height)/2+c.OffsetY)
		z.Padding.Bottom = max(0, c.Height-z.Height-z.Padding.Top)
	}
	return z, nil
}
