// Package spec implements the layer-name export language: a parser that
// turns names like "50% icon.png-8 + 2x icon@2x.png" into raw components,
// and an analyzer that normalizes and validates them.
package spec

import (
	"fmt"
	"strings"
)

// Canvas is a fixed output canvas, optionally offset from center.
type Canvas struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	OffsetX int `json:"offsetX,omitempty"`
	OffsetY int `json:"offsetY,omitempty"`
}

// RawComponent is one comma- or plus-separated item of a layer name.
// When File is empty the item did not describe an export target and only
// Name is meaningful.
type RawComponent struct {
	Name       string   `json:"name"`
	File       string   `json:"file,omitempty"`
	Extension  string   `json:"extension,omitempty"`
	Quality    string   `json:"quality,omitempty"`
	Scale      *float64 `json:"scale,omitempty"`
	Width      *float64 `json:"width,omitempty"`
	Height     *float64 `json:"height,omitempty"`
	WidthUnit  string   `json:"widthUnit,omitempty"`
	HeightUnit string   `json:"heightUnit,omitempty"`
	Folder     []string `json:"folder,omitempty"`
	Suffix     string   `json:"suffix,omitempty"`
	Canvas     *Canvas  `json:"canvas,omitempty"`
	Default    bool     `json:"default,omitempty"`
}

// HasFile reports whether the component names an output file.
func (c RawComponent) HasFile() bool {
	return c.File != ""
}

// HasSize reports whether the component carries a relative or absolute size.
func (c RawComponent) HasSize() bool {
	return c.Scale != nil || c.Width != nil || c.Height != nil
}

// Path returns the component's output path relative to the asset directory.
func (c RawComponent) Path() string {
	if len(c.Folder) == 0 {
		return c.File
	}
	return strings.Join(c.Folder, "/") + "/" + c.File
}

// AssetSpec is a normalized, validated component.
type AssetSpec struct {
	RawComponent
	// Quality is the numeric quality: 10–100 for jpg/webp, 8/24/32 for png,
	// 0 when unset.
	Quality int      `json:"quality,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Valid reports whether the spec can be exported (or applied as a default).
func (s AssetSpec) Valid() bool {
	return len(s.Errors) == 0 && (s.HasFile() || s.Default)
}

func (s *AssetSpec) reportError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// ParseError is a syntactic violation that cannot be degraded per item.
type ParseError struct {
	Name   string
	Offset int // rune offset into Name
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse layer name %q at %d: %s", e.Name, e.Offset, e.Reason)
}
