package spec

import (
	"strconv"
	"strings"
)

// invalidFileChars are rejected in file and folder names.
const invalidFileChars = `=<>:"/\|?*`

var supportedUnits = map[string]bool{"in": true, "cm": true, "px": true, "mm": true}

// Analyzer normalizes and validates raw components. The zero value rejects
// svg and webp; use NewAnalyzer for the default configuration.
type Analyzer struct {
	SVGEnabled  bool
	WebPEnabled bool
}

// NewAnalyzer returns an analyzer with svg enabled and webp disabled.
func NewAnalyzer() *Analyzer {
	return &Analyzer{SVGEnabled: true}
}

func (a *Analyzer) supportsExtension(ext string) bool {
	switch ext {
	case "png", "jpg", "gif":
		return true
	case "svg":
		return a.SVGEnabled
	case "webp":
		return a.WebPEnabled
	}
	return false
}

// AnalyzeLayerName parses and analyzes a layer name. Parse errors degrade
// to a single plain component and are returned for logging only.
func (a *Analyzer) AnalyzeLayerName(name string) ([]AssetSpec, error) {
	comps, err := ParseLayerName(name)
	specs := make([]AssetSpec, len(comps))
	for i, c := range comps {
		specs[i] = a.Analyze(c)
	}
	return specs, err
}

// Analyze normalizes a single component and collects its validation errors.
func (a *Analyzer) Analyze(raw RawComponent) AssetSpec {
	s := AssetSpec{RawComponent: raw}
	s.Folder = append([]string(nil), raw.Folder...)
	s.WidthUnit = strings.ToLower(raw.WidthUnit)
	s.HeightUnit = strings.ToLower(raw.HeightUnit)
	s.Extension = strings.ToLower(raw.Extension)
	if s.Extension == "jpeg" {
		s.Extension = "jpg"
	}

	if raw.Scale != nil && *raw.Scale == 0 {
		s.reportError("Cannot scale an image to 0%%")
	}
	if raw.Width != nil && *raw.Width == 0 {
		s.reportError("Cannot set an image width to 0")
	}
	if raw.Height != nil && *raw.Height == 0 {
		s.reportError("Cannot set an image height to 0")
	}
	if s.WidthUnit != "" && !supportedUnits[s.WidthUnit] {
		s.reportError("Unsupported image width unit %s", strconv.Quote(raw.WidthUnit))
	}
	if s.HeightUnit != "" && !supportedUnits[s.HeightUnit] {
		s.reportError("Unsupported image height unit %s", strconv.Quote(raw.HeightUnit))
	}
	if raw.Canvas != nil {
		if raw.Canvas.Width == 0 {
			s.reportError("Cannot set a canvas width to 0")
		}
		if raw.Canvas.Height == 0 {
			s.reportError("Cannot set a canvas height to 0")
		}
	}

	if raw.HasFile() {
		if !a.supportsExtension(s.Extension) {
			s.reportError("Unsupported file extension %s", strconv.Quote(raw.Extension))
		}
		if raw.Quality != "" {
			a.analyzeQuality(&s)
		}
		if r, ok := firstInvalidChar(raw.File); ok {
			s.reportError("File name contains invalid character %s", strconv.Quote(string(r)))
		}
		s.File = SanitizeFileName(raw.File)
	}
	for _, folder := range raw.Folder {
		if r, ok := firstInvalidChar(folder); ok {
			s.reportError("Folder name contains invalid character %s", strconv.Quote(string(r)))
			break
		}
	}
	return s
}

func (a *Analyzer) analyzeQuality(s *AssetSpec) {
	q := s.RawComponent.Quality
	switch s.Extension {
	case "jpg", "webp":
		if strings.HasSuffix(q, "%") {
			v, err := strconv.Atoi(strings.TrimSuffix(q, "%"))
			if err != nil || v < 1 || v > 100 {
				s.reportError("Quality must be between 1%% and 100%% (is %s)", q)
				return
			}
			s.Quality = v
			return
		}
		v, err := strconv.Atoi(q)
		if err != nil || v < 1 || v > 10 {
			s.reportError("Quality must be between 1 and 10 (is %s)", q)
			return
		}
		s.Quality = v * 10
	case "png":
		v, err := strconv.Atoi(strings.TrimSuffix(q, "a"))
		if err == nil && strings.HasSuffix(q, "a") {
			v += 8
		}
		if err != nil || (v != 8 && v != 24 && v != 32) {
			s.reportError("PNG quality must be 8, 24 or 32 (is %s)", q)
			return
		}
		s.Quality = v
	default:
		if a.supportsExtension(s.Extension) {
			s.reportError("There should not be a quality setting for files with the extension %s", strconv.Quote(s.Extension))
		}
	}
}

func firstInvalidChar(name string) (rune, bool) {
	for _, r := range name {
		if strings.ContainsRune(invalidFileChars, r) {
			return r, true
		}
	}
	return 0, false
}

// SanitizeFileName replaces characters that are illegal in file names,
// and control characters, with '_'.
func SanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalidFileChars, r) || r < 0x20 {
			return '_'
		}
		return r
	}, name)
}

// ValidFileComponents returns the specs that carry a file and no errors.
func ValidFileComponents(specs []AssetSpec) []AssetSpec {
	var out []AssetSpec
	for _, s := range specs {
		if s.HasFile() && len(s.Errors) == 0 {
			out = append(out, s)
		}
	}
	return out
}

// DefaultComponents returns the valid default entries.
func DefaultComponents(specs []AssetSpec) []AssetSpec {
	var out []AssetSpec
	for _, s := range specs {
		if s.Default && len(s.Errors) == 0 {
			out = append(out, s)
		}
	}
	return out
}

// Errors flattens the validation errors of specs, prefixed with the
// component name.
func Errors(specs []AssetSpec) []string {
	var out []string
	for _, s := range specs {
		for _, e := range s.Errors {
			out = append(out, s.Name+": "+e)
		}
	}
	return out
}
