package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyzeOne(t *testing.T, a *Analyzer, name string) AssetSpec {
	t.Helper()
	specs, err := a.AnalyzeLayerName(name)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	return specs[0]
}

func TestAnalyze_QualityNormalization(t *testing.T) {
	a := NewAnalyzer()
	a.WebPEnabled = true

	tests := []struct {
		name    string
		quality int
	}{
		{"foo.jpg-1", 10},
		{"foo.jpg-10", 100},
		{"foo.jpg-80%", 80},
		{"foo.jpeg7", 70},
		{"foo.webp-50%", 50},
		{"foo.png-8", 8},
		{"foo.png24", 24},
		{"foo.png-32", 32},
		{"foo.png24a", 32},
		{"foo.png", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := analyzeOne(t, a, tt.name)
			assert.Empty(t, s.Errors)
			assert.True(t, s.Valid())
			assert.Equal(t, tt.quality, s.Quality)
		})
	}
}

func TestAnalyze_JPEGNormalizesToJPG(t *testing.T) {
	s := analyzeOne(t, NewAnalyzer(), "photo.JPEG")
	assert.Equal(t, "jpg", s.Extension)
	assert.Equal(t, "photo.JPEG", s.File)
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name string
		want []string
	}{
		{"foo.png-42", []string{"PNG quality must be 8, 24 or 32 (is 42)"}},
		{"foo.png8a", []string{"PNG quality must be 8, 24 or 32 (is 8a)"}},
		{"foo.jpg-42", []string{"Quality must be between 1 and 10 (is 42)"}},
		{"foo.jpg-120%", []string{"Quality must be between 1% and 100% (is 120%)"}},
		{"foo.gif-5", []string{`There should not be a quality setting for files with the extension "gif"`}},
		{"foo.bmp", []string{`Unsupported file extension "bmp"`}},
		{"foo.webp", []string{`Unsupported file extension "webp"`}},
		{"fo:o.jpg", []string{`File name contains invalid character ":"`}},
		{"0% foo.png", []string{"Cannot scale an image to 0%"}},
		{"0x10 foo.png", []string{"Cannot set an image width to 0"}},
		{"10x0 foo.png", []string{"Cannot set an image height to 0"}},
		{"10ftx10 foo.png", []string{`Unsupported image width unit "ft"`}},
		{"10x10pt foo.png", []string{`Unsupported image height unit "pt"`}},
		{"[0x10] foo.png", []string{"Cannot set a canvas width to 0"}},
		{"a*b/foo.png", []string{`Folder name contains invalid character "*"`}},
		{"0% fo|o.bmp", []string{
			"Cannot scale an image to 0%",
			`Unsupported file extension "bmp"`,
			`File name contains invalid character "|"`,
		}},
	}
	a := NewAnalyzer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := analyzeOne(t, a, tt.name)
			assert.Equal(t, tt.want, s.Errors)
			assert.False(t, s.Valid())
		})
	}
}

func TestAnalyze_UnitsAreLowerCased(t *testing.T) {
	s := analyzeOne(t, NewAnalyzer(), "2IN x 3CM foo.png")
	assert.Empty(t, s.Errors)
	assert.Equal(t, "in", s.WidthUnit)
	assert.Equal(t, "cm", s.HeightUnit)
}

func TestAnalyze_SVGGate(t *testing.T) {
	s := analyzeOne(t, NewAnalyzer(), "logo.svg")
	assert.True(t, s.Valid())

	s = analyzeOne(t, &Analyzer{}, "logo.svg")
	assert.Equal(t, []string{`Unsupported file extension "svg"`}, s.Errors)
}

func TestAnalyze_DefaultEntriesAreValidWithoutFile(t *testing.T) {
	specs, err := NewAnalyzer().AnalyzeLayerName("default + 200% @2x")
	require.NoError(t, err)
	require.Len(t, specs, 2)
	for _, s := range specs {
		assert.True(t, s.Valid(), s.Name)
	}
	assert.Len(t, DefaultComponents(specs), 2)
	assert.Empty(t, ValidFileComponents(specs))
}

func TestAnalyze_PlainNameIsNotValid(t *testing.T) {
	s := analyzeOne(t, NewAnalyzer(), "Layer 1")
	assert.Empty(t, s.Errors)
	assert.False(t, s.Valid())
}

func TestValidFileComponents(t *testing.T) {
	specs, err := NewAnalyzer().AnalyzeLayerName("a.png, b.png-42, plain, c.jpg")
	require.NoError(t, err)
	valid := ValidFileComponents(specs)
	require.Len(t, valid, 2)
	assert.Equal(t, "a.png", valid[0].File)
	assert.Equal(t, "c.jpg", valid[1].File)
	assert.Equal(t, []string{"b.png-42: PNG quality must be 8, 24 or 32 (is 42)"}, Errors(specs))
}

func TestAnalyze_SanitizesFileButReportsRawName(t *testing.T) {
	a := NewAnalyzer()
	s := a.Analyze(RawComponent{Name: "a\x01b.png", File: "a\x01b.png", Extension: "png"})
	assert.Empty(t, s.Errors)
	assert.Equal(t, "a_b.png", s.File)

	s = a.Analyze(RawComponent{Name: "fo:o.png", File: "fo:o.png", Extension: "png"})
	assert.Equal(t, []string{`File name contains invalid character ":"`}, s.Errors)
	assert.Equal(t, "fo_o.png", s.File)
	assert.Equal(t, "fo:o.png", s.Name)
}

func TestSanitizeFileName(t *testing.T) {
	assert.Equal(t, "fo_o_.png", SanitizeFileName(`fo:o?.png`))
	assert.Equal(t, "שלום.png", SanitizeFileName("שלום.png"))
}
