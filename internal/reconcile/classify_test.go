package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/assetgen/api"
	"github.com/agentic-research/assetgen/internal/config"
	"github.com/agentic-research/assetgen/internal/dom"
	"github.com/agentic-research/assetgen/internal/scheduler"
)

func model(t *testing.T, layers ...api.Layer) *dom.Document {
	t.Helper()
	d, err := dom.NewDocument(&api.Document{ID: 1, TimeStamp: 1, Count: 1, Layers: layers})
	require.NoError(t, err)
	return d
}

func TestNeedsResync(t *testing.T) {
	plain := model(t,
		api.Layer{ID: 2, Index: 1, Type: api.LayerTypeLayer, Name: "a"},
		api.Layer{ID: 3, Index: 0, Type: api.LayerTypeLayer, Name: "b"},
	)
	adjusted := model(t,
		api.Layer{ID: 2, Index: 1, Type: api.LayerTypeAdjustment, Name: "Levels"},
		api.Layer{ID: 3, Index: 0, Type: api.LayerTypeLayer, Name: "b"},
	)

	tests := []struct {
		name   string
		doc    *dom.Document
		change api.DocumentChange
		resync bool
	}{
		{"rename", plain, api.DocumentChange{Layers: []api.LayerChange{{ID: 2, Name: strp("x")}}}, false},
		{"move without adjustments", plain, api.DocumentChange{Layers: []api.LayerChange{{ID: 2, Index: intp(0)}}}, false},
		{"changed", plain, api.DocumentChange{Changed: true}, true},
		{"flattened", plain, api.DocumentChange{Flattened: true}, true},
		{"merged", plain, api.DocumentChange{Merged: true}, true},
		{"unknown type", plain, api.DocumentChange{Layers: []api.LayerChange{{ID: 9, Added: true, Type: "3dLayer"}}}, true},
		{"added without type", plain, api.DocumentChange{Layers: []api.LayerChange{{ID: 9, Added: true, Index: intp(2)}}}, true},
		{"added adjustment", plain, api.DocumentChange{Layers: []api.LayerChange{{ID: 9, Added: true, Type: api.LayerTypeAdjustment}}}, true},
		{"adjustment edited", adjusted, api.DocumentChange{Layers: []api.LayerChange{{ID: 2, Name: strp("Curves")}}}, true},
		{"restated index with adjustments", adjusted, api.DocumentChange{Layers: []api.LayerChange{{ID: 3, Index: intp(0), Name: strp("c")}}}, false},
		{"move with adjustments", adjusted, api.DocumentChange{Layers: []api.LayerChange{{ID: 3, Index: intp(1)}}}, true},
		{"nested unknown type", plain, api.DocumentChange{Layers: []api.LayerChange{{ID: 2, Layers: []api.LayerChange{{ID: 9, Added: true, Type: "?"}}}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason := needsResync(tt.doc, &tt.change)
			if tt.resync {
				assert.NotEmpty(t, reason)
			} else {
				assert.Empty(t, reason)
			}
		})
	}
}

func TestIndexHints(t *testing.T) {
	bm := indexHints(&api.DocumentChange{
		LayersAdjusted: []api.IndexRange{{From: 5, To: 3}, {From: -2, To: 0}, {From: -4, To: -1}},
		ClipGroup:      []api.IndexRange{{From: 4, To: 7}},
	})
	assert.Equal(t, []uint32{0, 3, 4, 5, 6, 7}, bm.ToArray())

	assert.True(t, indexHints(&api.DocumentChange{}).IsEmpty())
}

func TestChangeBits(t *testing.T) {
	c := changeBits(&dom.LayerChange{Moved: true, NameChanged: true})
	assert.True(t, c.Has(scheduler.ChangePixels))
	assert.True(t, c.Has(scheduler.ChangeName))
	assert.Zero(t, changeBits(&dom.LayerChange{}))
}

func TestEnabledFromSettings(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		enabled  bool
		ok       bool
	}{
		{"nil", nil, false, false},
		{"other plugin", map[string]any{"other": map[string]any{"json": `{"enabled":true}`}}, false, false},
		{"json string", map[string]any{"generator-assets": map[string]any{"json": `{"enabled":true}`}}, true, true},
		{"disabled", map[string]any{"generator-assets": map[string]any{"json": `{"enabled":false}`}}, false, true},
		{"decoded object", map[string]any{"generator-assets": map[string]any{"json": map[string]any{"enabled": true}}}, true, true},
		{"broken json", map[string]any{"generator-assets": map[string]any{"json": `{"enabled":`}}, false, false},
		{"not a bool", map[string]any{"generator-assets": map[string]any{"json": `{"enabled":"yes"}`}}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enabled, ok := enabledFromSettings(tt.settings)
			assert.Equal(t, tt.enabled, enabled)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestAssetDir(t *testing.T) {
	tests := []struct {
		name     string
		template string
		unsaved  string
		file     string
		want     string
	}{
		{"saved", "", "", "/work/poster.psd", "/work/poster-assets"},
		{"no extension", "", "", "/work/poster", "/work/poster-assets"},
		{"custom template", "out/{{.Name}}.{{.Ext}}", "", "/work/poster.psd", "/work/out/poster.psd"},
		{"absolute template", "/exports/{{.Name}}", "", "/work/poster.psd", "/exports/poster"},
		{"unsaved without base", "", "", "Untitled-1", ""},
		{"unsaved with base", "", "/tmp/gen", "Untitled-1", "/tmp/gen/Untitled-1-assets"},
		{"no file", "", "/tmp/gen", "", ""},
		{"windows drive", "", "/tmp/gen", `C:\work\poster.psd`, "C:/work/poster-assets"},
		{"windows share", "", "", `\\server\share\poster.psd`, "//server/share/poster-assets"},
		{"windows absolute template", `D:\exports\{{.Name}}`, "", `C:\work\poster.psd`, "D:/exports/poster"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if tt.template != "" {
				cfg.AssetGenerationDir = tt.template
			}
			cfg.UnsavedBaseDir = tt.unsaved
			tmpl, err := parseDirTemplate(cfg.AssetGenerationDir)
			require.NoError(t, err)
			s := &Service{cfg: cfg, dirTmpl: tmpl}
			got, err := s.assetDir(tt.file)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsSaved(t *testing.T) {
	assert.False(t, isSaved("Untitled-1"))
	assert.False(t, isSaved("Untitled: copy"))
	assert.True(t, isSaved("/work/poster.psd"))
	assert.True(t, isSaved(`C:\work\poster.psd`))
	assert.True(t, isSaved(`\\server\share\poster.psd`))
	assert.True(t, isSaved("d:poster.psd"))
}

func TestAssetDir_UnknownField(t *testing.T) {
	tmpl, err := parseDirTemplate("{{.Missing}}")
	require.NoError(t, err)
	s := &Service{cfg: config.Default(), dirTmpl: tmpl}
	_, err = s.assetDir("/work/poster.psd")
	assert.Error(t, err)
}
