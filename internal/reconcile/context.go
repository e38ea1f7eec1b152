package reconcile

import (
	"reflect"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"

	"github.com/agentic-research/assetgen/api"
	"github.com/agentic-research/assetgen/internal/dom"
	"github.com/agentic-research/assetgen/internal/spec"
)

// settingsPath locates the plugin's embedded JSON settings in a document's
// generator settings.
var settingsPath = jp.MustParseString("$['generator-assets'].json")

// DocumentContext is the export state of one document, kept beside its
// layer tree.
type DocumentContext struct {
	File                   string
	AssetGenerationEnabled bool
	// AssetGenerationDir is empty while unresolved.
	AssetGenerationDir string
	PPI                float64
	// Defaults are the valid default entries found in any layer name.
	Defaults []spec.AssetSpec
	Layers   map[int]*LayerContext
}

// LayerContext is the cached export state of one layer.
type LayerContext struct {
	ID       int
	ParentID int
	Name     string
	Kind     dom.Kind
	// ValidFileComponents are the components that can be exported.
	ValidFileComponents []spec.AssetSpec
	// Errors are the analyzer messages for Name.
	Errors []string
	// HasDefaults is set when Name declares document defaults.
	HasDefaults bool
	Bounds      *dom.Bounds
	Mask        *api.Mask
}

// Exports reports whether the layer produces any file.
func (lc *LayerContext) Exports() bool {
	return lc != nil && len(lc.ValidFileComponents) > 0
}

func (s *Service) layerContext(l *dom.Layer, prev *LayerContext) *LayerContext {
	lc := &LayerContext{ID: l.ID, Name: l.Name, Kind: l.Kind, Mask: l.Mask}
	if p := l.Parent(); p != nil {
		lc.ParentID = p.ID
	}
	if l.Bounds != nil {
		b := *l.Bounds
		lc.Bounds = &b
	}
	if prev != nil && prev.Name == l.Name {
		lc.ValidFileComponents = prev.ValidFileComponents
		lc.Errors = prev.Errors
		lc.HasDefaults = prev.HasDefaults
		return lc
	}
	specs, err := s.analyzer.AnalyzeLayerName(l.Name)
	if err != nil {
		s.logger.Printf("reconcile: layer %d: %v", l.ID, err)
	}
	lc.ValidFileComponents = spec.ValidFileComponents(specs)
	lc.Errors = spec.Errors(specs)
	lc.HasDefaults = len(spec.DefaultComponents(specs)) > 0
	return lc
}

// defaults collects the default entries of every layer in tree order.
func (s *Service) defaults(d *dom.Document, layers map[int]*LayerContext) []spec.AssetSpec {
	var out []spec.AssetSpec
	d.Walk(func(l *dom.Layer) bool {
		lc := layers[l.ID]
		if lc == nil || !lc.HasDefaults {
			return true
		}
		specs, _ := s.analyzer.AnalyzeLayerName(l.Name)
		out = append(out, spec.DefaultComponents(specs)...)
		return true
	})
	return out
}

func defaultsEqual(a, b []spec.AssetSpec) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// enabledFromSettings reads {"enabled": bool} from the document's generator
// settings. ok is false when the document carries no setting.
func enabledFromSettings(settings map[string]any) (enabled, ok bool) {
	if settings == nil {
		return false, false
	}
	for _, v := range settingsPath.Get(settings) {
		var parsed any
		switch t := v.(type) {
		case string:
			p, err := oj.ParseString(t)
			if err != nil {
				continue
			}
			parsed = p
		case map[string]any:
			parsed = t
		default:
			continue
		}
		m, isMap := parsed.(map[string]any)
		if !isMap {
			continue
		}
		if b, isBool := m["enabled"].(bool); isBool {
			return b, true
		}
	}
	return false, false
}
