// Package dom holds the in-memory model of a host document: a tree of
// layers addressed both by id and by flat z-order index.
package dom

import (
	"github.com/agentic-research/assetgen/api"
)

// Kind discriminates layer variants.
type Kind int

const (
	KindBasic Kind = iota
	KindShape
	KindText
	KindAdjustment
	KindSmartObject
	KindBackground
	KindGroup
)

var kindNames = map[Kind]string{
	KindBasic:       api.LayerTypeLayer,
	KindShape:       api.LayerTypeShape,
	KindText:        api.LayerTypeText,
	KindAdjustment:  api.LayerTypeAdjustment,
	KindSmartObject: api.LayerTypeSmartObject,
	KindBackground:  api.LayerTypeBackground,
	KindGroup:       api.LayerTypeGroup,
}

// KindOf maps a host type string to a Kind.
func KindOf(typ string) (Kind, bool) {
	for k, name := range kindNames {
		if name == typ {
			return k, true
		}
	}
	return KindBasic, false
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Layer is a node of the document tree. Groups carry Children ordered
// top-most first; every other kind has none.
//
// Property values are replaced, never mutated in place, so clones may
// share them.
type Layer struct {
	ID   int
	Kind Kind
	// Type is the host type string. It differs from Kind.String() only for
	// types this package does not know.
	Type string
	Name string

	Bounds            *Bounds
	BoundsWithFX      *Bounds
	Visible           *bool
	Clipped           bool
	Mask              *api.Mask
	LayerEffects      map[string]any
	GeneratorSettings map[string]any
	BlendOptions      *api.BlendOptions
	Protection        *api.Protection

	// Payload is the kind-specific record: text for text layers, the
	// placed document for smart objects, the adjustment settings, or the
	// vector path of a shape.
	Payload map[string]any

	Children []*Layer

	parent *Layer
	root   bool
}

// IsGroup reports whether the layer can hold children.
func (l *Layer) IsGroup() bool { return l.Kind == KindGroup || l.root }

// Parent returns the enclosing group, or nil for top-level layers.
func (l *Layer) Parent() *Layer {
	if l.parent == nil || l.parent.root {
		return nil
	}
	return l.parent
}

// IsVisible reports the visibility flag, defaulting to visible.
func (l *Layer) IsVisible() bool { return l.Visible == nil || *l.Visible }

// HasMask reports whether an enabled mask applies to the layer.
func (l *Layer) HasMask() bool {
	return l.Mask != nil && (l.Mask.Enabled == nil || *l.Mask.Enabled)
}

// Size returns the number of flat indices the layer occupies: one for a
// leaf, and for a group its children plus the closing divider and the
// group itself.
func (l *Layer) Size() int {
	if !l.IsGroup() {
		return 1
	}
	n := 0
	for _, c := range l.Children {
		n += c.Size()
	}
	if l.root {
		return n
	}
	return n + 2
}

// Walk visits l and all descendants depth-first, parents before children.
// Returning false from fn skips the subtree.
func (l *Layer) Walk(fn func(*Layer) bool) {
	if !l.root && !fn(l) {
		return
	}
	for _, c := range l.Children {
		c.Walk(fn)
	}
}

// Ancestors returns the enclosing groups from the innermost outwards.
func (l *Layer) Ancestors() []*Layer {
	var out []*Layer
	for p := l.Parent(); p != nil; p = p.Parent() {
		out = append(out, p)
	}
	return out
}

func (l *Layer) payloadKey() string {
	switch l.Kind {
	case KindText:
		return "text"
	case KindSmartObject:
		return "smartObject"
	case KindAdjustment:
		return "adjustment"
	case KindShape:
		return "path"
	}
	return ""
}

func payloadFrom(k Kind, text, smartObject, adjustment, path map[string]any) map[string]any {
	switch k {
	case KindText:
		return text
	case KindSmartObject:
		return smartObject
	case KindAdjustment:
		return adjustment
	case KindShape:
		return path
	}
	return nil
}

func newLayer(raw *api.Layer) *Layer {
	kind, _ := KindOf(raw.Type)
	l := &Layer{
		ID:                raw.ID,
		Kind:              kind,
		Type:              raw.Type,
		Name:              raw.Name,
		Bounds:            boundsFromAPI(raw.Bounds),
		BoundsWithFX:      boundsFromAPI(raw.BoundsWithFX),
		Visible:           raw.Visible,
		Clipped:           raw.Clipped,
		Mask:              raw.Mask,
		LayerEffects:      raw.LayerEffects,
		GeneratorSettings: raw.GeneratorSettings,
		BlendOptions:      raw.BlendOptions,
		Protection:        raw.Protection,
		Payload:           payloadFrom(kind, raw.Text, raw.SmartObject, raw.Adjustment, raw.Path),
	}
	return l
}

func (l *Layer) toRaw(index int) api.Layer {
	raw := api.Layer{
		ID:                l.ID,
		Index:             index,
		Type:              l.Type,
		Name:              l.Name,
		Bounds:            l.Bounds.API(),
		BoundsWithFX:      l.BoundsWithFX.API(),
		Visible:           l.Visible,
		Clipped:           l.Clipped,
		Mask:              l.Mask,
		LayerEffects:      l.LayerEffects,
		GeneratorSettings: l.GeneratorSettings,
		BlendOptions:      l.BlendOptions,
		Protection:        l.Protection,
	}
	switch l.payloadKey() {
	case "text":
		raw.Text = l.Payload
	case "smartObject":
		raw.SmartObject = l.Payload
	case "adjustment":
		raw.Adjustment = l.Payload
	case "path":
		raw.Path = l.Payload
	}
	return raw
}

// clone deep-copies the tree structure. Property values are shared.
func (l *Layer) clone(parent *Layer) *Layer {
	c := *l
	c.parent = parent
	if l.Children != nil {
		c.Children = make([]*Layer, len(l.Children))
		for i, child := range l.Children {
			c.Children[i] = child.clone(&c)
		}
	}
	return &c
}

func (l *Layer) removeChild(child *Layer) bool {
	for i, c := range l.Children {
		if c == child {
			l.Children = append(l.Children[:i:i], l.Children[i+1:]...)
			child.parent = nil
			return true
		}
	}
	return false
}

func (l *Layer) insertChildAt(child *Layer, pos int) {
	l.Children = append(l.Children, nil)
	copy(l.Children[pos+1:], l.Children[pos:])
	l.Children[pos] = child
	child.parent = l
}
