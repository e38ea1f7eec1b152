package dom

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/agentic-research/assetgen/api"
)

// DefaultPPI is used when a document reports no usable resolution.
const DefaultPPI = 72.0

var (
	// ErrInvalidDocument is returned when a full document description is
	// internally inconsistent.
	ErrInvalidDocument = errors.New("invalid document")
	// ErrIndexOutOfRange is returned by AddLayerAtIndex for indices outside
	// the tree.
	ErrIndexOutOfRange = errors.New("layer index out of range")
)

// Document is the model of one open host document.
type Document struct {
	ID                int
	Version           string
	TimeStamp         float64
	Count             int
	File              string
	Bounds            *Bounds
	Resolution        any
	Selection         []int
	GeneratorSettings map[string]any

	root *Layer
	byID map[int]*Layer
}

// NewDocument builds the model from a full host description. Every layer
// id must be unique and every index must agree with the tree position.
func NewDocument(raw *api.Document) (*Document, error) {
	d := &Document{
		ID:                raw.ID,
		Version:           raw.Version,
		TimeStamp:         raw.TimeStamp,
		Count:             raw.Count,
		File:              raw.File,
		Bounds:            boundsFromAPI(raw.Bounds),
		Resolution:        raw.Resolution,
		Selection:         raw.Selection,
		GeneratorSettings: raw.GeneratorSettings,
		root:              &Layer{Kind: KindGroup, root: true},
		byID:              make(map[int]*Layer),
	}
	want := make(map[*Layer]int)
	if err := d.build(d.root, raw.Layers, want); err != nil {
		return nil, err
	}
	for l, idx := range want {
		if got := d.IndexOf(l); got != idx {
			return nil, fmt.Errorf("%w: layer %d reports index %d, tree position is %d", ErrInvalidDocument, l.ID, idx, got)
		}
	}
	return d, nil
}

func (d *Document) build(parent *Layer, raws []api.Layer, want map[*Layer]int) error {
	for i := range raws {
		raw := &raws[i]
		if _, dup := d.byID[raw.ID]; dup {
			return fmt.Errorf("%w: duplicate layer id %d", ErrInvalidDocument, raw.ID)
		}
		l := newLayer(raw)
		if len(raw.Layers) > 0 && l.Kind != KindGroup {
			return fmt.Errorf("%w: layer %d of type %q has children", ErrInvalidDocument, raw.ID, raw.Type)
		}
		parent.insertChildAt(l, len(parent.Children))
		d.byID[l.ID] = l
		want[l] = raw.Index
		if err := d.build(l, raw.Layers, want); err != nil {
			return err
		}
	}
	return nil
}

// ToRaw renders the model back into the host representation.
func (d *Document) ToRaw() *api.Document {
	return &api.Document{
		Version:           d.Version,
		TimeStamp:         d.TimeStamp,
		Count:             d.Count,
		ID:                d.ID,
		File:              d.File,
		Bounds:            d.Bounds.API(),
		Resolution:        d.Resolution,
		Selection:         d.Selection,
		GeneratorSettings: d.GeneratorSettings,
		Layers:            rawChildren(d.root.Children, 0),
	}
}

func rawChildren(children []*Layer, base int) []api.Layer {
	if len(children) == 0 {
		return nil
	}
	out := make([]api.Layer, len(children))
	cursor := base
	for i := len(children) - 1; i >= 0; i-- {
		c := children[i]
		size := c.Size()
		out[i] = c.toRaw(cursor + size - 1)
		if c.IsGroup() {
			out[i].Layers = rawChildren(c.Children, cursor+1)
		}
		cursor += size
	}
	return out
}

// Layers returns the top-level layers, top-most first.
func (d *Document) Layers() []*Layer { return d.root.Children }

// Walk visits every layer depth-first.
func (d *Document) Walk(fn func(*Layer) bool) { d.root.Walk(fn) }

// Len returns the number of layers.
func (d *Document) Len() int { return len(d.byID) }

// FindLayer returns the layer with the given id.
func (d *Document) FindLayer(id int) (*Layer, bool) {
	l, ok := d.byID[id]
	return l, ok
}

// FindLayerAtIndex returns the layer occupying flat index i. Group
// dividers occupy an index but are not layers.
func (d *Document) FindLayerAtIndex(i int) (*Layer, bool) {
	return findAtIndex(d.root.Children, 0, i)
}

func findAtIndex(children []*Layer, cursor, target int) (*Layer, bool) {
	for k := len(children) - 1; k >= 0; k-- {
		c := children[k]
		size := c.Size()
		top := cursor + size - 1
		if target <= top {
			if target == top {
				return c, true
			}
			if c.IsGroup() && target > cursor {
				return findAtIndex(c.Children, cursor+1, target)
			}
			return nil, false
		}
		cursor += size
	}
	return nil, false
}

// IndexOf returns the flat index of l, or -1 if l is not in the document.
func (d *Document) IndexOf(l *Layer) int {
	base, ok := d.baseOf(l)
	if !ok {
		return -1
	}
	return base + l.Size() - 1
}

func (d *Document) baseOf(l *Layer) (int, bool) {
	p := l.parent
	if p == nil {
		return 0, false
	}
	start := 0
	if !p.root {
		pb, ok := d.baseOf(p)
		if !ok {
			return 0, false
		}
		start = pb + 1
	} else if p != d.root {
		return 0, false
	}
	for k := len(p.Children) - 1; k >= 0; k-- {
		c := p.Children[k]
		if c == l {
			return start, true
		}
		start += c.Size()
	}
	return 0, false
}

// AddLayerAtIndex inserts a detached layer so that it ends up at flat
// index i.
func (d *Document) AddLayerAtIndex(l *Layer, i int) error {
	if err := d.insertAtBase(l, i-l.Size()+1); err != nil {
		return err
	}
	d.index(l)
	return nil
}

func (d *Document) insertAtBase(l *Layer, base int) error {
	if l.parent != nil {
		return fmt.Errorf("layer %d is already attached", l.ID)
	}
	if !insertAt(d.root, 0, base, l) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, base)
	}
	return nil
}

func insertAt(group *Layer, cursor, target int, l *Layer) bool {
	children := group.Children
	for k := len(children) - 1; k >= 0; k-- {
		c := children[k]
		if target == cursor {
			group.insertChildAt(l, k+1)
			return true
		}
		size := c.Size()
		if c.IsGroup() && target > cursor && target < cursor+size {
			return insertAt(c, cursor+1, target, l)
		}
		cursor += size
	}
	if target == cursor {
		group.insertChildAt(l, 0)
		return true
	}
	return false
}

func (d *Document) index(l *Layer) {
	l.Walk(func(x *Layer) bool {
		d.byID[x.ID] = x
		return true
	})
}

// RemoveLayer detaches l and its descendants.
func (d *Document) RemoveLayer(l *Layer) bool {
	if l.parent == nil || !l.parent.removeChild(l) {
		return false
	}
	l.Walk(func(x *Layer) bool {
		delete(d.byID, x.ID)
		return true
	})
	return true
}

// PPI returns the document resolution in pixels per inch.
func (d *Document) PPI() float64 {
	return ParseResolution(d.Resolution)
}

// ParseResolution accepts a number or a numeric string, falling back to
// DefaultPPI.
func ParseResolution(v any) float64 {
	var ppi float64
	switch r := v.(type) {
	case float64:
		ppi = r
	case int:
		ppi = float64(r)
	case string:
		ppi, _ = strconv.ParseFloat(r, 64)
	}
	if ppi <= 0 {
		return DefaultPPI
	}
	return ppi
}

// HasAdjustmentLayer reports whether any layer is an adjustment layer.
func (d *Document) HasAdjustmentLayer() bool {
	for _, l := range d.byID {
		if l.Kind == KindAdjustment {
			return true
		}
	}
	return false
}

func (d *Document) clone() *Document {
	c := *d
	c.root = d.root.clone(nil)
	c.byID = make(map[int]*Layer, len(d.byID))
	c.index(c.root)
	return &c
}
