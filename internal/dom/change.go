package dom

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/assetgen/api"
)

var (
	// ErrStaleChange is returned for changes not newer than the document.
	ErrStaleChange = errors.New("stale change")
	// ErrResyncRequired is returned when a change cannot be applied to the
	// model; the caller should fetch the full document again.
	ErrResyncRequired = errors.New("resync required")
	// ErrWrongDocument is returned for changes addressed to another document.
	ErrWrongDocument = errors.New("change belongs to another document")
)

func resyncf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrResyncRequired}, args...)...)
}

// LayerChange records what happened to one layer during ApplyChange.
type LayerChange struct {
	ID int
	// Layer is the updated layer. For removed layers it is the detached
	// node as it was before removal.
	Layer *Layer

	Added   bool
	Removed bool
	Moved   bool

	NameChanged       bool
	OldName           string
	TypeChanged       bool
	BoundsChanged     bool
	VisibilityChanged bool
	MaskChanged       bool
	EffectsChanged    bool
	SettingsChanged   bool
	PixelsChanged     bool
}

// Update is the result of a successful ApplyChange.
type Update struct {
	Document *Document

	FileChanged       bool
	OldFile           string
	ResolutionChanged bool
	OldPPI            float64
	BoundsChanged     bool
	SettingsChanged   bool
	SelectionChanged  bool

	Layers map[int]*LayerChange
	// Touched holds the ids in Layers.
	Touched *roaring.Bitmap
}

func (u *Update) layer(l *Layer) *LayerChange {
	lc, ok := u.Layers[l.ID]
	if !ok {
		lc = &LayerChange{ID: l.ID, Layer: l}
		u.Layers[l.ID] = lc
		u.Touched.Add(uint32(l.ID))
	}
	return lc
}

// IDs returns the touched layer ids in ascending order.
func (u *Update) IDs() []int {
	out := make([]int, 0, u.Touched.GetCardinality())
	it := u.Touched.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

type changeOp int

const (
	opNone changeOp = iota
	opAdded
	opRemoved
	opMoved
)

type changeEntry struct {
	raw    *api.LayerChange
	parent *changeEntry
	layer  *Layer
	op     changeOp
	// oldIndex is the position before any detachment; final the target.
	oldIndex int
	final    int
}

// Stale reports whether ch is not newer than the document by
// (timeStamp, count).
func (d *Document) Stale(ch *api.DocumentChange) bool {
	return ch.TimeStamp < d.TimeStamp || (ch.TimeStamp == d.TimeStamp && ch.Count <= d.Count)
}

// ApplyChange applies a partial change. It is transactional: on error the
// document is left untouched.
func (d *Document) ApplyChange(ch *api.DocumentChange) (*Update, error) {
	if ch.ID != d.ID {
		return nil, fmt.Errorf("%w: %d != %d", ErrWrongDocument, ch.ID, d.ID)
	}
	if d.Stale(ch) {
		return nil, fmt.Errorf("%w: %v/%d is not after %v/%d", ErrStaleChange, ch.TimeStamp, ch.Count, d.TimeStamp, d.Count)
	}

	next := d.clone()
	u := &Update{Document: d, Layers: make(map[int]*LayerChange), Touched: roaring.New()}

	if ch.File != nil && *ch.File != next.File {
		u.FileChanged = true
		u.OldFile = next.File
		next.File = *ch.File
	}
	if ch.Bounds != nil && !boundsEqual(next.Bounds, boundsFromAPI(ch.Bounds)) {
		u.BoundsChanged = true
		next.Bounds = boundsFromAPI(ch.Bounds)
	}
	if ch.Resolution != nil {
		old := next.PPI()
		next.Resolution = ch.Resolution
		if next.PPI() != old {
			u.ResolutionChanged = true
			u.OldPPI = old
		}
	}
	if ch.GeneratorSettings != nil && !reflect.DeepEqual(ch.GeneratorSettings, next.GeneratorSettings) {
		u.SettingsChanged = true
		next.GeneratorSettings = ch.GeneratorSettings
	}
	if ch.Selection != nil && !slices.Equal(ch.Selection, next.Selection) {
		u.SelectionChanged = true
		next.Selection = ch.Selection
	}

	if len(ch.Layers) > 0 {
		if err := next.applyLayers(ch.Layers, u); err != nil {
			return nil, err
		}
	}

	if ch.Version != "" {
		next.Version = ch.Version
	}
	next.TimeStamp = ch.TimeStamp
	next.Count = ch.Count
	*d = *next
	return u, nil
}

func (d *Document) applyLayers(raws []api.LayerChange, u *Update) error {
	var entries []*changeEntry
	seen := make(map[int]bool)
	if err := d.collect(raws, nil, seen, &entries); err != nil {
		return err
	}

	// Detach in increasing old index so positions of the remaining
	// entries are unaffected by earlier detachments within a subtree.
	var detach []*changeEntry
	for _, e := range entries {
		if e.op == opRemoved || e.op == opMoved {
			e.oldIndex = d.IndexOf(e.layer)
			detach = append(detach, e)
		}
	}
	sort.SliceStable(detach, func(i, j int) bool { return detach[i].oldIndex < detach[j].oldIndex })
	for _, e := range detach {
		if e.layer.parent != nil {
			e.layer.parent.removeChild(e.layer)
		}
	}

	// Whatever is still inside a removed subtree goes with it.
	for _, e := range entries {
		if e.op != opRemoved {
			continue
		}
		e.layer.Walk(func(x *Layer) bool {
			lc := u.layer(x)
			lc.Removed = true
			return true
		})
	}

	var inserts []*changeEntry
	for _, e := range entries {
		switch e.op {
		case opRemoved:
			continue
		case opAdded:
			lc := u.layer(e.layer)
			lc.Added = true
			inserts = append(inserts, e)
		case opMoved:
			lc := u.layer(e.layer)
			lc.Moved = true
			applyProps(e.layer, e.raw, lc)
			inserts = append(inserts, e)
		default:
			if hasProps(e.raw) {
				applyProps(e.layer, e.raw, u.layer(e.layer))
			}
		}
	}

	pending := make(map[*Layer][]*Layer)
	for _, e := range inserts {
		p := d.root
		if e.parent != nil {
			p = e.parent.layer
		}
		pending[p] = append(pending[p], e.layer)
	}
	var finalSize func(*Layer) int
	finalSize = func(l *Layer) int {
		if !l.IsGroup() {
			return 1
		}
		n := 2
		for _, c := range l.Children {
			n += finalSize(c)
		}
		for _, c := range pending[l] {
			n += finalSize(c)
		}
		return n
	}
	for _, e := range inserts {
		e.final = *e.raw.Index - finalSize(e.layer) + 1
	}
	sort.SliceStable(inserts, func(i, j int) bool { return inserts[i].final < inserts[j].final })
	for _, e := range inserts {
		if err := d.insertAtBase(e.layer, e.final); err != nil {
			return resyncf("layer %d: %v", e.layer.ID, err)
		}
	}

	d.byID = make(map[int]*Layer, len(d.byID))
	d.index(d.root)

	for _, e := range entries {
		if e.op != opNone || e.raw.Index == nil {
			continue
		}
		if got := d.IndexOf(e.layer); got != *e.raw.Index {
			return resyncf("layer %d ended at index %d instead of %d", e.layer.ID, got, *e.raw.Index)
		}
	}
	for _, e := range inserts {
		if got := d.IndexOf(e.layer); got != *e.raw.Index {
			return resyncf("layer %d landed at index %d instead of %d", e.layer.ID, got, *e.raw.Index)
		}
		want := (*Layer)(nil)
		if e.parent != nil {
			want = e.parent.layer
		}
		if e.layer.Parent() != want {
			return resyncf("layer %d landed in the wrong group", e.layer.ID)
		}
	}
	return nil
}

func (d *Document) collect(raws []api.LayerChange, parent *changeEntry, seen map[int]bool, out *[]*changeEntry) error {
	for i := range raws {
		raw := &raws[i]
		if seen[raw.ID] {
			return resyncf("layer %d listed twice", raw.ID)
		}
		seen[raw.ID] = true
		existing, ok := d.byID[raw.ID]
		e := &changeEntry{raw: raw, parent: parent, layer: existing}
		var want *Layer
		if parent != nil {
			want = parent.layer
		}

		switch {
		case raw.Removed:
			if !ok {
				return resyncf("removed layer %d is unknown", raw.ID)
			}
			e.op = opRemoved
		case raw.Added:
			if ok {
				return resyncf("added layer %d already exists", raw.ID)
			}
			if raw.Index == nil {
				return resyncf("added layer %d has no index", raw.ID)
			}
			if _, known := KindOf(raw.Type); !known {
				return resyncf("added layer %d has unknown type %q", raw.ID, raw.Type)
			}
			e.layer = layerFromChange(raw)
			e.op = opAdded
		case !ok:
			return resyncf("layer %d is unknown", raw.ID)
		case raw.Index != nil && (*raw.Index != d.IndexOf(existing) || existing.Parent() != want):
			e.op = opMoved
		default:
			// An unchanged index restates the current position.
			if existing.Parent() != want {
				return resyncf("layer %d listed under another group without an index", raw.ID)
			}
		}
		if len(raw.Layers) > 0 && !e.layer.IsGroup() && raw.Type != api.LayerTypeGroup {
			return resyncf("layer %d is not a group", raw.ID)
		}
		*out = append(*out, e)
		if err := d.collect(raw.Layers, e, seen, out); err != nil {
			return err
		}
	}
	return nil
}

func layerFromChange(raw *api.LayerChange) *Layer {
	kind, _ := KindOf(raw.Type)
	l := &Layer{ID: raw.ID, Kind: kind, Type: raw.Type}
	if raw.Name != nil {
		l.Name = *raw.Name
	}
	if raw.Clipped != nil {
		l.Clipped = *raw.Clipped
	}
	l.Bounds = boundsFromAPI(raw.Bounds)
	l.BoundsWithFX = boundsFromAPI(raw.BoundsWithFX)
	l.Visible = raw.Visible
	if raw.Mask != nil && !raw.Mask.Removed {
		l.Mask = raw.Mask
	}
	l.LayerEffects = raw.LayerEffects
	l.GeneratorSettings = raw.GeneratorSettings
	l.BlendOptions = raw.BlendOptions
	l.Protection = raw.Protection
	l.Payload = payloadFrom(kind, raw.Text, raw.SmartObject, raw.Adjustment, raw.Path)
	return l
}

func hasProps(raw *api.LayerChange) bool {
	return raw.Type != "" || raw.Name != nil || raw.Bounds != nil || raw.BoundsWithFX != nil ||
		raw.Visible != nil || raw.Clipped != nil || raw.Mask != nil || raw.LayerEffects != nil ||
		raw.GeneratorSettings != nil || raw.BlendOptions != nil || raw.Protection != nil ||
		raw.Text != nil || raw.SmartObject != nil || raw.Adjustment != nil || raw.Path != nil || raw.Pixels
}

func applyProps(l *Layer, raw *api.LayerChange, lc *LayerChange) {
	if raw.Type != "" && raw.Type != l.Type {
		l.Type = raw.Type
		l.Kind, _ = KindOf(raw.Type)
		l.Payload = nil
		lc.TypeChanged = true
		lc.PixelsChanged = true
	}
	if raw.Name != nil && *raw.Name != l.Name {
		if !lc.NameChanged {
			lc.OldName = l.Name
		}
		lc.NameChanged = true
		l.Name = *raw.Name
	}
	if b := boundsFromAPI(raw.Bounds); b != nil && !boundsEqual(b, l.Bounds) {
		l.Bounds = b
		lc.BoundsChanged = true
	}
	if b := boundsFromAPI(raw.BoundsWithFX); b != nil && !boundsEqual(b, l.BoundsWithFX) {
		l.BoundsWithFX = b
		lc.BoundsChanged = true
	}
	if raw.Visible != nil && *raw.Visible != l.IsVisible() {
		v := *raw.Visible
		l.Visible = &v
		lc.VisibilityChanged = true
	}
	if raw.Clipped != nil && *raw.Clipped != l.Clipped {
		l.Clipped = *raw.Clipped
		lc.PixelsChanged = true
	}
	if raw.Mask != nil {
		if raw.Mask.Removed {
			if l.Mask != nil {
				l.Mask = nil
				lc.MaskChanged = true
			}
		} else if !reflect.DeepEqual(raw.Mask, l.Mask) {
			l.Mask = raw.Mask
			lc.MaskChanged = true
		}
	}
	if raw.LayerEffects != nil && !reflect.DeepEqual(raw.LayerEffects, l.LayerEffects) {
		l.LayerEffects = raw.LayerEffects
		lc.EffectsChanged = true
	}
	if raw.GeneratorSettings != nil && !reflect.DeepEqual(raw.GeneratorSettings, l.GeneratorSettings) {
		l.GeneratorSettings = raw.GeneratorSettings
		lc.SettingsChanged = true
	}
	if raw.BlendOptions != nil && !reflect.DeepEqual(raw.BlendOptions, l.BlendOptions) {
		l.BlendOptions = raw.BlendOptions
		lc.PixelsChanged = true
	}
	if raw.Protection != nil {
		l.Protection = raw.Protection
	}
	if p := payloadFrom(l.Kind, raw.Text, raw.SmartObject, raw.Adjustment, raw.Path); p != nil && !reflect.DeepEqual(p, l.Payload) {
		l.Payload = p
		lc.PixelsChanged = true
	}
	if raw.Pixels {
		lc.PixelsChanged = true
	}
}
