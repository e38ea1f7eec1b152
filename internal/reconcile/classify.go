package reconcile

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/assetgen/api"
	"github.com/agentic-research/assetgen/internal/dom"
	"github.com/agentic-research/assetgen/internal/scheduler"
)

// needsResync reports why a change cannot be applied incrementally, or ""
// when it can.
func needsResync(d *dom.Document, ch *api.DocumentChange) string {
	switch {
	case ch.Changed:
		return "host reported an unknown change"
	case ch.Flattened:
		return "document was flattened"
	case ch.Merged:
		return "layers were merged"
	}
	hasAdjustment := d.HasAdjustmentLayer()
	var reason string
	// parent is nil for top-level entries and for children of added groups,
	// where any index is a move.
	var walk func(raws []api.LayerChange, parent *dom.Layer, underAdded bool)
	walk = func(raws []api.LayerChange, parent *dom.Layer, underAdded bool) {
		for i := range raws {
			if reason != "" {
				return
			}
			raw := &raws[i]
			if raw.Type != "" {
				kind, ok := dom.KindOf(raw.Type)
				if !ok {
					reason = fmt.Sprintf("layer %d has unknown type %q", raw.ID, raw.Type)
					return
				}
				if kind == dom.KindAdjustment {
					reason = fmt.Sprintf("adjustment layer %d changed", raw.ID)
					return
				}
			} else if raw.Added {
				reason = fmt.Sprintf("added layer %d has no type", raw.ID)
				return
			}
			l, ok := d.FindLayer(raw.ID)
			if ok && l.Kind == dom.KindAdjustment {
				reason = fmt.Sprintf("adjustment layer %d changed", raw.ID)
				return
			}
			if hasAdjustment && raw.Index != nil && !raw.Added && (underAdded || moved(d, l, parent, *raw.Index)) {
				reason = fmt.Sprintf("layer %d moved in a document with adjustment layers", raw.ID)
				return
			}
			walk(raw.Layers, l, underAdded || raw.Added)
		}
	}
	walk(ch.Layers, nil, false)
	return reason
}

// moved reports whether index and parent differ from where l sits now.
// Unknown layers count as moved.
func moved(d *dom.Document, l, parent *dom.Layer, index int) bool {
	return l == nil || d.IndexOf(l) != index || l.Parent() != parent
}

// changeBits maps a tree-level layer change to scheduler flags.
func changeBits(lc *dom.LayerChange) scheduler.Change {
	var c scheduler.Change
	if lc.Added {
		c |= scheduler.ChangeAdded
	}
	if lc.Removed {
		c |= scheduler.ChangeRemoved
	}
	if lc.NameChanged {
		c |= scheduler.ChangeName
	}
	if lc.BoundsChanged {
		c |= scheduler.ChangeBounds
	}
	if lc.MaskChanged {
		c |= scheduler.ChangeMask
	}
	if lc.PixelsChanged || lc.EffectsChanged || lc.TypeChanged || lc.Moved {
		c |= scheduler.ChangePixels
	}
	if lc.VisibilityChanged {
		c |= scheduler.ChangeVisibility
	}
	if lc.SettingsChanged {
		c |= scheduler.ChangeSettings
	}
	return c
}

// indexHints collects the flat indices named by layersAdjusted and
// clipGroup. Both sources are unioned.
func indexHints(ch *api.DocumentChange) *roaring.Bitmap {
	bm := roaring.New()
	for _, ranges := range [][]api.IndexRange{ch.LayersAdjusted, ch.ClipGroup} {
		for _, r := range ranges {
			from, to := r.From, r.To
			if from > to {
				from, to = to, from
			}
			if to < 0 {
				continue
			}
			from = max(from, 0)
			bm.AddRange(uint64(from), uint64(to)+1)
		}
	}
	return bm
}

// invalidation accumulates the flags to schedule per layer.
type invalidation map[int]scheduler.Change

func (inv invalidation) add(id int, c scheduler.Change) {
	if c != 0 {
		inv[id] |= c
	}
}

// dependents adds the layers whose output depends on the changed ones:
// every ancestor group, the descendants of a group whose mask changed
// when ancestor masks are rendered, and the layers at hinted indices.
func (s *Service) dependents(d *dom.Document, upd *dom.Update, ch *api.DocumentChange, prev map[int]*LayerContext, inv invalidation) {
	for _, id := range upd.IDs() {
		lc := upd.Layers[id]
		if !lc.Removed {
			for _, a := range lc.Layer.Ancestors() {
				inv.add(a.ID, scheduler.ChangePixels)
			}
		}
		// The old parent lost a child.
		if old := prev[id]; old != nil && old.ParentID != 0 && (lc.Removed || lc.Moved) {
			if p, ok := d.FindLayer(old.ParentID); ok {
				inv.add(p.ID, scheduler.ChangePixels)
				for _, a := range p.Ancestors() {
					inv.add(a.ID, scheduler.ChangePixels)
				}
			}
		}
		if s.cfg.IncludeAncestorMasks && lc.MaskChanged && !lc.Removed && lc.Layer.IsGroup() {
			lc.Layer.Walk(func(c *dom.Layer) bool {
				inv.add(c.ID, scheduler.ChangeMask)
				return true
			})
		}
	}

	it := indexHints(ch).Iterator()
	for it.HasNext() {
		if l, ok := d.FindLayerAtIndex(int(it.Next())); ok {
			inv.add(l.ID, scheduler.ChangePixels)
		}
	}

	if len(ch.Placed) > 0 {
		d.Walk(func(l *dom.Layer) bool {
			if l.Kind == dom.KindSmartObject {
				inv.add(l.ID, scheduler.ChangePixels)
			}
			return true
		})
	}
}
