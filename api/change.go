package api

// DocumentChange is a partial change event emitted by the host. Only the
// fields that changed are present. Changed=true means the host could not
// describe the change and the document must be fetched again.
type DocumentChange struct {
	Version           string         `json:"version,omitempty"`
	TimeStamp         float64        `json:"timeStamp"`
	Count             int            `json:"count"`
	ID                int            `json:"id"`
	File              *string        `json:"file,omitempty"`
	Bounds            *Bounds        `json:"bounds,omitempty"`
	Resolution        any            `json:"resolution,omitempty"`
	GeneratorSettings map[string]any `json:"generatorSettings,omitempty"`
	Layers            []LayerChange  `json:"layers,omitempty"`
	Selection         []int          `json:"selection,omitempty"`
	Comps             []any          `json:"comps,omitempty"`
	Placed            []any          `json:"placed,omitempty"`
	Closed            bool           `json:"closed,omitempty"`
	Active            bool           `json:"active,omitempty"`
	Merged            bool           `json:"merged,omitempty"`
	Flattened         bool           `json:"flattened,omitempty"`
	MetaDataOnly      bool           `json:"metaDataOnly,omitempty"`
	Changed           bool           `json:"changed,omitempty"`

	// Index-range hints for layers whose rendering was affected without
	// their own properties changing.
	LayersAdjusted []IndexRange `json:"layersAdjusted,omitempty"`
	ClipGroup      []IndexRange `json:"clipGroup,omitempty"`
}

// IndexRange is an inclusive range of flat layer indices.
type IndexRange struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// LayerChange is the partial description of one changed layer. Nested
// changes for group members are listed in Layers under their (new) parent.
type LayerChange struct {
	ID                int            `json:"id"`
	Index             *int           `json:"index,omitempty"`
	Type              string         `json:"type,omitempty"`
	Name              *string        `json:"name,omitempty"`
	Added             bool           `json:"added,omitempty"`
	Removed           bool           `json:"removed,omitempty"`
	Bounds            *Bounds        `json:"bounds,omitempty"`
	BoundsWithFX      *Bounds        `json:"boundsWithFX,omitempty"`
	Visible           *bool          `json:"visible,omitempty"`
	Clipped           *bool          `json:"clipped,omitempty"`
	Mask              *Mask          `json:"mask,omitempty"`
	LayerEffects      map[string]any `json:"layerEffects,omitempty"`
	GeneratorSettings map[string]any `json:"generatorSettings,omitempty"`
	BlendOptions      *BlendOptions  `json:"blendOptions,omitempty"`
	Protection        *Protection    `json:"protection,omitempty"`
	Text              map[string]any `json:"text,omitempty"`
	SmartObject       map[string]any `json:"smartObject,omitempty"`
	Adjustment        map[string]any `json:"adjustment,omitempty"`
	Path              map[string]any `json:"path,omitempty"`
	Pixels            bool           `json:"pixels,omitempty"`
	Layers            []LayerChange  `json:"layers,omitempty"`
}
