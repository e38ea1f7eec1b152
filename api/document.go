package api

// Bounds is an integer rectangle in document pixels.
type Bounds struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Bottom int `json:"bottom"`
	Right  int `json:"right"`
}

// Document is the full description of an open document as returned by the host.
type Document struct {
	Version           string         `json:"version,omitempty"`
	TimeStamp         float64        `json:"timeStamp"`
	Count             int            `json:"count"`
	ID                int            `json:"id"`
	File              string         `json:"file,omitempty"`
	Bounds            *Bounds        `json:"bounds,omitempty"`
	Resolution        any            `json:"resolution,omitempty"`
	Selection         []int          `json:"selection,omitempty"`
	GeneratorSettings map[string]any `json:"generatorSettings,omitempty"`
	Layers            []Layer        `json:"layers,omitempty"`
}

// Layer is one node of the host's layer tree. Groups ("layerSection") carry
// their children top-first in Layers.
type Layer struct {
	ID                int            `json:"id"`
	Index             int            `json:"index"`
	Type              string         `json:"type"`
	Name              string         `json:"name"`
	Bounds            *Bounds        `json:"bounds,omitempty"`
	BoundsWithFX      *Bounds        `json:"boundsWithFX,omitempty"`
	Visible           *bool          `json:"visible,omitempty"`
	Clipped           bool           `json:"clipped,omitempty"`
	Mask              *Mask          `json:"mask,omitempty"`
	LayerEffects      map[string]any `json:"layerEffects,omitempty"`
	GeneratorSettings map[string]any `json:"generatorSettings,omitempty"`
	BlendOptions      *BlendOptions  `json:"blendOptions,omitempty"`
	Protection        *Protection    `json:"protection,omitempty"`
	Text              map[string]any `json:"text,omitempty"`
	SmartObject       map[string]any `json:"smartObject,omitempty"`
	Adjustment        map[string]any `json:"adjustment,omitempty"`
	Path              map[string]any `json:"path,omitempty"`
	Layers            []Layer        `json:"layers,omitempty"`
}

// Mask describes a layer's raster or vector mask.
type Mask struct {
	Bounds          *Bounds `json:"bounds,omitempty"`
	Enabled         *bool   `json:"enabled,omitempty"`
	ExtendWithWhite bool    `json:"extendWithWhite,omitempty"`
	Removed         bool    `json:"removed,omitempty"`
}

// BlendOptions holds opacity and blend mode.
type BlendOptions struct {
	Opacity     *float64 `json:"opacity,omitempty"`
	FillOpacity *float64 `json:"fillOpacity,omitempty"`
	Mode        string   `json:"mode,omitempty"`
}

// Protection holds the layer lock flags.
type Protection struct {
	All          bool `json:"all,omitempty"`
	Transparency bool `json:"transparency,omitempty"`
	Position     bool `json:"position,omitempty"`
}

// Layer type names used by the host.
const (
	LayerTypeLayer       = "layer"
	LayerTypeShape       = "shapeLayer"
	LayerTypeText        = "textLayer"
	LayerTypeAdjustment  = "adjustmentLayer"
	LayerTypeSmartObject = "smartObjectLayer"
	LayerTypeBackground  = "backgroundLayer"
	LayerTypeGroup       = "layerSection"
)
