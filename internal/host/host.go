// Package host defines the queries the pipeline issues to the host
// application and provides a replay implementation backed by a recorded
// session.
package host

import (
	"context"
	"errors"

	"github.com/agentic-research/assetgen/api"
)

// ErrUnknownDocument is returned for document ids the host does not have open.
var ErrUnknownDocument = errors.New("unknown document")

// ErrUnknownLayer is returned for layer ids missing from a document.
var ErrUnknownLayer = errors.New("unknown layer")

// PixmapSettings controls a GetPixmap request.
type PixmapSettings struct {
	// BoundsOnly asks for the exact rendered bounds without pixel data.
	BoundsOnly bool
	ScaleX     float64
	ScaleY     float64
	// Bounds restricts rendering to the given area when non-nil.
	Bounds               *api.Bounds
	UseSmartScaling      bool
	IncludeAncestorMasks bool
}

// Pixmap is an opaque rendered image.
type Pixmap struct {
	DocumentID int
	LayerID    int
	Width      int
	Height     int
	// Bounds is the rendered extent in document pixels before scaling.
	Bounds api.Bounds
	Data   []byte
}

// Padding is transparent space added around a saved image.
type Padding struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// SaveOptions controls encoding in SavePixmap.
type SaveOptions struct {
	Format  string  `json:"format"`
	Quality int     `json:"quality,omitempty"`
	PPI     float64 `json:"ppi"`
	Padding Padding `json:"padding"`
}

// Host is the host application as seen by the pipeline.
type Host interface {
	GetDocumentInfo(ctx context.Context, docID int) (*api.Document, error)
	GetPixmap(ctx context.Context, docID, layerID int, settings PixmapSettings) (*Pixmap, error)
	GetSVG(ctx context.Context, docID, layerID int, scale float64) (string, error)
	SavePixmap(ctx context.Context, pixmap *Pixmap, path string, opts SaveOptions) error
	GetOpenDocumentIDs(ctx context.Context) ([]int, error)
}
