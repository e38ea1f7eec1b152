package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentic-research/assetgen/api"
	"github.com/agentic-research/assetgen/internal/assetfs"
	"github.com/agentic-research/assetgen/internal/dom"
)

// Session is a recorded host session: the documents open at the start and
// the events that followed.
type Session struct {
	Documents []api.Document `json:"documents"`
	Events    []Event        `json:"events"`
	Failures  []Failure      `json:"failures,omitempty"`
}

// Event is one step of a session.
type Event struct {
	// Open adds a document to the open set.
	Open *api.Document `json:"open,omitempty"`
	// Change is delivered to the listener after the host applied it to its
	// own copy.
	Change *api.DocumentChange `json:"change,omitempty"`
	// Document replaces the host's copy, for changes that cannot be
	// applied incrementally.
	Document *api.Document `json:"document,omitempty"`
	// Wait pauses playback, in time.ParseDuration syntax.
	Wait string `json:"wait,omitempty"`
}

// Failure makes render requests for a layer fail. Scale zero matches any
// scale.
type Failure struct {
	Document int     `json:"document"`
	Layer    int     `json:"layer"`
	Scale    float64 `json:"scale,omitempty"`
	Message  string  `json:"message"`
}

// Listener receives replayed events.
type Listener interface {
	OpenDocument(ctx context.Context, id int) error
	HandleChange(ctx context.Context, ch *api.DocumentChange) error
}

// LoadSession reads a session file. Files ending in .yaml or .yml are
// YAML, anything else JSON.
func LoadSession(store *assetfs.Store, p string) (*Session, error) {
	data, err := store.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", p, err)
	}
	return ParseSession(data, path.Ext(p))
}

// ParseSession decodes a session in the format named by ext.
func ParseSession(data []byte, ext string) (*Session, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse session: %w", err)
		}
		// The wire types carry json tags only; go through JSON so the same
		// field names apply.
		j, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("parse session: %w", err)
		}
		data = j
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse session: %w", err)
	}
	return &s, nil
}

// Stats counts host calls.
type Stats struct {
	DocumentInfo int
	BoundsOnly   int
	Pixmaps      int
	SVGs         int
	Saves        int
}

// Replay is a Host backed by a session. It keeps its own model of every
// open document and writes JSON receipts instead of encoded images.
type Replay struct {
	store    *assetfs.Store
	session  *Session
	logger   *log.Logger
	failures []Failure

	// Sleep implements Wait events.
	Sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	docs  map[int]*dom.Document
	stats Stats
}

var _ Host = (*Replay)(nil)

// NewReplay creates a replay host writing through store.
func NewReplay(s *Session, store *assetfs.Store, logger *log.Logger) (*Replay, error) {
	if logger == nil {
		logger = log.Default()
	}
	r := &Replay{
		store:    store,
		session:  s,
		logger:   logger,
		failures: s.Failures,
		Sleep:    sleep,
		docs:     make(map[int]*dom.Document),
	}
	for i := range s.Documents {
		if err := r.open(&s.Documents[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Replay) open(raw *api.Document) error {
	d, err := dom.NewDocument(raw)
	if err != nil {
		return fmt.Errorf("document %d: %w", raw.ID, err)
	}
	r.mu.Lock()
	r.docs[raw.ID] = d
	r.mu.Unlock()
	return nil
}

// Play delivers the session events to l in order.
func (r *Replay) Play(ctx context.Context, l Listener) error {
	r.mu.Lock()
	initial := make([]int, 0, len(r.docs))
	for id := range r.docs {
		initial = append(initial, id)
	}
	r.mu.Unlock()
	sort.Ints(initial)
	for _, id := range initial {
		if err := l.OpenDocument(ctx, id); err != nil {
			return err
		}
	}

	for i, ev := range r.session.Events {
		if err := r.Step(ctx, l, ev); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
	}
	return nil
}

// Step applies one event to the host and delivers it to l.
func (r *Replay) Step(ctx context.Context, l Listener, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case ev.Wait != "":
		d, err := time.ParseDuration(ev.Wait)
		if err != nil {
			return err
		}
		return r.Sleep(ctx, d)
	case ev.Open != nil:
		if err := r.open(ev.Open); err != nil {
			return err
		}
		return l.OpenDocument(ctx, ev.Open.ID)
	case ev.Change != nil:
		r.apply(ev.Change, ev.Document)
		return l.HandleChange(ctx, ev.Change)
	case ev.Document != nil:
		return r.open(ev.Document)
	}
	return nil
}

func (r *Replay) apply(ch *api.DocumentChange, replacement *api.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch.Closed {
		delete(r.docs, ch.ID)
		return
	}
	if replacement != nil {
		d, err := dom.NewDocument(replacement)
		if err != nil {
			r.logger.Printf("replay: document %d: %v", ch.ID, err)
			return
		}
		r.docs[ch.ID] = d
		return
	}
	d, ok := r.docs[ch.ID]
	if !ok {
		return
	}
	if ch.Changed || ch.Flattened || ch.Merged {
		r.logger.Printf("replay: document %d: change %d needs a replacement document", ch.ID, ch.Count)
		return
	}
	if _, err := d.ApplyChange(ch); err != nil {
		r.logger.Printf("replay: document %d: %v", ch.ID, err)
	}
}

// Stats returns call counters.
func (r *Replay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Replay) GetOpenDocumentIDs(ctx context.Context) ([]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int, 0, len(r.docs))
	for id := range r.docs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids, nil
}

func (r *Replay) GetDocumentInfo(ctx context.Context, docID int) (*api.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.DocumentInfo++
	d, ok := r.docs[docID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDocument, docID)
	}
	return d.ToRaw(), nil
}

func (r *Replay) layerBounds(docID, layerID int) (dom.Bounds, error) {
	d, ok := r.docs[docID]
	if !ok {
		return dom.Bounds{}, fmt.Errorf("%w: %d", ErrUnknownDocument, docID)
	}
	l, ok := d.FindLayer(layerID)
	if !ok {
		return dom.Bounds{}, fmt.Errorf("%w: %d/%d", ErrUnknownLayer, docID, layerID)
	}
	return renderedBounds(l), nil
}

func renderedBounds(l *dom.Layer) dom.Bounds {
	switch {
	case l.BoundsWithFX != nil:
		return *l.BoundsWithFX
	case l.Bounds != nil:
		return *l.Bounds
	}
	var b dom.Bounds
	for _, c := range l.Children {
		b = b.Union(renderedBounds(c))
	}
	return b
}

func (r *Replay) failure(docID, layerID int, scale float64) error {
	for _, f := range r.failures {
		if f.Document == docID && f.Layer == layerID && (f.Scale == 0 || f.Scale == scale) {
			return errors.New(f.Message)
		}
	}
	return nil
}

func (r *Replay) GetPixmap(ctx context.Context, docID, layerID int, s PixmapSettings) (*Pixmap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.layerBounds(docID, layerID)
	if err != nil {
		return nil, err
	}
	if s.BoundsOnly {
		r.stats.BoundsOnly++
		return &Pixmap{DocumentID: docID, LayerID: layerID, Bounds: *b.API()}, nil
	}
	r.stats.Pixmaps++
	if err := r.failure(docID, layerID, s.ScaleX); err != nil {
		return nil, err
	}
	if s.Bounds != nil {
		b = b.Intersect(dom.FromAPI(s.Bounds))
	}
	sx, sy := s.ScaleX, s.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	p := &Pixmap{
		DocumentID: docID,
		LayerID:    layerID,
		Width:      int(math.Round(float64(b.Width()) * sx)),
		Height:     int(math.Round(float64(b.Height()) * sy)),
		Bounds:     *b.API(),
	}
	p.Data, _ = json.Marshal(map[string]any{"scaleX": sx, "scaleY": sy, "smartScaling": s.UseSmartScaling})
	return p, nil
}

func (r *Replay) GetSVG(ctx context.Context, docID, layerID int, scale float64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := r.layerBounds(docID, layerID)
	if err != nil {
		return "", err
	}
	r.stats.SVGs++
	if err := r.failure(docID, layerID, scale); err != nil {
		return "", err
	}
	if scale == 0 {
		scale = 1
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" data-layer="%d"/>`+"\n",
		int(math.Round(float64(b.Width())*scale)), int(math.Round(float64(b.Height())*scale)), layerID), nil
}

// Receipt is what the replay host writes in place of an encoded image.
type Receipt struct {
	Document int             `json:"document"`
	Layer    int             `json:"layer"`
	Width    int             `json:"width"`
	Height   int             `json:"height"`
	Bounds   api.Bounds      `json:"bounds"`
	Options  SaveOptions     `json:"options"`
	Render   json.RawMessage `json:"render,omitempty"`
}

func (r *Replay) SavePixmap(ctx context.Context, p *Pixmap, dst string, opts SaveOptions) error {
	data, err := json.MarshalIndent(Receipt{
		Document: p.DocumentID,
		Layer:    p.LayerID,
		Width:    p.Width + opts.Padding.Left + opts.Padding.Right,
		Height:   p.Height + opts.Padding.Top + opts.Padding.Bottom,
		Bounds:   p.Bounds,
		Options:  opts,
		Render:   p.Data,
	}, "", "  ")
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.stats.Saves++
	r.mu.Unlock()
	return r.store.WriteFile(dst, append(data, '\n'))
}
