// Package reconcile keeps a model of every open document current from the
// host's change events and turns layer changes into scheduled exports.
//
// Each document moves through Unknown → FetchingFull → Ready. A change
// that arrives while the full document is being fetched makes the fetch
// start over once it returns. A Ready document applies changes
// incrementally unless the change cannot be reasoned about, in which case
// it is fetched again.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"text/template"

	"github.com/agentic-research/assetgen/api"
	"github.com/agentic-research/assetgen/internal/assetfs"
	"github.com/agentic-research/assetgen/internal/config"
	"github.com/agentic-research/assetgen/internal/dom"
	"github.com/agentic-research/assetgen/internal/export"
	"github.com/agentic-research/assetgen/internal/host"
	"github.com/agentic-research/assetgen/internal/ledger"
	"github.com/agentic-research/assetgen/internal/limiter"
	"github.com/agentic-research/assetgen/internal/scheduler"
	"github.com/agentic-research/assetgen/internal/spec"
)

var (
	// ErrNotReady is returned for documents without a fetched model.
	ErrNotReady = errors.New("document not ready")
	// ErrNoAssetDir is returned when a document has no resolved asset
	// directory.
	ErrNoAssetDir = errors.New("asset directory unresolved")
)

// State is the lifecycle state of a document.
type State int

const (
	StateUnknown State = iota
	StateFetchingFull
	StateReady
)

func (s State) String() string {
	switch s {
	case StateFetchingFull:
		return "fetching"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

type document struct {
	id                   int
	state                State
	changedWhileFetching bool
	model                *dom.Document
	ctx                  *DocumentContext
}

// Options configures a Service.
type Options struct {
	Config config.Config
	// Clock drives the debounce timers; nil uses real time.
	Clock  scheduler.Clock
	Logger *log.Logger
}

// Service owns every document model and its export context.
type Service struct {
	host     host.Host
	store    *assetfs.Store
	ledger   *ledger.Ledger
	analyzer *spec.Analyzer
	exporter *export.Exporter
	limiter  *limiter.Limiter
	sched    *scheduler.Scheduler
	cfg      config.Config
	dirTmpl  *template.Template
	logger   *log.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	fetches *fetchTracker

	mu   sync.Mutex
	docs map[int]*document
}

// New creates a service. The ledger may be nil, in which case generated
// files are never deleted.
func New(h host.Host, store *assetfs.Store, l *ledger.Ledger, opts Options) (*Service, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dirText := cfg.AssetGenerationDir
	if dirText == "" {
		dirText = config.DefaultAssetDir
	}
	tmpl, err := parseDirTemplate(dirText)
	if err != nil {
		return nil, fmt.Errorf("asset-generation-dir: %w", err)
	}
	quiet, err := cfg.Quiet()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		host:     h,
		store:    store,
		ledger:   l,
		analyzer: &spec.Analyzer{SVGEnabled: cfg.SVGEnabled, WebPEnabled: cfg.WebPEnabled},
		exporter: &export.Exporter{
			Host:                 h,
			Store:                store,
			Ledger:               l,
			Logger:               logger,
			UseSmartScaling:      cfg.UseSmartScaling,
			IncludeAncestorMasks: cfg.IncludeAncestorMasks,
		},
		limiter: limiter.New(cfg.MaxConcurrency),
		cfg:     cfg,
		dirTmpl: tmpl,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		fetches: newFetchTracker(),
		docs:    make(map[int]*document),
	}
	s.sched = scheduler.New(s.limiter, s.run, scheduler.Options{
		QuietPeriod: quiet,
		Clock:       opts.Clock,
		Logger:      logger,
	})
	return s, nil
}

// Close stops scheduling, cancels running work and waits for it.
func (s *Service) Close() {
	s.cancel()
	s.sched.Close()
	s.limiter.Close()
	_ = s.fetches.wait(context.Background())
}

// Settle waits until no fetch is in flight and no update is pending.
func (s *Service) Settle(ctx context.Context) error {
	for {
		if err := s.fetches.wait(ctx); err != nil {
			return err
		}
		if err := s.sched.Wait(ctx); err != nil {
			return err
		}
		if !s.fetches.busy() {
			return nil
		}
	}
}

// fetchTracker counts in-flight full fetches. Unlike a WaitGroup it can be
// waited on while fetches start.
type fetchTracker struct {
	mu   sync.Mutex
	n    int
	idle chan struct{}
}

func newFetchTracker() *fetchTracker {
	idle := make(chan struct{})
	close(idle)
	return &fetchTracker{idle: idle}
}

func (f *fetchTracker) add() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.n == 0 {
		f.idle = make(chan struct{})
	}
	f.n++
}

func (f *fetchTracker) done() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n--
	if f.n == 0 {
		close(f.idle)
	}
}

func (f *fetchTracker) busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n > 0
}

func (f *fetchTracker) wait(ctx context.Context) error {
	f.mu.Lock()
	idle := f.idle
	f.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// OpenDocument starts tracking a document. The full model is fetched in
// the background.
func (s *Service) OpenDocument(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[id]
	if d == nil {
		d = &document{id: id}
		s.docs[id] = d
	}
	if d.state == StateUnknown {
		s.startFetch(d)
	}
	return nil
}

// SyncOpenDocuments opens every document the host reports and forgets
// the ones it no longer has open.
func (s *Service) SyncOpenDocuments(ctx context.Context) error {
	ids, err := s.host.GetOpenDocumentIDs(ctx)
	if err != nil {
		return fmt.Errorf("open documents: %w", err)
	}
	open := make(map[int]bool, len(ids))
	for _, id := range ids {
		open[id] = true
		if err := s.OpenDocument(ctx, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.docs {
		if !open[id] {
			s.closeDocument(id)
		}
	}
	return nil
}

// HandleChange consumes one change event. Stale changes are dropped and
// changes that cannot be applied trigger a full fetch; neither is an
// error. An error is returned only when the document's asset directory
// could not be migrated.
func (s *Service) HandleChange(ctx context.Context, ch *api.DocumentChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ch.Closed {
		s.closeDocument(ch.ID)
		return nil
	}
	d := s.docs[ch.ID]
	if d == nil {
		d = &document{id: ch.ID}
		s.docs[ch.ID] = d
	}
	switch d.state {
	case StateUnknown:
		s.startFetch(d)
		return nil
	case StateFetchingFull:
		d.changedWhileFetching = true
		return nil
	}

	if d.model.Stale(ch) {
		s.logger.Printf("reconcile: document %d: dropped stale change %v/%d", d.id, ch.TimeStamp, ch.Count)
		return nil
	}
	if reason := needsResync(d.model, ch); reason != "" {
		s.logger.Printf("reconcile: document %d: %s, fetching again", d.id, reason)
		s.startFetch(d)
		return nil
	}
	upd, err := d.model.ApplyChange(ch)
	switch {
	case errors.Is(err, dom.ErrStaleChange):
		s.logger.Printf("reconcile: document %d: dropped %v", d.id, err)
		return nil
	case err != nil:
		s.logger.Printf("reconcile: document %d: %v, fetching again", d.id, err)
		s.startFetch(d)
		return nil
	}
	return s.applyUpdate(d, upd, ch)
}

func (s *Service) closeDocument(id int) {
	if _, ok := s.docs[id]; !ok {
		return
	}
	delete(s.docs, id)
	s.sched.CancelDocument(id)
	s.logger.Printf("reconcile: document %d closed", id)
}

// ---------------------------------------------------------------------------
// Full fetch
// ---------------------------------------------------------------------------

func (s *Service) startFetch(d *document) {
	d.state = StateFetchingFull
	d.changedWhileFetching = false
	s.fetches.add()
	go s.fetch(d)
}

func (s *Service) fetch(d *document) {
	defer s.fetches.done()
	for {
		raw, err := s.host.GetDocumentInfo(s.ctx, d.id)

		s.mu.Lock()
		if s.docs[d.id] != d {
			s.mu.Unlock()
			return
		}
		if d.changedWhileFetching {
			d.changedWhileFetching = false
			s.mu.Unlock()
			continue
		}
		if err != nil {
			s.logger.Printf("reconcile: document %d: fetch: %v", d.id, err)
			d.state = StateUnknown
			s.mu.Unlock()
			return
		}
		if err := s.install(d, raw); err != nil {
			s.logger.Printf("reconcile: document %d: %v", d.id, err)
		}
		s.mu.Unlock()
		return
	}
}

// install replaces the document model with a freshly fetched one and
// schedules every layer whose exports may differ from before.
func (s *Service) install(d *document, raw *api.Document) error {
	model, err := dom.NewDocument(raw)
	if err != nil {
		d.state = StateUnknown
		return err
	}
	prev := d.ctx
	dc := &DocumentContext{PPI: model.PPI(), Layers: make(map[int]*LayerContext)}
	var migrateErr error
	if prev == nil {
		dc.File = model.File
		dc.AssetGenerationDir, err = s.assetDir(model.File)
		if err != nil {
			s.logger.Printf("reconcile: document %d: %v", d.id, err)
		}
		dc.AssetGenerationEnabled = s.enabled(model)
	} else {
		dc.File = prev.File
		dc.AssetGenerationDir = prev.AssetGenerationDir
		dc.AssetGenerationEnabled = prev.AssetGenerationEnabled
		if on, ok := enabledFromSettings(model.GeneratorSettings); ok {
			dc.AssetGenerationEnabled = on
		}
		if model.File != prev.File {
			migrateErr = s.fileChanged(d.id, dc, model.File)
		}
	}

	var prevLayers map[int]*LayerContext
	if prev != nil {
		prevLayers = prev.Layers
	}
	model.Walk(func(l *dom.Layer) bool {
		dc.Layers[l.ID] = s.layerContext(l, prevLayers[l.ID])
		return true
	})
	dc.Defaults = s.defaults(model, dc.Layers)

	d.model = model
	d.ctx = dc
	d.state = StateReady

	inv := make(invalidation)
	for id, lc := range dc.Layers {
		old := prevLayers[id]
		switch {
		case old == nil:
			inv.add(id, scheduler.ChangeAdded)
		case old.Name != lc.Name:
			inv.add(id, scheduler.ChangeName)
		default:
			inv.add(id, scheduler.ChangePixels)
		}
	}
	for id, old := range prevLayers {
		if _, ok := dc.Layers[id]; !ok && old.Exports() {
			s.scheduleRemoved(d, old)
		}
	}
	s.scheduleAll(d, inv, prevLayers)
	s.logger.Printf("reconcile: document %d ready (%d layers)", d.id, model.Len())
	return migrateErr
}

func (s *Service) enabled(model *dom.Document) bool {
	if on, ok := enabledFromSettings(model.GeneratorSettings); ok {
		return on
	}
	return s.cfg.EnabledByDefault
}

// ---------------------------------------------------------------------------
// Incremental update
// ---------------------------------------------------------------------------

func (s *Service) applyUpdate(d *document, upd *dom.Update, ch *api.DocumentChange) error {
	dc := d.ctx
	prevLayers := dc.Layers
	inv := make(invalidation)
	var contextChanged bool
	var migrateErr error

	if upd.FileChanged {
		oldDir := dc.AssetGenerationDir
		migrateErr = s.fileChanged(d.id, dc, d.model.File)
		if dc.AssetGenerationDir != oldDir {
			contextChanged = true
		}
	}
	if upd.ResolutionChanged {
		dc.PPI = d.model.PPI()
		contextChanged = true
	}
	if upd.SettingsChanged {
		if on, ok := enabledFromSettings(d.model.GeneratorSettings); ok && on != dc.AssetGenerationEnabled {
			dc.AssetGenerationEnabled = on
			contextChanged = on
		}
	}

	layers := make(map[int]*LayerContext, len(prevLayers))
	for id, lc := range prevLayers {
		layers[id] = lc
	}
	for _, id := range upd.IDs() {
		lc := upd.Layers[id]
		if lc.Removed {
			if old := layers[id]; old.Exports() {
				s.scheduleRemoved(d, old)
			}
			delete(layers, id)
			continue
		}
		layers[id] = s.layerContext(lc.Layer, prevLayers[id])
		inv.add(id, changeBits(lc))
	}
	dc.Layers = layers
	s.dependents(d.model, upd, ch, prevLayers, inv)

	if defaults := s.defaults(d.model, layers); !defaultsEqual(defaults, dc.Defaults) {
		dc.Defaults = defaults
		contextChanged = true
	}
	if contextChanged {
		for id := range layers {
			inv.add(id, scheduler.ChangeContext)
		}
	}
	s.scheduleAll(d, inv, prevLayers)
	return migrateErr
}

// ---------------------------------------------------------------------------
// Scheduling
// ---------------------------------------------------------------------------

func (s *Service) scheduleAll(d *document, inv invalidation, prevLayers map[int]*LayerContext) {
	ids := make([]int, 0, len(inv))
	for id := range inv {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		lc := d.ctx.Layers[id]
		if lc == nil {
			continue
		}
		if !lc.Exports() && !prevLayers[id].Exports() && len(lc.Errors) == 0 {
			continue
		}
		s.sched.Schedule(scheduler.Batch{
			Key:      scheduler.Key{DocumentID: d.id, LayerID: id},
			Changes:  inv[id],
			Snapshot: layerSnapshot{Layer: *lc, AssetDir: d.ctx.AssetGenerationDir},
		})
	}
}

// layerSnapshot is the batch payload: the layer and its asset directory
// as of the latest change.
type layerSnapshot struct {
	Layer    LayerContext
	AssetDir string
}

func (s *Service) scheduleRemoved(d *document, old *LayerContext) {
	s.sched.Schedule(scheduler.Batch{
		Key:      scheduler.Key{DocumentID: d.id, LayerID: old.ID},
		Changes:  scheduler.ChangeRemoved,
		Snapshot: layerSnapshot{Layer: *old, AssetDir: d.ctx.AssetGenerationDir},
	})
}

// run is the scheduler's runner.
func (s *Service) run(ctx context.Context, job *scheduler.Job) error {
	req, ok := s.request(job.Key, job.Changes, job.Snapshot)
	if !ok {
		return nil
	}
	res, err := s.exporter.Run(ctx, req, job.Obsolete)
	if res != nil && (len(res.Written) > 0 || len(res.Deleted) > 0) {
		s.logger.Printf("reconcile: document %d layer %d: wrote %d, deleted %d (run %s)",
			req.DocumentID, req.LayerID, len(res.Written), len(res.Deleted), job.RunID)
	}
	return err
}

// request builds the export request for a key from the document's
// current context.
func (s *Service) request(key scheduler.Key, changes scheduler.Change, snapshot any) (export.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req := export.Request{
		DocumentID:  key.DocumentID,
		LayerID:     key.LayerID,
		NameChanged: changes.Has(scheduler.ChangeName),
	}
	d := s.docs[key.DocumentID]
	if d != nil && d.ctx != nil {
		req.AssetDir = d.ctx.AssetGenerationDir
		req.Enabled = d.ctx.AssetGenerationEnabled
		req.PPI = d.ctx.PPI
		req.Defaults = d.ctx.Defaults
	}

	var lc *LayerContext
	if d != nil && d.ctx != nil {
		lc = d.ctx.Layers[key.LayerID]
	}
	if lc == nil {
		// Removed layer, or closed document.
		if !changes.Has(scheduler.ChangeRemoved) {
			return req, false
		}
		req.Removed = true
		if snap, ok := snapshot.(layerSnapshot); ok && req.AssetDir == "" {
			req.AssetDir = snap.AssetDir
		}
		return req, true
	}
	req.Components = lc.ValidFileComponents
	if changes.Has(scheduler.ChangeName | scheduler.ChangeAdded) {
		req.Errors = lc.Errors
	}
	return req, true
}

// ---------------------------------------------------------------------------
// Queries and commands
// ---------------------------------------------------------------------------

// SetEnabled turns asset generation on or off for a document. Turning it
// on schedules every exporting layer.
func (s *Service) SetEnabled(id int, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[id]
	if d == nil || d.state != StateReady {
		return fmt.Errorf("%w: %d", ErrNotReady, id)
	}
	was := d.ctx.AssetGenerationEnabled
	d.ctx.AssetGenerationEnabled = on
	if on && !was {
		inv := make(invalidation)
		for lid := range d.ctx.Layers {
			inv.add(lid, scheduler.ChangeContext)
		}
		s.scheduleAll(d, inv, nil)
	}
	return nil
}

// ExportLayer renders one layer immediately through the shared limiter,
// regardless of whether generation is enabled for its document.
func (s *Service) ExportLayer(ctx context.Context, docID, layerID int) (*export.Result, error) {
	s.mu.Lock()
	d := s.docs[docID]
	if d == nil || d.state != StateReady {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d", ErrNotReady, docID)
	}
	lc := d.ctx.Layers[layerID]
	if lc == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %d/%d", host.ErrUnknownLayer, docID, layerID)
	}
	if d.ctx.AssetGenerationDir == "" {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: document %d", ErrNoAssetDir, docID)
	}
	req := export.Request{
		DocumentID: docID,
		LayerID:    layerID,
		AssetDir:   d.ctx.AssetGenerationDir,
		Enabled:    true,
		PPI:        d.ctx.PPI,
		Components: lc.ValidFileComponents,
		Defaults:   d.ctx.Defaults,
	}
	s.mu.Unlock()

	// The job may outlive a cancelled ctx, so its result travels by channel.
	type outcome struct {
		res *export.Result
		err error
	}
	done := make(chan outcome, 1)
	err := s.limiter.Do(ctx, func(ctx context.Context) error {
		res, err := s.exporter.Run(ctx, req, nil)
		done <- outcome{res, err}
		return err
	})
	select {
	case o := <-done:
		return o.res, o.err
	default:
		return nil, err
	}
}

// DocumentStatus describes a tracked document.
type DocumentStatus struct {
	ID       int     `json:"id"`
	State    string  `json:"state"`
	File     string  `json:"file,omitempty"`
	AssetDir string  `json:"assetDir,omitempty"`
	Enabled  bool    `json:"enabled"`
	PPI      float64 `json:"ppi,omitempty"`
	Layers   int     `json:"layers"`
	// Exporting counts layers with at least one valid component.
	Exporting int `json:"exporting"`
	// Files counts the generated files on record.
	Files   int           `json:"files"`
	Updates []LayerUpdate `json:"updates,omitempty"`
}

// LayerUpdate is a layer update that has not finished yet.
type LayerUpdate struct {
	LayerID int    `json:"layer"`
	State   string `json:"state"`
}

// Documents lists the tracked documents ordered by id.
func (s *Service) Documents() []DocumentStatus {
	s.mu.Lock()
	out := make([]DocumentStatus, 0, len(s.docs))
	for _, d := range s.docs {
		st := DocumentStatus{ID: d.id, State: d.state.String()}
		if d.ctx != nil {
			st.File = d.ctx.File
			st.AssetDir = d.ctx.AssetGenerationDir
			st.Enabled = d.ctx.AssetGenerationEnabled
			st.PPI = d.ctx.PPI
			st.Layers = len(d.ctx.Layers)
			for _, lc := range d.ctx.Layers {
				if lc.Exports() {
					st.Exporting++
				}
			}
		}
		out = append(out, st)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	pending := s.sched.Pending()
	for i := range out {
		st := &out[i]
		for _, k := range pending {
			if k.DocumentID == st.ID {
				st.Updates = append(st.Updates, LayerUpdate{LayerID: k.LayerID, State: s.sched.State(k)})
			}
		}
		if s.ledger == nil {
			continue
		}
		files, err := s.ledger.DocumentFiles(st.ID)
		if err != nil {
			s.logger.Printf("reconcile: document %d: list files: %v", st.ID, err)
			continue
		}
		st.Files = len(files)
	}
	return out
}

// Context returns a copy of a document's context.
func (s *Service) Context(id int) (DocumentContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[id]
	if d == nil || d.ctx == nil {
		return DocumentContext{}, false
	}
	c := *d.ctx
	c.Layers = make(map[int]*LayerContext, len(d.ctx.Layers))
	for k, v := range d.ctx.Layers {
		lc := *v
		c.Layers[k] = &lc
	}
	return c, true
}

// State returns the lifecycle state of a document.
func (s *Service) State(id int) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.docs[id]; d != nil {
		return d.state
	}
	return StateUnknown
}
