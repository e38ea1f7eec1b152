// Package export executes one settled layer update: it deletes files that
// no longer apply, asks the host for exact bounds and renders every output
// of the layer's name.
package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"sync"

	"github.com/agentic-research/assetgen/internal/assetfs"
	"github.com/agentic-research/assetgen/internal/dom"
	"github.com/agentic-research/assetgen/internal/host"
	"github.com/agentic-research/assetgen/internal/ledger"
	"github.com/agentic-research/assetgen/internal/spec"
)

// Request describes the state of a layer at the time its update runs.
type Request struct {
	DocumentID int
	LayerID    int
	// AssetDir is the resolved asset directory; empty when unresolved.
	AssetDir string
	Enabled  bool
	PPI      float64

	Removed     bool
	NameChanged bool
	// Components are the layer's valid file components.
	Components []spec.AssetSpec
	// Defaults are the document's default entries.
	Defaults []spec.AssetSpec
	// Errors are analyzer messages to report in errors.txt when
	// generation is enabled.
	Errors []string
}

// RenderError is a failed output.
type RenderError struct {
	Component string
	Path      string
	Err       error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Component, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Result summarizes a run.
type Result struct {
	Written []string
	Deleted []string
	// Skipped is set when the run was obsolete before writing.
	Skipped bool
}

// Exporter runs layer updates against a host.
type Exporter struct {
	Host   host.Host
	Store  *assetfs.Store
	Ledger *ledger.Ledger
	Logger *log.Logger

	UseSmartScaling      bool
	IncludeAncestorMasks bool
}

func (e *Exporter) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Run executes req. Nothing happens for documents with generation
// disabled. obsolete is polled before every write; once it
// reports true the remaining writes are skipped.
func (e *Exporter) Run(ctx context.Context, req Request, obsolete func() bool) (*Result, error) {
	if obsolete == nil {
		obsolete = func() bool { return false }
	}
	res := &Result{}
	if !req.Enabled {
		return res, nil
	}

	if req.Removed {
		err := e.deleteExcept(req, nil, res)
		// Files that could not be deleted are reported once, not retried.
		if ferr := e.forgetLayer(req); ferr != nil {
			err = errors.Join(err, ferr)
		}
		return res, err
	}
	if req.NameChanged {
		if err := e.deleteExcept(req, nil, res); err != nil {
			return res, err
		}
	}
	if req.AssetDir == "" {
		return res, nil
	}
	if len(req.Errors) > 0 {
		if err := e.Store.AppendErrors(req.AssetDir, req.Errors); err != nil {
			e.logf("export: document %d: write errors: %v", req.DocumentID, err)
		}
	}

	outputs := Expand(req.Components, req.Defaults, req.AssetDir)
	keep := make(map[string]bool, len(outputs))
	for _, o := range outputs {
		keep[o.Path] = true
	}
	if err := e.deleteExcept(req, keep, res); err != nil {
		return res, err
	}
	if len(outputs) == 0 {
		return res, nil
	}

	exact, err := e.Host.GetPixmap(ctx, req.DocumentID, req.LayerID, host.PixmapSettings{
		BoundsOnly:           true,
		IncludeAncestorMasks: e.IncludeAncestorMasks,
	})
	if err != nil {
		return res, fmt.Errorf("exact bounds of layer %d: %w", req.LayerID, err)
	}
	bounds := dom.FromAPI(&exact.Bounds)
	if bounds.Empty() {
		e.logf("export: document %d: layer %d is empty", req.DocumentID, req.LayerID)
		err := e.deleteExcept(req, nil, res)
		return res, err
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, o := range outputs {
		wg.Add(1)
		go func(o Output) {
			defer wg.Done()
			written, err := e.render(ctx, req, o, bounds, obsolete)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, &RenderError{Component: o.Spec.Name, Path: o.Path, Err: err})
			case written:
				res.Written = append(res.Written, o.Path)
			default:
				res.Skipped = true
			}
		}(o)
	}
	wg.Wait()

	if len(errs) > 0 && !obsolete() {
		lines := make([]string, len(errs))
		for i, err := range errs {
			lines[i] = err.Error()
		}
		if err := e.Store.AppendErrors(req.AssetDir, lines); err != nil {
			e.logf("export: document %d: write errors: %v", req.DocumentID, err)
		}
	}
	return res, errors.Join(errs...)
}

func (e *Exporter) render(ctx context.Context, req Request, o Output, exact dom.Bounds, obsolete func() bool) (bool, error) {
	ppi := req.PPI
	if ppi == 0 {
		ppi = dom.DefaultPPI
	}
	z, err := Size(o.Spec, exact, ppi)
	if err != nil {
		return false, err
	}

	if o.Spec.Extension == "svg" {
		svg, err := e.Host.GetSVG(ctx, req.DocumentID, req.LayerID, z.ScaleX)
		if err != nil {
			return false, err
		}
		if obsolete() {
			return false, nil
		}
		if err := e.Store.WriteFile(o.Path, []byte(svg)); err != nil {
			return false, err
		}
		return true, e.record(req, o)
	}

	pixmap, err := e.Host.GetPixmap(ctx, req.DocumentID, req.LayerID, host.PixmapSettings{
		ScaleX:               z.ScaleX,
		ScaleY:               z.ScaleY,
		UseSmartScaling:      e.UseSmartScaling,
		IncludeAncestorMasks: e.IncludeAncestorMasks,
	})
	if err != nil {
		return false, err
	}
	if obsolete() {
		return false, nil
	}
	if err := e.Store.MkdirAll(path.Dir(o.Path)); err != nil {
		return false, err
	}
	err = e.Host.SavePixmap(ctx, pixmap, o.Path, host.SaveOptions{
		Format:  o.Spec.Extension,
		Quality: o.Spec.Quality,
		PPI:     ppi,
		Padding: z.Padding,
	})
	if err != nil {
		return false, err
	}
	return true, e.record(req, o)
}

func (e *Exporter) record(req Request, o Output) error {
	if e.Ledger == nil {
		return nil
	}
	owner, err := e.Ledger.Owner(req.DocumentID, o.Path)
	switch {
	case err == nil && owner != req.LayerID:
		e.logf("export: document %d: %s taken over from layer %d by layer %d", req.DocumentID, o.Path, owner, req.LayerID)
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return err
	}
	return e.Ledger.Record(ledger.Entry{
		DocumentID: req.DocumentID,
		LayerID:    req.LayerID,
		Path:       o.Path,
		Component:  o.Spec.Name,
	})
}

func (e *Exporter) forgetLayer(req Request) error {
	if e.Ledger == nil {
		return nil
	}
	return e.Ledger.ForgetLayer(req.DocumentID, req.LayerID)
}

// deleteExcept removes the layer's recorded files whose path is not in
// keep and prunes the directories left empty.
func (e *Exporter) deleteExcept(req Request, keep map[string]bool, res *Result) error {
	if e.Ledger == nil {
		return nil
	}
	files, err := e.Ledger.Files(req.DocumentID, req.LayerID)
	if err != nil {
		return fmt.Errorf("list files of layer %d: %w", req.LayerID, err)
	}
	var errs []error
	for _, f := range files {
		if keep[f.Path] {
			continue
		}
		if err := e.Store.Remove(f.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := e.Ledger.Forget(req.DocumentID, f.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		res.Deleted = append(res.Deleted, f.Path)
		root := req.AssetDir
		if root == "" {
			root = path.Dir(f.Path)
		}
		if err := e.Store.PruneEmptyDirs(path.Dir(f.Path), root); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
