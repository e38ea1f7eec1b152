package export

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/assetgen/api"
	"github.com/agentic-research/assetgen/internal/assetfs"
	"github.com/agentic-research/assetgen/internal/host"
	"github.com/agentic-research/assetgen/internal/ledger"
	"github.com/agentic-research/assetgen/internal/spec"
)

const assetDir = "/work/poster-assets"

type fixture struct {
	host     *host.Replay
	store    *assetfs.Store
	ledger   *ledger.Ledger
	exporter *Exporter
}

func newFixture(t *testing.T, failures ...host.Failure) *fixture {
	t.Helper()
	store := assetfs.New(memfs.New())
	store.SetClock(func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) })
	session := &host.Session{
		Documents: []api.Document{{
			ID: 1, TimeStamp: 1, Count: 1, File: "/work/poster.psd",
			Layers: []api.Layer{
				{ID: 2, Index: 2, Type: api.LayerTypeLayer, Name: "logo.png", Bounds: &api.Bounds{Bottom: 20, Right: 40}},
				{ID: 3, Index: 1, Type: api.LayerTypeLayer, Name: "empty.png", Bounds: &api.Bounds{Top: 5, Left: 5, Bottom: 5, Right: 5}},
				{ID: 4, Index: 0, Type: api.LayerTypeBackground, Name: "Background"},
			},
		}},
		Failures: failures,
	}
	h, err := host.NewReplay(session, store, nil)
	require.NoError(t, err)
	l, err := ledger.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return &fixture{
		host:     h,
		store:    store,
		ledger:   l,
		exporter: &Exporter{Host: h, Store: store, Ledger: l},
	}
}

func analyze(t *testing.T, name string) []spec.AssetSpec {
	t.Helper()
	specs, err := spec.NewAnalyzer().AnalyzeLayerName(name)
	require.NoError(t, err)
	return specs
}

func request(t *testing.T, layerID int, name string) Request {
	specs := analyze(t, name)
	return Request{
		DocumentID: 1,
		LayerID:    layerID,
		AssetDir:   assetDir,
		Enabled:    true,
		PPI:        72,
		Components: spec.ValidFileComponents(specs),
		Errors:     spec.Errors(specs),
	}
}

func receipt(t *testing.T, store *assetfs.Store, p string) host.Receipt {
	t.Helper()
	data, err := store.ReadFile(p)
	require.NoError(t, err)
	var r host.Receipt
	require.NoError(t, json.Unmarshal(data, &r))
	return r
}

func TestRun_WritesEveryOutput(t *testing.T) {
	f := newFixture(t)
	req := request(t, 2, "logo.png + 50% small/logo.jpg-8 + logo.svg")
	req.Defaults = spec.DefaultComponents(analyze(t, "default 50% lores/ + 200% hires/@2x"))

	res, err := f.exporter.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		assetDir + "/lores/logo.png",
		assetDir + "/hires/logo@2x.png",
		assetDir + "/small/logo.jpg",
		assetDir + "/lores/logo.svg",
		assetDir + "/hires/logo@2x.svg",
	}, res.Written)

	lo := receipt(t, f.store, assetDir+"/lores/logo.png")
	assert.Equal(t, 20, lo.Width)
	assert.Equal(t, 10, lo.Height)
	hi := receipt(t, f.store, assetDir+"/hires/logo@2x.png")
	assert.Equal(t, 80, hi.Width)
	jpg := receipt(t, f.store, assetDir+"/small/logo.jpg")
	assert.Equal(t, "jpg", jpg.Options.Format)
	assert.Equal(t, 80, jpg.Options.Quality)

	svg, err := f.store.ReadFile(assetDir + "/hires/logo@2x.svg")
	require.NoError(t, err)
	assert.Contains(t, string(svg), `width="80"`)

	files, err := f.ledger.Files(1, 2)
	require.NoError(t, err)
	assert.Len(t, files, 5)
	assert.Equal(t, 1, f.host.Stats().BoundsOnly)
}

func TestRun_DeletesOutputsThatNoLongerApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.exporter.Run(ctx, request(t, 2, "icons/logo.png + logo.jpg"), nil)
	require.NoError(t, err)

	res, err := f.exporter.Run(ctx, request(t, 2, "logo.jpg"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{assetDir + "/icons/logo.png"}, res.Deleted)
	assert.False(t, f.store.Exists(assetDir+"/icons"), "empty folder is pruned")
	assert.True(t, f.store.Exists(assetDir+"/logo.jpg"))
}

func TestRun_NameChangeReportsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.exporter.Run(ctx, request(t, 2, "logo.png"), nil)
	require.NoError(t, err)

	req := request(t, 2, "logo.png-42, fo:o.jpg")
	req.NameChanged = true
	res, err := f.exporter.Run(ctx, req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{assetDir + "/logo.png"}, res.Deleted)
	assert.Empty(t, res.Written)

	data, err := f.store.ReadFile(assetDir + "/" + assetfs.ErrorsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[2024-05-01T12:00:00Z] logo.png-42: PNG quality must be 8, 24 or 32 (is 42)")
	assert.Contains(t, string(data), `fo:o.jpg: File name contains invalid character ":"`)
}

func TestRun_RemovedLayerDeletesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.exporter.Run(ctx, request(t, 2, "a/b/logo.png"), nil)
	require.NoError(t, err)

	res, err := f.exporter.Run(ctx, Request{DocumentID: 1, LayerID: 2, AssetDir: assetDir, Enabled: true, Removed: true}, nil)
	require.NoError(t, err)
	assert.Len(t, res.Deleted, 1)
	assert.False(t, f.store.Exists(assetDir))
	files, err := f.ledger.Files(1, 2)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRun_RemovedLayerForgetsUndeletableFiles(t *testing.T) {
	f := newFixture(t)
	stuck := assetDir + "/stuck"
	require.NoError(t, f.store.WriteFile(stuck+"/keep.png", []byte("x")))
	require.NoError(t, f.ledger.Record(ledger.Entry{DocumentID: 1, LayerID: 2, Path: stuck, Component: "stuck"}))

	_, err := f.exporter.Run(context.Background(), Request{DocumentID: 1, LayerID: 2, AssetDir: assetDir, Enabled: true, Removed: true}, nil)
	require.Error(t, err)
	assert.True(t, f.store.Exists(stuck+"/keep.png"))
	files, err := f.ledger.Files(1, 2)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestRun_TakingOverAnotherLayersFileIsLogged(t *testing.T) {
	f := newFixture(t)
	var buf strings.Builder
	f.exporter.Logger = log.New(&buf, "", 0)
	require.NoError(t, f.ledger.Record(ledger.Entry{DocumentID: 1, LayerID: 9, Path: assetDir + "/logo.png", Component: "logo.png"}))

	_, err := f.exporter.Run(context.Background(), request(t, 2, "logo.png"), nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), assetDir+"/logo.png taken over from layer 9 by layer 2")
	owner, err := f.ledger.Owner(1, assetDir+"/logo.png")
	require.NoError(t, err)
	assert.Equal(t, 2, owner)
}

func TestRun_RenderFailuresAreIsolated(t *testing.T) {
	f := newFixture(t, host.Failure{Document: 1, Layer: 2, Scale: 2, Message: "out of memory"})

	res, err := f.exporter.Run(context.Background(), request(t, 2, "logo.png + 200% logo@2x.png"), nil)
	require.Error(t, err)
	var rerr *RenderError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "200% logo@2x.png", rerr.Component)
	assert.Equal(t, []string{assetDir + "/logo.png"}, res.Written)

	data, err := f.store.ReadFile(assetDir + "/" + assetfs.ErrorsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "200% logo@2x.png: out of memory")
}

func TestRun_EmptyLayerDeletesOutputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.ledger.Record(ledger.Entry{DocumentID: 1, LayerID: 3, Path: assetDir + "/empty.png", Component: "empty.png"}))
	require.NoError(t, f.store.WriteFile(assetDir+"/empty.png", []byte("old")))

	res, err := f.exporter.Run(ctx, request(t, 3, "empty.png"), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Written)
	assert.Equal(t, []string{assetDir + "/empty.png"}, res.Deleted)
	assert.Equal(t, 0, f.host.Stats().Pixmaps)
}

func TestRun_ObsoleteRunSkipsWrites(t *testing.T) {
	f := newFixture(t)
	res, err := f.exporter.Run(context.Background(), request(t, 2, "logo.png, logo.svg"), func() bool { return true })
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Written)
	assert.False(t, f.store.Exists(assetDir+"/logo.png"))
	assert.Equal(t, 0, f.host.Stats().Saves)
}

func TestRun_DisabledOrUnresolvedDoesNothing(t *testing.T) {
	f := newFixture(t)
	req := request(t, 2, "logo.png")
	req.Enabled = false
	res, err := f.exporter.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Written)

	req = request(t, 2, "logo.png")
	req.AssetDir = ""
	_, err = f.exporter.Run(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, host.Stats{}, f.host.Stats())
}

func TestRun_CanvasPadding(t *testing.T) {
	f := newFixture(t)
	_, err := f.exporter.Run(context.Background(), request(t, 2, "[64x48+2-4] logo.png"), nil)
	require.NoError(t, err)
	r := receipt(t, f.store, assetDir+"/logo.png")
	assert.Equal(t, host.Padding{Top: 10, Right: 10, Bottom: 18, Left: 14}, r.Options.Padding)
	assert.Equal(t, 64, r.Width)
	assert.Equal(t, 48, r.Height)
	assert.True(t, strings.HasSuffix(r.Options.Format, "png"))
}
