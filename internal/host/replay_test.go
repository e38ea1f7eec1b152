package host

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/assetgen/api"
	"github.com/agentic-research/assetgen/internal/assetfs"
)

const sessionYAML = `
documents:
  - id: 1
    timeStamp: 10
    count: 1
    file: /work/poster.psd
    layers:
      - id: 2
        index: 1
        type: layer
        name: logo.png
        bounds: {top: 0, left: 0, bottom: 20, right: 40}
      - id: 3
        index: 0
        type: backgroundLayer
        name: Background
events:
  - change:
      id: 1
      timeStamp: 10
      count: 2
      layers:
        - id: 2
          name: logo@2x.png
  - wait: 1ms
  - change:
      id: 1
      timeStamp: 10
      count: 3
      closed: true
failures:
  - document: 1
    layer: 3
    message: host is busy
`

type listener struct {
	opened  []int
	changes []*api.DocumentChange
}

func (l *listener) OpenDocument(ctx context.Context, id int) error {
	l.opened = append(l.opened, id)
	return nil
}

func (l *listener) HandleChange(ctx context.Context, ch *api.DocumentChange) error {
	l.changes = append(l.changes, ch)
	return nil
}

func newReplay(t *testing.T) (*Replay, *assetfs.Store) {
	t.Helper()
	s, err := ParseSession([]byte(sessionYAML), ".yaml")
	require.NoError(t, err)
	store := assetfs.New(memfs.New())
	r, err := NewReplay(s, store, nil)
	require.NoError(t, err)
	return r, store
}

func TestParseSession_YAMLUsesWireFieldNames(t *testing.T) {
	s, err := ParseSession([]byte(sessionYAML), ".yml")
	require.NoError(t, err)
	require.Len(t, s.Documents, 1)
	assert.InDelta(t, 10.0, s.Documents[0].TimeStamp, 1e-9)
	require.Len(t, s.Documents[0].Layers, 2)
	assert.Equal(t, &api.Bounds{Bottom: 20, Right: 40}, s.Documents[0].Layers[0].Bounds)
	require.Len(t, s.Events, 3)
	assert.Equal(t, "logo@2x.png", *s.Events[0].Change.Layers[0].Name)
	assert.True(t, s.Events[2].Change.Closed)
}

func TestReplay_PlayKeepsHostModelCurrent(t *testing.T) {
	r, _ := newReplay(t)
	ctx := context.Background()

	l := &listener{}
	var waited bool
	r.Sleep = func(ctx context.Context, d time.Duration) error {
		waited = true
		doc, err := r.GetDocumentInfo(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "logo@2x.png", doc.Layers[0].Name)
		return nil
	}
	require.NoError(t, r.Play(ctx, l))

	assert.True(t, waited)
	assert.Equal(t, []int{1}, l.opened)
	assert.Len(t, l.changes, 2)
	ids, err := r.GetOpenDocumentIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestReplay_RenderCalls(t *testing.T) {
	r, store := newReplay(t)
	ctx := context.Background()

	exact, err := r.GetPixmap(ctx, 1, 2, PixmapSettings{BoundsOnly: true})
	require.NoError(t, err)
	assert.Equal(t, api.Bounds{Bottom: 20, Right: 40}, exact.Bounds)
	assert.Nil(t, exact.Data)

	p, err := r.GetPixmap(ctx, 1, 2, PixmapSettings{ScaleX: 0.5, ScaleY: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 20, p.Width)
	assert.Equal(t, 10, p.Height)

	require.NoError(t, r.SavePixmap(ctx, p, "/work/poster-assets/logo.png", SaveOptions{
		Format: "png", PPI: 72, Padding: Padding{Left: 2, Right: 2},
	}))
	data, err := store.ReadFile("/work/poster-assets/logo.png")
	require.NoError(t, err)
	var receipt Receipt
	require.NoError(t, json.Unmarshal(data, &receipt))
	assert.Equal(t, 24, receipt.Width)
	assert.Equal(t, "png", receipt.Options.Format)

	svg, err := r.GetSVG(ctx, 1, 2, 2)
	require.NoError(t, err)
	assert.Contains(t, svg, `width="80"`)

	_, err = r.GetPixmap(ctx, 1, 3, PixmapSettings{ScaleX: 1, ScaleY: 1})
	assert.EqualError(t, err, "host is busy")
	_, err = r.GetPixmap(ctx, 1, 99, PixmapSettings{})
	assert.ErrorIs(t, err, ErrUnknownLayer)
	_, err = r.GetDocumentInfo(ctx, 42)
	assert.ErrorIs(t, err, ErrUnknownDocument)

	st := r.Stats()
	assert.Equal(t, 1, st.BoundsOnly)
	assert.Equal(t, 2, st.Pixmaps)
	assert.Equal(t, 1, st.SVGs)
	assert.Equal(t, 1, st.Saves)
}
