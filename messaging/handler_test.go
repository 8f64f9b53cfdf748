package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/metric"
	"github.com/c360/messagekit/propcache"
	"github.com/c360/messagekit/proposition"
	"github.com/c360/messagekit/rules"
	"github.com/c360/messagekit/storage/filestore"
	"github.com/c360/messagekit/surface"
	"github.com/c360/messagekit/tracking"
)

const handlerTestApp = "com.app.appname"

type handlerFixture struct {
	handler *Handler
	engine  *rules.Engine
	cache   *propcache.PropositionCache
	capture *tracking.CaptureDispatcher
	app     surface.Surface
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	store, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)

	f := &handlerFixture{
		engine:  rules.NewEngine(nil, nil),
		cache:   propcache.NewPropositionCache(store, nil, nil),
		capture: tracking.NewCaptureDispatcher(),
		app:     surface.New(handlerTestApp),
	}

	f.handler, err = NewHandler(Config{AppSurface: f.app},
		f.cache, nil, f.engine, f.capture, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, f.handler.Start(context.Background()))
	t.Cleanup(func() { _ = f.handler.Stop(time.Second) })
	return f
}

// validRuleset builds ruleset content whose single consequence is an in-app
// message gated on user.plan == premium.
func validRuleset(t *testing.T, consequenceID string) string {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"version": 1,
		"rules": []any{
			map[string]any{
				"condition": map[string]any{
					"type": "matcher",
					"definition": map[string]any{
						"key": "user.plan", "matcher": "eq", "values": []any{"premium"},
					},
				},
				"consequences": []any{
					map[string]any{
						"id":   consequenceID,
						"type": "cjmiam",
						"detail": map[string]any{
							"html": "<html>" + consequenceID + "</html>",
						},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	return string(data)
}

func payloadEntry(t *testing.T, propID, scope string, contents ...string) map[string]any {
	t.Helper()
	items := make([]any, 0, len(contents))
	for i, content := range contents {
		items = append(items, map[string]any{
			"id":   fmt.Sprintf("%s-item-%d", propID, i),
			"data": map[string]any{"content": content},
		})
	}
	return map[string]any{
		"id":    propID,
		"scope": scope,
		"items": items,
	}
}

func TestHandleNilPayload(t *testing.T) {
	f := newHandlerFixture(t)

	require.NoError(t, f.handler.HandlePersonalizationPayload(context.Background(), nil))
	assert.Equal(t, 0, f.engine.RuleCount())
}

func TestHandlePayloadRegistersValidRules(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	scope := f.app.URI()

	// Three valid items plus one whose ruleset key is misspelled.
	payloads := []map[string]any{
		payloadEntry(t, "prop-1", scope,
			validRuleset(t, "c-1"),
			validRuleset(t, "c-2"),
			validRuleset(t, "c-3"),
			`{"version":1,"invalid":[]}`,
		),
	}

	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, payloads))
	assert.Equal(t, 3, f.engine.RuleCount(), "the malformed item is dropped, siblings register")
}

func TestHandlePayloadDropsUndecodableEntries(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	payloads := []map[string]any{
		payloadEntry(t, "prop-1", f.app.URI(), validRuleset(t, "c-1")),
		{"scope": f.app.URI()}, // missing id
		{"id": "prop-3", "scope": "https://wrong-scheme"},
	}

	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, payloads))
	assert.Equal(t, 1, f.engine.RuleCount())
}

func TestHandlePayloadFullReplace(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	scope := f.app.URI()

	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
		payloadEntry(t, "prop-1", scope, validRuleset(t, "c-1"), validRuleset(t, "c-2")),
	}))
	require.Equal(t, 2, f.engine.RuleCount())

	// The next payload for the surface replaces, never accumulates.
	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
		payloadEntry(t, "prop-2", scope, validRuleset(t, "c-9")),
	}))
	assert.Equal(t, 1, f.engine.RuleCount())

	triggered, err := f.handler.EvaluateContext(ctx, map[string]any{"user.plan": "premium"})
	require.NoError(t, err)
	require.Len(t, triggered, 1)
	assert.Equal(t, "c-9", triggered[0].Rule().ConsequenceID)
}

func TestHandlePayloadRetractsAbsentSurfaces(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	sub := f.app.URI() + "/promos"
	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
		payloadEntry(t, "prop-1", f.app.URI(), validRuleset(t, "c-1")),
		payloadEntry(t, "prop-2", sub, validRuleset(t, "c-2")),
	}))
	require.Equal(t, 2, f.engine.RuleCount())

	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
		payloadEntry(t, "prop-1", f.app.URI(), validRuleset(t, "c-1")),
	}))
	assert.Equal(t, 1, f.engine.RuleCount(), "surfaces missing from the batch lose their rules")
	assert.Equal(t, []string{f.app.URI()}, f.engine.Surfaces())
}

func TestHandlePayloadScopeFiltering(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
		payloadEntry(t, "prop-1", "mobileapp://com.other.app", validRuleset(t, "c-1")),
	}))
	assert.Equal(t, 0, f.engine.RuleCount(),
		"propositions scoped to another app register zero rules")
}

func TestColdStartRehydration(t *testing.T) {
	store, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)
	cache := propcache.NewPropositionCache(store, nil, nil)
	app := surface.New(handlerTestApp)
	ctx := context.Background()

	// A previous run cached one proposition for the app surface.
	prop := proposition.Proposition{
		ID:    "prop-1",
		Scope: app.URI(),
		Items: []proposition.Item{{
			ID:            "prop-1-item-0",
			Content:       validRuleset(t, "c-1"),
			SurfaceURI:    app.URI(),
			PropositionID: "prop-1",
		}},
	}
	require.NoError(t, cache.CachePropositions(ctx,
		map[surface.Surface][]proposition.Proposition{app: {prop}}))

	engine := rules.NewEngine(nil, nil)
	capture := tracking.NewCaptureDispatcher()
	handler, err := NewHandler(Config{AppSurface: app}, cache, nil, engine, capture, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, handler.Start(ctx))
	t.Cleanup(func() { _ = handler.Stop(time.Second) })

	assert.Equal(t, 1, engine.RuleCount(), "cached rules register before any live payload")

	msgs, err := handler.EvaluateContext(ctx, map[string]any{"user.plan": "premium"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, msgs[0].Show(ctx))
	assert.Equal(t, StateDisplayed, msgs[0].State())
}

func TestEvaluateContextNoMatch(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
		payloadEntry(t, "prop-1", f.app.URI(), validRuleset(t, "c-1")),
	}))

	msgs, err := f.handler.EvaluateContext(ctx, map[string]any{"user.plan": "free"})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEvaluateProducesWorkingMessages(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
		payloadEntry(t, "prop-1", f.app.URI(), validRuleset(t, "c-1"), validRuleset(t, "c-2")),
	}))

	msgs, err := f.handler.EvaluateContext(ctx, map[string]any{"user.plan": "premium"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	// Messages share the handler's display slot: only one shows.
	require.NoError(t, msgs[0].Show(ctx))
	assert.Error(t, msgs[1].Show(ctx))
	assert.Equal(t, msgs[0].ExecutionID(), f.handler.Slot().Owner())
}

func TestClear(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
		payloadEntry(t, "prop-1", f.app.URI(), validRuleset(t, "c-1")),
	}))
	require.Equal(t, 1, f.engine.RuleCount())

	require.NoError(t, f.handler.Clear(ctx))
	assert.Equal(t, 0, f.engine.RuleCount())

	_, ok := f.cache.GetCachedPropositions(ctx, f.app)
	assert.False(t, ok)
}

func TestSubmitAfterStop(t *testing.T) {
	f := newHandlerFixture(t)
	require.NoError(t, f.handler.Stop(time.Second))

	err := f.handler.HandlePersonalizationPayload(context.Background(), []map[string]any{
		payloadEntry(t, "prop-1", f.app.URI(), validRuleset(t, "c-1")),
	})
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestConcurrentSubmitAndStop(t *testing.T) {
	store, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)
	app := surface.New(handlerTestApp)

	// A tiny queue keeps submitters blocked on the send while Stop runs.
	h, err := NewHandler(Config{AppSurface: app, QueueSize: 1},
		propcache.NewPropositionCache(store, nil, nil), nil,
		rules.NewEngine(nil, nil), tracking.NewCaptureDispatcher(), nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries := make([]map[string]any, 8)
	for i := range entries {
		entries[i] = payloadEntry(t, fmt.Sprintf("prop-%d", i), app.URI(),
			validRuleset(t, fmt.Sprintf("c-%d", i)))
	}

	var wg sync.WaitGroup
	for i := 0; i < len(entries); i++ {
		wg.Add(1)
		go func(entry map[string]any) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := h.HandlePersonalizationPayload(ctx, []map[string]any{entry}); err != nil {
					return
				}
			}
		}(entries[i])
	}

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, h.Stop(time.Second))
	wg.Wait()

	err = h.HandlePersonalizationPayload(context.Background(), []map[string]any{entries[0]})
	assert.ErrorIs(t, err, errors.ErrShuttingDown)
}

func TestErrorCounterTracksDroppedItems(t *testing.T) {
	store, err := filestore.New(t.TempDir(), nil)
	require.NoError(t, err)
	registry := metric.NewMetricsRegistry()
	app := surface.New(handlerTestApp)

	h, err := NewHandler(Config{AppSurface: app},
		propcache.NewPropositionCache(store, nil, nil), nil,
		rules.NewEngine(nil, nil), tracking.NewCaptureDispatcher(), nil, nil, registry)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop(time.Second) })

	// Decodes fine but has no rules key, so compilation drops the item.
	noRules, err := json.Marshal(map[string]any{"version": 1})
	require.NoError(t, err)
	require.NoError(t, h.HandlePersonalizationPayload(context.Background(), []map[string]any{
		payloadEntry(t, "prop-1", app.URI(), string(noRules)),
	}))

	counter := registry.CoreMetrics().ErrorsTotal.WithLabelValues("handler", "invalid")
	assert.Equal(t, float64(1), testutil.ToFloat64(counter))
}

func TestPayloadOrderingIsSerial(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	// Each batch fully replaces the previous; after N sequential batches the
	// registered rule must come from the last one.
	for i := 0; i < 10; i++ {
		require.NoError(t, f.handler.HandlePersonalizationPayload(ctx, []map[string]any{
			payloadEntry(t, fmt.Sprintf("prop-%d", i), f.app.URI(),
				validRuleset(t, fmt.Sprintf("c-%d", i))),
		}))
	}

	msgs, err := f.handler.EvaluateContext(ctx, map[string]any{"user.plan": "premium"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c-9", msgs[0].Rule().ConsequenceID)
}
