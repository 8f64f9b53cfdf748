package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/metric"
	"github.com/c360/messagekit/propcache"
	"github.com/c360/messagekit/proposition"
	"github.com/c360/messagekit/rules"
	"github.com/c360/messagekit/surface"
	"github.com/c360/messagekit/tracking"
)

// Config configures a Handler.
type Config struct {
	// AppSurface is the surface this application instance serves. Items
	// scoped to other surfaces compile to nothing.
	AppSurface surface.Surface
	// ExtraSurfaces are additional surfaces rehydrated on cold start, for
	// hosts registering activity or placement sub-surfaces.
	ExtraSurfaces []surface.Surface
	// QueueSize bounds the serial event queue. Defaults to 64.
	QueueSize int
}

// Handler is the orchestration spine: it decodes personalization payloads,
// caches propositions, compiles and registers rules, and produces Messages
// for triggered in-app consequences.
//
// All payload processing runs on a single worker goroutine consuming a typed
// event channel in arrival order, which keeps rule registration
// deterministic relative to the event stream. Only asset downloads leave
// this worker, onto the asset cache's own pool.
type Handler struct {
	cfg        Config
	cache      *propcache.PropositionCache
	assets     *propcache.AssetCache
	engine     *rules.Engine
	dispatcher tracking.Dispatcher
	policy     DisplayPolicy
	slot       *DisplaySlot
	logger     *slog.Logger
	metrics    *metric.Metrics

	events  chan handlerEvent
	stopped chan struct{}

	lifecycleMu sync.Mutex
	started     bool
	closed      bool
}

// handlerEvent is one unit of work for the serial queue.
type handlerEvent interface {
	apply(ctx context.Context, h *Handler)
}

type payloadEvent struct {
	payloads []map[string]any
	done     chan error
}

type evaluateEvent struct {
	context map[string]any
	result  chan []*Message
}

type clearEvent struct {
	done chan error
}

// NewHandler creates a handler. policy may be nil for AlwaysShow; registry
// may be nil to disable metrics.
func NewHandler(cfg Config, cache *propcache.PropositionCache, assets *propcache.AssetCache,
	engine *rules.Engine, dispatcher tracking.Dispatcher, policy DisplayPolicy,
	logger *slog.Logger, registry *metric.MetricsRegistry) (*Handler, error) {

	if !cfg.AppSurface.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidSurface,
			"Handler", "NewHandler", "read app surface")
	}
	if cache == nil || engine == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Handler", "NewHandler", "read dependencies")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if policy == nil {
		policy = AlwaysShow
	}
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		cfg:        cfg,
		cache:      cache,
		assets:     assets,
		engine:     engine,
		dispatcher: dispatcher,
		policy:     policy,
		slot:       NewDisplaySlot(),
		logger:     logger.With("component", "messaging.Handler"),
		events:     make(chan handlerEvent, cfg.QueueSize),
		stopped:    make(chan struct{}),
	}
	if registry != nil {
		h.metrics = registry.CoreMetrics()
	}
	return h, nil
}

// Start rehydrates cached propositions for the configured surfaces, then
// launches the serial worker. Rehydration happens before the worker accepts
// events, so cold-start rules are registered before any live payload.
func (h *Handler) Start(ctx context.Context) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if h.started {
		return nil
	}

	if h.assets != nil {
		if err := h.assets.Start(ctx); err != nil {
			return err
		}
	}

	h.rehydrate(ctx)

	go h.run(ctx)
	h.started = true
	return nil
}

// Stop drains the event queue and waits up to timeout for the worker and
// asset pool to finish.
func (h *Handler) Stop(timeout time.Duration) error {
	h.lifecycleMu.Lock()
	if !h.started || h.closed {
		h.lifecycleMu.Unlock()
		return nil
	}
	h.closed = true
	close(h.events)
	h.lifecycleMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-h.stopped:
	case <-timer.C:
		return errors.WrapTransient(errors.ErrResourceExhausted,
			"Handler", "Stop", "drain event queue")
	}

	if h.assets != nil {
		return h.assets.Stop(timeout)
	}
	return nil
}

// Slot exposes the process-wide display slot.
func (h *Handler) Slot() *DisplaySlot {
	return h.slot
}

// HandlePersonalizationPayload submits a payload batch to the serial queue
// and waits for it to be processed. A nil or empty batch is a no-op that
// registers zero rules.
func (h *Handler) HandlePersonalizationPayload(ctx context.Context, payloads []map[string]any) error {
	ev := payloadEvent{payloads: payloads, done: make(chan error, 1)}
	if err := h.submit(ctx, ev); err != nil {
		return err
	}
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EvaluateContext matches registered rules against a context event, in
// queue order, and returns a Message for every triggered in-app consequence.
func (h *Handler) EvaluateContext(ctx context.Context, contextData map[string]any) ([]*Message, error) {
	ev := evaluateEvent{context: contextData, result: make(chan []*Message, 1)}
	if err := h.submit(ctx, ev); err != nil {
		return nil, err
	}
	select {
	case msgs := <-ev.result:
		return msgs, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Clear wipes both cache namespaces and retracts every registered rule.
// Used on extension teardown and reset.
func (h *Handler) Clear(ctx context.Context) error {
	ev := clearEvent{done: make(chan error, 1)}
	if err := h.submit(ctx, ev); err != nil {
		return err
	}
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) submit(ctx context.Context, ev handlerEvent) error {
	h.lifecycleMu.Lock()
	defer h.lifecycleMu.Unlock()

	if !h.started {
		return errors.WrapInvalid(errors.ErrNotStarted,
			"Handler", "submit", "check handler state")
	}
	if h.closed {
		return errors.WrapInvalid(errors.ErrShuttingDown,
			"Handler", "submit", "check handler state")
	}

	// Stop closes h.events under lifecycleMu, so the send must stay inside
	// the critical section.
	select {
	case h.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the serial worker. Events apply in arrival order; there is no
// work-stealing or reordering.
func (h *Handler) run(ctx context.Context) {
	defer close(h.stopped)
	for ev := range h.events {
		ev.apply(ctx, h)
	}
}

func (ev payloadEvent) apply(ctx context.Context, h *Handler) {
	ev.done <- h.processPayloads(ctx, ev.payloads)
}

func (ev evaluateEvent) apply(_ context.Context, h *Handler) {
	triggered := h.engine.Evaluate(ev.context)

	var msgs []*Message
	for _, rule := range triggered {
		if !rule.IsInApp() {
			continue
		}
		msgs = append(msgs, NewMessage(rule, h.slot, h.policy, h.dispatcher, h.logger))
	}
	ev.result <- msgs
}

func (ev clearEvent) apply(ctx context.Context, h *Handler) {
	var firstErr error
	for _, ns := range []string{propcache.NamespacePropositions, propcache.NamespaceImages} {
		if err := h.cache.Clear(ctx, ns); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, uri := range h.engine.Surfaces() {
		h.engine.RetractRules(uri)
		h.setRegisteredGauge(uri, 0)
	}
	if firstErr != nil {
		h.countError(firstErr)
	}
	ev.done <- firstErr
}

// processPayloads partitions a batch by validity, caches the decoded
// propositions, then compiles and replaces each surface's rule set.
func (h *Handler) processPayloads(ctx context.Context, payloads []map[string]any) error {
	if len(payloads) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		if h.metrics != nil {
			h.metrics.ProcessingDuration.WithLabelValues("handler", "payload").
				Observe(time.Since(start).Seconds())
		}
	}()

	bySurface := make(map[surface.Surface][]proposition.Proposition)
	for _, raw := range payloads {
		p, err := proposition.FromWirePayload(raw)
		if err != nil {
			h.countPayload("invalid")
			h.countError(err)
			h.logger.Warn("dropping undecodable payload entry", "error", err)
			continue
		}
		s := surface.FromURI(p.Scope)
		if !s.Valid() {
			h.countPayload("invalid")
			h.logger.Warn("dropping payload entry with invalid scope",
				"proposition_id", p.ID, "scope", p.Scope)
			continue
		}
		h.countPayload("valid")
		bySurface[s] = append(bySurface[s], p)
	}

	// Cache failures degrade to a warm-start miss, never abort the batch.
	if err := h.cache.CachePropositions(ctx, bySurface); err != nil {
		h.countError(err)
		h.logger.Warn("proposition caching failed, continuing with registration", "error", err)
	}

	previous := make(map[string]struct{})
	for _, uri := range h.engine.Surfaces() {
		previous[uri] = struct{}{}
	}

	var assetURLs []string
	registered := 0
	for s, props := range bySurface {
		compiled := h.compileSurface(s, props)
		h.engine.RegisterRules(s.URI(), compiled)
		h.setRegisteredGauge(s.URI(), len(compiled))
		delete(previous, s.URI())
		registered += len(compiled)

		for _, rule := range compiled {
			assetURLs = append(assetURLs, remoteAssets(rule)...)
		}
	}

	// Surfaces absent from this batch lost their cached snapshots above;
	// their live rules go too (last-write-wins across the whole batch).
	for uri := range previous {
		h.engine.RetractRules(uri)
		h.setRegisteredGauge(uri, 0)
	}

	if h.assets != nil {
		if err := h.assets.CacheImageAssets(ctx, assetURLs); err != nil {
			h.countError(err)
			h.logger.Warn("asset prefetch failed", "error", err)
		}
	}

	h.logger.Info("personalization payload processed",
		"surfaces", len(bySurface),
		"rules_registered", registered)
	return nil
}

// rehydrate registers rules from cached snapshots, identically to a live
// payload.
func (h *Handler) rehydrate(ctx context.Context) {
	for _, s := range h.surfaces() {
		props, ok := h.cache.GetCachedPropositions(ctx, s)
		if !ok {
			continue
		}
		compiled := h.compileSurface(s, props)
		h.engine.RegisterRules(s.URI(), compiled)
		h.setRegisteredGauge(s.URI(), len(compiled))
		h.logger.Info("rehydrated rules from cache",
			"surface", s.URI(), "rules", len(compiled))
	}
}

func (h *Handler) compileSurface(s surface.Surface, props []proposition.Proposition) []rules.CompiledRule {
	var compiled []rules.CompiledRule
	for _, p := range props {
		for _, item := range p.Items {
			itemRules, err := rules.Compile(item, h.cfg.AppSurface)
			if err != nil {
				if errors.Is(err, errors.ErrScopeMismatch) {
					h.logger.Debug("item out of scope",
						"item_id", item.ID, "surface", item.SurfaceURI)
				} else {
					h.countError(err)
					h.logger.Warn("dropping uncompilable item",
						"item_id", item.ID, "surface", s.URI(), "error", err)
				}
				continue
			}
			compiled = append(compiled, itemRules...)
		}
	}
	return compiled
}

func (h *Handler) surfaces() []surface.Surface {
	out := []surface.Surface{h.cfg.AppSurface}
	out = append(out, h.cfg.ExtraSurfaces...)
	return out
}

func (h *Handler) countPayload(status string) {
	if h.metrics != nil {
		h.metrics.PayloadsReceived.WithLabelValues("handler", status).Inc()
	}
}

func (h *Handler) countError(err error) {
	if h.metrics != nil && err != nil {
		h.metrics.ErrorsTotal.WithLabelValues("handler", errors.Classify(err).String()).Inc()
	}
}

func (h *Handler) setRegisteredGauge(uri string, n int) {
	if h.metrics != nil {
		h.metrics.RulesRegistered.WithLabelValues(uri).Set(float64(n))
	}
}

// remoteAssets extracts the image URLs a rule's consequence wants prefetched.
func remoteAssets(rule rules.CompiledRule) []string {
	raw, ok := rule.Detail["remoteAssets"].([]any)
	if !ok {
		return nil
	}
	urls := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			urls = append(urls, s)
		}
	}
	return urls
}
