// Package messagekit is an in-app messaging personalization engine. It
// receives personalization payloads from a remote decisioning backend,
// persists them across application launches, compiles their embedded
// rulesets, and surfaces triggered in-app messages with a full tracking
// lifecycle.
//
// # Architecture
//
// The engine is organized around a single orchestration spine with
// supporting layers:
//
//   - surface: addressing for personalization targets
//     ("mobileapp://<appID>[/<path>]")
//   - proposition: the server-delivered decision model and wire codec
//   - rules: ruleset parsing, condition evaluation, and the per-surface
//     rule registry
//   - propcache: persistent proposition snapshots and image asset prefetch
//     over a pluggable storage backend
//   - storage: the backend interface with filesystem (filestore) and NATS
//     JetStream KV (kvstore) implementations
//   - messaging: the notification handler, message lifecycle state machine,
//     exclusive display slot, and in-app URL interception
//   - tracking: lifecycle event model and dispatch to NATS
//
// Payload processing is serial: the handler consumes a typed
// event queue on one goroutine so rule registration is deterministic
// relative to the event stream. Proposition caching is full-replace; a new
// batch evicts every surface snapshot the batch does not mention, so
// content revoked upstream disappears locally without explicit
// invalidation.
//
// # Usage
//
// The cmd/messagekit daemon wires everything from a JSON configuration
// layer; library consumers assemble the same parts directly:
//
//	store, _ := filestore.New(dir, logger)
//	cache := propcache.NewPropositionCache(store, logger, registry)
//	engine := rules.NewEngine(logger, registry)
//	handler, _ := messaging.NewHandler(messaging.Config{
//	    AppSurface: surface.New("com.app.appname"),
//	}, cache, assets, engine, dispatcher, nil, logger, registry)
//	_ = handler.Start(ctx)
//
//	_ = handler.HandlePersonalizationPayload(ctx, payloads)
//	msgs, _ := handler.EvaluateContext(ctx, map[string]any{"user.plan": "premium"})
package messagekit
