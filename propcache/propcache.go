// Package propcache persists propositions and their image assets across
// application launches so rules can be re-registered before the first network
// fetch completes.
package propcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/metric"
	"github.com/c360/messagekit/proposition"
	"github.com/c360/messagekit/storage"
	"github.com/c360/messagekit/surface"
)

// Storage namespaces. Proposition snapshots and image assets live side by
// side in the same Store under distinct prefixes.
const (
	NamespacePropositions = "propositions/"
	NamespaceImages       = "images/"
	namespaceImageMeta    = "imagemeta/"
)

// snapshot is the on-disk form of one surface's propositions.
type snapshot struct {
	Surface      string           `json:"surface"`
	CachedAt     int64            `json:"cachedAt"`
	Propositions []map[string]any `json:"propositions"`
}

// PropositionCache stores full per-surface proposition snapshots. Writes are
// full-replace: caching a batch evicts every surface snapshot not in that
// batch, so propositions revoked upstream disappear locally too.
type PropositionCache struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *metric.Metrics
	now     func() time.Time
}

// NewPropositionCache creates a proposition cache over a storage backend.
// registry may be nil to disable metrics.
func NewPropositionCache(store storage.Store, logger *slog.Logger, registry *metric.MetricsRegistry) *PropositionCache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &PropositionCache{
		store:  store,
		logger: logger.With("component", "propcache.PropositionCache"),
		now:    time.Now,
	}
	if registry != nil {
		c.metrics = registry.CoreMetrics()
	}
	return c
}

// CachePropositions writes one snapshot per surface, then deletes every
// snapshot whose surface is absent from the batch.
func (c *PropositionCache) CachePropositions(ctx context.Context, bySurface map[surface.Surface][]proposition.Proposition) error {
	keep := make(map[string]struct{}, len(bySurface))

	for s, props := range bySurface {
		if !s.Valid() {
			c.logger.Warn("skipping snapshot for invalid surface", "surface", s.URI())
			continue
		}

		snap := snapshot{
			Surface:      s.URI(),
			CachedAt:     c.now().Unix(),
			Propositions: make([]map[string]any, 0, len(props)),
		}
		for _, p := range props {
			snap.Propositions = append(snap.Propositions, p.ToWirePayload())
		}

		data, err := json.Marshal(snap)
		if err != nil {
			return errors.WrapInvalid(errors.ErrDecodeFailed,
				"PropositionCache", "CachePropositions", "serialize snapshot")
		}

		key := NamespacePropositions + s.Hash()
		if err := c.store.Put(ctx, key, data); err != nil {
			return err
		}
		keep[key] = struct{}{}

		if c.metrics != nil {
			c.metrics.PropositionsCached.WithLabelValues("propcache").Add(float64(len(props)))
		}
	}

	evicted, err := c.store.DeleteNotIn(ctx, NamespacePropositions, keep)
	if err != nil {
		return err
	}
	if evicted > 0 {
		c.logger.Info("evicted revoked surface snapshots", "count", evicted)
	}
	return nil
}

// GetCachedPropositions rehydrates the snapshot for a surface. Returns
// (nil, false) on a missing, unreadable, or schema-invalid snapshot; cache
// problems are never surfaced as errors, the caller just proceeds without
// cached state.
func (c *PropositionCache) GetCachedPropositions(ctx context.Context, s surface.Surface) ([]proposition.Proposition, bool) {
	key := NamespacePropositions + s.Hash()

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, errors.ErrKeyNotFound) {
			c.logger.Warn("snapshot read failed, treating as miss", "surface", s.URI(), "error", err)
		}
		return nil, false
	}

	if err := validateSnapshot(data); err != nil {
		c.logger.Warn("snapshot failed validation, treating as miss", "surface", s.URI(), "error", err)
		return nil, false
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("snapshot decode failed, treating as miss", "surface", s.URI(), "error", err)
		return nil, false
	}
	if snap.Surface != s.URI() {
		c.logger.Warn("snapshot surface mismatch, treating as miss",
			"surface", s.URI(), "stored", snap.Surface)
		return nil, false
	}

	props := make([]proposition.Proposition, 0, len(snap.Propositions))
	for _, wire := range snap.Propositions {
		p, err := proposition.FromWirePayload(wire)
		if err != nil {
			c.logger.Warn("skipping undecodable cached proposition", "surface", s.URI(), "error", err)
			continue
		}
		props = append(props, p)
	}
	return props, true
}

// Clear deletes every entry under a namespace. Used on teardown and reset.
func (c *PropositionCache) Clear(ctx context.Context, namespace string) error {
	removed, err := c.store.DeleteNotIn(ctx, namespace, nil)
	if err != nil {
		return err
	}
	c.logger.Info("cleared cache namespace", "namespace", namespace, "count", removed)
	return nil
}
