package propcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/messagekit/errors"
	"github.com/c360/messagekit/metric"
	"github.com/c360/messagekit/pkg/retry"
	"github.com/c360/messagekit/pkg/worker"
	"github.com/c360/messagekit/storage"
)

const maxAssetSize = 10 << 20 // 10 MiB per image

// AssetConfig configures the asset downloader.
type AssetConfig struct {
	Workers           int           `json:"workers"`
	QueueSize         int           `json:"queue_size"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	RequestTimeout    time.Duration `json:"request_timeout"`
}

// DefaultAssetConfig returns the default downloader configuration.
func DefaultAssetConfig() AssetConfig {
	return AssetConfig{
		Workers:           4,
		QueueSize:         128,
		RequestsPerSecond: 8,
		RequestTimeout:    10 * time.Second,
	}
}

// assetMeta records the validators from the last successful fetch so
// refreshes can use conditional requests.
type assetMeta struct {
	URL          string `json:"url"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	FetchedAt    int64  `json:"fetchedAt"`
}

// AssetCache prefetches and stores image assets keyed by URL. Downloads run
// on a bounded worker pool off the serial payload queue; one asset failing
// never fails the batch, the message just renders without that asset.
type AssetCache struct {
	store    storage.Store
	client   *http.Client
	limiter  *rate.Limiter
	pool     *worker.Pool[string]
	logger   *slog.Logger
	retryCfg retry.Config
}

// NewAssetCache creates an asset cache. registry may be nil to disable pool
// metrics.
func NewAssetCache(store storage.Store, logger *slog.Logger, registry *metric.MetricsRegistry, cfg AssetConfig) *AssetCache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg = DefaultAssetConfig()
	}

	c := &AssetCache{
		store:    store,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Workers),
		logger:   logger.With("component", "propcache.AssetCache"),
		retryCfg: retry.Quick(),
	}

	var opts []worker.Option[string]
	if registry != nil {
		opts = append(opts, worker.WithMetricsRegistry[string](registry, "messagekit_assets"))
	}
	c.pool = worker.NewPool[string](cfg.Workers, cfg.QueueSize, c.download, opts...)

	return c
}

// Start launches the download workers.
func (c *AssetCache) Start(ctx context.Context) error {
	return c.pool.Start(ctx)
}

// Stop drains in-flight downloads, waiting up to timeout.
func (c *AssetCache) Stop(timeout time.Duration) error {
	return c.pool.Stop(timeout)
}

// CacheImageAssets evicts assets absent from urls, then queues a download
// for each URL not already satisfied by the cache. Downloads are
// fire-and-forget; a full queue drops the asset with a warning rather than
// blocking the caller.
func (c *AssetCache) CacheImageAssets(ctx context.Context, urls []string) error {
	keep := make(map[string]struct{}, len(urls)*2)
	for _, url := range urls {
		hash := urlHash(url)
		keep[NamespaceImages+hash] = struct{}{}
	}
	if _, err := c.store.DeleteNotIn(ctx, NamespaceImages, keep); err != nil {
		return err
	}

	metaKeep := make(map[string]struct{}, len(urls))
	for _, url := range urls {
		metaKeep[namespaceImageMeta+urlHash(url)] = struct{}{}
	}
	if _, err := c.store.DeleteNotIn(ctx, namespaceImageMeta, metaKeep); err != nil {
		return err
	}

	for _, url := range urls {
		if !c.needsFetch(ctx, url) {
			continue
		}
		if err := c.pool.Submit(url); err != nil {
			c.logger.Warn("asset download not queued", "url", url, "error", err)
		}
	}
	return nil
}

// needsFetch reports whether a URL needs a download pass. Missing bytes
// always fetch. Cached bytes with stored validators go through a cheap
// conditional GET; without validators there is nothing to revalidate against
// and the cached bytes stand until evicted.
func (c *AssetCache) needsFetch(ctx context.Context, url string) bool {
	if _, err := c.store.Get(ctx, NamespaceImages+urlHash(url)); err != nil {
		return true
	}
	meta := c.loadMeta(ctx, url)
	return meta != nil && (meta.ETag != "" || meta.LastModified != "")
}

// GetAsset returns the cached bytes for a URL.
func (c *AssetCache) GetAsset(ctx context.Context, url string) ([]byte, bool) {
	data, err := c.store.Get(ctx, NamespaceImages+urlHash(url))
	if err != nil {
		return nil, false
	}
	return data, true
}

// download is the worker-pool processor for one asset URL.
func (c *AssetCache) download(ctx context.Context, url string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	meta := c.loadMeta(ctx, url)

	err := retry.Do(ctx, c.retryCfg, func() error {
		return c.fetchOnce(ctx, url, meta)
	})
	if err != nil {
		c.logger.Warn("asset download failed, rendering proceeds without it",
			"url", url, "error", err)
		return err
	}
	return nil
}

// fetchOnce performs one conditional GET. A 304 keeps the stored bytes.
func (c *AssetCache) fetchOnce(ctx context.Context, url string, meta *assetMeta) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return retry.NonRetryable(errors.WrapInvalid(errors.ErrFetchFailed,
			"AssetCache", "fetchOnce", "build request"))
	}
	if meta != nil {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.WrapTransient(errors.ErrFetchFailed,
			"AssetCache", "fetchOnce", "execute request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return errors.WrapTransient(
			fmt.Errorf("%w: status %d", errors.ErrFetchFailed, resp.StatusCode),
			"AssetCache", "fetchOnce", "execute request")
	case resp.StatusCode != http.StatusOK:
		return retry.NonRetryable(errors.WrapInvalid(
			fmt.Errorf("%w: status %d", errors.ErrFetchFailed, resp.StatusCode),
			"AssetCache", "fetchOnce", "execute request"))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize))
	if err != nil {
		return errors.WrapTransient(errors.ErrFetchFailed,
			"AssetCache", "fetchOnce", "read body")
	}

	hash := urlHash(url)
	if err := c.store.Put(ctx, NamespaceImages+hash, data); err != nil {
		return err
	}

	newMeta := assetMeta{
		URL:          url,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		FetchedAt:    time.Now().Unix(),
	}
	metaBytes, err := json.Marshal(newMeta)
	if err != nil {
		return nil // asset is stored; missing meta just costs a conditional refresh
	}
	if err := c.store.Put(ctx, namespaceImageMeta+hash, metaBytes); err != nil {
		c.logger.Debug("asset meta write failed", "url", url, "error", err)
	}
	return nil
}

func (c *AssetCache) loadMeta(ctx context.Context, url string) *assetMeta {
	data, err := c.store.Get(ctx, namespaceImageMeta+urlHash(url))
	if err != nil {
		return nil
	}
	var meta assetMeta
	if err := json.Unmarshal(data, &meta); err != nil || meta.URL != url {
		return nil
	}
	// Validators only help if the bytes they describe are still present.
	if _, err := c.store.Get(ctx, NamespaceImages+urlHash(url)); err != nil {
		return nil
	}
	return &meta
}

func urlHash(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:8])
}
