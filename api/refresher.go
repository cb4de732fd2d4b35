/*
refresher.go - Catalog cache refresher

PURPOSE:
  Coverage rules are cached in memory by benefit.CachedCatalog. Writes made
  through this process invalidate the cache directly, but another API node
  sharing the same database cannot reach it. The refresher polls a cheap
  catalog version and drops the whole cache when it moves.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The version is an opaque string; any change means "reload"
  - The first check only records the version

CONFIGURATION:
  - Interval: How often to check (CATALOG_REFRESH_INTERVAL, 0 disables)

USAGE:
  refresher := NewCatalogRefresher(store, catalog, 30*time.Second, log)
  refresher.Start()
  // ... later
  refresher.Stop()

SEE ALSO:
  - benefit/catalog.go: CachedCatalog
  - store/sqlite/sqlite.go: CatalogVersion
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/benefit-engine/benefit"
)

// CatalogVersioner reports a value that changes whenever coverage data does.
type CatalogVersioner interface {
	CatalogVersion(ctx context.Context) (string, error)
}

// CatalogRefresher invalidates a CachedCatalog when the stored catalog changes.
type CatalogRefresher struct {
	Source   CatalogVersioner
	Catalog  *benefit.CachedCatalog
	Interval time.Duration

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	vmu     sync.Mutex // guards version and seen
	version string
	seen    bool
}

// NewCatalogRefresher creates a refresher. A zero interval disables Start.
func NewCatalogRefresher(src CatalogVersioner, catalog *benefit.CachedCatalog, interval time.Duration, log *zap.Logger) *CatalogRefresher {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogRefresher{
		Source:   src,
		Catalog:  catalog,
		Interval: interval,
		log:      log.Named("catalog-refresher"),
	}
}

// Start begins polling.
func (cr *CatalogRefresher) Start() {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.Interval <= 0 {
		cr.log.Info("disabled, not starting")
		return
	}
	if cr.ticker != nil {
		return
	}

	cr.ticker = time.NewTicker(cr.Interval)
	cr.stop = make(chan struct{})
	cr.wg.Add(1)
	go cr.run()

	cr.log.Info("started", zap.Duration("interval", cr.Interval))
}

// Stop stops polling and waits for the goroutine to exit.
func (cr *CatalogRefresher) Stop() {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	if cr.ticker != nil {
		cr.ticker.Stop()
		close(cr.stop)
		cr.wg.Wait()
		cr.ticker = nil
		cr.log.Info("stopped")
	}
}

func (cr *CatalogRefresher) run() {
	defer cr.wg.Done()

	// Record the starting version right away
	cr.check()

	for {
		select {
		case <-cr.ticker.C:
			cr.check()
		case <-cr.stop:
			return
		}
	}
}

func (cr *CatalogRefresher) check() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cr.Check(ctx); err != nil {
		cr.log.Warn("catalog version check failed", zap.Error(err))
	}
}

// Check reads the version once and invalidates the cache if it changed
// since the previous call. It reports whether it invalidated.
func (cr *CatalogRefresher) Check(ctx context.Context) (bool, error) {
	v, err := cr.Source.CatalogVersion(ctx)
	if err != nil {
		return false, err
	}

	cr.vmu.Lock()
	defer cr.vmu.Unlock()
	changed := cr.seen && v != cr.version
	cr.version, cr.seen = v, true
	if changed {
		cr.Catalog.InvalidateAll()
		cr.log.Info("catalog changed, cache cleared", zap.String("version", v))
	}
	return changed, nil
}
