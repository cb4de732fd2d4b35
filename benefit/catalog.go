/*
catalog.go - Coverage Catalog: (plan, procedure) -> CoverageRule

PURPOSE:
  Read path for coverage rules. Static per revision: administrators edit
  rules through the authoring path (factory/), the engine only reads
  already-materialized values. No defaults, percentages or global settings
  are consulted here.

LOOKUP SEMANTICS:
  - Rule found, included:     evaluation continues
  - Rule found, not included: NOT_COVERED (rule kept for display)
  - Rule missing:             NOT_COVERED, same as explicitly excluded
  - Plan/procedure unknown:   contract violation (caller bug)

CACHING:
  CachedCatalog keeps rules (and misses) in memory. The authoring path
  calls Invalidate after a write.

SEE ALSO:
  - store.go: CatalogStore
  - factory/coverage.go: Authoring path
*/
package benefit

import (
	"context"
	"sync"
)

// =============================================================================
// CATALOG
// =============================================================================

// Catalog is the coverage lookup used by the Adjudicator.
type Catalog interface {
	// Lookup returns the rule for the pair. found=false means "not covered".
	Lookup(ctx context.Context, plan PlanID, procedure ProcedureID) (CoverageRule, bool, error)

	// Known returns a contract violation if the plan or procedure does not exist.
	Known(ctx context.Context, plan PlanID, procedure ProcedureID) error
}

// StoreCatalog reads straight from a CatalogStore.
type StoreCatalog struct {
	Store CatalogStore
}

func NewCatalog(store CatalogStore) *StoreCatalog {
	return &StoreCatalog{Store: store}
}

func (c *StoreCatalog) Lookup(ctx context.Context, plan PlanID, procedure ProcedureID) (CoverageRule, bool, error) {
	rule, found, err := c.Store.GetCoverageRule(ctx, plan, procedure)
	if err != nil {
		return CoverageRule{}, false, persistenceError("coverage lookup", string(plan)+"/"+string(procedure), err)
	}
	return rule, found, nil
}

func (c *StoreCatalog) Known(ctx context.Context, plan PlanID, procedure ProcedureID) error {
	ok, err := c.Store.PlanExists(ctx, plan)
	if err != nil {
		return persistenceError("plan lookup", string(plan), err)
	}
	if !ok {
		return contractViolation("evaluate", ErrUnknownPlan, "plan %q", plan)
	}
	ok, err = c.Store.ProcedureExists(ctx, procedure)
	if err != nil {
		return persistenceError("procedure lookup", string(procedure), err)
	}
	if !ok {
		return contractViolation("evaluate", ErrUnknownProcedure, "procedure %q", procedure)
	}
	return nil
}

// =============================================================================
// CACHED CATALOG - Read-through cache for the hot path
// =============================================================================

type ruleKey struct {
	plan      PlanID
	procedure ProcedureID
}

type cachedRule struct {
	rule  CoverageRule
	found bool
}

// CachedCatalog caches lookups, including misses. Existence checks are
// cached only when positive so newly created plans become visible at once.
//
// Every invalidation bumps gen. A fill whose read started under an older
// generation is dropped, so an edit racing a lookup is never masked.
type CachedCatalog struct {
	inner Catalog

	mu    sync.RWMutex
	gen   uint64
	rules map[ruleKey]cachedRule
	known map[ruleKey]bool
}

func NewCachedCatalog(inner Catalog) *CachedCatalog {
	return &CachedCatalog{
		inner: inner,
		rules: make(map[ruleKey]cachedRule),
		known: make(map[ruleKey]bool),
	}
}

func (c *CachedCatalog) Lookup(ctx context.Context, plan PlanID, procedure ProcedureID) (CoverageRule, bool, error) {
	k := ruleKey{plan: plan, procedure: procedure}

	c.mu.RLock()
	entry, ok := c.rules[k]
	gen := c.gen
	c.mu.RUnlock()
	if ok {
		return entry.rule, entry.found, nil
	}

	rule, found, err := c.inner.Lookup(ctx, plan, procedure)
	if err != nil {
		return CoverageRule{}, false, err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.rules[k] = cachedRule{rule: rule, found: found}
	}
	c.mu.Unlock()
	return rule, found, nil
}

func (c *CachedCatalog) Known(ctx context.Context, plan PlanID, procedure ProcedureID) error {
	k := ruleKey{plan: plan, procedure: procedure}

	c.mu.RLock()
	known := c.known[k]
	gen := c.gen
	c.mu.RUnlock()
	if known {
		return nil
	}

	if err := c.inner.Known(ctx, plan, procedure); err != nil {
		return err
	}

	c.mu.Lock()
	if c.gen == gen {
		c.known[k] = true
	}
	c.mu.Unlock()
	return nil
}

// Invalidate drops the cached rule for a pair after an administrative edit.
func (c *CachedCatalog) Invalidate(plan PlanID, procedure ProcedureID) {
	c.mu.Lock()
	c.gen++
	delete(c.rules, ruleKey{plan: plan, procedure: procedure})
	c.mu.Unlock()
}

// InvalidateAll drops every cached entry (new catalog revision).
func (c *CachedCatalog) InvalidateAll() {
	c.mu.Lock()
	c.gen++
	c.rules = make(map[ruleKey]cachedRule)
	c.known = make(map[ruleKey]bool)
	c.mu.Unlock()
}
