// Package store provides in-memory implementations of the benefit storage interfaces.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/benefit-engine/benefit"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements benefit.CatalogStore, benefit.CatalogWriter,
// benefit.UsageStore and benefit.MembershipStore.
type Memory struct {
	mu          sync.RWMutex
	plans       map[benefit.PlanID]benefit.Plan
	procedures  map[benefit.ProcedureID]benefit.Procedure
	rules       map[ruleKey]benefit.CoverageRule
	memberships map[benefit.PetID][]benefit.Membership

	// usage cells are created once and never removed; each carries its own
	// lock so increments of different keys never contend.
	usageMu sync.Mutex
	usage   map[benefit.UsageKey]*usageCell
}

type ruleKey struct {
	PlanID      benefit.PlanID
	ProcedureID benefit.ProcedureID
}

type usageCell struct {
	mu        sync.Mutex
	count     int
	updatedAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		plans:       make(map[benefit.PlanID]benefit.Plan),
		procedures:  make(map[benefit.ProcedureID]benefit.Procedure),
		rules:       make(map[ruleKey]benefit.CoverageRule),
		memberships: make(map[benefit.PetID][]benefit.Membership),
		usage:       make(map[benefit.UsageKey]*usageCell),
	}
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SavePlan(_ context.Context, plan benefit.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[plan.ID] = plan
	return nil
}

func (m *Memory) SaveProcedure(_ context.Context, procedure benefit.Procedure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procedures[procedure.ID] = procedure
	return nil
}

func (m *Memory) SaveCoverageRule(_ context.Context, rule benefit.CoverageRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[ruleKey{PlanID: rule.PlanID, ProcedureID: rule.ProcedureID}] = rule
	return nil
}

func (m *Memory) GetCoverageRule(_ context.Context, plan benefit.PlanID, procedure benefit.ProcedureID) (benefit.CoverageRule, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[ruleKey{PlanID: plan, ProcedureID: procedure}]
	return rule, ok, nil
}

func (m *Memory) PlanExists(_ context.Context, plan benefit.PlanID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.plans[plan]
	return ok, nil
}

func (m *Memory) ProcedureExists(_ context.Context, procedure benefit.ProcedureID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.procedures[procedure]
	return ok, nil
}

// =============================================================================
// MEMBERSHIPS
// =============================================================================

// SaveMembership inserts or replaces a membership by ID.
func (m *Memory) SaveMembership(_ context.Context, ms benefit.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.memberships[ms.PetID]
	for i := range list {
		if list[i].ID == ms.ID {
			list[i] = ms
			return nil
		}
	}
	m.memberships[ms.PetID] = append(list, ms)
	return nil
}

func (m *Memory) GetMembershipsByPet(_ context.Context, pet benefit.PetID) ([]benefit.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]benefit.Membership, len(m.memberships[pet]))
	copy(result, m.memberships[pet])
	return result, nil
}

// =============================================================================
// USAGE
// =============================================================================

func (m *Memory) UsageCount(_ context.Context, key benefit.UsageKey) (int, error) {
	m.usageMu.Lock()
	cell, ok := m.usage[key]
	m.usageMu.Unlock()
	if !ok {
		return 0, nil
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	return cell.count, nil
}

// IncrementUsage creates the cell on first use and bumps it under the
// cell's own lock.
func (m *Memory) IncrementUsage(_ context.Context, key benefit.UsageKey, at time.Time) (int, error) {
	m.usageMu.Lock()
	cell, ok := m.usage[key]
	if !ok {
		cell = &usageCell{}
		m.usage[key] = cell
	}
	m.usageMu.Unlock()

	cell.mu.Lock()
	defer cell.mu.Unlock()
	cell.count++
	cell.updatedAt = at
	return cell.count, nil
}

func (m *Memory) ListUsage(_ context.Context, pet benefit.PetID, year int) ([]benefit.UsageRecord, error) {
	m.usageMu.Lock()
	var keys []benefit.UsageKey
	cells := make(map[benefit.UsageKey]*usageCell)
	for k, c := range m.usage {
		if k.PetID == pet && k.Year == year {
			keys = append(keys, k)
			cells[k] = c
		}
	}
	m.usageMu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	result := make([]benefit.UsageRecord, 0, len(keys))
	for _, k := range keys {
		c := cells[k]
		c.mu.Lock()
		result = append(result, benefit.UsageRecord{Key: k, Count: c.count, UpdatedAt: c.updatedAt})
		c.mu.Unlock()
	}
	return result, nil
}
