package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/claims"
	"github.com/warp/benefit-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedCatalog(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SavePlan(ctx, benefit.Plan{ID: "basic", Name: "Basic", Type: benefit.PlanTypeCoparticipation, Active: true}))
	require.NoError(t, store.SaveProcedure(ctx, benefit.Procedure{ID: "vaccine", Name: "Annual vaccine", Category: "preventive", Active: true}))
	require.NoError(t, store.SaveProcedure(ctx, benefit.Procedure{ID: "consult", Name: "Consultation", Category: "clinic", Active: true}))
}

var usageKey = benefit.UsageKey{PetID: "pet-1", ProcedureID: "vaccine", PlanID: "basic", Year: 2024}

// =============================================================================
// CATALOG
// =============================================================================

func TestStore_CoverageRule_RoundTripAndUpsert(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	rule := benefit.CoverageRule{
		PlanID: "basic", ProcedureID: "vaccine", IsIncluded: true,
		GrossPrice: benefit.Cents(12000), PayerValue: benefit.Cents(8000), Coparticipation: benefit.Cents(2000),
		WaitingPeriodDays: 30, AnnualLimit: 1,
	}
	require.NoError(t, store.SaveCoverageRule(ctx, rule))

	got, found, err := store.GetCoverageRule(ctx, "basic", "vaccine")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rule, got)

	rule.AnnualLimit = 2
	require.NoError(t, store.SaveCoverageRule(ctx, rule))
	got, _, _ = store.GetCoverageRule(ctx, "basic", "vaccine")
	assert.Equal(t, 2, got.AnnualLimit)

	_, found, err = store.GetCoverageRule(ctx, "basic", "consult")
	require.NoError(t, err)
	assert.False(t, found, "missing rule is a normal outcome")

	rules, err := store.ListCoverageRules(ctx, "basic")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestStore_CoverageRule_UnknownPlanRejected(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)

	err := store.SaveCoverageRule(context.Background(), benefit.CoverageRule{PlanID: "gold", ProcedureID: "vaccine"})
	assert.ErrorContains(t, err, "unknown plan or procedure")
}

func TestStore_Exists(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	ok, err := store.PlanExists(ctx, "basic")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = store.PlanExists(ctx, "gold")
	assert.False(t, ok)

	ok, _ = store.ProcedureExists(ctx, "consult")
	assert.True(t, ok)

	plans, err := store.ListPlans(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, benefit.PlanTypeCoparticipation, plans[0].Type)

	procs, err := store.ListProcedures(ctx)
	require.NoError(t, err)
	assert.Len(t, procs, 2)
}

func TestStore_CatalogVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	empty, err := store.CatalogVersion(ctx)
	require.NoError(t, err)

	seedCatalog(t, store)
	seeded, err := store.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, empty, seeded)

	again, err := store.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, seeded, again, "stable without writes")

	require.NoError(t, store.SaveCoverageRule(ctx, benefit.CoverageRule{PlanID: "basic", ProcedureID: "consult", IsIncluded: true}))
	withRule, err := store.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, seeded, withRule)

	require.NoError(t, store.Reset(ctx))
	reset, err := store.CatalogVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, empty, reset)
}

// =============================================================================
// USAGE LEDGER
// =============================================================================

func TestStore_IncrementUsage_LazyCreateAndMonotonic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.UsageCount(ctx, usageKey)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementUsage(ctx, usageKey, time.Now())
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	other := usageKey
	other.Year = 2025
	count, _ = store.UsageCount(ctx, other)
	assert.Equal(t, 0, count, "a new year is a fresh counter")
}

func TestStore_IncrementUsage_Concurrent(t *testing.T) {
	// GIVEN: a file-backed database (real connection pool)
	// WHEN: 30 goroutines increment the same key
	// THEN: the count is exactly 30 and each goroutine saw a distinct value

	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	const workers = 30
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.IncrementUsage(ctx, usageKey, time.Now())
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	count, err := store.UsageCount(ctx, usageKey)
	require.NoError(t, err)
	assert.Equal(t, workers, count)
	assert.Len(t, seen, workers)
}

func TestStore_ListUsage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, time.March, 3, 12, 0, 0, 0, time.UTC)

	_, _ = store.IncrementUsage(ctx, usageKey, at)
	consult := usageKey
	consult.ProcedureID = "consult"
	_, _ = store.IncrementUsage(ctx, consult, at)
	_, _ = store.IncrementUsage(ctx, consult, at)

	records, err := store.ListUsage(ctx, "pet-1", 2024)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, consult, records[0].Key)
	assert.Equal(t, 2, records[0].Count)
	assert.Equal(t, at, records[0].UpdatedAt)
}

func TestStore_UsageEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		require.NoError(t, store.AppendUsageEvent(ctx, claims.UsageEvent{
			ID: "ue-" + string(rune('0'+i)), Key: usageKey, ClaimID: "clm", CountAfter: i, At: time.Now(),
		}))
	}

	trail, err := store.ListUsageEvents(ctx, usageKey)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, 1, trail[0].CountAfter)
	assert.Equal(t, 2, trail[1].CountAfter)
}

// =============================================================================
// PETS, MEMBERSHIPS, CLAIMS
// =============================================================================

func TestStore_Memberships(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	require.NoError(t, store.SavePet(ctx, sqlite.Pet{ID: "pet-1", Name: "Rex", Species: "dog", OwnerName: "Ana"}))
	pet, err := store.GetPet(ctx, "pet-1")
	require.NoError(t, err)
	require.NotNil(t, pet)
	assert.Equal(t, "Rex", pet.Name)

	missing, err := store.GetPet(ctx, "pet-9")
	require.NoError(t, err)
	assert.Nil(t, missing)

	end := benefit.MustParseDate("2023-12-31")
	require.NoError(t, store.SaveMembership(ctx, benefit.Membership{
		ID: "m-2", PetID: "pet-1", PlanID: "basic", CoverageStart: benefit.MustParseDate("2024-01-01"),
	}))
	require.NoError(t, store.SaveMembership(ctx, benefit.Membership{
		ID: "m-1", PetID: "pet-1", PlanID: "basic", CoverageStart: benefit.MustParseDate("2023-01-01"), CoverageEnd: &end,
	}))

	list, err := store.GetMembershipsByPet(ctx, "pet-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, benefit.MembershipID("m-1"), list[0].ID)
	require.NotNil(t, list[0].CoverageEnd)
	assert.Equal(t, end, *list[0].CoverageEnd)
	assert.Nil(t, list[1].CoverageEnd)

	err = store.SaveMembership(ctx, benefit.Membership{ID: "m-3", PetID: "ghost", PlanID: "basic", CoverageStart: end})
	assert.ErrorContains(t, err, "unknown pet or plan")
}

func TestStore_Claims(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	claim := claims.Claim{
		ID: "clm-1", PetID: "pet-1", ProcedureID: "vaccine", PlanID: "basic",
		UnitID: "unit-9", MembershipID: "m-1",
		RequestedAt: benefit.MustParseDate("2024-01-15"),
		Decision: benefit.ClaimDecision{
			Reason:          benefit.ReasonWaitingPeriod,
			Gross:           benefit.Cents(12000),
			PayerValue:      benefit.Cents(8000),
			Coparticipation: benefit.Cents(2000),
			PetID:           "pet-1", ProcedureID: "vaccine", PlanID: "basic",
			AsOf:        benefit.MustParseDate("2024-01-15"),
			EligibleOn:  benefit.MustParseDate("2024-01-31"),
			AnnualLimit: 1,
		},
		Status:    claims.StatusRejected,
		CreatedAt: time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveClaim(ctx, claim))

	got, err := store.GetClaim(ctx, "clm-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, claim, *got)

	list, err := store.ListClaimsByPet(ctx, "pet-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	missing, err := store.GetClaim(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()
	_, _ = store.IncrementUsage(ctx, usageKey, time.Now())

	require.NoError(t, store.Reset(ctx))

	ok, _ := store.PlanExists(ctx, "basic")
	assert.False(t, ok)
	count, _ := store.UsageCount(ctx, usageKey)
	assert.Equal(t, 0, count)
}
