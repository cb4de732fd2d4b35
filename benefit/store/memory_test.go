package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/benefit/store"
)

func key(pet benefit.PetID, proc benefit.ProcedureID, year int) benefit.UsageKey {
	return benefit.UsageKey{PetID: pet, ProcedureID: proc, PlanID: "basic", Year: year}
}

func TestMemory_UsageStartsAtZero(t *testing.T) {
	m := store.NewMemory()
	count, err := m.UsageCount(context.Background(), key("pet-1", "vaccine", 2024))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemory_ConcurrentIncrementsAcrossKeys(t *testing.T) {
	// GIVEN: two keys hammered in parallel
	// THEN: each ends with its own exact count

	m := store.NewMemory()
	ctx := context.Background()
	a, b := key("pet-1", "vaccine", 2024), key("pet-1", "consult", 2024)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = m.IncrementUsage(ctx, a, time.Now()) }()
		go func() { defer wg.Done(); _, _ = m.IncrementUsage(ctx, b, time.Now()) }()
	}
	wg.Wait()

	ca, _ := m.UsageCount(ctx, a)
	cb, _ := m.UsageCount(ctx, b)
	assert.Equal(t, 40, ca)
	assert.Equal(t, 40, cb)
}

func TestMemory_ListUsage_FiltersByPetAndYear(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	at := time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)

	_, _ = m.IncrementUsage(ctx, key("pet-1", "vaccine", 2024), at)
	_, _ = m.IncrementUsage(ctx, key("pet-1", "consult", 2024), at)
	_, _ = m.IncrementUsage(ctx, key("pet-1", "consult", 2024), at)
	_, _ = m.IncrementUsage(ctx, key("pet-1", "consult", 2023), at)
	_, _ = m.IncrementUsage(ctx, key("pet-2", "consult", 2024), at)

	records, err := m.ListUsage(ctx, "pet-1", 2024)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, benefit.ProcedureID("consult"), records[0].Key.ProcedureID)
	assert.Equal(t, 2, records[0].Count)
	assert.Equal(t, at, records[0].UpdatedAt)
	assert.Equal(t, benefit.ProcedureID("vaccine"), records[1].Key.ProcedureID)
}

func TestMemory_SaveMembershipReplacesByID(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	ms := benefit.Membership{ID: "m-1", PetID: "pet-1", PlanID: "basic", CoverageStart: benefit.MustParseDate("2024-01-01")}
	require.NoError(t, m.SaveMembership(ctx, ms))

	end := benefit.MustParseDate("2024-06-30")
	ms.CoverageEnd = &end
	require.NoError(t, m.SaveMembership(ctx, ms))

	list, err := m.GetMembershipsByPet(ctx, "pet-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].CoverageEnd)
	assert.Equal(t, end, *list[0].CoverageEnd)
}
