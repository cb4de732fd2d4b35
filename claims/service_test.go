package claims_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/claims"
	"github.com/warp/benefit-engine/events"
	"github.com/warp/benefit-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type harness struct {
	store     *sqlite.Store
	publisher *events.MemoryPublisher
	logs      *observer.ObservedLogs
	svc       *claims.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithLedger(t, nil)
}

// newHarnessWithLedger lets a test wrap the usage ledger the adjudicator sees.
func newHarnessWithLedger(t *testing.T, wrap func(benefit.UsageLedger) benefit.UsageLedger) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SavePlan(ctx, benefit.Plan{ID: "basic", Name: "Basic", Type: benefit.PlanTypeCoparticipation, Active: true}))
	require.NoError(t, store.SaveProcedure(ctx, benefit.Procedure{ID: "vaccine", Name: "Vaccine", Active: true}))
	require.NoError(t, store.SaveProcedure(ctx, benefit.Procedure{ID: "xray", Name: "X-Ray", Active: true}))
	require.NoError(t, store.SaveCoverageRule(ctx, benefit.CoverageRule{
		PlanID: "basic", ProcedureID: "vaccine", IsIncluded: true,
		GrossPrice: benefit.Cents(12000), PayerValue: benefit.Cents(8000), Coparticipation: benefit.Cents(2000),
		WaitingPeriodDays: 30, AnnualLimit: 1,
	}))
	require.NoError(t, store.SavePet(ctx, sqlite.Pet{ID: "pet-1", Name: "Rex"}))
	require.NoError(t, store.SaveMembership(ctx, benefit.Membership{
		ID: "m-1", PetID: "pet-1", PlanID: "basic", CoverageStart: benefit.MustParseDate("2024-01-01"),
	}))

	core, logs := observer.New(zapcore.DebugLevel)
	publisher := events.NewMemoryPublisher()

	var ledger benefit.UsageLedger = benefit.NewLedger(store)
	if wrap != nil {
		ledger = wrap(ledger)
	}

	svc := claims.NewService(claims.ServiceParams{
		Adjudicator: benefit.NewAdjudicator(benefit.NewCatalog(store), ledger),
		Memberships: store,
		Claims:      store,
		Audit:       store,
		Publisher:   publisher,
		Log:         zap.New(core),
		Now:         func() time.Time { return time.Date(2024, time.February, 1, 9, 0, 0, 0, time.UTC) },
	})

	return &harness{store: store, publisher: publisher, logs: logs, svc: svc}
}

func vaccineOn(date string) claims.Request {
	return claims.Request{PetID: "pet-1", ProcedureID: "vaccine", UnitID: "unit-7", AsOf: benefit.MustParseDate(date)}
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreview_DoesNotMutate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	d, m, err := h.svc.Preview(ctx, vaccineOn("2024-02-01"))
	require.NoError(t, err)
	assert.Equal(t, benefit.ReasonApproved, d.Reason)
	assert.Equal(t, benefit.MembershipID("m-1"), m.ID)

	count, err := h.store.UsageCount(ctx, d.UsageKey())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	list, err := h.svc.ListByPet(ctx, "pet-1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, h.publisher.Events())
}

func TestPreview_DefaultsToToday(t *testing.T) {
	h := newHarness(t)

	d, _, err := h.svc.Preview(context.Background(), claims.Request{PetID: "pet-1", ProcedureID: "vaccine"})
	require.NoError(t, err)
	assert.Equal(t, benefit.MustParseDate("2024-02-01"), d.AsOf)
}

// =============================================================================
// SUBMIT
// =============================================================================

func TestSubmit_ApprovedCommitsAndPublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	claim, err := h.svc.Submit(ctx, vaccineOn("2024-02-01"))
	require.NoError(t, err)

	assert.Equal(t, claims.StatusApproved, claim.Status)
	assert.Equal(t, 1, claim.UsageCount)
	assert.Equal(t, benefit.UnitID("unit-7"), claim.UnitID)
	assert.Equal(t, benefit.MembershipID("m-1"), claim.MembershipID)
	assert.NotEmpty(t, claim.ID)

	stored, err := h.svc.Get(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, *claim, *stored)

	trail, err := h.store.ListUsageEvents(ctx, claim.Decision.UsageKey())
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, claim.ID, trail[0].ClaimID)
	assert.Equal(t, 1, trail[0].CountAfter)

	published := h.publisher.Events()
	require.Len(t, published, 1)
	assert.Equal(t, events.TypeClaimApproved, published[0].Type)
	assert.Equal(t, claim.ID, published[0].ClaimID)
	assert.Equal(t, int64(8000), published[0].PayerValueCents)

	logged := h.logs.FilterMessage("claim adjudicated").All()
	require.Len(t, logged, 1)
	assert.Equal(t, "APPROVED", logged[0].ContextMap()["reason"])
	assert.Equal(t, "claims", logged[0].LoggerName)
}

func TestSubmit_SecondVaccineSameYear_RejectedButStored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Submit(ctx, vaccineOn("2024-02-01"))
	require.NoError(t, err)

	claim, err := h.svc.Submit(ctx, vaccineOn("2024-07-01"))
	require.NoError(t, err)
	assert.Equal(t, claims.StatusRejected, claim.Status)
	assert.Equal(t, benefit.ReasonAnnualLimitReached, claim.Decision.Reason)
	assert.Equal(t, 0, claim.UsageCount)

	count, _ := h.store.UsageCount(ctx, claim.Decision.UsageKey())
	assert.Equal(t, 1, count, "rejections never touch the ledger")

	list, err := h.svc.ListByPet(ctx, "pet-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	published := h.publisher.Events()
	require.Len(t, published, 2)
	assert.Equal(t, events.TypeClaimRejected, published[1].Type)
}

func TestSubmit_WaitingPeriod(t *testing.T) {
	h := newHarness(t)

	claim, err := h.svc.Submit(context.Background(), vaccineOn("2024-01-15"))
	require.NoError(t, err)
	assert.Equal(t, benefit.ReasonWaitingPeriod, claim.Decision.Reason)
	assert.Equal(t, "2024-01-31", claim.Decision.EligibleOn.String())
	assert.Equal(t, "Procedure is still in its waiting period. Eligible on 2024-01-31.", claims.Message(claim.Decision))
}

func TestSubmit_NotCovered(t *testing.T) {
	h := newHarness(t)

	claim, err := h.svc.Submit(context.Background(), claims.Request{PetID: "pet-1", ProcedureID: "xray", AsOf: benefit.MustParseDate("2024-06-01")})
	require.NoError(t, err)
	assert.Equal(t, claims.StatusRejected, claim.Status)
	assert.Equal(t, benefit.ReasonNotCovered, claim.Decision.Reason)
}

func TestSubmit_PublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.publisher.Err = errors.New("broker down")

	claim, err := h.svc.Submit(context.Background(), vaccineOn("2024-02-01"))
	require.NoError(t, err)
	assert.Equal(t, claims.StatusApproved, claim.Status)

	warned := h.logs.FilterMessage("claim event not published").All()
	require.Len(t, warned, 1)
	assert.Equal(t, zapcore.WarnLevel, warned[0].Level)
}

// pairedReadLedger makes each CurrentCount wait, after reading, until a
// second reader has also read or the hold expires. Without serialization
// both submitters see the same count.
type pairedReadLedger struct {
	benefit.UsageLedger
	hold time.Duration

	mu      sync.Mutex
	readers int
	both    chan struct{}
}

func (l *pairedReadLedger) CurrentCount(ctx context.Context, key benefit.UsageKey) (int, error) {
	n, err := l.UsageLedger.CurrentCount(ctx, key)

	l.mu.Lock()
	l.readers++
	if l.readers == 2 {
		close(l.both)
	}
	l.mu.Unlock()

	select {
	case <-l.both:
	case <-time.After(l.hold):
	}
	return n, err
}

func TestSubmit_ConcurrentLastUse_OnlyOneApproved(t *testing.T) {
	// GIVEN: a vaccine rule with an annual limit of 1
	// WHEN: two staff submit the same vaccine at the same moment
	// THEN: exactly one claim is approved and the ledger count is 1

	h := newHarnessWithLedger(t, func(inner benefit.UsageLedger) benefit.UsageLedger {
		return &pairedReadLedger{UsageLedger: inner, hold: 200 * time.Millisecond, both: make(chan struct{})}
	})
	ctx := context.Background()

	results := make([]*claims.Claim, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := h.svc.Submit(ctx, vaccineOn("2024-02-01"))
			assert.NoError(t, err)
			results[i] = c
		}(i)
	}
	wg.Wait()

	reasons := map[benefit.Reason]int{}
	for _, c := range results {
		require.NotNil(t, c)
		reasons[c.Decision.Reason]++
	}
	assert.Equal(t, 1, reasons[benefit.ReasonApproved])
	assert.Equal(t, 1, reasons[benefit.ReasonAnnualLimitReached])

	key := benefit.UsageKey{PetID: "pet-1", ProcedureID: "vaccine", PlanID: "basic", Year: 2024}
	count, err := h.store.UsageCount(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	trail, err := h.store.ListUsageEvents(ctx, key)
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

// =============================================================================
// ERRORS
// =============================================================================

func TestSubmit_NoMembership(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Submit(context.Background(), claims.Request{PetID: "pet-404", ProcedureID: "vaccine", AsOf: benefit.MustParseDate("2024-06-01")})
	assert.ErrorIs(t, err, benefit.ErrNoActiveMembership)
	assert.True(t, benefit.IsNotFound(err))
}

func TestSubmit_UnknownProcedure(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Submit(context.Background(), claims.Request{PetID: "pet-1", ProcedureID: "teleport", AsOf: benefit.MustParseDate("2024-06-01")})
	assert.ErrorIs(t, err, benefit.ErrUnknownProcedure)
	assert.True(t, benefit.IsContractViolation(err))
}

func TestSubmit_MissingFields(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Submit(context.Background(), claims.Request{ProcedureID: "vaccine"})
	assert.ErrorIs(t, err, claims.ErrMissingPet)

	_, err = h.svc.Submit(context.Background(), claims.Request{PetID: "pet-1"})
	assert.ErrorIs(t, err, claims.ErrMissingProc)
}

func TestGet_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, claims.ErrClaimNotFound)
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestMessage(t *testing.T) {
	approved := benefit.ClaimDecision{
		Allowed: true, Reason: benefit.ReasonApproved,
		PayerValue: benefit.Cents(8000), Coparticipation: benefit.Cents(2000),
		RemainingAnnualUses: 2,
	}
	assert.Equal(t, "Approved. Plan pays 80.00, client pays 20.00. 2 use(s) left this year.", claims.Message(approved))

	approved.RemainingAnnualUses = benefit.UnlimitedUses
	assert.Equal(t, "Approved. Plan pays 80.00, client pays 20.00.", claims.Message(approved))

	limit := benefit.ClaimDecision{Reason: benefit.ReasonAnnualLimitReached, AnnualLimit: 1, AsOf: benefit.MustParseDate("2024-05-01")}
	assert.Equal(t, "Annual limit of 1 use(s) reached for 2024. Available again on 2025-01-01.", claims.Message(limit))

	assert.Equal(t, "Procedure is not covered by the plan.", claims.Message(benefit.ClaimDecision{Reason: benefit.ReasonNotCovered}))
}
