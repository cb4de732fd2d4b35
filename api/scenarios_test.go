/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:

	Tests that each scenario correctly sets up the expected state:
	- Plans, procedures and coverage rules are created
	- Pets are enrolled
	- Submitted claims leave the expected usage behind

These tests ensure scenarios work correctly and can be used as integration tests.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/claims"
)

func TestScenario_VaccineWaitingPeriod(t *testing.T) {
	// GIVEN: Vaccine waiting period scenario
	// WHEN: Loading the scenario
	// THEN: One claim was rejected in the wait, one approved, usage is 1

	handler := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, handler.loadVaccineWaitingPeriodScenario(ctx))

	rule, found, err := handler.Store.GetCoverageRule(ctx, "plan-basic", "vaccine-annual")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, benefit.Cents(8000), rule.PayerValue)
	assert.Equal(t, benefit.Cents(2000), rule.Coparticipation)
	assert.Equal(t, 30, rule.WaitingPeriodDays)

	history, err := handler.Claims.ListByPet(ctx, "pet-rex")
	require.NoError(t, err)
	require.Len(t, history, 2)

	reasons := map[benefit.Reason]claims.Status{}
	for _, c := range history {
		reasons[c.Decision.Reason] = c.Status
	}
	assert.Equal(t, claims.StatusRejected, reasons[benefit.ReasonWaitingPeriod])
	assert.Equal(t, claims.StatusApproved, reasons[benefit.ReasonApproved])

	count, err := handler.Store.UsageCount(ctx, benefit.UsageKey{PetID: "pet-rex", ProcedureID: "vaccine-annual", PlanID: "plan-basic", Year: 2024})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScenario_AnnualLimits(t *testing.T) {
	// GIVEN: Annual limits scenario (3 consultations already used in 2024)
	// WHEN: Previewing a fourth consultation
	// THEN: The annual limit is reached; X-rays stay unlimited

	handler := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, handler.loadAnnualLimitsScenario(ctx))

	decision, _, err := handler.Claims.Preview(ctx, claims.Request{PetID: "pet-luna", ProcedureID: "consult", AsOf: benefit.MustParseDate("2024-11-05")})
	require.NoError(t, err)
	assert.Equal(t, benefit.ReasonAnnualLimitReached, decision.Reason)
	assert.Equal(t, 3, decision.AnnualLimit)

	decision, _, err = handler.Claims.Preview(ctx, claims.Request{PetID: "pet-luna", ProcedureID: "xray", AsOf: benefit.MustParseDate("2024-11-05")})
	require.NoError(t, err)
	assert.Equal(t, benefit.ReasonApproved, decision.Reason)
	assert.True(t, decision.RemainingAnnualUses.IsUnlimited())

	// Full plan: no coparticipation by default
	rule, _, err := handler.Store.GetCoverageRule(ctx, "plan-premium", "consult")
	require.NoError(t, err)
	assert.True(t, rule.Coparticipation.IsZero())

	records, err := handler.Ledger.ListUsage(ctx, "pet-luna", 2024)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, benefit.ProcedureID("consult"), records[0].Key.ProcedureID)
	assert.Equal(t, 3, records[0].Count)
	assert.Equal(t, 1, records[1].Count)
}

func TestScenario_PlanComparison(t *testing.T) {
	// GIVEN: Plan comparison scenario with a 20% authoring default
	// WHEN: Loading the scenario
	// THEN: Coparticipation differs by plan type; dental is display-only on basic

	handler := setupTestHandler(t)
	ctx := context.Background()

	require.NoError(t, handler.loadPlanComparisonScenario(ctx))

	basic, _, err := handler.Store.GetCoverageRule(ctx, "plan-basic", "vaccine-annual")
	require.NoError(t, err)
	assert.Equal(t, benefit.Cents(2400), basic.Coparticipation)

	full, _, err := handler.Store.GetCoverageRule(ctx, "plan-full", "vaccine-annual")
	require.NoError(t, err)
	assert.True(t, full.Coparticipation.IsZero())

	decision, _, err := handler.Claims.Preview(ctx, claims.Request{PetID: "pet-thor", ProcedureID: "dental-cleaning", AsOf: benefit.MustParseDate("2024-03-01")})
	require.NoError(t, err)
	assert.Equal(t, benefit.ReasonNotCovered, decision.Reason)
	assert.True(t, decision.Gross.IsZero())

	decision, _, err = handler.Claims.Preview(ctx, claims.Request{PetID: "pet-mel", ProcedureID: "dental-cleaning", AsOf: benefit.MustParseDate("2024-03-01")})
	require.NoError(t, err)
	assert.Equal(t, benefit.ReasonApproved, decision.Reason)
	assert.Equal(t, benefit.Cents(25000), decision.PayerValue)
}

func TestLoadScenario_ViaAPI(t *testing.T) {
	env := setupTestEnv(t, nil)

	scenarioList := decodeAs[[]ScenarioDTO](t, env.do(t, http.MethodGet, "/api/scenarios", nil))
	assert.Len(t, scenarioList, len(scenarios))

	rec := env.do(t, http.MethodGet, "/api/scenarios/current", nil)
	assert.Equal(t, "null\n", rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "plan-comparison"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	current := decodeAs[ScenarioDTO](t, env.do(t, http.MethodGet, "/api/scenarios/current", nil))
	assert.Equal(t, "plan-comparison", current.ID)

	// Loading another scenario replaces the data
	rec = env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "vaccine-waiting-period"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	plans := decodeAs[[]PlanDTO](t, env.do(t, http.MethodGet, "/api/plans", nil))
	require.Len(t, plans, 1)
	assert.Equal(t, "plan-basic", plans[0].ID)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/pets/pet-mel", nil).Code)

	rec = env.do(t, http.MethodPost, "/api/scenarios/load", LoadScenarioRequest{ScenarioID: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/scenarios/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeAs[[]PlanDTO](t, env.do(t, http.MethodGet, "/api/plans", nil)))
}
