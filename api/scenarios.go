/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	data for testing and demos. Each scenario creates plans, procedures,
	coverage rules, pets and memberships, and may submit claims so the
	usage ledger and claim history have something to show.

AVAILABLE SCENARIOS:

	vaccine-waiting-period: One vaccine per year after a 30 day wait
	annual-limits:          Consultations capped at 3 per year, X-rays unlimited
	plan-comparison:        Same procedures on a coparticipation and a full plan

HOW SCENARIOS WORK:
 1. Reset database (clear all data) and the catalog cache
 2. Create plans and procedures
 3. Author coverage rules via the coverage factory
 4. Register pets and memberships
 5. Optionally submit claims through the claims service

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "vaccine-waiting-period"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the SQLite database. Usage counters held in Redis are
	NOT cleared, so run demos with LEDGER_BACKEND=sqlite.
	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler dependencies
  - factory/coverage.go: Coverage rule JSON definitions
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/claims"
	"github.com/warp/benefit-engine/factory"
	"github.com/warp/benefit-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "vaccine-waiting-period",
		Name:        "Vaccine Waiting Period",
		Description: "Annual vaccine with a 30 day waiting period and one use per year; a claim inside the wait, then an approved one",
		Category:    "waiting",
	},
	{
		ID:          "annual-limits",
		Name:        "Annual Limits",
		Description: "Consultations capped at 3 per year, already used up; X-rays unlimited",
		Category:    "limits",
	},
	{
		ID:          "plan-comparison",
		Name:        "Plan Comparison",
		Description: "The same procedures on a coparticipation plan and a full plan, with default coparticipation applied",
		Category:    "plans",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", details(err))
		return
	}

	load, ok := h.loaders()[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", req.ScenarioID)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeServiceError(w, "Failed to reset database", err)
		return
	}

	if err := load(ctx); err != nil {
		h.writeServiceError(w, fmt.Sprintf("Failed to load scenario %s", req.ScenarioID), err)
		return
	}
	h.setScenario(req.ScenarioID)

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		h.writeServiceError(w, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (h *Handler) loaders() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"vaccine-waiting-period": h.loadVaccineWaitingPeriodScenario,
		"annual-limits":          h.loadAnnualLimitsScenario,
		"plan-comparison":        h.loadPlanComparisonScenario,
	}
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.Catalog.InvalidateAll()
	h.setScenario("")
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadVaccineWaitingPeriodScenario(ctx context.Context) error {
	basic := benefit.Plan{ID: "plan-basic", Name: "Basic", Type: benefit.PlanTypeCoparticipation, Active: true}
	if err := h.Store.SavePlan(ctx, basic); err != nil {
		return err
	}
	if err := h.Store.SaveProcedure(ctx, benefit.Procedure{ID: "vaccine-annual", Name: "Annual Vaccine", Category: "preventive", Active: true}); err != nil {
		return err
	}

	// 120.00 gross, plan pays 80.00, client pays 20.00, 30 day wait, once a year
	if err := h.authorRule(ctx, basic, factory.CoverageRuleJSON{
		ProcedureID:       "vaccine-annual",
		Included:          true,
		GrossPrice:        "120.00",
		PayerValue:        "80.00",
		Coparticipation:   amount("20.00"),
		WaitingPeriodDays: 30,
		AnnualLimit:       1,
	}); err != nil {
		return err
	}

	if err := h.enroll(ctx, sqlite.Pet{ID: "pet-rex", Name: "Rex", Species: "dog", OwnerName: "Ana Souza"},
		"mem-rex", basic.ID, "2024-01-01"); err != nil {
		return err
	}

	// Inside the waiting period (eligible on 2024-01-31), then approved.
	return h.submitAll(ctx,
		claims.Request{PetID: "pet-rex", ProcedureID: "vaccine-annual", UnitID: "unit-centro", AsOf: benefit.MustParseDate("2024-01-15")},
		claims.Request{PetID: "pet-rex", ProcedureID: "vaccine-annual", UnitID: "unit-centro", AsOf: benefit.MustParseDate("2024-02-01")},
	)
}

func (h *Handler) loadAnnualLimitsScenario(ctx context.Context) error {
	premium := benefit.Plan{ID: "plan-premium", Name: "Premium", Type: benefit.PlanTypeFull, Active: true}
	if err := h.Store.SavePlan(ctx, premium); err != nil {
		return err
	}
	for _, p := range []benefit.Procedure{
		{ID: "consult", Name: "Consultation", Category: "clinical", Active: true},
		{ID: "xray", Name: "X-Ray", Category: "imaging", Active: true},
	} {
		if err := h.Store.SaveProcedure(ctx, p); err != nil {
			return err
		}
	}

	rules := []factory.CoverageRuleJSON{
		{ProcedureID: "consult", Included: true, GrossPrice: "150.00", PayerValue: "150.00", AnnualLimit: 3},
		{ProcedureID: "xray", Included: true, GrossPrice: "220.00", PayerValue: "180.00", WaitingPeriodDays: 60},
	}
	for _, rule := range rules {
		if err := h.authorRule(ctx, premium, rule); err != nil {
			return err
		}
	}

	if err := h.enroll(ctx, sqlite.Pet{ID: "pet-luna", Name: "Luna", Species: "cat", OwnerName: "Bruno Lima"},
		"mem-luna", premium.ID, "2023-06-01"); err != nil {
		return err
	}

	// Three consultations use up 2024; the next one is rejected.
	var reqs []claims.Request
	for _, date := range []string{"2024-02-10", "2024-05-03", "2024-09-21"} {
		reqs = append(reqs, claims.Request{PetID: "pet-luna", ProcedureID: "consult", UnitID: "unit-norte", AsOf: benefit.MustParseDate(date)})
	}
	reqs = append(reqs, claims.Request{PetID: "pet-luna", ProcedureID: "xray", UnitID: "unit-norte", AsOf: benefit.MustParseDate("2024-09-21")})
	return h.submitAll(ctx, reqs...)
}

func (h *Handler) loadPlanComparisonScenario(ctx context.Context) error {
	basic := benefit.Plan{ID: "plan-basic", Name: "Basic", Type: benefit.PlanTypeCoparticipation, Active: true}
	full := benefit.Plan{ID: "plan-full", Name: "Full", Type: benefit.PlanTypeFull, Active: true}
	for _, p := range []benefit.Plan{basic, full} {
		if err := h.Store.SavePlan(ctx, p); err != nil {
			return err
		}
	}
	for _, p := range []benefit.Procedure{
		{ID: "vaccine-annual", Name: "Annual Vaccine", Category: "preventive", Active: true},
		{ID: "surgery", Name: "Soft Tissue Surgery", Category: "surgical", Active: true},
		{ID: "dental-cleaning", Name: "Dental Cleaning", Category: "dental", Active: true},
	} {
		if err := h.Store.SaveProcedure(ctx, p); err != nil {
			return err
		}
	}

	// Coparticipation omitted: the factory derives it from the plan type.
	for _, plan := range []benefit.Plan{basic, full} {
		rules := []factory.CoverageRuleJSON{
			{ProcedureID: "vaccine-annual", Included: true, GrossPrice: "120.00", PayerValue: "80.00", WaitingPeriodDays: 30, AnnualLimit: 1},
			{ProcedureID: "surgery", Included: true, GrossPrice: "2500.00", PayerValue: "1800.00", WaitingPeriodDays: 180, AnnualLimit: 2},
		}
		for _, rule := range rules {
			if err := h.authorRule(ctx, plan, rule); err != nil {
				return err
			}
		}
	}

	// Listed on the basic plan for display, never payable.
	if err := h.authorRule(ctx, basic, factory.CoverageRuleJSON{
		ProcedureID: "dental-cleaning", Included: false, GrossPrice: "300.00", PayerValue: "0.00",
	}); err != nil {
		return err
	}
	if err := h.authorRule(ctx, full, factory.CoverageRuleJSON{
		ProcedureID: "dental-cleaning", Included: true, GrossPrice: "300.00", PayerValue: "250.00", AnnualLimit: 1,
	}); err != nil {
		return err
	}

	if err := h.enroll(ctx, sqlite.Pet{ID: "pet-thor", Name: "Thor", Species: "dog", OwnerName: "Carla Dias"},
		"mem-thor", basic.ID, "2024-01-01"); err != nil {
		return err
	}
	return h.enroll(ctx, sqlite.Pet{ID: "pet-mel", Name: "Mel", Species: "cat", OwnerName: "Davi Rocha"},
		"mem-mel", full.ID, "2024-01-01")
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) authorRule(ctx context.Context, plan benefit.Plan, rj factory.CoverageRuleJSON) error {
	rj.PlanID = string(plan.ID)
	rule, err := h.Coverage.FromJSON(rj, plan)
	if err != nil {
		return fmt.Errorf("rule %s/%s: %w", plan.ID, rj.ProcedureID, err)
	}
	if err := h.Store.SaveCoverageRule(ctx, rule); err != nil {
		return err
	}
	h.Catalog.Invalidate(rule.PlanID, rule.ProcedureID)
	return nil
}

func (h *Handler) enroll(ctx context.Context, pet sqlite.Pet, membership benefit.MembershipID, plan benefit.PlanID, start string) error {
	if err := h.Store.SavePet(ctx, pet); err != nil {
		return err
	}
	return h.Store.SaveMembership(ctx, benefit.Membership{
		ID:            membership,
		PetID:         pet.ID,
		PlanID:        plan,
		CoverageStart: benefit.MustParseDate(start),
	})
}

func (h *Handler) submitAll(ctx context.Context, reqs ...claims.Request) error {
	for _, req := range reqs {
		if _, err := h.Claims.Submit(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func amount(s string) *string {
	return &s
}
