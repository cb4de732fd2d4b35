/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's value objects from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Catalog:
    PlanDTO, CreatePlanRequest
    ProcedureDTO, CreateProcedureRequest
    CoverageRuleDTO (PUT body is factory.CoverageRuleJSON)

  Pets:
    PetDTO, CreatePetRequest
    MembershipDTO, CreateMembershipRequest

  Claims:
    EvaluateRequest, DecisionDTO, ClaimDTO

  Usage:
    UsageDTO, UsageRecordDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

MONEY:
  Always rendered twice: a two-place decimal string for display and the
  integer cents the engine works in.

VALIDATION:
  Request types carry validator tags. Handlers call h.decode, which
  rejects malformed JSON and failed tags with 400.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/coverage.go: CoverageRuleJSON type
*/
package api

import (
	"time"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/claims"
	"github.com/warp/benefit-engine/factory"
	"github.com/warp/benefit-engine/store/sqlite"
)

// =============================================================================
// CATALOG
// =============================================================================

// PlanDTO represents a plan in API responses.
type PlanDTO struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

// CreatePlanRequest is the request body for creating a plan.
type CreatePlanRequest struct {
	ID     string `json:"id" validate:"required"`
	Name   string `json:"name" validate:"required"`
	Type   string `json:"type" validate:"required,oneof=coparticipation full"`
	Active *bool  `json:"active,omitempty"` // default true
}

// ProcedureDTO represents a procedure in API responses.
type ProcedureDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Active   bool   `json:"active"`
}

// CreateProcedureRequest is the request body for creating a procedure.
type CreateProcedureRequest struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Category string `json:"category"`
	Active   *bool  `json:"active,omitempty"` // default true
}

// MoneyDTO is an amount in both display and engine units.
type MoneyDTO struct {
	Amount string `json:"amount"`
	Cents  int64  `json:"cents"`
}

// CoverageRuleDTO represents a coverage rule in API responses.
type CoverageRuleDTO struct {
	PlanID            string   `json:"plan_id"`
	ProcedureID       string   `json:"procedure_id"`
	Included          bool     `json:"included"`
	GrossPrice        MoneyDTO `json:"gross_price"`
	PayerValue        MoneyDTO `json:"payer_value"`
	Coparticipation   MoneyDTO `json:"coparticipation"`
	WaitingPeriodDays int      `json:"waiting_period_days"`
	AnnualLimit       int      `json:"annual_limit"` // 0 = unlimited
}

// =============================================================================
// PETS & MEMBERSHIPS
// =============================================================================

// PetDTO represents a pet in API responses.
type PetDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Species   string    `json:"species,omitempty"`
	OwnerName string    `json:"owner_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreatePetRequest is the request body for registering a pet.
type CreatePetRequest struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Species   string `json:"species"`
	OwnerName string `json:"owner_name"`
}

// MembershipDTO represents a membership in API responses.
type MembershipDTO struct {
	ID            string  `json:"id"`
	PetID         string  `json:"pet_id"`
	PlanID        string  `json:"plan_id"`
	CoverageStart string  `json:"coverage_start"`
	CoverageEnd   *string `json:"coverage_end,omitempty"`
}

// CreateMembershipRequest is the request body for enrolling a pet in a plan.
// The pet comes from the URL.
type CreateMembershipRequest struct {
	ID            string `json:"id"` // generated when empty
	PlanID        string `json:"plan_id" validate:"required"`
	CoverageStart string `json:"coverage_start" validate:"required,date"`
	CoverageEnd   string `json:"coverage_end" validate:"omitempty,date"`
}

// =============================================================================
// CLAIMS
// =============================================================================

// EvaluateRequest is the request body for both preview and submission.
type EvaluateRequest struct {
	PetID       string `json:"pet_id" validate:"required"`
	ProcedureID string `json:"procedure_id" validate:"required"`
	UnitID      string `json:"unit_id"`
	AsOf        string `json:"as_of" validate:"omitempty,date"` // default today
}

// DecisionDTO represents a claim decision.
type DecisionDTO struct {
	Allowed         bool     `json:"allowed"`
	Reason          string   `json:"reason"`
	Message         string   `json:"message"`
	Gross           MoneyDTO `json:"gross"`
	PayerValue      MoneyDTO `json:"payer_value"`
	Coparticipation MoneyDTO `json:"coparticipation"`

	// nil when the rule has no annual cap
	RemainingAnnualUses *int `json:"remaining_annual_uses"`
	AnnualLimit         int  `json:"annual_limit"`

	PetID        string `json:"pet_id"`
	ProcedureID  string `json:"procedure_id"`
	PlanID       string `json:"plan_id"`
	MembershipID string `json:"membership_id,omitempty"`
	AsOf         string `json:"as_of"`
	EligibleOn   string `json:"eligible_on,omitempty"`
}

// ClaimDTO represents a stored claim.
type ClaimDTO struct {
	ID           string      `json:"id"`
	PetID        string      `json:"pet_id"`
	ProcedureID  string      `json:"procedure_id"`
	PlanID       string      `json:"plan_id"`
	UnitID       string      `json:"unit_id,omitempty"`
	MembershipID string      `json:"membership_id"`
	RequestedAt  string      `json:"requested_at"`
	Status       string      `json:"status"`
	UsageCount   int         `json:"usage_count"`
	Decision     DecisionDTO `json:"decision"`
	CreatedAt    time.Time   `json:"created_at"`
}

// =============================================================================
// USAGE
// =============================================================================

// UsageRecordDTO is one usage counter.
type UsageRecordDTO struct {
	ProcedureID string    `json:"procedure_id"`
	PlanID      string    `json:"plan_id"`
	Count       int       `json:"count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UsageDTO is a pet's usage for one calendar year.
type UsageDTO struct {
	PetID   string           `json:"pet_id"`
	Year    int              `json:"year"`
	Records []UsageRecordDTO `json:"records"`
}

// =============================================================================
// SCENARIOS & ERRORS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"` // "waiting", "limits" or "plans"
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toMoneyDTO(m benefit.Money) MoneyDTO {
	return MoneyDTO{Amount: factory.FormatMoney(m), Cents: m.Int64()}
}

func toPlanDTO(p benefit.Plan) PlanDTO {
	return PlanDTO{ID: string(p.ID), Name: p.Name, Type: string(p.Type), Active: p.Active}
}

func toProcedureDTO(p benefit.Procedure) ProcedureDTO {
	return ProcedureDTO{ID: string(p.ID), Name: p.Name, Category: p.Category, Active: p.Active}
}

func toCoverageRuleDTO(r benefit.CoverageRule) CoverageRuleDTO {
	return CoverageRuleDTO{
		PlanID:            string(r.PlanID),
		ProcedureID:       string(r.ProcedureID),
		Included:          r.IsIncluded,
		GrossPrice:        toMoneyDTO(r.GrossPrice),
		PayerValue:        toMoneyDTO(r.PayerValue),
		Coparticipation:   toMoneyDTO(r.Coparticipation),
		WaitingPeriodDays: r.WaitingPeriodDays,
		AnnualLimit:       r.AnnualLimit,
	}
}

func toPetDTO(p sqlite.Pet) PetDTO {
	return PetDTO{ID: string(p.ID), Name: p.Name, Species: p.Species, OwnerName: p.OwnerName, CreatedAt: p.CreatedAt}
}

func toMembershipDTO(m benefit.Membership) MembershipDTO {
	dto := MembershipDTO{
		ID:            string(m.ID),
		PetID:         string(m.PetID),
		PlanID:        string(m.PlanID),
		CoverageStart: m.CoverageStart.String(),
	}
	if m.CoverageEnd != nil {
		end := m.CoverageEnd.String()
		dto.CoverageEnd = &end
	}
	return dto
}

func toDecisionDTO(d benefit.ClaimDecision, membership benefit.MembershipID) DecisionDTO {
	dto := DecisionDTO{
		Allowed:         d.Allowed,
		Reason:          string(d.Reason),
		Message:         claims.Message(d),
		Gross:           toMoneyDTO(d.Gross),
		PayerValue:      toMoneyDTO(d.PayerValue),
		Coparticipation: toMoneyDTO(d.Coparticipation),
		AnnualLimit:     d.AnnualLimit,
		PetID:           string(d.PetID),
		ProcedureID:     string(d.ProcedureID),
		PlanID:          string(d.PlanID),
		MembershipID:    string(membership),
		AsOf:            d.AsOf.String(),
	}
	if !d.RemainingAnnualUses.IsUnlimited() {
		n := int(d.RemainingAnnualUses)
		dto.RemainingAnnualUses = &n
	}
	if !d.EligibleOn.IsZero() {
		dto.EligibleOn = d.EligibleOn.String()
	}
	return dto
}

func toClaimDTO(c claims.Claim) ClaimDTO {
	return ClaimDTO{
		ID:           c.ID,
		PetID:        string(c.PetID),
		ProcedureID:  string(c.ProcedureID),
		PlanID:       string(c.PlanID),
		UnitID:       string(c.UnitID),
		MembershipID: string(c.MembershipID),
		RequestedAt:  c.RequestedAt.String(),
		Status:       string(c.Status),
		UsageCount:   c.UsageCount,
		Decision:     toDecisionDTO(c.Decision, c.MembershipID),
		CreatedAt:    c.CreatedAt,
	}
}

func toUsageDTO(pet benefit.PetID, year int, records []benefit.UsageRecord) UsageDTO {
	dto := UsageDTO{PetID: string(pet), Year: year, Records: make([]UsageRecordDTO, 0, len(records))}
	for _, r := range records {
		dto.Records = append(dto.Records, UsageRecordDTO{
			ProcedureID: string(r.Key.ProcedureID),
			PlanID:      string(r.Key.PlanID),
			Count:       r.Count,
			UpdatedAt:   r.UpdatedAt,
		})
	}
	return dto
}
