/*
handlers.go - HTTP API handlers for the benefit adjudication engine

PURPOSE:
  Exposes catalog authoring, memberships and claim adjudication via REST.
  Handles HTTP request/response and JSON serialization, and delegates to
  the claims workflow and the coverage factory.

ENDPOINTS:
  Catalog:
    GET    /api/plans                                  List plans
    POST   /api/plans                                  Create plan
    GET    /api/plans/{id}                             Get plan
    GET    /api/procedures                             List procedures
    POST   /api/procedures                             Create procedure
    GET    /api/plans/{id}/coverage                    Coverage table of a plan
    PUT    /api/plans/{id}/coverage/{procedureID}      Author one coverage rule

  Pets:
    POST   /api/pets                                   Register pet
    GET    /api/pets/{id}                              Get pet
    POST   /api/pets/{id}/memberships                  Enroll in a plan
    GET    /api/pets/{id}/memberships                  List memberships
    GET    /api/pets/{id}/claims                       Claim history
    GET    /api/pets/{id}/usage?year=                  Usage counters for a year

  Claims:
    POST   /api/claims/evaluate                        Preview (no writes)
    POST   /api/claims                                 Adjudicate and record
    GET    /api/claims/{id}                            Get claim

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: SQLite catalog, pets, memberships and claims
  - Catalog: cached read path, invalidated on coverage writes
  - Ledger: usage counters (SQLite, Redis or memory)
  - Claims: the adjudication workflow
  - Coverage: JSON to CoverageRule conversion

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, failed validation
  - 404: Unknown plan, procedure, pet, claim or no membership
  - 409: More than one active membership
  - 422: Contract violation reported by the engine
  - 503: Usage ledger unavailable, safe to retry
  - 500: Internal errors

  Rejected claims are NOT errors: they return 201 with status "rejected".

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/claims"
	"github.com/warp/benefit-engine/factory"
	"github.com/warp/benefit-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Catalog  *benefit.CachedCatalog
	Ledger   *benefit.DefaultLedger
	Claims   *claims.Service
	Coverage *factory.CoverageFactory

	log      *zap.Logger
	validate *validator.Validate
	now      func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// HandlerParams are the handler's dependencies. Log and Now are optional.
type HandlerParams struct {
	Store    *sqlite.Store
	Catalog  *benefit.CachedCatalog
	Ledger   *benefit.DefaultLedger
	Claims   *claims.Service
	Coverage *factory.CoverageFactory
	Log      *zap.Logger
	Now      func() time.Time
}

// NewHandler creates a handler.
func NewHandler(p HandlerParams) *Handler {
	h := &Handler{
		Store:    p.Store,
		Catalog:  p.Catalog,
		Ledger:   p.Ledger,
		Claims:   p.Claims,
		Coverage: p.Coverage,
		log:      p.Log,
		validate: factory.NewValidator(),
		now:      p.Now,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	h.log = h.log.Named("api")
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// =============================================================================
// PLAN ENDPOINTS
// =============================================================================

// ListPlans returns all plans.
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.Store.ListPlans(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list plans", err)
		return
	}

	dtos := make([]PlanDTO, len(plans))
	for i, p := range plans {
		dtos[i] = toPlanDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePlan creates or replaces a plan.
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", details(err))
		return
	}

	plan := benefit.Plan{
		ID:     benefit.PlanID(req.ID),
		Name:   req.Name,
		Type:   benefit.PlanType(req.Type),
		Active: req.Active == nil || *req.Active,
	}
	if err := h.Store.SavePlan(r.Context(), plan); err != nil {
		h.writeServiceError(w, "Failed to save plan", err)
		return
	}
	h.Catalog.InvalidateAll()

	writeJSON(w, http.StatusCreated, toPlanDTO(plan))
}

// GetPlan returns a single plan.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.lookupPlan(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(*plan))
}

// =============================================================================
// PROCEDURE ENDPOINTS
// =============================================================================

// ListProcedures returns all procedures.
func (h *Handler) ListProcedures(w http.ResponseWriter, r *http.Request) {
	procs, err := h.Store.ListProcedures(r.Context())
	if err != nil {
		h.writeServiceError(w, "Failed to list procedures", err)
		return
	}

	dtos := make([]ProcedureDTO, len(procs))
	for i, p := range procs {
		dtos[i] = toProcedureDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProcedure creates or replaces a procedure.
func (h *Handler) CreateProcedure(w http.ResponseWriter, r *http.Request) {
	var req CreateProcedureRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", details(err))
		return
	}

	proc := benefit.Procedure{
		ID:       benefit.ProcedureID(req.ID),
		Name:     req.Name,
		Category: req.Category,
		Active:   req.Active == nil || *req.Active,
	}
	if err := h.Store.SaveProcedure(r.Context(), proc); err != nil {
		h.writeServiceError(w, "Failed to save procedure", err)
		return
	}
	h.Catalog.InvalidateAll()

	writeJSON(w, http.StatusCreated, toProcedureDTO(proc))
}

// =============================================================================
// COVERAGE ENDPOINTS
// =============================================================================

// ListCoverage returns the coverage table of a plan.
func (h *Handler) ListCoverage(w http.ResponseWriter, r *http.Request) {
	plan, ok := h.lookupPlan(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	rules, err := h.Store.ListCoverageRules(r.Context(), plan.ID)
	if err != nil {
		h.writeServiceError(w, "Failed to list coverage", err)
		return
	}

	dtos := make([]CoverageRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toCoverageRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// PutCoverage authors the rule for one plan/procedure pair. Omitted
// coparticipation is derived from the plan type by the factory.
func (h *Handler) PutCoverage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plan, ok := h.lookupPlan(w, r, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	procID := chi.URLParam(r, "procedureID")

	var rj factory.CoverageRuleJSON
	if err := json.NewDecoder(r.Body).Decode(&rj); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if rj.PlanID == "" {
		rj.PlanID = string(plan.ID)
	}
	if rj.ProcedureID == "" {
		rj.ProcedureID = procID
	}
	if rj.ProcedureID != procID {
		writeError(w, http.StatusBadRequest, "procedure_id does not match URL", nil)
		return
	}

	exists, err := h.Store.ProcedureExists(ctx, benefit.ProcedureID(procID))
	if err != nil {
		h.writeServiceError(w, "Failed to load procedure", err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Procedure not found", nil)
		return
	}

	rule, err := h.Coverage.FromJSON(rj, *plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid coverage rule", details(err))
		return
	}
	if err := h.Store.SaveCoverageRule(ctx, rule); err != nil {
		h.writeServiceError(w, "Failed to save coverage rule", err)
		return
	}
	h.Catalog.Invalidate(rule.PlanID, rule.ProcedureID)

	h.log.Info("coverage rule saved",
		zap.String("plan_id", string(rule.PlanID)),
		zap.String("procedure_id", string(rule.ProcedureID)),
		zap.Bool("included", rule.IsIncluded),
		zap.Int64("payer_value_cents", rule.PayerValue.Int64()),
		zap.Int64("coparticipation_cents", rule.Coparticipation.Int64()))

	writeJSON(w, http.StatusOK, toCoverageRuleDTO(rule))
}

// =============================================================================
// PET & MEMBERSHIP ENDPOINTS
// =============================================================================

// CreatePet registers a pet.
func (h *Handler) CreatePet(w http.ResponseWriter, r *http.Request) {
	var req CreatePetRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", details(err))
		return
	}

	pet := sqlite.Pet{ID: benefit.PetID(req.ID), Name: req.Name, Species: req.Species, OwnerName: req.OwnerName}
	if err := h.Store.SavePet(r.Context(), pet); err != nil {
		h.writeServiceError(w, "Failed to save pet", err)
		return
	}

	saved, err := h.Store.GetPet(r.Context(), pet.ID)
	if err != nil || saved == nil {
		h.writeServiceError(w, "Failed to load pet", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPetDTO(*saved))
}

// GetPet returns a single pet.
func (h *Handler) GetPet(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.lookupPet(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toPetDTO(*pet))
}

// CreateMembership enrolls a pet in a plan.
func (h *Handler) CreateMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pet, ok := h.lookupPet(w, r)
	if !ok {
		return
	}

	var req CreateMembershipRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", details(err))
		return
	}
	if _, ok := h.lookupPlan(w, r, req.PlanID); !ok {
		return
	}

	// Validation already proved the dates parse.
	start, _ := benefit.ParseDate(req.CoverageStart)
	m := benefit.Membership{
		ID:            benefit.MembershipID(req.ID),
		PetID:         pet.ID,
		PlanID:        benefit.PlanID(req.PlanID),
		CoverageStart: start,
	}
	if req.CoverageEnd != "" {
		end, _ := benefit.ParseDate(req.CoverageEnd)
		if end.Before(start) {
			writeError(w, http.StatusBadRequest, "coverage_end is before coverage_start", nil)
			return
		}
		m.CoverageEnd = &end
	}
	if m.ID == "" {
		m.ID = benefit.MembershipID(uuid.NewString())
	}

	if err := h.Store.SaveMembership(ctx, m); err != nil {
		h.writeServiceError(w, "Failed to save membership", err)
		return
	}

	h.log.Info("membership saved",
		zap.String("membership_id", string(m.ID)),
		zap.String("pet_id", string(m.PetID)),
		zap.String("plan_id", string(m.PlanID)),
		zap.Stringer("coverage_start", m.CoverageStart))

	writeJSON(w, http.StatusCreated, toMembershipDTO(m))
}

// ListMemberships returns a pet's memberships, oldest first.
func (h *Handler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	pet, ok := h.lookupPet(w, r)
	if !ok {
		return
	}

	list, err := h.Store.GetMembershipsByPet(r.Context(), pet.ID)
	if err != nil {
		h.writeServiceError(w, "Failed to list memberships", err)
		return
	}

	dtos := make([]MembershipDTO, len(list))
	for i, m := range list {
		dtos[i] = toMembershipDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CLAIM ENDPOINTS
// =============================================================================

// EvaluateClaim previews a claim. Nothing is written.
func (h *Handler) EvaluateClaim(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeClaimRequest(w, r)
	if !ok {
		return
	}

	decision, membership, err := h.Claims.Preview(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "Failed to evaluate claim", err)
		return
	}
	writeJSON(w, http.StatusOK, toDecisionDTO(decision, membership.ID))
}

// SubmitClaim adjudicates a claim and records it. Approved claims consume
// one use of the annual limit.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeClaimRequest(w, r)
	if !ok {
		return
	}

	claim, err := h.Claims.Submit(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "Failed to submit claim", err)
		return
	}
	writeJSON(w, http.StatusCreated, toClaimDTO(*claim))
}

// GetClaim returns a stored claim.
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := h.Claims.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, "Failed to load claim", err)
		return
	}
	writeJSON(w, http.StatusOK, toClaimDTO(*claim))
}

// ListPetClaims returns a pet's claims, newest first.
func (h *Handler) ListPetClaims(w http.ResponseWriter, r *http.Request) {
	list, err := h.Claims.ListByPet(r.Context(), benefit.PetID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeServiceError(w, "Failed to list claims", err)
		return
	}

	dtos := make([]ClaimDTO, len(list))
	for i, c := range list {
		dtos[i] = toClaimDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// USAGE ENDPOINTS
// =============================================================================

// GetUsage returns a pet's usage counters for ?year= (default current year).
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	pet := benefit.PetID(chi.URLParam(r, "id"))

	year := h.now().Year()
	if s := r.URL.Query().Get("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid year", s)
			return
		}
		year = y
	}

	records, err := h.Ledger.ListUsage(r.Context(), pet, year)
	if err != nil {
		h.writeServiceError(w, "Failed to list usage", err)
		return
	}
	writeJSON(w, http.StatusOK, toUsageDTO(pet, year, records))
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := h.validate.Struct(dst); err != nil {
		return factory.AsValidationError(err)
	}
	return nil
}

func (h *Handler) decodeClaimRequest(w http.ResponseWriter, r *http.Request) (claims.Request, bool) {
	var req EvaluateRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", details(err))
		return claims.Request{}, false
	}

	out := claims.Request{
		PetID:       benefit.PetID(req.PetID),
		ProcedureID: benefit.ProcedureID(req.ProcedureID),
		UnitID:      benefit.UnitID(req.UnitID),
	}
	if req.AsOf != "" {
		out.AsOf, _ = benefit.ParseDate(req.AsOf)
	}
	return out, true
}

func (h *Handler) lookupPlan(w http.ResponseWriter, r *http.Request, id string) (*benefit.Plan, bool) {
	plan, err := h.Store.GetPlan(r.Context(), benefit.PlanID(id))
	if err != nil {
		h.writeServiceError(w, "Failed to load plan", err)
		return nil, false
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "Plan not found", id)
		return nil, false
	}
	return plan, true
}

func (h *Handler) lookupPet(w http.ResponseWriter, r *http.Request) (*sqlite.Pet, bool) {
	id := chi.URLParam(r, "id")
	pet, err := h.Store.GetPet(r.Context(), benefit.PetID(id))
	if err != nil {
		h.writeServiceError(w, "Failed to load pet", err)
		return nil, false
	}
	if pet == nil {
		writeError(w, http.StatusNotFound, "Pet not found", id)
		return nil, false
	}
	return pet, true
}

// statusFor maps engine and workflow errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, claims.ErrClaimNotFound), benefit.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, benefit.ErrAmbiguousMembership):
		return http.StatusConflict
	case errors.Is(err, claims.ErrMissingPet), errors.Is(err, claims.ErrMissingProc), factory.IsValidation(err):
		return http.StatusBadRequest
	case benefit.IsContractViolation(err):
		return http.StatusUnprocessableEntity
	case benefit.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
		h.log.Warn(message, zap.Error(err))
	case http.StatusInternalServerError:
		h.log.Error(message, zap.Error(err))
	}

	var detail any
	if err != nil {
		detail = err.Error()
	}
	writeError(w, status, message, detail)
}

// details renders field errors as a list, anything else as its message.
func details(err error) any {
	var ve *factory.ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, detail any) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: detail})
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = id
}
