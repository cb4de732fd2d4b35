package claims

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/events"
)

// =============================================================================
// SERVICE
// =============================================================================

type ServiceParams struct {
	Adjudicator *benefit.Adjudicator
	Memberships benefit.MembershipStore
	Claims      Store
	Audit       UsageAudit       // optional
	Publisher   events.Publisher // optional, defaults to NopPublisher
	Log         *zap.Logger      // optional
	Now         func() time.Time // optional
}

type Service struct {
	adj         *benefit.Adjudicator
	memberships benefit.MembershipStore
	claims      Store
	audit       UsageAudit
	publisher   events.Publisher
	log         *zap.Logger
	now         func() time.Time
	newID       func() string
	locks       *keyLocks
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		adj:         p.Adjudicator,
		memberships: p.Memberships,
		claims:      p.Claims,
		audit:       p.Audit,
		publisher:   p.Publisher,
		log:         p.Log,
		now:         p.Now,
		newID:       uuid.NewString,
		locks:       newKeyLocks(),
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("claims")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Preview evaluates a request against the pet's current membership.
// Nothing is written.
func (s *Service) Preview(ctx context.Context, req Request) (benefit.ClaimDecision, benefit.Membership, error) {
	req, err := s.normalize(req)
	if err != nil {
		return benefit.ClaimDecision{}, benefit.Membership{}, err
	}

	membership, err := s.resolveMembership(ctx, req)
	if err != nil {
		return benefit.ClaimDecision{}, benefit.Membership{}, err
	}

	decision, err := s.adj.Evaluate(ctx, evaluateInput(req, membership))
	if err != nil {
		return benefit.ClaimDecision{}, membership, err
	}
	return decision, membership, nil
}

// Submit adjudicates a request, commits usage when approved and stores
// the claim. Rejections are stored too.
//
// Evaluate and Commit run under a lock per pet, procedure and year, so two
// submissions racing for the last use cannot both be approved.
func (s *Service) Submit(ctx context.Context, req Request) (*Claim, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	claim, err := s.adjudicate(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.claims.SaveClaim(ctx, claim); err != nil {
		s.log.Error("claim not saved",
			zap.String("claim_id", claim.ID),
			zap.String("status", string(claim.Status)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to save claim: %w", err)
	}

	s.log.Info("claim adjudicated",
		zap.String("claim_id", claim.ID),
		zap.String("pet_id", string(claim.PetID)),
		zap.String("plan_id", string(claim.PlanID)),
		zap.String("procedure_id", string(claim.ProcedureID)),
		zap.String("reason", string(claim.Decision.Reason)),
		zap.Int("usage_count", claim.UsageCount))

	s.publish(ctx, claim)
	return &claim, nil
}

// Get returns a stored claim.
func (s *Service) Get(ctx context.Context, id string) (*Claim, error) {
	c, err := s.claims.GetClaim(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrClaimNotFound, id)
	}
	return c, nil
}

// ListByPet returns a pet's claims, newest first.
func (s *Service) ListByPet(ctx context.Context, pet benefit.PetID) ([]Claim, error) {
	return s.claims.ListClaimsByPet(ctx, pet)
}

// adjudicate evaluates and, when approved, commits while holding the
// request's submission lock.
func (s *Service) adjudicate(ctx context.Context, req Request) (Claim, error) {
	release := s.locks.lock(scopeOf(req))
	defer release()

	decision, membership, err := s.Preview(ctx, req)
	if err != nil {
		s.log.Warn("claim not adjudicated",
			zap.String("pet_id", string(req.PetID)),
			zap.String("procedure_id", string(req.ProcedureID)),
			zap.Error(err))
		return Claim{}, err
	}

	claim := Claim{
		ID:           s.newID(),
		PetID:        decision.PetID,
		ProcedureID:  decision.ProcedureID,
		PlanID:       decision.PlanID,
		UnitID:       req.UnitID,
		MembershipID: membership.ID,
		RequestedAt:  decision.AsOf,
		Decision:     decision,
		Status:       StatusRejected,
		CreatedAt:    s.now().UTC(),
	}
	if !decision.Allowed {
		return claim, nil
	}

	count, err := s.adj.CommitDecision(ctx, decision)
	if err != nil {
		s.log.Error("usage commit failed",
			zap.String("claim_id", claim.ID),
			zap.Stringer("usage_key", decision.UsageKey()),
			zap.Error(err))
		return Claim{}, err
	}
	claim.Status = StatusApproved
	claim.UsageCount = count
	s.appendAudit(ctx, claim)
	return claim, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) normalize(req Request) (Request, error) {
	if req.PetID == "" {
		return req, ErrMissingPet
	}
	if req.ProcedureID == "" {
		return req, ErrMissingProc
	}
	if req.AsOf.IsZero() {
		req.AsOf = benefit.DateOf(s.now())
	}
	return req, nil
}

func (s *Service) resolveMembership(ctx context.Context, req Request) (benefit.Membership, error) {
	list, err := s.memberships.GetMembershipsByPet(ctx, req.PetID)
	if err != nil {
		return benefit.Membership{}, fmt.Errorf("failed to load memberships: %w", err)
	}
	return benefit.ResolveActive(list, req.AsOf)
}

func evaluateInput(req Request, m benefit.Membership) benefit.EvaluateInput {
	return benefit.EvaluateInput{
		PetID:           req.PetID,
		ProcedureID:     req.ProcedureID,
		PlanID:          m.PlanID,
		MembershipStart: m.CoverageStart,
		AsOf:            req.AsOf,
	}
}

func (s *Service) appendAudit(ctx context.Context, c Claim) {
	if s.audit == nil {
		return
	}
	e := UsageEvent{
		ID:         s.newID(),
		Key:        c.Decision.UsageKey(),
		ClaimID:    c.ID,
		CountAfter: c.UsageCount,
		At:         c.CreatedAt,
	}
	if err := s.audit.AppendUsageEvent(ctx, e); err != nil {
		s.log.Error("usage event not recorded",
			zap.String("claim_id", c.ID),
			zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, c Claim) {
	e := events.Event{
		ID:                   s.newID(),
		Type:                 events.TypeClaimRejected,
		OccurredAt:           c.CreatedAt,
		ClaimID:              c.ID,
		PetID:                string(c.PetID),
		PlanID:               string(c.PlanID),
		ProcedureID:          string(c.ProcedureID),
		UnitID:               string(c.UnitID),
		Reason:               string(c.Decision.Reason),
		PayerValueCents:      c.Decision.PayerValue.Int64(),
		CoparticipationCents: c.Decision.Coparticipation.Int64(),
		UsageCount:           c.UsageCount,
	}
	if c.Status == StatusApproved {
		e.Type = events.TypeClaimApproved
	}

	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log.Warn("claim event not published",
			zap.String("claim_id", c.ID),
			zap.String("event_type", string(e.Type)),
			zap.Error(err))
	}
}
