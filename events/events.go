/*
Package events publishes claim outcomes to downstream systems.

PURPOSE:
  Billing, reimbursement and notification services react to adjudicated
  claims. The claims workflow emits one Event per persisted claim; the
  engine itself never publishes anything.

EVENT TYPES:
  claim.approved: usage was committed, payer value is owed to the unit
  claim.rejected: not covered, waiting period, or annual limit reached

DELIVERY:
  Best effort. A failed publish is logged by the caller and never rolls
  back a committed claim; consumers reconcile from the claims table.

PUBLISHERS:
  NopPublisher:    events disabled (no AMQP_URL)
  MemoryPublisher: records events, for tests and demos
  AMQPPublisher:   RabbitMQ topic exchange, routing key = event type

SEE ALSO:
  - claims/service.go: Emits events after Submit
*/
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// =============================================================================
// EVENT
// =============================================================================

type Type string

const (
	TypeClaimApproved Type = "claim.approved"
	TypeClaimRejected Type = "claim.rejected"
)

// Event is the wire payload. Money is in cents.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`

	ClaimID     string `json:"claim_id"`
	PetID       string `json:"pet_id"`
	PlanID      string `json:"plan_id"`
	ProcedureID string `json:"procedure_id"`
	UnitID      string `json:"unit_id,omitempty"`

	Reason               string `json:"reason"`
	PayerValueCents      int64  `json:"payer_value_cents"`
	CoparticipationCents int64  `json:"coparticipation_cents"`
	UsageCount           int    `json:"usage_count,omitempty"`
}

// Encode renders the event as JSON.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Publisher sends events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// =============================================================================
// NOP PUBLISHER
// =============================================================================

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// =============================================================================
// MEMORY PUBLISHER
// =============================================================================

// MemoryPublisher keeps every published event in order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error // returned by Publish when set
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
