// Package events carries audit events from committed changes to their sinks.
package events

import (
	"context"
	"sync"
	"time"
)

// Actions emitted by the services.
const (
	ActionPlanCreate       = "plan.create"
	ActionPlanAddMove      = "plan.add_move"
	ActionPlanRemoveMove   = "plan.remove_move"
	ActionPlanValidate     = "plan.validate"
	ActionPlanSubmit       = "plan.submit"
	ActionPlanApprove      = "plan.approve"
	ActionPlanReject       = "plan.reject"
	ActionPlanApply        = "plan.apply"
	ActionPlanCancel       = "plan.cancel"
	ActionMembershipApply  = "membership.applied"
	ActionMembershipAssign = "membership.assign"
	ActionMembershipEnd    = "membership.end"
	ActionMembershipMove   = "membership.transfer"
	ActionMembershipLeader = "membership.set_leader"
	ActionUnitCreate       = "unit.create"
	ActionUnitMove         = "unit.move"
	ActionUnitReorder      = "unit.reorder"
	ActionUnitActivate     = "unit.set_active"
	ActionUnitDelete       = "unit.delete"
	ActionCadrePut         = "cadre.put"
	ActionConflictCreate   = "conflict.create"
	ActionConflictDisable  = "conflict.deactivate"
	ActionRiskTagSet       = "risk_tag.set"
	ActionRiskTagClear     = "risk_tag.clear"
)

type EventPayload map[string]any

type Event struct {
	TS         time.Time
	ActorID    string
	Action     string
	TargetType string
	TargetID   string
	Payload    EventPayload
}

// Emitter receives events after the change they describe has committed.
// Emit never fails from the caller's point of view.
type Emitter interface {
	Emit(ctx context.Context, evt Event)
}

// EmitAll sends evts in order.
func EmitAll(ctx context.Context, em Emitter, evts []Event) {
	if em == nil {
		return
	}
	for _, evt := range evts {
		em.Emit(ctx, evt)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// Memory keeps emitted events in memory.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Emit(_ context.Context, evt Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

// Events returns a copy of everything emitted so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Actions returns the emitted action names in order.
func (m *Memory) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = nil
}
