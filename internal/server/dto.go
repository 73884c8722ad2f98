package server

import (
	"cadreline/internal/domain"
)

// Request payloads

type CreateUnitRequest struct {
	Name      string          `json:"name"`
	Code      string          `json:"code,omitempty"`
	Type      domain.UnitType `json:"type,omitempty" enum:"BRANCH,DEPARTMENT,TEAM,DIVISION,OFFICE"`
	ParentID  string          `json:"parent_id,omitempty"`
	SortOrder *int            `json:"sort_order,omitempty"`
}

type MoveUnitRequest struct {
	// ParentID is the new parent; omit for a root.
	ParentID *string `json:"parent_id,omitempty"`
	Position int     `json:"position,omitempty" default:"-1"`
}

type ReorderUnitsRequest struct {
	ParentID string   `json:"parent_id,omitempty"`
	IDs      []string `json:"ids"`
}

type SetUnitActiveRequest struct {
	Active bool `json:"active"`
}

type PutCadreRequest struct {
	ID        string             `json:"id,omitempty"`
	Code      string             `json:"code"`
	Name      string             `json:"name"`
	Gender    string             `json:"gender,omitempty" enum:"M,F,U"`
	BirthDate string             `json:"birth_date,omitempty" format:"date"`
	Position  string             `json:"position,omitempty"`
	Rank      string             `json:"rank,omitempty"`
	Status    domain.CadreStatus `json:"status,omitempty" enum:"ACTIVE,TRANSFERRED,RETIRED,RESIGNED,SUSPENDED"`
}

type AssignRequest struct {
	CadreID       string      `json:"cadre_id"`
	UnitID        string      `json:"unit_id"`
	Role          domain.Role `json:"role,omitempty" enum:"SECRETARY,COMMITTEE_MEMBER,MEMBER,LEADER,DEPUTY,OTHER"`
	IsPrimary     bool        `json:"is_primary,omitempty"`
	EffectiveFrom string      `json:"effective_from,omitempty" format:"date"`
}

type EndMembershipRequest struct {
	EffectiveTo string `json:"effective_to,omitempty" format:"date"`
}

type TransferRequest struct {
	CadreID    string      `json:"cadre_id"`
	FromUnitID string      `json:"from_unit_id"`
	ToUnitID   string      `json:"to_unit_id"`
	Role       domain.Role `json:"role,omitempty" enum:"SECRETARY,COMMITTEE_MEMBER,MEMBER,LEADER,DEPUTY,OTHER"`
	Effective  string      `json:"effective,omitempty" format:"date"`
}

type CreateConflictRequest struct {
	CadreA   string              `json:"cadre_a"`
	CadreB   string              `json:"cadre_b"`
	Type     domain.ConflictType `json:"type,omitempty" enum:"WORK_CONFLICT,PERSONAL_CONFLICT,OTHER"`
	Severity domain.Severity     `json:"severity,omitempty" enum:"LOW,MEDIUM,HIGH"`
	Note     string              `json:"note,omitempty"`
}

type SetRiskTagRequest struct {
	TagType  domain.RiskTagType `json:"tag_type,omitempty" enum:"B_KEY_PERSON,RELATIONSHIP_BAD,SENSITIVE,OTHER"`
	Severity domain.Severity    `json:"severity,omitempty" enum:"LOW,MEDIUM,HIGH"`
	Reason   string             `json:"reason,omitempty"`
}

type CreatePlanRequest struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type AddMoveRequest struct {
	CadreID    string          `json:"cadre_id"`
	Type       domain.MoveType `json:"type" enum:"ASSIGN,REMOVE,TRANSFER"`
	FromUnitID string          `json:"from_unit_id,omitempty"`
	ToUnitID   string          `json:"to_unit_id,omitempty"`
	Role       domain.Role     `json:"role,omitempty" enum:"SECRETARY,COMMITTEE_MEMBER,MEMBER,LEADER,DEPUTY,OTHER"`
	Reason     string          `json:"reason,omitempty"`
}

type RejectPlanRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type ValidationResponse struct {
	PlanID     string             `json:"plan_id"`
	Valid      bool               `json:"valid"`
	Violations []domain.Violation `json:"violations"`
}

type paginatedPlans struct {
	Items      []domain.Plan `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	ActorID    string         `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Context    map[string]any `json:"context"`
}
