package domain

import "encoding/json"

type UnitType string

const (
	UnitBranch     UnitType = "BRANCH"
	UnitDepartment UnitType = "DEPARTMENT"
	UnitTeam       UnitType = "TEAM"
	UnitDivision   UnitType = "DIVISION"
	UnitOffice     UnitType = "OFFICE"
)

type OrgUnit struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Code      *string  `json:"code,omitempty"`
	Type      UnitType `json:"type" enum:"BRANCH,DEPARTMENT,TEAM,DIVISION,OFFICE"`
	ParentID  *string  `json:"parent_id,omitempty"`
	SortOrder int      `json:"sort_order"`
	Active    bool     `json:"active"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

// UnitNode is an org unit with its nested children, used for tree rendering.
type UnitNode struct {
	OrgUnit
	Children []UnitNode `json:"children,omitempty"`
}

type CadreStatus string

const (
	CadreActive      CadreStatus = "ACTIVE"
	CadreTransferred CadreStatus = "TRANSFERRED"
	CadreRetired     CadreStatus = "RETIRED"
	CadreResigned    CadreStatus = "RESIGNED"
	CadreSuspended   CadreStatus = "SUSPENDED"
)

// Cadre is owned by the roster provider; the workflow only references it by id.
type Cadre struct {
	ID        string      `json:"id"`
	Code      string      `json:"code"`
	Name      string      `json:"name"`
	Gender    string      `json:"gender" enum:"M,F,U"`
	BirthDate *string     `json:"birth_date,omitempty" format:"date"`
	Position  string      `json:"position,omitempty"`
	Rank      string      `json:"rank,omitempty"`
	Status    CadreStatus `json:"status" enum:"ACTIVE,TRANSFERRED,RETIRED,RESIGNED,SUSPENDED"`
	CreatedAt string      `json:"created_at" format:"date-time"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

type Role string

const (
	RoleSecretary       Role = "SECRETARY"
	RoleCommitteeMember Role = "COMMITTEE_MEMBER"
	RoleMember          Role = "MEMBER"
	RoleLeader          Role = "LEADER"
	RoleDeputy          Role = "DEPUTY"
	RoleOther           Role = "OTHER"
)

type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "ACTIVE"
	MembershipInactive MembershipStatus = "INACTIVE"
)

type Membership struct {
	ID        string           `json:"id"`
	CadreID   string           `json:"cadre_id"`
	UnitID    string           `json:"unit_id"`
	Role      Role             `json:"role" enum:"SECRETARY,COMMITTEE_MEMBER,MEMBER,LEADER,DEPUTY,OTHER"`
	IsPrimary bool             `json:"is_primary"`
	StartDate string           `json:"start_date" format:"date"`
	EndDate   *string          `json:"end_date,omitempty" format:"date"`
	Status    MembershipStatus `json:"status" enum:"ACTIVE,INACTIVE"`
	CreatedAt string           `json:"created_at" format:"date-time"`
	UpdatedAt string           `json:"updated_at" format:"date-time"`
}

type ConflictType string

const (
	ConflictWork     ConflictType = "WORK_CONFLICT"
	ConflictPersonal ConflictType = "PERSONAL_CONFLICT"
	ConflictOther    ConflictType = "OTHER"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ConflictPair is stored with CadreA < CadreB.
type ConflictPair struct {
	ID        string       `json:"id"`
	CadreA    string       `json:"cadre_a"`
	CadreB    string       `json:"cadre_b"`
	Type      ConflictType `json:"type" enum:"WORK_CONFLICT,PERSONAL_CONFLICT,OTHER"`
	Severity  Severity     `json:"severity" enum:"LOW,MEDIUM,HIGH"`
	Note      string       `json:"note,omitempty"`
	Active    bool         `json:"active"`
	CreatedAt string       `json:"created_at" format:"date-time"`
	UpdatedAt string       `json:"updated_at" format:"date-time"`
}

// Conflict is a pair seen from one side.
type Conflict struct {
	PairID       string       `json:"pair_id"`
	OtherCadreID string       `json:"other_cadre_id"`
	Type         ConflictType `json:"type"`
	Severity     Severity     `json:"severity"`
}

type RiskTagType string

const (
	RiskKeyPerson       RiskTagType = "B_KEY_PERSON"
	RiskRelationshipBad RiskTagType = "RELATIONSHIP_BAD"
	RiskSensitive       RiskTagType = "SENSITIVE"
	RiskOther           RiskTagType = "OTHER"
)

type RiskTag struct {
	ID        string      `json:"id"`
	CadreID   string      `json:"cadre_id"`
	TagType   RiskTagType `json:"tag_type" enum:"B_KEY_PERSON,RELATIONSHIP_BAD,SENSITIVE,OTHER"`
	Severity  Severity    `json:"severity" enum:"LOW,MEDIUM,HIGH"`
	Reason    string      `json:"reason,omitempty"`
	Active    bool        `json:"active"`
	CreatedAt string      `json:"created_at" format:"date-time"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

type PlanStatus string

const (
	PlanDraft     PlanStatus = "DRAFT"
	PlanSubmitted PlanStatus = "SUBMITTED"
	PlanApproved  PlanStatus = "APPROVED"
	PlanApplied   PlanStatus = "APPLIED"
	PlanRejected  PlanStatus = "REJECTED"
	PlanCanceled  PlanStatus = "CANCELED"
)

// Terminal reports whether no further transition is possible.
func (s PlanStatus) Terminal() bool {
	return s == PlanApplied || s == PlanRejected || s == PlanCanceled
}

type Plan struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       PlanStatus `json:"status" enum:"DRAFT,SUBMITTED,APPROVED,APPLIED,REJECTED,CANCELED"`
	CreatedBy    string     `json:"created_by"`
	ApprovedBy   *string    `json:"approved_by,omitempty"`
	RejectReason string     `json:"reject_reason,omitempty"`
	CreatedAt    string     `json:"created_at" format:"date-time"`
	UpdatedAt    string     `json:"updated_at" format:"date-time"`
	SubmittedAt  *string    `json:"submitted_at,omitempty" format:"date-time"`
	ApprovedAt   *string    `json:"approved_at,omitempty" format:"date-time"`
	RejectedAt   *string    `json:"rejected_at,omitempty" format:"date-time"`
	AppliedAt    *string    `json:"applied_at,omitempty" format:"date-time"`
	CanceledAt   *string    `json:"canceled_at,omitempty" format:"date-time"`
	Moves        []Move     `json:"moves,omitempty"`
}

type MoveType string

const (
	MoveAssign   MoveType = "ASSIGN"
	MoveRemove   MoveType = "REMOVE"
	MoveTransfer MoveType = "TRANSFER"
)

type Move struct {
	ID           string          `json:"id"`
	PlanID       string          `json:"plan_id"`
	Seq          int             `json:"seq"`
	CadreID      string          `json:"cadre_id"`
	FromUnitID   *string         `json:"from_unit_id,omitempty"`
	ToUnitID     *string         `json:"to_unit_id,omitempty"`
	Type         MoveType        `json:"type" enum:"ASSIGN,REMOVE,TRANSFER"`
	Role         Role            `json:"role"`
	Reason       string          `json:"reason,omitempty"`
	RiskSnapshot json.RawMessage `json:"risk_snapshot,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
}

// RiskSnapshot is frozen onto a move when it is staged.
type RiskSnapshot struct {
	RiskTag    *RiskTag           `json:"risk_tag,omitempty"`
	Conflicts  []SnapshotConflict `json:"conflicts"`
	CapturedAt string             `json:"captured_at"`
}

type SnapshotConflict struct {
	CadreID  string       `json:"cadre_id"`
	Type     ConflictType `json:"type"`
	Severity Severity     `json:"severity"`
	// Source is "member" for a current holder of the target unit, "plan" for another staged move.
	Source string `json:"source"`
	MoveID string `json:"move_id,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	ActorID    string `json:"actor_id,omitempty"`
	Action     string `json:"action"`
	TargetType string `json:"target_type"`
	TargetID   string `json:"target_id"`
	Context    string `json:"context_json"`
}

// Ptr returns a pointer to a copy of v.
func Ptr[T any](v T) *T { return &v }
