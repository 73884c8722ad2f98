package domain

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Sentinels identify error kinds; use errors.Is against these and errors.As for details.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrCycle              = errors.New("hierarchy cycle")
	ErrInvalidSiblingSet  = errors.New("invalid sibling set")
	ErrHasChildren        = errors.New("unit has children")
	ErrHasActiveMembers   = errors.New("unit has active members")
	ErrDuplicateCode      = errors.New("duplicate code")
	ErrPrimaryConflict    = errors.New("primary membership conflict")
	ErrMembershipNotFound = errors.New("membership not found")
	ErrSelfConflict       = errors.New("self conflict")
	ErrDuplicatePair      = errors.New("duplicate conflict pair")
	ErrPlanNotEditable    = errors.New("plan not editable")
	ErrValidationFailed   = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrUnknownCadre       = errors.New("unknown cadre")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrMoveApply          = errors.New("move apply failed")
)

type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// CycleError is returned when a move would place a unit under itself or one of its descendants.
type CycleError struct {
	UnitID   string
	ParentID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("moving unit %s under %s would create a cycle", e.UnitID, e.ParentID)
}

func (e *CycleError) Is(target error) bool { return target == ErrCycle }

type InvalidSiblingSetError struct {
	ParentID  string
	Offending []string
}

func (e *InvalidSiblingSetError) Error() string {
	parent := e.ParentID
	if parent == "" {
		parent = "<root>"
	}
	return fmt.Sprintf("ids are not a sibling set of %s: %s", parent, strings.Join(e.Offending, ","))
}

func (e *InvalidSiblingSetError) Is(target error) bool { return target == ErrInvalidSiblingSet }

type HasChildrenError struct {
	UnitID   string
	Children int
}

func (e *HasChildrenError) Error() string {
	return fmt.Sprintf("unit %s has %d child units", e.UnitID, e.Children)
}

func (e *HasChildrenError) Is(target error) bool { return target == ErrHasChildren }

type HasActiveMembersError struct {
	UnitID  string
	Members int
}

func (e *HasActiveMembersError) Error() string {
	return fmt.Sprintf("unit %s has %d active memberships", e.UnitID, e.Members)
}

func (e *HasActiveMembersError) Is(target error) bool { return target == ErrHasActiveMembers }

type DuplicateCodeError struct {
	Kind string
	Code string
}

func (e *DuplicateCodeError) Error() string {
	return fmt.Sprintf("%s code %q already in use", e.Kind, e.Code)
}

func (e *DuplicateCodeError) Is(target error) bool { return target == ErrDuplicateCode }

// PrimaryConflictError reports an existing active primary membership at another unit.
type PrimaryConflictError struct {
	CadreID              string
	ExistingMembershipID string
	ExistingUnitID       string
}

func (e *PrimaryConflictError) Error() string {
	return fmt.Sprintf("cadre %s already holds active primary membership %s at unit %s",
		e.CadreID, e.ExistingMembershipID, e.ExistingUnitID)
}

func (e *PrimaryConflictError) Is(target error) bool { return target == ErrPrimaryConflict }

type MembershipNotFoundError struct {
	CadreID string
	UnitID  string
}

func (e *MembershipNotFoundError) Error() string {
	return fmt.Sprintf("cadre %s has no active primary membership at unit %s", e.CadreID, e.UnitID)
}

func (e *MembershipNotFoundError) Is(target error) bool {
	return target == ErrMembershipNotFound || target == ErrNotFound
}

type SelfConflictError struct {
	CadreID string
}

func (e *SelfConflictError) Error() string {
	return fmt.Sprintf("cadre %s cannot conflict with itself", e.CadreID)
}

func (e *SelfConflictError) Is(target error) bool { return target == ErrSelfConflict }

type DuplicatePairError struct {
	CadreA string
	CadreB string
	PairID string
}

func (e *DuplicatePairError) Error() string {
	return fmt.Sprintf("conflict pair %s/%s already registered as %s", e.CadreA, e.CadreB, e.PairID)
}

func (e *DuplicatePairError) Is(target error) bool { return target == ErrDuplicatePair }

type PlanNotEditableError struct {
	PlanID string
	Status PlanStatus
}

func (e *PlanNotEditableError) Error() string {
	return fmt.Sprintf("plan %s is %s and cannot be edited", e.PlanID, e.Status)
}

func (e *PlanNotEditableError) Is(target error) bool { return target == ErrPlanNotEditable }

// InvalidTransitionError is returned for an operation outside the plan state graph.
// A submit attempt outside DRAFT also matches ErrPlanNotEditable.
type InvalidTransitionError struct {
	PlanID    string
	From      PlanStatus
	Attempted PlanStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid plan transition %s -> %s", e.From, e.Attempted)
}

func (e *InvalidTransitionError) Is(target error) bool {
	if target == ErrInvalidTransition {
		return true
	}
	return target == ErrPlanNotEditable && e.Attempted == PlanSubmitted
}

type UnknownCadreError struct {
	CadreID string
}

func (e *UnknownCadreError) Error() string { return fmt.Sprintf("unknown cadre %s", e.CadreID) }

func (e *UnknownCadreError) Is(target error) bool { return target == ErrUnknownCadre }

type StorageUnavailableError struct {
	Op  string
	Err error
}

func (e *StorageUnavailableError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("storage unavailable: %v", e.Err)
	}
	return fmt.Sprintf("storage unavailable during %s: %v", e.Op, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Err }

func (e *StorageUnavailableError) Is(target error) bool { return target == ErrStorageUnavailable }

// Violation is one failed check against one staged move.
type Violation struct {
	MoveID  string `json:"move_id"`
	Seq     int    `json:"seq"`
	CadreID string `json:"cadre_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	ViolationUnknownCadre         = "unknown_cadre"
	ViolationCadreInactive        = "cadre_inactive"
	ViolationMoveShape            = "invalid_move_shape"
	ViolationUnitNotFound         = "unit_not_found"
	ViolationUnitInactive         = "unit_inactive"
	ViolationFromUnitMismatch     = "from_unit_mismatch"
	ViolationNoActiveMembership   = "no_active_membership"
	ViolationPrimaryConflict      = "primary_conflict"
	ViolationDuplicatePrimary     = "duplicate_primary"
	ViolationHighSeverityConflict = "high_severity_conflict"
)

type ValidationFailedError struct {
	PlanID     string
	Violations []Violation
}

func (e *ValidationFailedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("move %d (%s): %s", v.Seq, v.MoveID, v.Message))
	}
	return fmt.Sprintf("plan %s failed validation: %s", e.PlanID, strings.Join(msgs, "; "))
}

func (e *ValidationFailedError) Is(target error) bool { return target == ErrValidationFailed }

// MoveApplyError names the move that aborted an apply batch.
type MoveApplyError struct {
	PlanID string
	MoveID string
	Seq    int
	Err    error
}

func (e *MoveApplyError) Error() string {
	return fmt.Sprintf("apply plan %s: move %d (%s): %v", e.PlanID, e.Seq, e.MoveID, e.Err)
}

func (e *MoveApplyError) Unwrap() error { return e.Err }

func (e *MoveApplyError) Is(target error) bool { return target == ErrMoveApply }
