package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks against commit failures.
var (
	ErrUniqueViolation     = errors.New("unique constraint violation")
	ErrNotNullViolation    = errors.New("not-null constraint violation")
	ErrForeignKeyViolation = errors.New("foreign key constraint violation")
	ErrCheckViolation      = errors.New("check constraint violation")
	ErrNullMembership      = errors.New("null membership")
	ErrUnknownStateCode    = errors.New("unknown state code")
)

// ConstraintKind classifies an integrity constraint.
type ConstraintKind string

// Constraint kinds enforced at commit.
const (
	ConstraintUnique     ConstraintKind = "unique"
	ConstraintNotNull    ConstraintKind = "not_null"
	ConstraintForeignKey ConstraintKind = "foreign_key"
	ConstraintCheck      ConstraintKind = "check"
)

func (k ConstraintKind) sentinel() error {
	switch k {
	case ConstraintUnique:
		return ErrUniqueViolation
	case ConstraintNotNull:
		return ErrNotNullViolation
	case ConstraintForeignKey:
		return ErrForeignKeyViolation
	case ConstraintCheck:
		return ErrCheckViolation
	default:
		return nil
	}
}

// IntegrityError reports the constraint that made a commit fail. Violations
// lists everything found in the same evaluation, the reported one included.
type IntegrityError struct {
	Kind       ConstraintKind
	Constraint string
	Table      string
	Column     string
	Value      any
	Violations []Violation
}

func (e *IntegrityError) Error() string {
	switch e.Kind {
	case ConstraintUnique:
		return fmt.Sprintf("UNIQUE constraint failed: %s.%s", e.Table, e.Column)
	case ConstraintNotNull:
		return fmt.Sprintf("NOT NULL constraint failed: %s.%s", e.Table, e.Column)
	case ConstraintForeignKey:
		return fmt.Sprintf("FOREIGN KEY constraint failed: %s (%s.%s = %v)", e.Constraint, e.Table, e.Column, e.Value)
	default:
		return fmt.Sprintf("CHECK constraint failed: %s", e.Constraint)
	}
}

// Is matches the sentinel of the error's constraint kind.
func (e *IntegrityError) Is(target error) bool {
	sentinel := e.Kind.sentinel()
	return sentinel != nil && target == sentinel
}

// NullMembershipError is raised when a nil member sits in a many-to-many
// collection at commit time.
type NullMembershipError struct {
	Table    EntityType
	ID       int64
	Relation string
}

func (e *NullMembershipError) Error() string {
	return fmt.Sprintf("null member in %s collection of %s %d", e.Relation, e.Table, e.ID)
}

// Is reports ErrNullMembership.
func (e *NullMembershipError) Is(target error) bool {
	return target == ErrNullMembership
}

// ErrNotFound is returned when an operation addresses a missing row by id.
type ErrNotFound struct {
	Entity EntityType
	ID     int64
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}
