package domain

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"synopsis/pkg/schema"
)

// IntegrityRules returns the constraint checks every commit evaluates before
// any registered policy rule: column constraints (required values and
// lengths), unique names and references.
func IntegrityRules(s *Schema) []Rule {
	return []Rule{newColumnRule(s), uniqueNameRule{schema: s}, referenceRule{schema: s}}
}

// RestrictHostDeleteRule blocks deleting a host that services still reference.
func RestrictHostDeleteRule(s *Schema) Rule {
	return restrictHostDeleteRule{schema: s}
}

type columnRule struct {
	schema   *Schema
	validate *validator.Validate
}

func newColumnRule(s *Schema) columnRule {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return columnRule{schema: s, validate: v}
}

func (columnRule) Name() string { return "column_constraints" }

func (r columnRule) Evaluate(_ context.Context, _ RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Action == ActionDelete {
			continue
		}
		rec, ok := change.After.(Record)
		if !ok {
			continue
		}
		tbl := r.schema.Table(change.Entity)
		if tbl == nil || tbl.Junction {
			continue
		}
		err := r.validate.Struct(rec)
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return Result{}, fmt.Errorf("validate %s %d: %w", change.Entity, rec.RecordID(), err)
		}
		for _, fe := range fieldErrs {
			res.Violations = append(res.Violations, columnViolation(tbl.Name, rec.RecordID(), fe))
		}
	}
	return res, nil
}

func columnViolation(table string, id int64, fe validator.FieldError) Violation {
	v := Violation{
		Rule:     "column_constraints",
		Severity: SeverityBlock,
		Entity:   EntityType(table),
		EntityID: id,
		Column:   fe.Field(),
		Value:    fe.Value(),
	}
	if fe.Tag() == "required" {
		v.Constraint = ConstraintNotNull
		v.Name = schema.ConstraintName(table, fe.Field(), schema.SuffixNotNull)
		v.Message = fmt.Sprintf("NOT NULL constraint failed: %s.%s", table, fe.Field())
		return v
	}
	v.Constraint = ConstraintCheck
	v.Name = schema.ConstraintName(table, fe.Field(), schema.SuffixCheck)
	v.Message = fmt.Sprintf("CHECK constraint failed: %s (%s=%s)", v.Name, fe.Tag(), fe.Param())
	return v
}

type uniqueNameRule struct {
	schema *Schema
}

func (uniqueNameRule) Name() string { return "unique_name" }

func (r uniqueNameRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	res := Result{}
	counts := make(map[EntityType]map[string]int)
	reported := make(map[string]struct{})
	for _, change := range changes {
		if change.Action == ActionDelete {
			continue
		}
		rec, ok := change.After.(Record)
		if !ok {
			continue
		}
		names, ok := counts[change.Entity]
		if !ok {
			names = nameCounts(view, change.Entity)
			counts[change.Entity] = names
		}
		if names[rec.RecordName()] < 2 {
			continue
		}
		key := string(change.Entity) + "\x00" + rec.RecordName()
		if _, dup := reported[key]; dup {
			continue
		}
		reported[key] = struct{}{}
		table := r.schema.Table(change.Entity).Name
		res.Violations = append(res.Violations, Violation{
			Rule:       "unique_name",
			Severity:   SeverityBlock,
			Message:    fmt.Sprintf("UNIQUE constraint failed: %s.name", table),
			Entity:     EntityType(table),
			EntityID:   rec.RecordID(),
			Constraint: ConstraintUnique,
			Name:       schema.ConstraintName(table, "name", schema.SuffixUnique),
			Column:     "name",
			Value:      rec.RecordName(),
		})
	}
	return res, nil
}

func nameCounts(view RuleView, entity EntityType) map[string]int {
	counts := make(map[string]int)
	switch entity {
	case EntityHost:
		for _, r := range view.ListHosts() {
			counts[r.Name]++
		}
	case EntityService:
		for _, r := range view.ListServices() {
			counts[r.Name]++
		}
	case EntityHostGroup:
		for _, r := range view.ListHostGroups() {
			counts[r.Name]++
		}
	case EntityServiceGroup:
		for _, r := range view.ListServiceGroups() {
			counts[r.Name]++
		}
	}
	return counts
}

type referenceRule struct {
	schema *Schema
}

func (referenceRule) Name() string { return "references" }

func (r referenceRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Action == ActionDelete {
			continue
		}
		switch after := change.After.(type) {
		case ServiceRecord:
			if after.HostID == nil {
				continue
			}
			// Only references written by this unit of work are checked.
			if before, ok := change.Before.(ServiceRecord); ok && SameRef(before.HostID, after.HostID) {
				continue
			}
			if _, ok := view.FindHost(*after.HostID); !ok {
				res.Violations = append(res.Violations, r.violation(r.schema.Services.Name, "host_id", after.ID, *after.HostID))
			}
		case Link:
			memberCol, groupCol := r.schema.LinkColumns(change.Entity)
			table := r.schema.Table(change.Entity).Name
			var memberOK, groupOK bool
			if change.Entity == EntityHostMembership {
				_, memberOK = view.FindHost(after.Left)
				_, groupOK = view.FindHostGroup(after.Right)
			} else {
				_, memberOK = view.FindService(after.Left)
				_, groupOK = view.FindServiceGroup(after.Right)
			}
			if !memberOK {
				res.Violations = append(res.Violations, r.violation(table, memberCol, after.Left, after.Left))
			}
			if !groupOK {
				res.Violations = append(res.Violations, r.violation(table, groupCol, after.Left, after.Right))
			}
		}
	}
	return res, nil
}

func (referenceRule) violation(table, column string, id, value int64) Violation {
	return Violation{
		Rule:       "references",
		Severity:   SeverityBlock,
		Message:    fmt.Sprintf("FOREIGN KEY constraint failed: %s.%s = %d", table, column, value),
		Entity:     EntityType(table),
		EntityID:   id,
		Constraint: ConstraintForeignKey,
		Name:       schema.ConstraintName(table, column, schema.SuffixForeignKey),
		Column:     column,
		Value:      value,
	}
}

type restrictHostDeleteRule struct {
	schema *Schema
}

func (restrictHostDeleteRule) Name() string { return "restrict_host_delete" }

func (r restrictHostDeleteRule) Evaluate(_ context.Context, view RuleView, changes []Change) (Result, error) {
	res := Result{}
	deleted := make(map[int64]struct{})
	for _, change := range changes {
		if change.Entity != EntityHost || change.Action != ActionDelete {
			continue
		}
		if host, ok := change.Before.(HostRecord); ok {
			deleted[host.ID] = struct{}{}
		}
	}
	if len(deleted) == 0 {
		return res, nil
	}
	table := r.schema.Services.Name
	for _, svc := range view.ListServices() {
		if svc.HostID == nil {
			continue
		}
		if _, gone := deleted[*svc.HostID]; !gone {
			continue
		}
		res.Violations = append(res.Violations, Violation{
			Rule:       "restrict_host_delete",
			Severity:   SeverityBlock,
			Message:    fmt.Sprintf("FOREIGN KEY constraint failed: service %q references deleted host %d", svc.Name, *svc.HostID),
			Entity:     EntityType(table),
			EntityID:   svc.ID,
			Constraint: ConstraintForeignKey,
			Name:       schema.ConstraintName(table, "host_id", schema.SuffixForeignKey),
			Column:     "host_id",
			Value:      *svc.HostID,
		})
	}
	return res, nil
}
