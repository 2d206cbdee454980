package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if err.Error() == "" {
		t.Fatalf("expected error string")
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

var errBoom = errors.New("boom")

type staticRule struct {
	name string
	err  error
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	if r.err != nil {
		return Result{}, r.err
	}
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) ListHosts() []HostRecord                    { return nil }
func (emptyView) ListServices() []ServiceRecord              { return nil }
func (emptyView) ListHostGroups() []GroupRecord              { return nil }
func (emptyView) ListServiceGroups() []GroupRecord           { return nil }
func (emptyView) FindHost(int64) (HostRecord, bool)          { return HostRecord{}, false }
func (emptyView) FindService(int64) (ServiceRecord, bool)    { return ServiceRecord{}, false }
func (emptyView) FindHostGroup(int64) (GroupRecord, bool)    { return GroupRecord{}, false }
func (emptyView) FindServiceGroup(int64) (GroupRecord, bool) { return GroupRecord{}, false }
func (emptyView) HostMemberships() []Link                    { return nil }
func (emptyView) ServiceMemberships() []Link                 { return nil }

func TestRulesEngineEvaluate(t *testing.T) {
	cases := []struct {
		name    string
		rules   []Rule
		want    []string
		wantErr string
	}{
		{name: "empty"},
		{name: "ordered", rules: []Rule{staticRule{name: "a"}, staticRule{name: "b"}}, want: []string{"a", "b"}},
		{name: "error", rules: []Rule{staticRule{name: "a"}, staticRule{name: "broken", err: errBoom}}, wantErr: "rule broken: boom"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := NewRulesEngine()
			for _, r := range tc.rules {
				engine.Register(r)
			}
			res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
			if tc.wantErr != "" {
				if err == nil || err.Error() != tc.wantErr || !errors.Is(err, errBoom) {
					t.Fatalf("expected %q wrapping errBoom, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			var got []string
			for _, v := range res.Violations {
				got = append(got, v.Rule)
			}
			if fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestResultErrPrefersConstraintViolations(t *testing.T) {
	res := Result{Violations: []Violation{
		{Rule: "policy", Severity: SeverityBlock, Message: "blocked"},
		{Rule: "unique_name", Severity: SeverityBlock, Constraint: ConstraintUnique, Entity: EntityHost, Column: "name", Name: "hosts_name_key"},
	}}
	err := res.Err()
	ierr, ok := err.(*IntegrityError)
	if !ok {
		t.Fatalf("expected *IntegrityError, got %T", err)
	}
	if ierr.Constraint != "hosts_name_key" || len(ierr.Violations) != 2 {
		t.Fatalf("unexpected integrity error %+v", ierr)
	}

	policyOnly := Result{Violations: []Violation{{Rule: "policy", Severity: SeverityBlock}}}
	if _, ok := policyOnly.Err().(RuleViolationError); !ok {
		t.Fatalf("expected RuleViolationError, got %T", policyOnly.Err())
	}
	if (Result{Violations: []Violation{{Severity: SeverityWarn}}}).Err() != nil {
		t.Fatalf("warnings must not fail a commit")
	}
}
