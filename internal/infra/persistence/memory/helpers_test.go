package memory

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"synopsis/pkg/domain"
)

type flushFunc func(context.Context, domain.ChangeSet) error

func (f flushFunc) Flush(ctx context.Context, cs domain.ChangeSet) error { return f(ctx, cs) }

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// blockNamedRule blocks host groups called name and warns about every other
// new host group.
type blockNamedRule struct{ name string }

func (r blockNamedRule) Name() string { return "block_named" }

func (r blockNamedRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity != domain.EntityHostGroup || c.Action != domain.ActionCreate {
			continue
		}
		g := c.After.(domain.GroupRecord)
		sev := domain.SeverityWarn
		if g.Name == r.name {
			sev = domain.SeverityBlock
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: sev,
			Message:  "host group " + g.Name,
			Entity:   domain.EntityHostGroup,
			EntityID: g.ID,
		})
	}
	return res, nil
}

func seedGroup(t *testing.T, store *Store, group string, hosts ...string) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(uow domain.UnitOfWork) error {
		g := &domain.HostGroup{Name: group}
		for i, name := range hosts {
			g.Hosts = append(g.Hosts, &domain.Host{Name: name, Endpoint: "10.0.0." + string(rune('1'+i))})
		}
		return uow.Add(g)
	})
	if err != nil {
		t.Fatalf("seed group %s: %v", group, err)
	}
}

func seedHostWithServices(t *testing.T, store *Store, host string, services ...string) int64 {
	t.Helper()
	h := &domain.Host{Name: host, Endpoint: host + ".local"}
	for _, name := range services {
		h.Services = append(h.Services, &domain.Service{Name: name, Alias: name})
	}
	_, err := store.RunInTransaction(context.Background(), func(uow domain.UnitOfWork) error {
		return uow.Add(h)
	})
	if err != nil {
		t.Fatalf("seed host %s: %v", host, err)
	}
	return h.ID
}

func mustAdd(t *testing.T, sess *Session, entities ...domain.Entity) {
	t.Helper()
	if err := sess.Add(entities...); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func mustCommit(t *testing.T, ctx context.Context, sess *Session) {
	t.Helper()
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func names(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func sameNames(got []string, want ...string) bool {
	seen := make(map[string]int, len(got))
	for _, n := range got {
		seen[n]++
	}
	for _, n := range want {
		seen[n]--
	}
	for _, c := range seen {
		if c != 0 {
			return false
		}
	}
	return len(got) == len(want)
}
