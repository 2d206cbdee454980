package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"synopsis/internal/infra/persistence/memory"
	"synopsis/pkg/domain"
)

func openStore(t *testing.T, path string, opts ...memory.Option) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), path, domain.NewRulesEngine(), opts...)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorePersistAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store := openStore(t, path)
	if _, err := store.RunInTransaction(ctx, func(uow domain.UnitOfWork) error {
		web := &domain.Host{Name: "Server 1", Endpoint: "127.0.0.1"}
		hub := &domain.Host{Name: "Hub 1", Endpoint: "192.168.0.1"}
		web.Services = append(web.Services, &domain.Service{Name: "http", Alias: "HTTP"})
		return uow.Add(&domain.HostGroup{Name: "Hosts", Hosts: []*domain.Host{web, hub}})
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	_ = store.Close()

	reloaded := openStore(t, path)
	sess := reloaded.Begin(ctx)
	group, ok := sess.FindHostGroup(domain.NameEquals("Hosts"))
	if !ok {
		t.Fatalf("expected host group after reload")
	}
	if got := len(group.Hosts); got != 2 {
		t.Fatalf("expected 2 members, got %d", got)
	}
	for _, h := range group.Hosts {
		if names := h.HostGroupNames(); len(names) != 1 || names[0] != "Hosts" {
			t.Fatalf("unexpected groups for %s: %v", h.Name, names)
		}
	}
	svc, ok := sess.FindService(domain.NameEquals("http"))
	if !ok || svc.Host == nil || svc.Host.Name != "Server 1" {
		t.Fatalf("expected http on Server 1, got %+v", svc)
	}
}

func TestSQLiteStoreCreatesSchemaTables(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	for _, table := range []string{"hosts", "services", "hostgroups", "servicegroups", "hosts_hostgroups", "services_servicegroups", "synopsis_sequences"} {
		var name string
		if err := store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", table).Scan(&name); err != nil {
			t.Fatalf("lookup %s table: %v", table, err)
		}
	}
}

func TestSQLiteStoreEnforcesForeignKeys(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	if _, err := store.DB().Exec("INSERT INTO hosts_hostgroups (hosts_id, hostgroups_id) VALUES (1, 1)"); err == nil {
		t.Fatalf("expected foreign key failure for dangling junction row")
	}
}

func TestSQLiteStoreKeepsSequencesAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store := openStore(t, path)
	sess := store.Begin(ctx)
	a, b := &domain.HostGroup{Name: "a"}, &domain.HostGroup{Name: "b"}
	if err := sess.Add(a, b); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := sess.Delete(b); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	_ = store.Close()

	reloaded := openStore(t, path)
	sess = reloaded.Begin(ctx)
	c := &domain.HostGroup{Name: "c"}
	if err := sess.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if c.ID != 3 {
		t.Fatalf("expected id 3 after restart, got %d", c.ID)
	}
}

func TestSQLiteStoreRejectedCommitLeavesTablesUntouched(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	sess := store.Begin(ctx)
	if err := sess.Add(&domain.Host{Name: "web", Endpoint: "10.0.0.1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := sess.Add(&domain.Host{Name: "web", Endpoint: "10.0.0.2"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.Commit(ctx); !errors.Is(err, domain.ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	var n int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM hosts").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 host row, got %d", n)
	}
}

func TestSQLiteStoreNullifiesServicesOnHostDelete(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"), memory.WithHostDeletePolicy(domain.NullifyServices))
	host := &domain.Host{Name: "web", Endpoint: "10.0.0.1"}
	host.Services = append(host.Services, &domain.Service{Name: "http", Alias: "HTTP"})
	group := &domain.HostGroup{Name: "prod", Hosts: []*domain.Host{host}}
	sess := store.Begin(ctx)
	if err := sess.Add(group); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := sess.Delete(host); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit delete: %v", err)
	}
	var nulls, links int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM services WHERE host_id IS NULL").Scan(&nulls); err != nil {
		t.Fatalf("count services: %v", err)
	}
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM hosts_hostgroups").Scan(&links); err != nil {
		t.Fatalf("count links: %v", err)
	}
	if nulls != 1 || links != 0 {
		t.Fatalf("expected nullified service and no links, got %d/%d", nulls, links)
	}
}

func TestSQLiteStoreSwapsUniqueNames(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	store := openStore(t, path)
	sess := store.Begin(ctx)
	a := &domain.Host{Name: "A", Endpoint: "10.0.0.1"}
	b := &domain.Host{Name: "B", Endpoint: "10.0.0.2"}
	prod := &domain.HostGroup{Name: "prod"}
	edge := &domain.HostGroup{Name: "edge"}
	if err := sess.Add(a, b, prod, edge); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	a.Name, b.Name = "B", "A"
	prod.Name, edge.Name = "edge", "prod"
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("swap commit: %v", err)
	}
	_ = store.Close()

	reloaded := openStore(t, path)
	check := reloaded.Begin(ctx)
	if h, ok := check.HostByID(a.ID); !ok || h.Name != "B" {
		t.Fatalf("expected host %d named B after reload", a.ID)
	}
	if g, ok := check.HostGroupByID(prod.ID); !ok || g.Name != "edge" {
		t.Fatalf("expected group %d named edge after reload", prod.ID)
	}
}

func TestSQLiteStoreReportsDriverConstraintsAsIntegrityErrors(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, filepath.Join(t.TempDir(), "state.db"))
	// written behind the store's back, so only the table knows the name
	if _, err := store.DB().Exec("INSERT INTO hosts (id, name, endpoint) VALUES (90, 'ghost', 'x')"); err != nil {
		t.Fatalf("seed row: %v", err)
	}

	_, err := store.RunInTransaction(ctx, func(uow domain.UnitOfWork) error {
		return uow.Add(&domain.Host{Name: "ghost", Endpoint: "10.0.0.9"})
	})
	if !errors.Is(err, domain.ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	var ierr *domain.IntegrityError
	if !errors.As(err, &ierr) || ierr.Table != "hosts" || ierr.Column != "name" || ierr.Constraint != "hosts_name_key" {
		t.Fatalf("unexpected integrity error %#v", ierr)
	}
}
