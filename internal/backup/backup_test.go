package backup

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"synopsis/internal/blob"
	"synopsis/internal/infra/persistence/memory"
	"synopsis/pkg/domain"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.UnitOfWork) error {
		web := &domain.Host{Name: "web", Endpoint: "10.0.0.1"}
		db := &domain.Host{Name: "db", Endpoint: "10.0.0.2"}
		httpd := &domain.Service{Name: "http", Alias: "HTTP", Host: web}
		web.Services = append(web.Services, httpd)
		orphan := &domain.Service{Name: "ping", Alias: "PING"}
		group := &domain.HostGroup{Name: "linux", Hosts: []*domain.Host{web, db}}
		checks := &domain.ServiceGroup{Name: "checks", Services: []*domain.Service{httpd, orphan}}
		return tx.Add(web, db, httpd, orphan, group, checks)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func TestCreateAndRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	logger, _ := logtest.NewNullLogger()
	mgr := NewManager(blob.NewMemory(), "backups/", logger)
	src := seededStore(t)

	info, err := mgr.Create(ctx, src)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.HasPrefix(info.Key, "backups/") || !strings.HasSuffix(info.Key, ".json") {
		t.Fatalf("unexpected key %s", info.Key)
	}
	if info.Metadata["hosts"] != "2" || info.ContentType != contentType {
		t.Fatalf("unexpected info %+v", info)
	}

	dst := memory.NewStore(nil)
	res, err := mgr.Restore(ctx, info.Key, dst)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if res.HasBlocking() {
		t.Fatalf("unexpected blocking violations %+v", res.Violations)
	}

	want, got := src.ExportState(), dst.ExportState()
	if !reflect.DeepEqual(want.Hosts, got.Hosts) || !reflect.DeepEqual(want.Services, got.Services) {
		t.Fatalf("rows differ:\nwant %+v %+v\ngot  %+v %+v", want.Hosts, want.Services, got.Hosts, got.Services)
	}
	if !reflect.DeepEqual(want.HostMemberships, got.HostMemberships) || !reflect.DeepEqual(want.ServiceMemberships, got.ServiceMemberships) {
		t.Fatalf("memberships differ:\nwant %+v %+v\ngot  %+v %+v", want.HostMemberships, want.ServiceMemberships, got.HostMemberships, got.ServiceMemberships)
	}

	// new rows continue after the restored ids
	_, err = dst.RunInTransaction(ctx, func(tx domain.UnitOfWork) error {
		return tx.Add(&domain.Host{Name: "cache", Endpoint: "10.0.0.3"})
	})
	if err != nil {
		t.Fatalf("add after restore: %v", err)
	}
	if hosts := dst.ExportState().Hosts; hosts[len(hosts)-1].ID != 3 {
		t.Fatalf("expected id 3 after restore, got %+v", hosts)
	}
}

func TestRestoreRequiresEmptyStore(t *testing.T) {
	ctx := context.Background()
	mgr := NewManager(blob.NewMemory(), "", nil)
	info, err := mgr.Create(ctx, seededStore(t))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := mgr.Restore(ctx, info.Key, seededStore(t)); !errors.Is(err, ErrStoreNotEmpty) {
		t.Fatalf("expected ErrStoreNotEmpty, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	mgr := NewManager(store, "b/", nil)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		mgr.now = func() time.Time { return at }
		if _, err := mgr.Create(ctx, memory.NewStore(nil)); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, err := store.Put(ctx, "b/notes.txt", strings.NewReader("x"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}

	infos, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 backups, got %d", len(infos))
	}
	if !strings.HasPrefix(infos[0].Key, "b/20240301T140000Z-") || !strings.HasPrefix(infos[2].Key, "b/20240301T120000Z-") {
		t.Fatalf("unexpected order %v", infos)
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	mgr := NewManager(store, "", nil)

	if _, err := mgr.Load(ctx, "missing.json"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Put(ctx, "garbage.json", strings.NewReader("{"), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := mgr.Load(ctx, "garbage.json"); err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := store.Put(ctx, "future.json", strings.NewReader(`{"version": 99}`), blob.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := mgr.Load(ctx, "future.json"); err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestApplyKeepsStoredHostReferences(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.WarnLevel)
	missing := int64(42)
	snap := memory.Snapshot{
		Hosts:              []domain.HostRecord{{ID: 1, Name: "web", Endpoint: "10.0.0.1"}},
		Services:           []domain.ServiceRecord{{ID: 5, HostID: &missing, Name: "http", Alias: "HTTP"}},
		HostGroups:         []domain.GroupRecord{{ID: 2, Name: "linux"}},
		HostMemberships:    []domain.Link{{Left: 1, Right: 2}, {Left: 9, Right: 2}},
		ServiceMemberships: []domain.Link{{Left: 5, Right: 7}},
	}
	store := memory.NewStore(nil)
	if _, err := Apply(context.Background(), store, snap, logger); err != nil {
		t.Fatalf("apply: %v", err)
	}

	got := store.ExportState()
	if len(got.Services) != 1 || got.Services[0].ID != 5 || got.Services[0].HostID == nil || *got.Services[0].HostID != 42 {
		t.Fatalf("expected service 5 to keep host 42, got %+v", got.Services)
	}
	if len(got.HostMemberships) != 1 || got.HostMemberships[0] != (domain.Link{Left: 1, Right: 2}) {
		t.Fatalf("unexpected memberships %+v", got.HostMemberships)
	}
	if len(hook.AllEntries()) != 2 {
		var buf bytes.Buffer
		for _, e := range hook.AllEntries() {
			buf.WriteString(e.Message + "\n")
		}
		t.Fatalf("expected 2 warnings, got:\n%s", buf.String())
	}
}

func TestRestoreKeepsIDHistory(t *testing.T) {
	ctx := context.Background()
	src := memory.NewStore(nil)
	var db *domain.Host
	_, err := src.RunInTransaction(ctx, func(tx domain.UnitOfWork) error {
		web := &domain.Host{Name: "web", Endpoint: "10.0.0.1"}
		db = &domain.Host{Name: "db", Endpoint: "10.0.0.2"}
		db.Services = append(db.Services, &domain.Service{Name: "postgres", Alias: "PG"})
		return tx.Add(web, db)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := src.RunInTransaction(ctx, func(tx domain.UnitOfWork) error { return tx.Delete(db) }); err != nil {
		t.Fatalf("delete host: %v", err)
	}

	mgr := NewManager(blob.NewMemory(), "", nil)
	info, err := mgr.Create(ctx, src)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	dst := memory.NewStore(nil)
	if _, err := mgr.Restore(ctx, info.Key, dst); err != nil {
		t.Fatalf("restore: %v", err)
	}
	services := dst.ExportState().Services
	if len(services) != 1 || services[0].HostID == nil || *services[0].HostID != db.ID {
		t.Fatalf("expected postgres to keep host %d, got %+v", db.ID, services)
	}

	next := &domain.Host{Name: "cache", Endpoint: "10.0.0.3"}
	if _, err := dst.RunInTransaction(ctx, func(tx domain.UnitOfWork) error { return tx.Add(next) }); err != nil {
		t.Fatalf("add after restore: %v", err)
	}
	if next.ID != 3 {
		t.Fatalf("expected retired id 2 to stay retired, got %d", next.ID)
	}
}

func TestApplyRejectsInvalidSnapshot(t *testing.T) {
	snap := memory.Snapshot{Hosts: []domain.HostRecord{
		{ID: 1, Name: "web", Endpoint: "10.0.0.1"},
		{ID: 2, Name: "web", Endpoint: "10.0.0.2"},
	}}
	store := memory.NewStore(nil)
	if _, err := Apply(context.Background(), store, snap, nil); !errors.Is(err, domain.ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if n := store.Count(domain.EntityHost); n != 0 {
		t.Fatalf("expected nothing restored, got %d hosts", n)
	}
}
