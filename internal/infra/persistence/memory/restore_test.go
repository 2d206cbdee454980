package memory

import (
	"context"
	"errors"
	"testing"

	"synopsis/pkg/domain"
)

func TestRestoreKeepsRowsReferencesAndSequences(t *testing.T) {
	ctx := context.Background()
	var flushed domain.ChangeSet
	store := newTestStore(t, WithBackend(flushFunc(func(_ context.Context, cs domain.ChangeSet) error {
		flushed = cs
		return nil
	})))

	snap := Snapshot{
		Hosts:           []domain.HostRecord{{ID: 2, Name: "web", Endpoint: "10.0.0.1"}},
		Services:        []domain.ServiceRecord{{ID: 4, HostID: domain.IDRef(9), Name: "http", Alias: "HTTP"}},
		HostGroups:      []domain.GroupRecord{{ID: 1, Name: "linux"}},
		HostMemberships: []domain.Link{{Left: 2, Right: 1}, {Left: 3, Right: 1}},
		Sequences:       map[domain.EntityType]int64{domain.EntityHost: 10},
	}
	if _, err := store.Restore(ctx, snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	if len(flushed.Changes) != 4 {
		t.Fatalf("expected 4 creates, got %+v", flushed.Changes)
	}
	for _, c := range flushed.Changes {
		if c.Action != domain.ActionCreate {
			t.Fatalf("expected only creates, got %+v", c)
		}
	}
	got := store.ExportState()
	if len(got.Services) != 1 || *got.Services[0].HostID != 9 {
		t.Fatalf("expected service to keep host 9, got %+v", got.Services)
	}
	if len(got.HostMemberships) != 1 {
		t.Fatalf("expected dangling membership dropped, got %+v", got.HostMemberships)
	}

	host := &domain.Host{Name: "db", Endpoint: "10.0.0.2"}
	if _, err := store.RunInTransaction(ctx, func(uow domain.UnitOfWork) error { return uow.Add(host) }); err != nil {
		t.Fatalf("add: %v", err)
	}
	if host.ID != 11 {
		t.Fatalf("expected id 11, got %d", host.ID)
	}

	if _, err := store.Restore(ctx, snap); !errors.Is(err, ErrNotEmpty) {
		t.Fatalf("expected ErrNotEmpty, got %v", err)
	}
}

func TestRestoreRejectsDuplicateNames(t *testing.T) {
	store := newTestStore(t)
	snap := Snapshot{HostGroups: []domain.GroupRecord{{ID: 1, Name: "linux"}, {ID: 2, Name: "linux"}}}
	if _, err := store.Restore(context.Background(), snap); !errors.Is(err, domain.ErrUniqueViolation) {
		t.Fatalf("expected unique violation, got %v", err)
	}
	if n := store.Count(domain.EntityHostGroup); n != 0 {
		t.Fatalf("expected nothing restored, got %d", n)
	}
}
