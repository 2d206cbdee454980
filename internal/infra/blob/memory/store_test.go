package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"synopsis/internal/blob/core"
)

func TestStoreMissingHeadGet(t *testing.T) {
	store := New()
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if ok, err := store.Delete(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected false delete, got %v %v", ok, err)
	}
}

func TestStoreIsolatesMetadataAndContent(t *testing.T) {
	store := New()
	ctx := context.Background()
	md := map[string]string{"k": "v"}
	data := []byte("payload")
	if _, err := store.Put(ctx, "a", bytes.NewReader(data), core.PutOptions{Metadata: md}); err != nil {
		t.Fatalf("put: %v", err)
	}
	md["k"] = "changed"
	data[0] = 'X'

	info, rc, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if string(body) != "payload" || info.Metadata["k"] != "v" {
		t.Fatalf("stored blob was mutated: %q %+v", body, info.Metadata)
	}
	info.Metadata["k"] = "again"
	head, _ := store.Head(ctx, "a")
	if head.Metadata["k"] != "v" {
		t.Fatalf("returned metadata aliases store state")
	}
	if _, err := store.Put(ctx, "a", bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestStoreListOrdered(t *testing.T) {
	store := New()
	ctx := context.Background()
	for _, k := range []string{"b/2", "a/1", "b/1"} {
		if _, err := store.Put(ctx, k, bytes.NewReader(nil), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "b/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Key != "b/1" || list[1].Key != "b/2" {
		t.Fatalf("unexpected list %+v", list)
	}
	if store.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver")
	}
}
