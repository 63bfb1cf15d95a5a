package memory

import (
	"context"
	"testing"
)

func TestStoreRoundTripAndOverwrite(t *testing.T) {
	t.Parallel()

	store := New()
	ctx := context.Background()

	if _, found, err := store.Get(ctx, "m:example.com", "/a"); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}
	if err := store.Set(ctx, "m:example.com", "/a", "first"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "m:example.com", "/a", "second"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	v, found, err := store.Get(ctx, "m:example.com", "/a")
	if err != nil || !found || v != "second" {
		t.Fatalf("Get() = %q, %v, %v; want second, true, nil", v, found, err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", store.Len())
	}
	if got := store.Fields("m:example.com"); got["/a"] != "second" {
		t.Fatalf("unexpected fields %v", got)
	}
}
