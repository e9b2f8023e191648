// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package memory

import (
	"context"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
)

func TestNamespace(t *testing.T) {
	ctx := context.Background()
	b := New()

	ns, err := b.Namespace(ctx, "accesstoken")
	if err != nil {
		t.Fatalf("TestNamespace: got err == %s, want err == nil", err)
	}
	other, _ := b.Namespace(ctx, "refreshtoken")

	for k, v := range map[string]string{"a": "1", "b": "2"} {
		if err := ns.Put(ctx, k, v); err != nil {
			t.Fatalf("TestNamespace(Put): got err == %s, want err == nil", err)
		}
	}
	if err := ns.Put(ctx, "a", "3"); err != nil {
		t.Fatalf("TestNamespace(Put): got err == %s, want err == nil", err)
	}
	if err := other.Put(ctx, "a", "other"); err != nil {
		t.Fatalf("TestNamespace(Put): got err == %s, want err == nil", err)
	}

	got, err := ns.GetAll(ctx)
	if err != nil {
		t.Fatalf("TestNamespace(GetAll): got err == %s, want err == nil", err)
	}
	if diff := pretty.Compare(map[string]string{"a": "3", "b": "2"}, got); diff != "" {
		t.Errorf("TestNamespace(GetAll): -want/+got:\n%s", diff)
	}

	if err := ns.Remove(ctx, "b"); err != nil {
		t.Fatalf("TestNamespace(Remove): got err == %s, want err == nil", err)
	}
	if err := ns.Remove(ctx, "missing"); err != nil {
		t.Fatalf("TestNamespace(Remove missing): got err == %s, want err == nil", err)
	}
	got, _ = ns.GetAll(ctx)
	if diff := pretty.Compare(map[string]string{"a": "3"}, got); diff != "" {
		t.Errorf("TestNamespace(Remove): -want/+got:\n%s", diff)
	}

	for i := 0; i < 2; i++ {
		if err := ns.Clear(ctx); err != nil {
			t.Fatalf("TestNamespace(Clear): got err == %s, want err == nil", err)
		}
	}
	got, _ = ns.GetAll(ctx)
	if len(got) != 0 {
		t.Errorf("TestNamespace(Clear): got %v, want empty", got)
	}

	got, _ = other.GetAll(ctx)
	if diff := pretty.Compare(map[string]string{"a": "other"}, got); diff != "" {
		t.Errorf("TestNamespace(other): -want/+got:\n%s", diff)
	}

	again, _ := b.Namespace(ctx, "refreshtoken")
	got, _ = again.GetAll(ctx)
	if len(got) != 1 {
		t.Errorf("TestNamespace: reopening a namespace lost its entries, got %v", got)
	}
}

func TestRetention(t *testing.T) {
	ctx := context.Background()
	b := New(WithRetention(10 * time.Millisecond))
	ns, _ := b.Namespace(ctx, "accesstoken")

	if err := ns.Put(ctx, "a", "1"); err != nil {
		t.Fatalf("TestRetention: got err == %s, want err == nil", err)
	}
	time.Sleep(50 * time.Millisecond)

	got, _ := ns.GetAll(ctx)
	if len(got) != 0 {
		t.Errorf("TestRetention: got %v, want the entry to be dropped", got)
	}

	if err := ns.Put(ctx, "b", "2"); err != nil {
		t.Fatalf("TestRetention: got err == %s, want err == nil", err)
	}
	if n := ns.(*Namespace).items.Len(); n != 1 {
		t.Errorf("TestRetention: got %d items held in memory, want 1", n)
	}
}
