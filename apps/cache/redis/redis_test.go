// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/redis/go-redis/v9"
)

// fakeClient keeps hashes in memory.
type fakeClient struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	pingErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{hashes: map[string]map[string]string{}}
}

func (f *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	if f.pingErr != nil {
		return redis.NewStatusResult("", f.pingErr)
	}
	return redis.NewStatusResult("PONG", nil)
}

func (f *fakeClient) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(values)%2 != 0 {
		return redis.NewIntResult(0, errors.New("wrong number of arguments"))
	}
	h, ok := f.hashes[key]
	if !ok {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i < len(values); i += 2 {
		h[fmt.Sprint(values[i])] = fmt.Sprint(values[i+1])
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeClient) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := map[string]string{}
	for k, v := range f.hashes[key] {
		m[k] = v
	}
	return redis.NewMapStringStringResult(m, nil)
}

func (f *fakeClient) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, field := range fields {
		if _, ok := f.hashes[key][field]; ok {
			delete(f.hashes[key], field)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, key := range keys {
		if _, ok := f.hashes[key]; ok {
			delete(f.hashes, key)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestNamespace(t *testing.T) {
	ctx := context.Background()
	client := newFakeClient()
	b := New(client, WithPrefix("test"))

	ns, err := b.Namespace(ctx, "accesstoken")
	if err != nil {
		t.Fatalf("TestNamespace: got err == %s, want err == nil", err)
	}
	other, _ := b.Namespace(ctx, "account")

	for k, v := range map[string]string{"a": "1", "b": "2"} {
		if err := ns.Put(ctx, k, v); err != nil {
			t.Fatalf("TestNamespace(Put): got err == %s, want err == nil", err)
		}
	}
	if err := other.Put(ctx, "a", "other"); err != nil {
		t.Fatalf("TestNamespace(Put): got err == %s, want err == nil", err)
	}
	if _, ok := client.hashes["test:accesstoken"]; !ok {
		t.Errorf("TestNamespace: hash test:accesstoken was not written, have %v", client.hashes)
	}

	got, err := ns.GetAll(ctx)
	if err != nil {
		t.Fatalf("TestNamespace(GetAll): got err == %s, want err == nil", err)
	}
	if diff := pretty.Compare(map[string]string{"a": "1", "b": "2"}, got); diff != "" {
		t.Errorf("TestNamespace(GetAll): -want/+got:\n%s", diff)
	}

	if err := ns.Remove(ctx, "a"); err != nil {
		t.Fatalf("TestNamespace(Remove): got err == %s, want err == nil", err)
	}
	got, _ = ns.GetAll(ctx)
	if diff := pretty.Compare(map[string]string{"b": "2"}, got); diff != "" {
		t.Errorf("TestNamespace(Remove): -want/+got:\n%s", diff)
	}

	for i := 0; i < 2; i++ {
		if err := ns.Clear(ctx); err != nil {
			t.Fatalf("TestNamespace(Clear): got err == %s, want err == nil", err)
		}
	}
	if got, _ := ns.GetAll(ctx); len(got) != 0 {
		t.Errorf("TestNamespace(Clear): got %v, want empty", got)
	}
	if got, _ := other.GetAll(ctx); len(got) != 1 {
		t.Errorf("TestNamespace(Clear): clearing one namespace changed another, got %v", got)
	}
}

func TestUnreachableServer(t *testing.T) {
	client := newFakeClient()
	client.pingErr = errors.New("connection refused")

	if _, err := New(client).Namespace(context.Background(), "account"); err == nil {
		t.Errorf("TestUnreachableServer: got err == nil, want err != nil")
	}
}
