// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package memory provides an in-process cache.Backend. Data is lost when the process exits.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"github.com/jellydator/ttlcache/v3"
)

// Backend keeps namespaces in memory. Opening the same name twice returns the same Namespace.
type Backend struct {
	retention time.Duration

	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// Option is an optional argument to New.
type Option func(b *Backend)

// WithRetention drops entries d after they were last written. Expired entries are hidden from
// reads at once and released by the next write to the namespace. By default entries are kept
// until they are removed. This does not replace expiry checks on tokens.
func WithRetention(d time.Duration) Option {
	return func(b *Backend) {
		b.retention = d
	}
}

// New is the constructor for Backend.
func New(opts ...Option) *Backend {
	b := &Backend{namespaces: map[string]*Namespace{}}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Namespace implements cache.Backend.Namespace().
func (b *Backend) Namespace(ctx context.Context, name string) (cache.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ns, ok := b.namespaces[name]; ok {
		return ns, nil
	}
	ttl := ttlcache.NoTTL
	if b.retention > 0 {
		ttl = b.retention
	}
	ns := &Namespace{
		items: ttlcache.New[string, string](
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithDisableTouchOnHit[string, string](),
		),
	}
	b.namespaces[name] = ns
	return ns, nil
}

// Namespace is a cache.Namespace held in memory.
type Namespace struct {
	items *ttlcache.Cache[string, string]
}

// Put implements cache.Namespace.Put(). Entries past their retention are dropped on every Put.
func (n *Namespace) Put(ctx context.Context, key, value string) error {
	n.items.DeleteExpired()
	n.items.Set(key, value, ttlcache.DefaultTTL)
	return nil
}

// GetAll implements cache.Namespace.GetAll().
func (n *Namespace) GetAll(ctx context.Context) (map[string]string, error) {
	m := map[string]string{}
	for k, item := range n.items.Items() {
		if item.IsExpired() {
			continue
		}
		m[k] = item.Value()
	}
	return m, nil
}

// Remove implements cache.Namespace.Remove().
func (n *Namespace) Remove(ctx context.Context, key string) error {
	n.items.Delete(key)
	return nil
}

// Clear implements cache.Namespace.Clear().
func (n *Namespace) Clear(ctx context.Context) error {
	n.items.DeleteAll()
	return nil
}
