// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package redis provides a cache.Backend on Redis. Each namespace is one Redis hash, so several
// processes can share a token cache.
package redis

import (
	"context"
	"fmt"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"github.com/redis/go-redis/v9"
)

// DefaultPrefix is put in front of every hash name.
const DefaultPrefix = "devicegrant"

// Client is the subset of redis.Cmdable the backend uses. *redis.Client, *redis.ClusterClient
// and *redis.Ring satisfy it.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Backend stores namespaces as Redis hashes.
type Backend struct {
	client Client
	prefix string
}

// Option is an optional argument to New.
type Option func(b *Backend)

// WithPrefix sets the prefix of the hash names.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// New is the constructor for Backend.
func New(client Client, opts ...Option) *Backend {
	b := &Backend{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Namespace implements cache.Backend.Namespace(). It pings the server.
func (b *Backend) Namespace(ctx context.Context, name string) (cache.Namespace, error) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: failed to reach server: %w", err)
	}
	return &Namespace{client: b.client, key: fmt.Sprintf("%s:%s", b.prefix, name)}, nil
}

// Namespace is a cache.Namespace stored in one Redis hash.
type Namespace struct {
	client Client
	key    string
}

// Put implements cache.Namespace.Put().
func (n *Namespace) Put(ctx context.Context, key, value string) error {
	if err := n.client.HSet(ctx, n.key, key, value).Err(); err != nil {
		return fmt.Errorf("redis cache: failed to set %s in %s: %w", key, n.key, err)
	}
	return nil
}

// GetAll implements cache.Namespace.GetAll().
func (n *Namespace) GetAll(ctx context.Context) (map[string]string, error) {
	m, err := n.client.HGetAll(ctx, n.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis cache: failed to read %s: %w", n.key, err)
	}
	return m, nil
}

// Remove implements cache.Namespace.Remove().
func (n *Namespace) Remove(ctx context.Context, key string) error {
	if err := n.client.HDel(ctx, n.key, key).Err(); err != nil {
		return fmt.Errorf("redis cache: failed to delete %s from %s: %w", key, n.key, err)
	}
	return nil
}

// Clear implements cache.Namespace.Clear().
func (n *Namespace) Clear(ctx context.Context) error {
	if err := n.client.Del(ctx, n.key).Err(); err != nil {
		return fmt.Errorf("redis cache: failed to delete %s: %w", n.key, err)
	}
	return nil
}
