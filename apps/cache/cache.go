// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package cache allows third parties to implement external storage for caching token data
for distributed systems or multiple local applications access.

The token cache keeps each entity type (access tokens, refresh tokens, ID tokens and accounts)
in its own Namespace. A Namespace is a flat map of string keys to string values. Values are
self-describing serialized entries; implementers must store them byte for byte and must not
try to interpret them.

Implementations for several storage media live in the sub-packages of this package.
*/
package cache

import "context"

// Namespace is one key/value partition of a Backend. It holds the entries of a single entity type.
// Implementations must be safe for concurrent use.
type Namespace interface {
	// Put stores value at key, replacing any value there. Put must either persist the value
	// completely or return an error.
	Put(ctx context.Context, key, value string) error
	// GetAll returns every key/value pair in the namespace. Order is not significant.
	GetAll(ctx context.Context) (map[string]string, error)
	// Remove deletes key. Removing a key that does not exist is not an error.
	Remove(ctx context.Context, key string) error
	// Clear removes every key in the namespace. Clear must be idempotent.
	Clear(ctx context.Context) error
}

// Backend opens namespaces on a storage medium.
type Backend interface {
	// Namespace opens (creating if needed) the namespace called name. An error here means the
	// medium is unusable and is treated as a fatal configuration error.
	Namespace(ctx context.Context, name string) (Namespace, error)
}

// BackendFunc is an adapter to allow the use of ordinary functions as a Backend.
type BackendFunc func(ctx context.Context, name string) (Namespace, error)

// Namespace implements Backend.Namespace().
func (f BackendFunc) Namespace(ctx context.Context, name string) (Namespace, error) {
	return f(ctx, name)
}
