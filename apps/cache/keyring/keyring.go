// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package keyring provides a cache.Backend on the operating system's credential store: the macOS
// Keychain, the Secret Service on Linux or the Windows Credential Manager. Each namespace is one
// item holding a JSON object. Some stores limit the size of an item, so this backend suits a
// handful of accounts rather than large caches.
package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"github.com/zalando/go-keyring"
)

// DefaultService is the service name items are stored under.
const DefaultService = "devicegrant"

// Backend stores namespaces in the OS keyring.
type Backend struct {
	service string
}

// Option is an optional argument to New.
type Option func(b *Backend)

// WithService sets the service name of the keyring items.
func WithService(service string) Option {
	return func(b *Backend) {
		b.service = service
	}
}

// New is the constructor for Backend.
func New(opts ...Option) *Backend {
	b := &Backend{service: DefaultService}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Namespace implements cache.Backend.Namespace(). It reads the item once to check the keyring
// can be reached.
func (b *Backend) Namespace(ctx context.Context, name string) (cache.Namespace, error) {
	ns := &Namespace{service: b.service, user: name}
	if _, err := ns.read(); err != nil {
		return nil, err
	}
	return ns, nil
}

// Namespace is a cache.Namespace stored as one keyring item.
type Namespace struct {
	service string
	user    string

	mu sync.Mutex
}

// Put implements cache.Namespace.Put().
func (n *Namespace) Put(ctx context.Context, key, value string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	m, err := n.read()
	if err != nil {
		return err
	}
	m[key] = value
	return n.write(m)
}

// GetAll implements cache.Namespace.GetAll().
func (n *Namespace) GetAll(ctx context.Context) (map[string]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.read()
}

// Remove implements cache.Namespace.Remove().
func (n *Namespace) Remove(ctx context.Context, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	m, err := n.read()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	if len(m) == 0 {
		return n.delete()
	}
	return n.write(m)
}

// Clear implements cache.Namespace.Clear().
func (n *Namespace) Clear(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.delete()
}

func (n *Namespace) read() (map[string]string, error) {
	m := map[string]string{}
	s, err := keyring.Get(n.service, n.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring cache: failed to read %s/%s: %w", n.service, n.user, err)
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("keyring cache: item %s/%s: %w", n.service, n.user, err)
	}
	return m, nil
}

func (n *Namespace) write(m map[string]string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("keyring cache: failed to encode: %w", err)
	}
	if err := keyring.Set(n.service, n.user, string(b)); err != nil {
		return fmt.Errorf("keyring cache: failed to write %s/%s: %w", n.service, n.user, err)
	}
	return nil
}

func (n *Namespace) delete() error {
	err := keyring.Delete(n.service, n.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keyring cache: failed to delete %s/%s: %w", n.service, n.user, err)
	}
	return nil
}
