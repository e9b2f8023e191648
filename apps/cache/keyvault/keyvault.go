// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package keyvault provides a cache.Backend on Azure Key Vault. Each namespace is one secret whose
value is a JSON object of key/value pairs; every write adds a new version of the secret.

Secret names allow only letters, digits and dashes, so other characters of a namespace name are
replaced with dashes. Clear writes an empty object rather than deleting the secret, because a
deleted secret can't be set again until it is purged.
*/
package keyvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
	"github.com/devicegrant/devicegrant-go/apps/cache"
)

// DefaultPrefix is put in front of every secret name.
const DefaultPrefix = "devicegrant-"

const contentType = "application/json"

// SecretsClient is the subset of *azsecrets.Client the backend uses.
type SecretsClient interface {
	GetSecret(ctx context.Context, name string, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
}

// Backend stores namespaces as Key Vault secrets.
type Backend struct {
	client SecretsClient
	prefix string
}

// Option is an optional argument to New.
type Option func(b *Backend)

// WithPrefix sets the prefix of the secret names.
func WithPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// New is the constructor for Backend.
func New(client SecretsClient, opts ...Option) *Backend {
	b := &Backend{client: client, prefix: DefaultPrefix}
	for _, o := range opts {
		o(b)
	}
	return b
}

// NewFromURL returns a Backend on the vault at vaultURL, authenticating with cred.
func NewFromURL(vaultURL string, cred azcore.TokenCredential, opts ...Option) (*Backend, error) {
	client, err := azsecrets.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("keyvault cache: %w", err)
	}
	return New(client, opts...), nil
}

// Namespace implements cache.Backend.Namespace(). It reads the secret once to check the vault can
// be reached.
func (b *Backend) Namespace(ctx context.Context, name string) (cache.Namespace, error) {
	ns := &Namespace{client: b.client, name: secretName(b.prefix + name)}
	if _, err := ns.read(ctx); err != nil {
		return nil, err
	}
	return ns, nil
}

// secretName replaces the characters a secret name can't have.
func secretName(s string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '-'
	}, s)
	if len(name) > 127 {
		name = name[:127]
	}
	return name
}

// Namespace is a cache.Namespace stored in one secret.
type Namespace struct {
	client SecretsClient
	name   string

	mu sync.Mutex
}

// Put implements cache.Namespace.Put().
func (n *Namespace) Put(ctx context.Context, key, value string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	m, err := n.read(ctx)
	if err != nil {
		return err
	}
	m[key] = value
	return n.write(ctx, m)
}

// GetAll implements cache.Namespace.GetAll().
func (n *Namespace) GetAll(ctx context.Context) (map[string]string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.read(ctx)
}

// Remove implements cache.Namespace.Remove().
func (n *Namespace) Remove(ctx context.Context, key string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	m, err := n.read(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return nil
	}
	delete(m, key)
	return n.write(ctx, m)
}

// Clear implements cache.Namespace.Clear().
func (n *Namespace) Clear(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	m, err := n.read(ctx)
	if err != nil {
		return err
	}
	if len(m) == 0 {
		return nil
	}
	return n.write(ctx, map[string]string{})
}

func (n *Namespace) read(ctx context.Context) (map[string]string, error) {
	m := map[string]string{}
	resp, err := n.client.GetSecret(ctx, n.name, "", nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return m, nil
		}
		return nil, fmt.Errorf("keyvault cache: failed to read secret %s: %w", n.name, err)
	}
	if resp.Value == nil || *resp.Value == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(*resp.Value), &m); err != nil {
		return nil, fmt.Errorf("keyvault cache: secret %s: %w", n.name, err)
	}
	return m, nil
}

func (n *Namespace) write(ctx context.Context, m map[string]string) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("keyvault cache: failed to encode: %w", err)
	}
	value := string(b)
	ct := contentType
	_, err = n.client.SetSecret(ctx, n.name, azsecrets.SetSecretParameters{Value: &value, ContentType: &ct}, nil)
	if err != nil {
		return fmt.Errorf("keyvault cache: failed to write secret %s: %w", n.name, err)
	}
	return nil
}
