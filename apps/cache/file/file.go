// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

/*
Package file provides a cache.Backend that keeps each namespace in its own encrypted file.

The key of a file is derived from a passphrase with scrypt, and the content is sealed with
NaCl secretbox. A file is laid out as:

	24 bytes: nonce
	16 bytes: salt
	N bytes:  ciphertext of a JSON object of key/value pairs

Every write replaces the whole file by writing a temporary file and renaming it over the old one.
*/
package file

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	keySize   = 32
	nonceSize = 24
	saltSize  = 16

	defaultWorkFactor = 1 << 15
)

// Backend stores namespaces as encrypted files in a directory.
type Backend struct {
	dir        string
	passphrase []byte
	workFactor int

	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// Option is an optional argument to New.
type Option func(b *Backend)

// WithWorkFactor sets the scrypt N parameter, a power of two. Lower values make opening a
// namespace faster and the passphrase easier to guess.
func WithWorkFactor(n int) Option {
	return func(b *Backend) {
		b.workFactor = n
	}
}

// New returns a Backend that keeps files in dir, creating it if needed. An empty dir means a
// directory in os.UserCacheDir().
func New(dir string, passphrase []byte, opts ...Option) (*Backend, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("file cache: a passphrase is required")
	}
	if dir == "" {
		cacheDir, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("file cache: could not find user cache dir: %w", err)
		}
		dir = filepath.Join(cacheDir, "devicegrant")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("file cache: failed to create directory: %w", err)
	}

	b := &Backend{
		dir:        dir,
		passphrase: append([]byte(nil), passphrase...),
		workFactor: defaultWorkFactor,
		namespaces: map[string]*Namespace{},
	}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Namespace implements cache.Backend.Namespace(). An existing file that the passphrase does not
// open is an error.
func (b *Backend) Namespace(ctx context.Context, name string) (cache.Namespace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ns, ok := b.namespaces[name]; ok {
		return ns, nil
	}

	ns := &Namespace{path: filepath.Join(b.dir, filename(name))}
	contents, err := os.ReadFile(ns.path)
	switch {
	case os.IsNotExist(err):
		if _, err := io.ReadFull(rand.Reader, ns.salt[:]); err != nil {
			return nil, fmt.Errorf("file cache: failed to generate salt: %w", err)
		}
		if ns.key, err = b.deriveKey(ns.salt); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("file cache: failed to read file %q: %w", ns.path, err)
	default:
		if len(contents) < nonceSize+saltSize {
			return nil, fmt.Errorf("file cache: file %q is truncated", ns.path)
		}
		copy(ns.salt[:], contents[nonceSize:])
		if ns.key, err = b.deriveKey(ns.salt); err != nil {
			return nil, err
		}
		if _, err := ns.decrypt(contents); err != nil {
			return nil, err
		}
	}

	b.namespaces[name] = ns
	return ns, nil
}

func (b *Backend) deriveKey(salt [saltSize]byte) ([keySize]byte, error) {
	var akey [keySize]byte
	key, err := scrypt.Key(b.passphrase, salt[:], b.workFactor, 8, 1, keySize)
	if err != nil {
		return akey, fmt.Errorf("file cache: %w", err)
	}
	copy(akey[:], key)
	return akey, nil
}

// filename hashes the namespace name so it is safe on every file system.
func filename(name string) string {
	h := sha256.Sum256([]byte(name))
	return hex.EncodeToString(h[:]) + ".enc"
}

// Namespace is a cache.Namespace kept in one encrypted file.
type Namespace struct {
	path string
	salt [saltSize]byte
	key  [keySize]byte

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
	return n.write(m)
}

// Clear implements cache.Namespace.Clear().
func (n *Namespace) Clear(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.write(map[string]string{})
}

func (n *Namespace) read() (map[string]string, error) {
	contents, err := os.ReadFile(n.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file cache: failed to read file %q: %w", n.path, err)
	}
	return n.decrypt(contents)
}

func (n *Namespace) decrypt(contents []byte) (map[string]string, error) {
	if len(contents) < nonceSize+saltSize {
		return nil, fmt.Errorf("file cache: file %q is truncated", n.path)
	}
	var nonce [nonceSize]byte
	copy(nonce[:], contents)
	ciphertext := contents[nonceSize+saltSize:]

	plaintext, ok := secretbox.Open(nil, ciphertext, &nonce, &n.key)
	if !ok {
		return nil, fmt.Errorf("file cache: file %q could not be decrypted, the passphrase may be wrong", n.path)
	}
	m := map[string]string{}
	if err := json.Unmarshal(plaintext, &m); err != nil {
		return nil, fmt.Errorf("file cache: file %q: %w", n.path, err)
	}
	return m, nil
}

func (n *Namespace) write(m map[string]string) error {
	plaintext, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("file cache: failed to encode: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("file cache: failed to generate nonce: %w", err)
	}

	// Writes to a bytes.Buffer always succeed (or panic)
	buf := new(bytes.Buffer)
	_, _ = buf.Write(nonce[:])
	_, _ = buf.Write(n.salt[:])
	_, _ = buf.Write(secretbox.Seal(nil, plaintext, &nonce, &n.key))

	tmp, err := os.CreateTemp(filepath.Dir(n.path), filepath.Base(n.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("file cache: failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("file cache: failed to write %q: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("file cache: failed to sync %q: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file cache: failed to close %q: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), n.path); err != nil {
		return fmt.Errorf("file cache: failed to replace %q: %w", n.path, err)
	}
	return nil
}
