// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.

// Package mongo provides a cache.Backend on MongoDB. Each namespace is one collection whose
// documents are {_id: key, value: value}.
package mongo

import (
	"context"
	"fmt"

	"github.com/devicegrant/devicegrant-go/apps/cache"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// DefaultCollectionPrefix is put in front of every collection name.
const DefaultCollectionPrefix = "devicegrant_"

type document struct {
	Key   string `bson:"_id"`
	Value string `bson:"value"`
}

// Backend stores namespaces as collections of a database.
type Backend struct {
	db     *mongo.Database
	prefix string
}

// Option is an optional argument to New.
type Option func(b *Backend)

// WithCollectionPrefix sets the prefix of the collection names.
func WithCollectionPrefix(prefix string) Option {
	return func(b *Backend) {
		b.prefix = prefix
	}
}

// New is the constructor for Backend. The caller owns db's client and disconnects it.
func New(db *mongo.Database, opts ...Option) *Backend {
	b := &Backend{db: db, prefix: DefaultCollectionPrefix}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Namespace implements cache.Backend.Namespace(). It pings the primary.
func (b *Backend) Namespace(ctx context.Context, name string) (cache.Namespace, error) {
	if err := b.db.Client().Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongo cache: failed to reach server: %w", err)
	}
	return &Namespace{coll: b.db.Collection(b.prefix + name)}, nil
}

// Namespace is a cache.Namespace stored in one collection.
type Namespace struct {
	coll *mongo.Collection
}

// Put implements cache.Namespace.Put().
func (n *Namespace) Put(ctx context.Context, key, value string) error {
	_, err := n.coll.ReplaceOne(ctx, bson.M{"_id": key}, document{Key: key, Value: value}, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo cache: failed to upsert %s in %s: %w", key, n.coll.Name(), err)
	}
	return nil
}

// GetAll implements cache.Namespace.GetAll().
func (n *Namespace) GetAll(ctx context.Context) (map[string]string, error) {
	cursor, err := n.coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongo cache: failed to read %s: %w", n.coll.Name(), err)
	}
	var docs []document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo cache: failed to decode %s: %w", n.coll.Name(), err)
	}
	m := make(map[string]string, len(docs))
	for _, d := range docs {
		m[d.Key] = d.Value
	}
	return m, nil
}

// Remove implements cache.Namespace.Remove().
func (n *Namespace) Remove(ctx context.Context, key string) error {
	if _, err := n.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("mongo cache: failed to delete %s from %s: %w", key, n.coll.Name(), err)
	}
	return nil
}

// Clear implements cache.Namespace.Clear().
func (n *Namespace) Clear(ctx context.Context) error {
	if _, err := n.coll.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("mongo cache: failed to clear %s: %w", n.coll.Name(), err)
	}
	return nil
}
