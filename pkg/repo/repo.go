// Package repo defines a generic keyed repository and its Neo4j
// implementation.
package repo

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete for a missing id.
var ErrNotFound = errors.New("repo: not found")

// Repository stores entities of type T under a key of type ID.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	// Upsert creates the entity or overwrites the stored properties.
	Upsert(ctx context.Context, entity T) (T, error)
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination for List.
type ListOpts struct {
	Offset int
	Limit  int
}

// DefaultListLimit applies when ListOpts.Limit is not positive.
const DefaultListLimit = 100
