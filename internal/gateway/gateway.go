// Package gateway defines the record-level persistence contract every service
// writes through, plus the codec between entity structs and records.
package gateway

import (
	"context"
	"errors"
)

// Gateway failures
var (
	ErrNotFound    = errors.New("gateway: record not found")
	ErrConflict    = errors.New("gateway: unique constraint violation")
	ErrUnavailable = errors.New("gateway: store unavailable")
)

// Record is one row as a column -> value map
type Record map[string]any

// Op is a filter operator other than equality
type Op string

const (
	OpIn    Op = "in"
	OpGte   Op = "gte"
	OpLte   Op = "lte"
	OpRegex Op = "regex"
)

// Cond is a non-equality filter condition
type Cond struct {
	Op    Op
	Value any
}

// In matches any of values
func In[T any](values ...T) Cond {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Cond{Op: OpIn, Value: vs}
}

// Gte matches values >= v
func Gte(v any) Cond { return Cond{Op: OpGte, Value: v} }

// Lte matches values <= v
func Lte(v any) Cond { return Cond{Op: OpLte, Value: v} }

// Regex matches the textual value against pattern
func Regex(pattern string) Cond { return Cond{Op: OpRegex, Value: pattern} }

// Filters maps field names to a plain value (equality) or a Cond
type Filters map[string]any

// Order sorts by one field
type Order struct {
	Field string
	Desc  bool
}

// Asc orders ascending by field
func Asc(field string) Order { return Order{Field: field} }

// Desc orders descending by field
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Query narrows a listing
type Query struct {
	Filters Filters
	OrderBy []Order
	Limit   int
}

// Gateway is the uniform record API over the relational store.
// Records returned by adapters carry id, created_at and updated_at.
type Gateway interface {
	// Create inserts a record, assigning id and timestamps when absent
	Create(ctx context.Context, table string, rec Record) (Record, error)

	// Get returns the record whose keyField equals keyValue
	Get(ctx context.Context, table, keyField string, keyValue any) (Record, error)

	// List returns the records matching q
	List(ctx context.Context, table string, q Query) ([]Record, error)

	// FindOne returns the first record matching filters
	FindOne(ctx context.Context, table string, filters Filters) (Record, error)

	// Update patches the record whose keyField equals keyValue
	Update(ctx context.Context, table, keyField string, keyValue any, patch Record) (Record, error)

	// UpdateWhere patches every record matching filters and returns them
	UpdateWhere(ctx context.Context, table string, filters Filters, patch Record) ([]Record, error)

	// Delete removes the record whose keyField equals keyValue
	Delete(ctx context.Context, table, keyField string, keyValue any) (bool, error)

	// Count returns the number of records matching filters
	Count(ctx context.Context, table string, filters Filters) (int, error)

	// CompareAndIncrement bumps counterField by one iff it currently equals expected
	CompareAndIncrement(ctx context.Context, table, keyField string, keyValue any, counterField string, expected int) (bool, error)

	// Increment adds delta to an integer field atomically
	Increment(ctx context.Context, table, keyField string, keyValue any, field string, delta int) error

	// AddToSet appends value to a JSON array field unless already present
	AddToSet(ctx context.Context, table, keyField string, keyValue any, field string, value any) error

	// Tx runs fn against a gateway whose writes commit together or not at all
	Tx(ctx context.Context, fn func(tx Gateway) error) error

	// Ping checks the store is reachable
	Ping(ctx context.Context) error
}
