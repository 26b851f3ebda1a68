// Package memory is an in-process gateway adapter used by tests and local runs
// without a database. It enforces the same unique constraints as the schema.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
)

// Option configures a Store
type Option func(*Store)

// WithUnique declares a unique constraint over the given fields of table
func WithUnique(table string, fields ...string) Option {
	return func(s *Store) {
		s.state.uniques[table] = append(s.state.uniques[table], fields)
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.state.now = now }
}

// Schema returns the unique constraints of the application tables
func Schema() []Option {
	return []Option{
		WithUnique(domain.TableCourses, "slug"),
		WithUnique(domain.TableLessons, "course_id", "slug"),
		WithUnique(domain.TableStudents, "email"),
		WithUnique(domain.TableAdministrators, "username"),
		WithUnique(domain.TableAdministrators, "email"),
		WithUnique(domain.TablePromocodes, "code"),
		WithUnique(domain.TablePromocodeUsage, "promocode_code", "student_email"),
		WithUnique(domain.TableCourseAccess, "student_email", "course_id"),
		WithUnique(domain.TableTestAttempts, "student_id", "test_id", "attempt_number"),
		WithUnique(domain.TableTestAttempts, "session_id"),
	}
}

// Store is a mutex-guarded gateway. Transactions hold the lock for their whole duration.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{state: &state{
		tables:  make(map[string][]gateway.Record),
		uniques: make(map[string][][]string),
		now:     time.Now,
	}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWithSchema creates an empty store with the application constraints
func NewWithSchema(opts ...Option) *Store {
	return New(append(Schema(), opts...)...)
}

var _ gateway.Gateway = (*Store)(nil)

func (s *Store) locked(ctx context.Context) (*view, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, errors.Wrap(gateway.ErrUnavailable, err.Error())
	}
	s.mu.Lock()
	return &view{st: s.state}, s.mu.Unlock, nil
}

func (s *Store) Create(ctx context.Context, table string, rec gateway.Record) (gateway.Record, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return v.Create(ctx, table, rec)
}

func (s *Store) Get(ctx context.Context, table, keyField string, keyValue any) (gateway.Record, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return v.Get(ctx, table, keyField, keyValue)
}

func (s *Store) List(ctx context.Context, table string, q gateway.Query) ([]gateway.Record, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return v.List(ctx, table, q)
}

func (s *Store) FindOne(ctx context.Context, table string, filters gateway.Filters) (gateway.Record, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return v.FindOne(ctx, table, filters)
}

func (s *Store) Update(ctx context.Context, table, keyField string, keyValue any, patch gateway.Record) (gateway.Record, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return v.Update(ctx, table, keyField, keyValue, patch)
}

func (s *Store) UpdateWhere(ctx context.Context, table string, filters gateway.Filters, patch gateway.Record) ([]gateway.Record, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return v.UpdateWhere(ctx, table, filters, patch)
}

func (s *Store) Delete(ctx context.Context, table, keyField string, keyValue any) (bool, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	return v.Delete(ctx, table, keyField, keyValue)
}

func (s *Store) Count(ctx context.Context, table string, filters gateway.Filters) (int, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return v.Count(ctx, table, filters)
}

func (s *Store) CompareAndIncrement(ctx context.Context, table, keyField string, keyValue any, counterField string, expected int) (bool, error) {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()
	return v.CompareAndIncrement(ctx, table, keyField, keyValue, counterField, expected)
}

func (s *Store) Increment(ctx context.Context, table, keyField string, keyValue any, field string, delta int) error {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return v.Increment(ctx, table, keyField, keyValue, field, delta)
}

func (s *Store) AddToSet(ctx context.Context, table, keyField string, keyValue any, field string, value any) error {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return v.AddToSet(ctx, table, keyField, keyValue, field, value)
}

// Tx runs fn with the store locked; on error every table is restored
func (s *Store) Tx(ctx context.Context, fn func(tx gateway.Gateway) error) error {
	v, unlock, err := s.locked(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return v.Tx(ctx, fn)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(gateway.ErrUnavailable, err.Error())
	}
	return nil
}

// Dump returns a copy of every row of table, for assertions in tests
func (s *Store) Dump(table string) []gateway.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]gateway.Record, 0, len(s.state.tables[table]))
	for _, rec := range s.state.tables[table] {
		c, _ := gateway.Clone(rec)
		out = append(out, c)
	}
	return out
}

type state struct {
	tables  map[string][]gateway.Record
	uniques map[string][][]string
	now     func() time.Time
}

func (st *state) stamp() string {
	return st.now().UTC().Format(time.RFC3339Nano)
}

func (st *state) snapshot() map[string][]gateway.Record {
	snap := make(map[string][]gateway.Record, len(st.tables))
	for table, rows := range st.tables {
		cp := make([]gateway.Record, len(rows))
		for i, rec := range rows {
			cp[i], _ = gateway.Clone(rec)
		}
		snap[table] = cp
	}
	return snap
}

// checkUnique rejects rec when another row of table shares all fields of a constraint.
// Constraints with a null field never conflict.
func (st *state) checkUnique(table string, rec gateway.Record, skip int) error {
	constraints := append([][]string{{"id"}}, st.uniques[table]...)
	for _, fields := range constraints {
		for i, other := range st.tables[table] {
			if i == skip {
				continue
			}
			same := true
			for _, f := range fields {
				a, b := rec[f], other[f]
				if a == nil || b == nil || !equal(a, b) {
					same = false
					break
				}
			}
			if same {
				return errors.Wrap(gateway.ErrConflict, fmt.Sprintf("%s(%v)", table, fields))
			}
		}
	}
	return nil
}

func (st *state) indexOf(table, keyField string, keyValue any) (int, error) {
	key, err := gateway.Normalize(keyValue)
	if err != nil {
		return -1, err
	}
	for i, rec := range st.tables[table] {
		if equal(rec[keyField], key) {
			return i, nil
		}
	}
	return -1, nil
}

func newID() string {
	return uuid.NewString()
}
