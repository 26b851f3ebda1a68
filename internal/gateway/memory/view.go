package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/gateway"
)

// view operates on the state without locking; the caller holds the store lock
type view struct {
	st *state
}

var _ gateway.Gateway = (*view)(nil)

func (v *view) Create(_ context.Context, table string, rec gateway.Record) (gateway.Record, error) {
	row, err := gateway.Clone(rec)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = gateway.Record{}
	}
	if id, _ := row["id"].(string); id == "" {
		row["id"] = newID()
	}
	now := v.st.stamp()
	if row["created_at"] == nil {
		row["created_at"] = now
	}
	if row["updated_at"] == nil {
		row["updated_at"] = now
	}
	if err := v.st.checkUnique(table, row, -1); err != nil {
		return nil, err
	}
	v.st.tables[table] = append(v.st.tables[table], row)
	return gateway.Clone(row)
}

func (v *view) Get(_ context.Context, table, keyField string, keyValue any) (gateway.Record, error) {
	i, err := v.st.indexOf(table, keyField, keyValue)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, gateway.ErrNotFound
	}
	return gateway.Clone(v.st.tables[table][i])
}

func (v *view) List(_ context.Context, table string, q gateway.Query) ([]gateway.Record, error) {
	idx, err := v.matching(table, q.Filters)
	if err != nil {
		return nil, err
	}
	rows := make([]gateway.Record, 0, len(idx))
	for _, i := range idx {
		rows = append(rows, v.st.tables[table][i])
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(rows, func(a, b int) bool {
			return less(rows[a], rows[b], q.OrderBy)
		})
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]gateway.Record, len(rows))
	for i, rec := range rows {
		if out[i], err = gateway.Clone(rec); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (v *view) FindOne(ctx context.Context, table string, filters gateway.Filters) (gateway.Record, error) {
	rows, err := v.List(ctx, table, gateway.Query{Filters: filters, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gateway.ErrNotFound
	}
	return rows[0], nil
}

func (v *view) Update(_ context.Context, table, keyField string, keyValue any, patch gateway.Record) (gateway.Record, error) {
	i, err := v.st.indexOf(table, keyField, keyValue)
	if err != nil {
		return nil, err
	}
	if i < 0 {
		return nil, gateway.ErrNotFound
	}
	if err := v.patch(table, i, patch); err != nil {
		return nil, err
	}
	return gateway.Clone(v.st.tables[table][i])
}

func (v *view) UpdateWhere(_ context.Context, table string, filters gateway.Filters, patch gateway.Record) ([]gateway.Record, error) {
	idx, err := v.matching(table, filters)
	if err != nil {
		return nil, err
	}
	out := make([]gateway.Record, 0, len(idx))
	for _, i := range idx {
		if err := v.patch(table, i, patch); err != nil {
			return nil, err
		}
		rec, err := gateway.Clone(v.st.tables[table][i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (v *view) Delete(_ context.Context, table, keyField string, keyValue any) (bool, error) {
	i, err := v.st.indexOf(table, keyField, keyValue)
	if err != nil {
		return false, err
	}
	if i < 0 {
		return false, nil
	}
	rows := v.st.tables[table]
	v.st.tables[table] = append(rows[:i:i], rows[i+1:]...)
	return true, nil
}

func (v *view) Count(_ context.Context, table string, filters gateway.Filters) (int, error) {
	idx, err := v.matching(table, filters)
	if err != nil {
		return 0, err
	}
	return len(idx), nil
}

func (v *view) CompareAndIncrement(_ context.Context, table, keyField string, keyValue any, counterField string, expected int) (bool, error) {
	i, err := v.st.indexOf(table, keyField, keyValue)
	if err != nil || i < 0 {
		return false, err
	}
	rec := v.st.tables[table][i]
	current, err := asInt(rec[counterField])
	if err != nil {
		return false, err
	}
	if current != int64(expected) {
		return false, nil
	}
	rec[counterField] = json.Number(fmt.Sprint(current + 1))
	rec["updated_at"] = v.st.stamp()
	return true, nil
}

func (v *view) Increment(_ context.Context, table, keyField string, keyValue any, field string, delta int) error {
	i, err := v.st.indexOf(table, keyField, keyValue)
	if err != nil {
		return err
	}
	if i < 0 {
		return gateway.ErrNotFound
	}
	rec := v.st.tables[table][i]
	current, err := asInt(rec[field])
	if err != nil {
		return err
	}
	rec[field] = json.Number(fmt.Sprint(current + int64(delta)))
	rec["updated_at"] = v.st.stamp()
	return nil
}

func (v *view) AddToSet(_ context.Context, table, keyField string, keyValue any, field string, value any) error {
	i, err := v.st.indexOf(table, keyField, keyValue)
	if err != nil {
		return err
	}
	if i < 0 {
		return gateway.ErrNotFound
	}
	nv, err := gateway.Normalize(value)
	if err != nil {
		return err
	}
	rec := v.st.tables[table][i]
	set, _ := rec[field].([]any)
	for _, existing := range set {
		if equal(existing, nv) {
			return nil
		}
	}
	rec[field] = append(set, nv)
	rec["updated_at"] = v.st.stamp()
	return nil
}

func (v *view) Tx(ctx context.Context, fn func(tx gateway.Gateway) error) error {
	snap := v.st.snapshot()
	if err := fn(v); err != nil {
		v.st.tables = snap
		return err
	}
	return nil
}

func (v *view) Ping(context.Context) error { return nil }

func (v *view) matching(table string, filters gateway.Filters) ([]int, error) {
	var idx []int
	for i, rec := range v.st.tables[table] {
		ok, err := matches(rec, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

// patch applies a normalized patch to row i, rolling back on a unique violation
func (v *view) patch(table string, i int, patch gateway.Record) error {
	np, err := gateway.Clone(patch)
	if err != nil {
		return err
	}
	rec := v.st.tables[table][i]
	prev, _ := gateway.Clone(rec)
	for k, val := range np {
		rec[k] = val
	}
	if np["updated_at"] == nil {
		rec["updated_at"] = v.st.stamp()
	}
	if err := v.st.checkUnique(table, rec, i); err != nil {
		v.st.tables[table][i] = prev
		return err
	}
	return nil
}

func asInt(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		i, err := n.Int64()
		return i, errors.Wrap(err, "memory: counter is not an integer")
	default:
		return 0, errors.Errorf("memory: counter has type %T", v)
	}
}
