// Package postgres implements the persistence gateway over pgx. Records travel
// as JSON and are typed by jsonb_populate_record against the target table, so
// one generic code path serves every entity.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/gateway"
	"github.com/zizouhuweidi/ilm/internal/logger"
)

//go:embed schema.sql
var schema string

const defaultMaxTries = 3

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Gateway is the pgx-backed gateway
type Gateway struct {
	pool     *pgxpool.Pool
	q        querier
	inTx     bool
	maxTries uint
	log      *logger.Logger
}

var _ gateway.Gateway = (*Gateway)(nil)

// New wraps a pool
func New(pool *pgxpool.Pool, log *logger.Logger) *Gateway {
	return &Gateway{pool: pool, q: pool, maxTries: defaultMaxTries, log: log.With("component", "PostgresGateway")}
}

// Migrate applies the embedded schema; statements are idempotent
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return errors.Wrap(err, "applying schema")
}

func (g *Gateway) Create(ctx context.Context, table string, rec gateway.Record) (gateway.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	row, err := gateway.Clone(rec)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = gateway.Record{}
	}
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}
	// nulls fall back to column defaults
	for k, v := range row {
		if v == nil {
			delete(row, k)
		}
	}
	cols, err := columns(row)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: encode record")
	}
	t := quote(table)
	sql := fmt.Sprintf(
		`INSERT INTO %s AS r (%s) SELECT %s FROM jsonb_populate_record(NULL::%s, $1::jsonb) RETURNING to_jsonb(r)`,
		t, strings.Join(cols, ", "), strings.Join(cols, ", "), t,
	)
	return retry(ctx, g, func() (gateway.Record, error) {
		return scanOne(g.q.QueryRow(ctx, sql, string(payload)))
	})
}

func (g *Gateway) Get(ctx context.Context, table, keyField string, keyValue any) (gateway.Record, error) {
	return g.FindOne(ctx, table, gateway.Filters{keyField: keyValue})
}

func (g *Gateway) List(ctx context.Context, table string, q gateway.Query) ([]gateway.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	b := newBuilder(table)
	where, err := b.where(q.Filters)
	if err != nil {
		return nil, err
	}
	sql := fmt.Sprintf(`SELECT to_jsonb(r) FROM %s AS r%s`, quote(table), where)
	if len(q.OrderBy) > 0 {
		parts := make([]string, 0, len(q.OrderBy))
		for _, o := range q.OrderBy {
			if err := checkIdent(o.Field); err != nil {
				return nil, err
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts = append(parts, fmt.Sprintf("r.%s %s NULLS LAST", quote(o.Field), dir))
		}
		sql += " ORDER BY " + strings.Join(parts, ", ")
	}
	if q.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return retry(ctx, g, func() ([]gateway.Record, error) {
		rows, err := g.q.Query(ctx, sql, b.args...)
		if err != nil {
			return nil, err
		}
		return scanAll(rows)
	})
}

func (g *Gateway) FindOne(ctx context.Context, table string, filters gateway.Filters) (gateway.Record, error) {
	rows, err := g.List(ctx, table, gateway.Query{Filters: filters, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gateway.ErrNotFound
	}
	return rows[0], nil
}

func (g *Gateway) Update(ctx context.Context, table, keyField string, keyValue any, patch gateway.Record) (gateway.Record, error) {
	rows, err := g.UpdateWhere(ctx, table, gateway.Filters{keyField: keyValue}, patch)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gateway.ErrNotFound
	}
	return rows[0], nil
}

func (g *Gateway) UpdateWhere(ctx context.Context, table string, filters gateway.Filters, patch gateway.Record) ([]gateway.Record, error) {
	if err := checkIdent(table); err != nil {
		return nil, err
	}
	row, err := gateway.Clone(patch)
	if err != nil {
		return nil, err
	}
	if row == nil {
		row = gateway.Record{}
	}
	if row["updated_at"] == nil {
		row["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	cols, err := columns(row)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: encode patch")
	}
	b := newBuilder(table)
	b.args = append(b.args, string(payload))
	where, err := b.where(filters)
	if err != nil {
		return nil, err
	}
	selected := make([]string, len(cols))
	for i, c := range cols {
		selected[i] = "p." + c
	}
	t := quote(table)
	sql := fmt.Sprintf(
		`UPDATE %s AS r SET (%s) = (SELECT %s FROM jsonb_populate_record(NULL::%s, $1::jsonb) AS p)%s RETURNING to_jsonb(r)`,
		t, strings.Join(cols, ", "), strings.Join(selected, ", "), t, where,
	)
	return retry(ctx, g, func() ([]gateway.Record, error) {
		rows, err := g.q.Query(ctx, sql, b.args...)
		if err != nil {
			return nil, err
		}
		return scanAll(rows)
	})
}

func (g *Gateway) Delete(ctx context.Context, table, keyField string, keyValue any) (bool, error) {
	if err := checkIdent(table); err != nil {
		return false, err
	}
	b := newBuilder(table)
	where, err := b.where(gateway.Filters{keyField: keyValue})
	if err != nil {
		return false, err
	}
	sql := fmt.Sprintf(`DELETE FROM %s AS r%s`, quote(table), where)
	return retry(ctx, g, func() (bool, error) {
		tag, err := g.q.Exec(ctx, sql, b.args...)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() > 0, nil
	})
}

func (g *Gateway) Count(ctx context.Context, table string, filters gateway.Filters) (int, error) {
	if err := checkIdent(table); err != nil {
		return 0, err
	}
	b := newBuilder(table)
	where, err := b.where(filters)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(`SELECT count(*) FROM %s AS r%s`, quote(table), where)
	return retry(ctx, g, func() (int, error) {
		var n int64
		err := g.q.QueryRow(ctx, sql, b.args...).Scan(&n)
		return int(n), err
	})
}

func (g *Gateway) CompareAndIncrement(ctx context.Context, table, keyField string, keyValue any, counterField string, expected int) (bool, error) {
	if err := checkIdent(table, counterField); err != nil {
		return false, err
	}
	b := newBuilder(table)
	b.args = append(b.args, expected)
	where, err := b.where(gateway.Filters{keyField: keyValue})
	if err != nil {
		return false, err
	}
	c := quote(counterField)
	sql := fmt.Sprintf(`UPDATE %s AS r SET %s = r.%s + 1, updated_at = now()%s AND r.%s = $1`,
		quote(table), c, c, where, c)
	return retry(ctx, g, func() (bool, error) {
		tag, err := g.q.Exec(ctx, sql, b.args...)
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	})
}

func (g *Gateway) Increment(ctx context.Context, table, keyField string, keyValue any, field string, delta int) error {
	if err := checkIdent(table, field); err != nil {
		return err
	}
	b := newBuilder(table)
	b.args = append(b.args, delta)
	where, err := b.where(gateway.Filters{keyField: keyValue})
	if err != nil {
		return err
	}
	f := quote(field)
	sql := fmt.Sprintf(`UPDATE %s AS r SET %s = COALESCE(r.%s, 0) + $1, updated_at = now()%s`,
		quote(table), f, f, where)
	_, err = retry(ctx, g, func() (struct{}, error) {
		tag, err := g.q.Exec(ctx, sql, b.args...)
		if err != nil {
			return struct{}{}, err
		}
		if tag.RowsAffected() == 0 {
			return struct{}{}, gateway.ErrNotFound
		}
		return struct{}{}, nil
	})
	return err
}

func (g *Gateway) AddToSet(ctx context.Context, table, keyField string, keyValue any, field string, value any) error {
	if err := checkIdent(table, field); err != nil {
		return err
	}
	elem, err := json.Marshal([]any{value})
	if err != nil {
		return errors.Wrap(err, "postgres: encode set element")
	}
	b := newBuilder(table)
	b.args = append(b.args, string(elem))
	where, err := b.where(gateway.Filters{keyField: keyValue})
	if err != nil {
		return err
	}
	f := quote(field)
	sql := fmt.Sprintf(`UPDATE %[1]s AS r SET %[2]s = CASE
		WHEN COALESCE(r.%[2]s, '[]'::jsonb) @> $1::jsonb THEN r.%[2]s
		ELSE COALESCE(r.%[2]s, '[]'::jsonb) || $1::jsonb END,
		updated_at = now()%[3]s`, quote(table), f, where)
	_, err = retry(ctx, g, func() (struct{}, error) {
		tag, err := g.q.Exec(ctx, sql, b.args...)
		if err != nil {
			return struct{}{}, err
		}
		if tag.RowsAffected() == 0 {
			return struct{}{}, gateway.ErrNotFound
		}
		return struct{}{}, nil
	})
	return err
}

// Tx runs fn in a transaction; nested calls use savepoints
func (g *Gateway) Tx(ctx context.Context, fn func(tx gateway.Gateway) error) error {
	err := pgx.BeginFunc(ctx, g.q, func(tx pgx.Tx) error {
		return fn(&Gateway{pool: g.pool, q: tx, inTx: true, maxTries: 1, log: g.log})
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	if g.pool == nil {
		return nil
	}
	if err := g.pool.Ping(ctx); err != nil {
		return errors.Wrap(gateway.ErrUnavailable, err.Error())
	}
	return nil
}

// retry runs op, classifying its error and retrying only Unavailable outside transactions
func retry[T any](ctx context.Context, g *Gateway, op func() (T, error)) (T, error) {
	tries := g.maxTries
	if g.inTx || tries == 0 {
		tries = 1
	}
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op()
		if err == nil {
			return v, nil
		}
		err = classify(err)
		if errors.Is(err, gateway.ErrUnavailable) {
			g.log.Warn("store unavailable", "attempt", attempt, "error", err)
			return v, err
		}
		return v, backoff.Permanent(err)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(tries))
}

// classify maps driver errors onto gateway failures
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gateway.ErrNotFound) || errors.Is(err, gateway.ErrConflict) || errors.Is(err, gateway.ErrUnavailable) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return gateway.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return errors.Wrap(gateway.ErrConflict, pgErr.ConstraintName)
		case strings.HasPrefix(pgErr.Code, "08"), pgErr.Code == "57P01", pgErr.Code == "40001", pgErr.Code == "40P01":
			return errors.Wrap(gateway.ErrUnavailable, pgErr.Message)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return errors.Wrap(gateway.ErrUnavailable, err.Error())
	}
	return err
}

func scanOne(row pgx.Row) (gateway.Record, error) {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		return nil, err
	}
	return gateway.Parse(raw)
}

func scanAll(rows pgx.Rows) ([]gateway.Record, error) {
	defer rows.Close()
	var out []gateway.Record
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		rec, err := gateway.Parse(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func checkIdent(names ...string) error {
	for _, n := range names {
		if !identRe.MatchString(n) {
			return errors.Errorf("postgres: invalid identifier %q", n)
		}
	}
	return nil
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// columns returns the quoted, sorted column list of rec
func columns(rec gateway.Record) ([]string, error) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if err := checkIdent(k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		keys[i] = quote(k)
	}
	return keys, nil
}
