package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/domain"
	"github.com/zizouhuweidi/ilm/internal/gateway"
)

// Clock returns the current instant
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

// storeErr maps gateway failures onto business errors. notFound replaces
// gateway.ErrNotFound when non-nil.
func storeErr(err error, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gateway.ErrNotFound) && notFound != nil:
		return notFound
	case errors.Is(err, gateway.ErrUnavailable):
		return domain.Unavailable(err)
	}
	return err
}

func getAs[T any](ctx context.Context, gw gateway.Gateway, table, key string, value any, notFound error) (*T, error) {
	rec, err := gw.Get(ctx, table, key, value)
	if err != nil {
		return nil, storeErr(err, notFound)
	}
	var v T
	if err := gateway.Decode(rec, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func findAs[T any](ctx context.Context, gw gateway.Gateway, table string, filters gateway.Filters, notFound error) (*T, error) {
	rec, err := gw.FindOne(ctx, table, filters)
	if err != nil {
		return nil, storeErr(err, notFound)
	}
	var v T
	if err := gateway.Decode(rec, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func listAs[T any](ctx context.Context, gw gateway.Gateway, table string, q gateway.Query) ([]*T, error) {
	recs, err := gw.List(ctx, table, q)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	return gateway.DecodeAll[T](recs)
}

func createAs[T any](ctx context.Context, gw gateway.Gateway, table string, v *T, conflict error) (*T, error) {
	rec, err := gateway.Encode(v)
	if err != nil {
		return nil, err
	}
	stored, err := gw.Create(ctx, table, rec)
	if err != nil {
		if conflict != nil && errors.Is(err, gateway.ErrConflict) {
			return nil, conflict
		}
		return nil, storeErr(err, nil)
	}
	var out T
	if err := gateway.Decode(stored, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
