package memory

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/gateway"
)

func matches(rec gateway.Record, filters gateway.Filters) (bool, error) {
	for field, want := range filters {
		got := rec[field]
		cond, isCond := want.(gateway.Cond)
		if !isCond {
			nv, err := gateway.Normalize(want)
			if err != nil {
				return false, err
			}
			if !equal(got, nv) {
				return false, nil
			}
			continue
		}
		ok, err := matchCond(got, cond)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchCond(got any, cond gateway.Cond) (bool, error) {
	switch cond.Op {
	case gateway.OpIn:
		values, _ := cond.Value.([]any)
		for _, v := range values {
			nv, err := gateway.Normalize(v)
			if err != nil {
				return false, err
			}
			if equal(got, nv) {
				return true, nil
			}
		}
		return false, nil
	case gateway.OpGte, gateway.OpLte:
		if got == nil {
			return false, nil
		}
		nv, err := gateway.Normalize(cond.Value)
		if err != nil {
			return false, err
		}
		c, ok := compare(got, nv)
		if !ok {
			return false, nil
		}
		if cond.Op == gateway.OpGte {
			return c >= 0, nil
		}
		return c <= 0, nil
	case gateway.OpRegex:
		pattern, _ := cond.Value.(string)
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, errors.Wrap(err, "memory: regex filter")
		}
		if got == nil {
			return false, nil
		}
		return re.MatchString(fmt.Sprint(got)), nil
	default:
		return false, errors.Errorf("memory: unknown filter op %q", cond.Op)
	}
}

func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := compare(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// compare orders two record values of the same shape. Numbers compare numerically
// and RFC 3339 strings compare as instants.
func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case json.Number:
		y, ok := b.(json.Number)
		if !ok {
			return 0, false
		}
		fx, err1 := x.Float64()
		fy, err2 := y.Float64()
		if err1 != nil || err2 != nil {
			return strings.Compare(x.String(), y.String()), true
		}
		return cmpFloat(fx, fy), true
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		if tx, err := time.Parse(time.RFC3339Nano, x); err == nil {
			if ty, err := time.Parse(time.RFC3339Nano, y); err == nil {
				return tx.Compare(ty), true
			}
		}
		return strings.Compare(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	}
	return 0, false
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// less orders rows by the given fields; nulls sort last in either direction
func less(a, b gateway.Record, order []gateway.Order) bool {
	for _, o := range order {
		va, vb := a[o.Field], b[o.Field]
		switch {
		case va == nil && vb == nil:
			continue
		case va == nil:
			return false
		case vb == nil:
			return true
		}
		c, ok := compare(va, vb)
		if !ok || c == 0 {
			continue
		}
		if o.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}
