package postgres

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/zizouhuweidi/ilm/internal/gateway"
)

// builder renders filters into a WHERE clause. Comparison values are passed as
// JSON and cast through the table's row type so each column keeps its own type.
type builder struct {
	table string
	args  []any
}

func newBuilder(table string) *builder {
	return &builder{table: table}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// typed returns an expression yielding v as a value of column field
func (b *builder) typed(field string, v any) (string, error) {
	payload, err := json.Marshal(map[string]any{field: v})
	if err != nil {
		return "", errors.Wrap(err, "postgres: encode filter value")
	}
	return fmt.Sprintf("(jsonb_populate_record(NULL::%s, %s::jsonb)).%s",
		quote(b.table), b.arg(string(payload)), quote(field)), nil
}

func (b *builder) where(filters gateway.Filters) (string, error) {
	if len(filters) == 0 {
		return "", nil
	}
	fields := make([]string, 0, len(filters))
	for f := range filters {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		if err := checkIdent(field); err != nil {
			return "", err
		}
		part, err := b.cond(field, filters[field])
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func (b *builder) cond(field string, want any) (string, error) {
	col := "r." + quote(field)
	c, isCond := want.(gateway.Cond)
	if !isCond {
		if want == nil {
			return col + " IS NULL", nil
		}
		v, err := b.typed(field, want)
		if err != nil {
			return "", err
		}
		return col + " = " + v, nil
	}

	switch c.Op {
	case gateway.OpIn:
		values, _ := c.Value.([]any)
		if len(values) == 0 {
			return "FALSE", nil
		}
		elems := make([]map[string]any, len(values))
		for i, v := range values {
			elems[i] = map[string]any{field: v}
		}
		payload, err := json.Marshal(elems)
		if err != nil {
			return "", errors.Wrap(err, "postgres: encode filter values")
		}
		return fmt.Sprintf("%s IN (SELECT (jsonb_populate_record(NULL::%s, e)).%s FROM jsonb_array_elements(%s::jsonb) AS e)",
			col, quote(b.table), quote(field), b.arg(string(payload))), nil
	case gateway.OpGte, gateway.OpLte:
		v, err := b.typed(field, c.Value)
		if err != nil {
			return "", err
		}
		op := ">="
		if c.Op == gateway.OpLte {
			op = "<="
		}
		return fmt.Sprintf("%s %s %s", col, op, v), nil
	case gateway.OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return "", errors.New("postgres: regex filter needs a string pattern")
		}
		return fmt.Sprintf("%s::text ~ %s::text", col, b.arg(pattern)), nil
	default:
		return "", errors.Errorf("postgres: unknown filter op %q", c.Op)
	}
}
