package gateway

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Encode converts an entity struct into a record using its json tags.
// Instants become RFC 3339 strings and nested values become JSON-shaped maps and slices.
func Encode(v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: encode")
	}
	var rec Record
	if err := unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(err, "gateway: encode")
	}
	return rec, nil
}

// Decode fills v from rec
func Decode(rec Record, v any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "gateway: decode")
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrap(err, "gateway: decode")
	}
	return nil
}

// DecodeAll decodes a listing into entity pointers
func DecodeAll[T any](recs []Record) ([]*T, error) {
	out := make([]*T, 0, len(recs))
	for _, rec := range recs {
		var v T
		if err := Decode(rec, &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}

// Normalize brings a single Go value into record shape (json.Number, string, bool, nil, map, slice)
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "gateway: normalize")
	}
	var out any
	if err := unmarshal(b, &out); err != nil {
		return nil, errors.Wrap(err, "gateway: normalize")
	}
	return out, nil
}

// Clone deep-copies a record
func Clone(rec Record) (Record, error) {
	if rec == nil {
		return nil, nil
	}
	return Encode(rec)
}

// Parse decodes a JSON object produced by the store into a record
func Parse(b []byte) (Record, error) {
	var rec Record
	if err := unmarshal(b, &rec); err != nil {
		return nil, errors.Wrap(err, "gateway: parse")
	}
	return rec, nil
}

func unmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}
