package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name"`
	Count     int              `json:"count"`
	Tags      []string         `json:"tags"`
	Perm      map[string][]int `json:"perm"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	StartedAt time.Time        `json:"started_at"`
}

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2024, 3, 10, 8, 30, 0, 0, time.UTC)
	in := sample{Name: "n", Count: 3, Tags: []string{"a"}, Perm: map[string][]int{"q1": {2, 0, 1}}, StartedAt: at}

	rec, err := Encode(in)
	require.NoError(t, err)

	_, hasID := rec["id"]
	assert.False(t, hasID, "empty id is omitted so the adapter assigns one")
	assert.Equal(t, json.Number("3"), rec["count"])
	assert.Equal(t, "2024-03-10T08:30:00Z", rec["started_at"])
	assert.Equal(t, map[string]any{"q1": []any{json.Number("2"), json.Number("0"), json.Number("1")}}, rec["perm"])

	var out sample
	require.NoError(t, Decode(rec, &out))
	assert.Equal(t, in.Perm, out.Perm)
	assert.True(t, at.Equal(out.StartedAt))
	assert.Nil(t, out.ExpiresAt)
}

func TestParseStoreTimestamps(t *testing.T) {
	rec, err := Parse([]byte(`{"id":"x","started_at":"2024-03-10T08:30:00.123456+00:00","count":7}`))
	require.NoError(t, err)

	var out sample
	require.NoError(t, Decode(rec, &out))
	assert.Equal(t, 7, out.Count)
	assert.Equal(t, 123456000, out.StartedAt.Nanosecond())
}

func TestNormalize(t *testing.T) {
	v, err := Normalize(5)
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), v)

	v, err = Normalize(false)
	require.NoError(t, err)
	assert.Equal(t, false, v)
}

func TestInCond(t *testing.T) {
	c := In("a", "b")
	assert.Equal(t, OpIn, c.Op)
	assert.Equal(t, []any{"a", "b"}, c.Value)
}

func TestDecodeAll(t *testing.T) {
	got, err := DecodeAll[sample]([]Record{{"name": "a"}, {"name": "b"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Name)
}
