package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": 1, "a": "x", "c": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":null}`, string(out))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(out))
}

func TestMarshalCanonical_NFCNormalizes(t *testing.T) {
	out, err := MarshalCanonical("é")
	require.NoError(t, err)
	assert.Equal(t, "\"é\"", string(out))
}

func TestMarshalCanonical_NativeValues(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	out, err := MarshalCanonical(map[string]any{
		"amount": decimal.RequireFromString("12.50"),
		"at":     ts,
		"tags":   []string{"x", "y"},
		"ok":     true,
		"ratio":  0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"12.5","at":"2024-03-01T12:00:00Z","ok":true,"ratio":0.5,"tags":["x","y"]}`, string(out))
}

func TestMarshalCanonical_FieldChanges(t *testing.T) {
	out, err := MarshalCanonical(map[string]FieldChange{"stage": {Old: "A", New: "B"}})
	require.NoError(t, err)
	assert.Equal(t, `{"stage":{"new":"B","old":"A"}}`, string(out))
}

func TestMarshalCanonical_RejectsUnsupported(t *testing.T) {
	_, err := MarshalCanonical(struct{}{})
	assert.Error(t, err)
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+FF61 sorts before U+1F600 in UTF-8 byte order but after it in UTF-16.
	m := map[string]int{"\U0001F600": 1, "｡": 2, "a": 3}
	assert.Equal(t, []string{"a", "\U0001F600", "｡"}, SortedKeys(m))
}

func TestDecodeJSON_KeepsNumbers(t *testing.T) {
	var v map[string]any
	require.NoError(t, DecodeJSON([]byte(`{"n": 9007199254740993, "d": 1.25}`), &v))
	assert.Equal(t, json.Number("9007199254740993"), v["n"])

	NormalizeNumbers(v)
	assert.Equal(t, int64(9007199254740993), v["n"])
	assert.Equal(t, 1.25, v["d"])
}
