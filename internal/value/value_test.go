package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapGetPath(t *testing.T) {
	m := Map{
		"name": String("alice"),
		"address": Map{
			"city": String("Paris"),
		},
	}

	assert.Equal(t, String("alice"), m.GetPath("name"))
	assert.Equal(t, String("Paris"), m.GetPath("address.city"))
	assert.Equal(t, Null{}, m.GetPath("address.zip"))
	assert.Equal(t, Null{}, m.GetPath("name.first"), "walking through a scalar yields null")
}

func TestFromGoRejectsFloats(t *testing.T) {
	_, err := FromGo(1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	v, err := FromGo(float64(42))
	require.NoError(t, err)
	assert.Equal(t, Int(42), v, "integral floats from YAML/JSON decoders are accepted")
}

func TestFromGoNested(t *testing.T) {
	v, err := FromGo(map[string]any{
		"tags":  []any{"a", "b"},
		"count": 3,
		"meta":  map[any]any{"ok": true},
	})
	require.NoError(t, err)

	want := Map{
		"tags":  Array{String("a"), String("b")},
		"count": Int(3),
		"meta":  Map{"ok": Bool(true)},
	}
	assert.True(t, Equal(want, v))
}

func TestFromGoRejectsNonStringKeys(t *testing.T) {
	_, err := FromGo(map[any]any{1: "x"})
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want int
	}{
		{"ints", Int(1), Int(2), -1},
		{"equal strings", String("a"), String("a"), 0},
		{"strings bytewise", String("b"), String("a"), 1},
		{"bools", Bool(false), Bool(true), -1},
		{"bytes", Bytes{1}, Bytes{1, 0}, -1},
		{"nulls", Null{}, nil, 0},
		{"identifier vs bytes", Identifier{1}, Bytes(Identifier{1}.Bytes()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareIncompatibleKinds(t *testing.T) {
	_, err := Compare(Int(1), String("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot compare int with string")
}

func TestSortValues(t *testing.T) {
	vals := []Value{Int(3), Int(1), Int(2)}
	SortValues(vals)
	assert.Equal(t, []Value{Int(1), Int(2), Int(3)}, vals)
}

func TestCBORRoundTrip(t *testing.T) {
	id := Identifier{7, 7, 7}
	in := Map{
		"where":   Array{Array{String("age"), String(">"), Int(-5)}},
		"limit":   Int(10),
		"startAt": id,
		"flag":    Bool(true),
		"nothing": Null{},
	}

	data, err := EncodeCBOR(in)
	require.NoError(t, err)

	out, err := DecodeCBOR(data)
	require.NoError(t, err)
	assert.True(t, Equal(in, out), "decoded %#v", out)

	again, err := EncodeCBOR(out)
	require.NoError(t, err)
	assert.Equal(t, data, again, "canonical CBOR must be byte-stable")
}

func TestDecodeCBORInto(t *testing.T) {
	type payload struct {
		Name  string `codec:"name"`
		Count int64  `codec:"count"`
	}
	data, err := EncodeCBOR(payload{Name: "x", Count: 9})
	require.NoError(t, err)

	var got payload
	require.NoError(t, DecodeCBORInto(data, &got))
	assert.Equal(t, payload{Name: "x", Count: 9}, got)
}

func TestDecodeCBORGarbage(t *testing.T) {
	_, err := DecodeCBOR([]byte{0xff, 0x00})
	require.Error(t, err)
}
