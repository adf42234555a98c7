package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifierBase58RoundTrip(t *testing.T) {
	var id Identifier
	for i := range id {
		id[i] = byte(i + 1)
	}

	parsed, err := ParseIdentifier(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseIdentifierWrongLength(t *testing.T) {
	_, err := ParseIdentifier("abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 32")

	_, err = ParseIdentifier("")
	require.Error(t, err)
}

func TestIdentifierFromValue(t *testing.T) {
	id := Identifier{9}

	tests := []struct {
		name string
		in   Value
	}{
		{"identifier", id},
		{"bytes", Bytes(id.Bytes())},
		{"base58 string", String(id.String())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IdentifierFromValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, id, got)
		})
	}

	_, err := IdentifierFromValue(Int(1))
	require.Error(t, err)
}

func TestIdentifierText(t *testing.T) {
	id := Identifier{1, 2, 3}
	text, err := id.MarshalText()
	require.NoError(t, err)

	var back Identifier
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, id, back)
	assert.False(t, back.IsZero())
	assert.True(t, Identifier{}.IsZero())
}

func TestHashWithDomainSeparation(t *testing.T) {
	a := HashWithDomain(DomainAction, []byte("ab"), []byte("c"))
	b := HashWithDomain(DomainAction, []byte("a"), []byte("bc"))
	c := HashWithDomain(DomainToken, []byte("ab"), []byte("c"))

	assert.NotEqual(t, a, b, "part boundaries must change the hash")
	assert.NotEqual(t, a, c, "domains must change the hash")
	assert.Equal(t, a, HashWithDomain(DomainAction, []byte("ab"), []byte("c")))
}
