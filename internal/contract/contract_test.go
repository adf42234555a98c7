package contract

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/kv"
	"github.com/roach88/docgrove/internal/value"
)

const (
	peopleID = "4vJ9JU1bJJE96FWSJKvHsmmFADCg4gpZQff4P3bkLKi"
	ownerID  = "8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR"
	memberA  = "CktRuQ2mttgRGkXJtyksdKHjUdc2C4TgDzyB98oEzy8"
)

func loadPeople(t *testing.T) *DataContract {
	t.Helper()
	contracts, err := LoadCUE("testdata/contracts")
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	return contracts[0]
}

func TestEncodeIntegersPreserveOrder(t *testing.T) {
	ints := []int64{-1 << 62, -300, -1, 0, 1, 255, 256, 1 << 40}
	for i := 1; i < len(ints); i++ {
		assert.Negative(t, bytes.Compare(EncodeI64(ints[i-1]), EncodeI64(ints[i])), "%d < %d", ints[i-1], ints[i])
	}
	uints := []uint64{0, 1, 1 << 32, 1<<63 - 1}
	for i := 1; i < len(uints); i++ {
		assert.Negative(t, bytes.Compare(EncodeU64(uints[i-1]), EncodeU64(uints[i])), "%d < %d", uints[i-1], uints[i])
	}
	// the flipped top bit wraps at 2^63
	assert.Positive(t, bytes.Compare(EncodeU64(1<<63-1), EncodeU64(1<<63)))
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 0}, EncodeU64(1<<63))
	u, err := DecodeU64(EncodeU64(1 << 63))
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), u)

	n, err := DecodeI64(EncodeI64(-42))
	require.NoError(t, err)
	assert.Equal(t, int64(-42), n)
	_, err = DecodeU64([]byte{1, 2})
	assert.Error(t, err)
}

func TestIndexMatches(t *testing.T) {
	idx := func(names ...string) Index {
		out := Index{Name: "i"}
		for _, n := range names {
			out.Properties = append(out.Properties, IndexProperty{Name: n, Ascending: true})
		}
		return out
	}

	tests := []struct {
		name     string
		index    Index
		query    IndexQuery
		wantOK   bool
		wantDiff int
	}{
		{"exact equality", idx("a"), IndexQuery{Equal: []string{"a"}}, true, 0},
		{"equality prefix", idx("a", "b"), IndexQuery{Equal: []string{"a"}}, true, 1},
		{"equality any order", idx("a", "b"), IndexQuery{Equal: []string{"b", "a"}}, true, 0},
		{"equality not leading", idx("a", "b"), IndexQuery{Equal: []string{"b"}}, false, 0},
		{"range after equality", idx("a", "b"), IndexQuery{Equal: []string{"a"}, Range: "b", OrderBy: []string{"b"}}, true, 0},
		{"range skips a level", idx("a", "b", "c"), IndexQuery{Equal: []string{"a"}, Range: "c", OrderBy: []string{"c"}}, false, 0},
		{"in then range", idx("a", "b"), IndexQuery{In: "a", Range: "b", OrderBy: []string{"b"}}, true, 0},
		{"in too deep from end", idx("a", "b", "c"), IndexQuery{In: "a"}, false, 0},
		{"in before last", idx("a", "b", "c"), IndexQuery{Equal: []string{"a"}, In: "b"}, true, 1},
		{"order by only", idx("a", "b"), IndexQuery{OrderBy: []string{"a"}}, true, 1},
		{"order by out of order", idx("a", "b"), IndexQuery{OrderBy: []string{"b", "a"}}, false, 0},
		{"order by on equality field is ignored", idx("a", "b"), IndexQuery{Equal: []string{"a"}, OrderBy: []string{"a", "b"}}, true, 0},
		{"too many fields", idx("a"), IndexQuery{Equal: []string{"a", "b"}}, false, 0},
		{"no usage", idx("a", "b"), IndexQuery{}, true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff, ok := tt.index.Matches(tt.query)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantDiff, diff)
			}
		})
	}
}

func TestIndexForTypesPicksClosest(t *testing.T) {
	c := loadPeople(t)
	person, ok := c.DocumentType("person")
	require.True(t, ok)

	idx, diff, ok := person.IndexForTypes(IndexQuery{Equal: []string{"lastName"}})
	require.True(t, ok)
	assert.Equal(t, "byLastFirst", idx.Name)
	assert.Equal(t, 1, diff)

	idx, diff, ok = person.IndexForTypes(IndexQuery{OrderBy: []string{"firstName"}})
	require.True(t, ok)
	assert.Equal(t, "byFirstName", idx.Name)
	assert.Zero(t, diff)

	_, _, ok = person.IndexForTypes(IndexQuery{Equal: []string{"nickname"}})
	assert.False(t, ok)
}

func TestSerializeValueForKey(t *testing.T) {
	c := loadPeople(t)
	person, _ := c.DocumentType("person")
	handle, _ := c.DocumentType("handle")

	raw, err := person.SerializeValueForKey("firstName", value.String("e\u0301"))
	require.NoError(t, err)
	assert.Equal(t, []byte("\u00e9"), raw, "strings are NFC normalized")

	raw, err = person.SerializeValueForKey("age", value.Int(-1))
	require.NoError(t, err)
	assert.Equal(t, EncodeI64(-1), raw)

	raw, err = person.SerializeValueForKey("firstName", value.Null{})
	require.NoError(t, err)
	assert.Empty(t, raw)

	owner := value.MustParseIdentifier(ownerID)
	raw, err = handle.SerializeValueForKey("owner", value.String(ownerID))
	require.NoError(t, err)
	assert.Equal(t, owner.Bytes(), raw)

	raw, err = person.SerializeValueForKey(FieldCreatedAt, value.Int(10))
	require.NoError(t, err)
	assert.Equal(t, EncodeU64(10), raw)

	_, err = person.SerializeValueForKey("age", value.String("ten"))
	assert.Error(t, err)
	_, err = person.SerializeValueForKey("nickname", value.String("x"))
	assert.Error(t, err)
	_, err = person.SerializeValueForKey("firstName", value.String(string(bytes.Repeat([]byte("x"), MaxKeyValueSize+1))))
	assert.Error(t, err)
}

func TestLoadCUE(t *testing.T) {
	c := loadPeople(t)

	assert.Equal(t, value.MustParseIdentifier(peopleID), c.ID)
	assert.Equal(t, value.MustParseIdentifier(ownerID), c.OwnerID)
	assert.Equal(t, uint32(1), c.Version)
	assert.Equal(t, []string{"handle", "person"}, c.DocumentTypeNames())

	handle, _ := c.DocumentType("handle")
	assert.True(t, handle.KeepsHistory)
	assert.True(t, handle.Mutable)
	assert.True(t, handle.Indexes[0].Unique)
	assert.True(t, handle.IsUniqueIndexed("label"))
	assert.Equal(t, c.ID, handle.ContractID())

	g, ok := c.Group(0)
	require.True(t, ok)
	assert.Equal(t, uint32(2), g.RequiredPower)
	power, ok := g.MemberPower(value.MustParseIdentifier(memberA))
	assert.True(t, ok)
	assert.Equal(t, uint32(1), power)

	tok, ok := c.Token(0)
	require.True(t, ok)
	assert.Equal(t, uint8(8), tok.Conventions.Decimals)
	require.NotNil(t, tok.MaxSupply)
	assert.Equal(t, uint64(1000000), *tok.MaxSupply)
	assert.Equal(t, MainGroup{}, tok.ManualMintingRules.AuthorizedToMakeChange)
	assert.Equal(t, GroupTaker{Position: 0}, tok.EmergencyActionRules.AuthorizedToMakeChange)
	assert.Equal(t, ContractOwner{}, tok.MainControlGroupCanBeModified)
	assert.Len(t, tok.PreProgrammedDistribution[5000], 1)
}

func TestLoadCUEErrors(t *testing.T) {
	_, err := LoadCUE("testdata/missing")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)

	_, err = LoadCUEString(`contract: x: { owner: "` + ownerID + `" }`)
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeInvalid, loadErr.Code)
	assert.Contains(t, loadErr.Message, "id is required")

	_, err = LoadCUEString(`contract: x: {
		id: "` + peopleID + `"
		owner: "` + ownerID + `"
		tokens: "0": { manualMintingRules: authorizedToMakeChange: "group:7" }
	}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "group 7 does not exist")

	_, err = LoadCUEString(`contract: x: {
		id: "` + peopleID + `"
		owner: "` + ownerID + `"
		documents: d: {
			properties: a: type: "string"
			indices: [{name: "i", properties: [{a: "sideways"}]}]
		}
	}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be asc or desc")
}

func TestContractCBORRoundTrip(t *testing.T) {
	c := loadPeople(t)

	data, err := EncodeCBOR(c)
	require.NoError(t, err)
	again, err := EncodeCBOR(c)
	require.NoError(t, err)
	assert.Equal(t, data, again, "encoding is deterministic")

	decoded, err := DecodeCBOR(data)
	require.NoError(t, err)
	assert.Equal(t, c, decoded)
}

func TestAuthorizedActionTakersParse(t *testing.T) {
	for _, taker := range []AuthorizedActionTakers{
		NoOne{}, ContractOwner{}, MainGroup{},
		IdentityTaker{ID: value.MustParseIdentifier(ownerID)},
		GroupTaker{Position: 12},
	} {
		parsed, err := ParseAuthorizedActionTakers(taker.String())
		require.NoError(t, err)
		assert.Equal(t, taker, parsed)
	}
	_, err := ParseAuthorizedActionTakers("group:70000")
	assert.Error(t, err)
	_, err = ParseAuthorizedActionTakers("everyone")
	assert.Error(t, err)
	assert.True(t, IsGroupTakers(MainGroup{}))
	assert.False(t, IsGroupTakers(ContractOwner{}))
}

func TestDocumentRoundTrip(t *testing.T) {
	c := loadPeople(t)
	handle, _ := c.DocumentType("handle")

	doc := &Document{
		ID:        value.MustParseIdentifier(memberA),
		OwnerID:   value.MustParseIdentifier(ownerID),
		Revision:  2,
		CreatedAt: 1000,
		UpdatedAt: 2000,
		Properties: value.Map{
			"label": value.String("alice"),
			"owner": value.String(ownerID),
		},
	}
	require.NoError(t, doc.Normalize(handle))
	assert.Equal(t, value.MustParseIdentifier(ownerID), doc.Properties["owner"])

	data, err := MarshalDocument(doc)
	require.NoError(t, err)
	decoded, err := UnmarshalDocument(data, handle)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)

	raw, ok, err := decoded.RawForField("label", handle)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("alice"), raw)

	_, ok, err = decoded.RawForField("missing", handle)
	require.NoError(t, err)
	assert.False(t, ok)

	bad := &Document{Properties: value.Map{"label": value.String("x")}}
	assert.ErrorContains(t, bad.Normalize(handle), "required property \"owner\"")
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	db := grove.Open(kv.NewMemory())
	t.Cleanup(func() { db.Close() })
	reg := NewRegistry(nil)
	c := loadPeople(t)

	require.NoError(t, db.Update(ctx, func(tx *grove.Tx) error { return reg.Put(tx, c) }))

	require.NoError(t, db.View(ctx, func(tx *grove.Tx) error {
		got, err := reg.Resolve(ctx, tx, ByID{ID: c.ID})
		require.NoError(t, err)
		assert.Equal(t, c, got)

		person, _ := got.DocumentType("person")
		ok, err := tx.Has(person.DocumentTypePath(), []byte{0})
		require.NoError(t, err)
		assert.True(t, ok, "primary key tree exists")

		_, err = reg.Resolve(ctx, tx, ByID{ID: value.MustParseIdentifier(memberA)})
		assert.ErrorIs(t, err, ErrContractNotFound)
		return nil
	}))

	data, err := EncodeCBOR(c)
	require.NoError(t, err)
	require.NoError(t, db.View(ctx, func(tx *grove.Tx) error {
		got, err := reg.Resolve(ctx, tx, ByBytes{Data: data})
		require.NoError(t, err)
		assert.Equal(t, c.ID, got.ID)
		return nil
	}))

	err = db.Update(ctx, func(tx *grove.Tx) error { return reg.Put(tx, c) })
	assert.ErrorIs(t, err, ErrStaleVersion)

	next := c.Clone()
	next.Version++
	*next.Tokens[0].MaxSupply = 500000
	require.NoError(t, db.Update(ctx, func(tx *grove.Tx) error { return reg.Put(tx, next) }))
	assert.Equal(t, uint64(1000000), *c.Tokens[0].MaxSupply, "clone is independent")
}
