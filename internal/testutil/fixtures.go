package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/kv"
)

// Fixture identities. Each is RepeatedID of its digit.
var (
	ContractID = RepeatedID(1)
	OwnerID    = RepeatedID(2)
	MemberA    = RepeatedID(3)
	MemberB    = RepeatedID(4)
	MemberC    = RepeatedID(5)
	Claimant   = RepeatedID(6)
	Outsider   = RepeatedID(7)
)

// PeopleContractCUE declares the fixture contract: a mutable `person` type
// with single and composite indexes, a history-keeping `handle` type with a
// unique index, group 0 of three members needing power 2, and token 0 whose
// minting goes through the main group and which
// pre-programs a distribution to Claimant at 5000ms.
const PeopleContractCUE = `
#owner: "8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR"

#ownerRules: {
	authorizedToMakeChange: "contractOwner"
	adminActionTakers:      "contractOwner"
}

contract: people: {
	id:      "4vJ9JU1bJJE96FWSJKvHsmmFADCg4gpZQff4P3bkLKi"
	owner:   #owner
	version: 1

	documents: person: {
		properties: {
			firstName: {type: "string", maxLength: 63}
			lastName: {type: "string", maxLength: 63}
			age: type: "integer"
		}
		required: ["firstName"]
		indices: [
			{name: "byFirstName", properties: [{firstName: "asc"}]},
			{name: "byLastFirst", properties: [{lastName: "asc"}, {firstName: "asc"}]},
			{name: "byAgeDesc", properties: [{age: "desc"}]},
			{name: "byOwnerFirst", properties: [{"$ownerId": "asc"}, {firstName: "asc"}]},
		]
	}

	documents: handle: {
		keepsHistory: true
		properties: {
			label: {type: "string", maxLength: 63}
			owner: type: "identifier"
		}
		required: ["label", "owner"]
		indices: [
			{name: "byLabel", properties: [{label: "asc"}], unique: true},
			{name: "byOwner", properties: [{owner: "asc"}, {label: "asc"}]},
		]
	}

	groups: "0": {
		members: {
			"CktRuQ2mttgRGkXJtyksdKHjUdc2C4TgDzyB98oEzy8": 1
			"GgBaCs3NCBuZN12kCJgAW63ydqohFkHEdfdEXBPzLHq": 1
			"LbUiWL3xVV8hTFYBVdbTNrpDo41NKS6o3LHHuDzjfcY": 1
		}
		requiredPower: 2
	}

	tokens: "0": {
		decimals: 8
		baseSupply:       100000
		maxSupply:        1000000
		mainControlGroup: 0
		mainControlGroupCanBeModified: "contractOwner"

		conventionsChangeRules: #ownerRules
		maxSupplyChangeRules: {
			authorizedToMakeChange: "mainGroup"
			adminActionTakers:      "contractOwner"
		}
		manualMintingRules: {
			authorizedToMakeChange: "mainGroup"
			adminActionTakers:      "contractOwner"
		}
		manualBurningRules: #ownerRules
		freezeRules: #ownerRules
		unfreezeRules: #ownerRules
		destroyFrozenFundsRules: #ownerRules
		emergencyActionRules: #ownerRules
		newTokensDestinationIdentity: #owner
		newTokensDestinationIdentityRules: #ownerRules
		mintingAllowChoosingDestination: true
		mintingAllowChoosingDestinationRules: #ownerRules
		directPurchasePricingRules: #ownerRules

		distribution: "5000": {
			"QWmroo4YnnMqYW3cnxWkFdaTxGD3P7vMSzwMHGbUzwF": 250
		}
	}
}
`

// MustLoadContract compiles the single contract declared in src.
func MustLoadContract(t testing.TB, src string) *contract.DataContract {
	t.Helper()
	contracts, err := contract.LoadCUEString(src)
	require.NoError(t, err)
	require.Len(t, contracts, 1)
	return contracts[0]
}

// NewGrove opens an in-memory grove closed at test cleanup.
func NewGrove(t testing.TB) *grove.DB {
	t.Helper()
	db := grove.Open(kv.NewMemory())
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedContract opens an in-memory grove with c registered.
func SeedContract(t testing.TB, c *contract.DataContract) *grove.DB {
	t.Helper()
	db := NewGrove(t)
	require.NoError(t, db.Update(context.Background(), func(tx *grove.Tx) error {
		return contract.NewRegistry(nil).Put(tx, c)
	}))
	return db
}
