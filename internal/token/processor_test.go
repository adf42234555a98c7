package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/testutil"
	"github.com/roach88/docgrove/internal/value"
)

type fixture struct {
	db       *grove.DB
	p        *Processor
	contract *contract.DataContract
	tokenID  value.Identifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	c := testutil.MustLoadContract(t, testutil.PeopleContractCUE)
	db := testutil.NewGrove(t)
	p := NewProcessor(db)
	require.NoError(t, p.RegisterContract(ctx, c))
	require.NoError(t, p.RegisterIdentities(ctx,
		testutil.OwnerID, testutil.MemberA, testutil.MemberB, testutil.MemberC, testutil.Claimant))
	return &fixture{db: db, p: p, contract: c, tokenID: c.TokenID(0)}
}

func (f *fixture) transition(owner value.Identifier, a Action) Transition {
	return Transition{Owner: owner, Contract: contract.ByID{ID: f.contract.ID}, Action: a}
}

func (f *fixture) apply(t *testing.T, blockTime uint64, ts ...Transition) []Outcome {
	t.Helper()
	out := f.p.Apply(context.Background(), Batch{BlockTimeMs: blockTime, Transitions: ts})
	require.Len(t, out, len(ts))
	return out
}

func (f *fixture) one(t *testing.T, tr Transition) Outcome {
	t.Helper()
	return f.apply(t, 0, tr)[0]
}

func (f *fixture) balance(t *testing.T, id value.Identifier) uint64 {
	t.Helper()
	var n uint64
	require.NoError(t, f.p.View(context.Background(), func(st *State) error {
		var err error
		n, _, err = st.Balance(f.tokenID, id)
		return err
	}))
	return n
}

func (f *fixture) supply(t *testing.T) uint64 {
	t.Helper()
	var n uint64
	require.NoError(t, f.p.View(context.Background(), func(st *State) error {
		var err error
		n, err = st.TotalSupply(f.tokenID)
		return err
	}))
	return n
}

func (f *fixture) rootHash(t *testing.T) [32]byte {
	t.Helper()
	var h [32]byte
	require.NoError(t, f.db.View(context.Background(), func(tx *grove.Tx) error {
		var err error
		h, err = tx.RootHash()
		return err
	}))
	return h
}

func requireApplied(t *testing.T, o Outcome) {
	t.Helper()
	require.NoError(t, o.Err)
	require.Equal(t, StatusApplied, o.Status)
}

func requireDenied(t *testing.T, o Outcome, code ErrorCode) {
	t.Helper()
	require.Equal(t, StatusDenied, o.Status, "err: %v", o.Err)
	ce, ok := o.Denial()
	require.True(t, ok)
	assert.Equal(t, code, ce.Code, ce.Message)
}

func TestRegisterContractInitializesToken(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, uint64(100000), f.supply(t))
	assert.Equal(t, uint64(100000), f.balance(t, testutil.OwnerID))

	require.NoError(t, f.p.View(context.Background(), func(st *State) error {
		paused, err := st.IsPaused(f.tokenID)
		require.NoError(t, err)
		assert.False(t, paused)

		_, ok, err := st.Balance(f.tokenID, testutil.MemberA)
		require.NoError(t, err)
		assert.False(t, ok, "an identity that never held the token has no balance entry")
		return nil
	}))
}

func TestTransfer(t *testing.T) {
	f := newFixture(t)

	o := f.one(t, f.transition(testutil.OwnerID, Transfer{Amount: 500, Recipient: testutil.MemberA}))
	requireApplied(t, o)
	assert.Equal(t, uint64(500), o.Result.Amount)
	assert.Positive(t, o.Cost.Fee())

	assert.Equal(t, uint64(99500), f.balance(t, testutil.OwnerID))
	assert.Equal(t, uint64(500), f.balance(t, testutil.MemberA))
	assert.Equal(t, uint64(100000), f.supply(t))

	o = f.one(t, f.transition(testutil.MemberA, Transfer{Amount: 501, Recipient: testutil.MemberB}))
	requireDenied(t, o, ErrCodeInsufficientBalance)
	assert.Equal(t, "500", o.Err.(*ConsensusError).Details["balance"])
}

func TestBurn(t *testing.T) {
	f := newFixture(t)
	before := f.rootHash(t)

	requireDenied(t, f.one(t, f.transition(testutil.OwnerID, Burn{Amount: 100001})), ErrCodeInsufficientBalance)
	assert.Equal(t, before, f.rootHash(t), "a denied burn leaves state unchanged")

	requireDenied(t, f.one(t, f.transition(testutil.MemberA, Burn{Amount: 1})), ErrCodeUnauthorized)

	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, Burn{Amount: 100})))
	assert.Equal(t, uint64(99900), f.supply(t))
	assert.Equal(t, uint64(99900), f.balance(t, testutil.OwnerID))
}

func TestGroupMintCompletesAtRequiredPower(t *testing.T) {
	f := newFixture(t)
	actionID := ActionID(f.tokenID, testutil.MemberA, 1, KindMint)

	propose := f.transition(testutil.MemberA, Mint{Amount: 1000})
	propose.Nonce = 1
	propose.Group = &GroupInfo{Position: 0, IsProposer: true}
	o := f.one(t, propose)
	require.NoError(t, o.Err)
	assert.Equal(t, StatusPending, o.Status)
	require.NotNil(t, o.Group)
	assert.Equal(t, actionID, o.Group.ID)
	assert.Equal(t, uint64(1), o.Group.Power)
	assert.Equal(t, uint64(100000), f.supply(t), "a pending mint issues nothing")

	sign := f.transition(testutil.MemberB, Mint{Amount: 1000})
	sign.Group = &GroupInfo{Position: 0, ActionID: actionID}
	o = f.one(t, sign)
	requireApplied(t, o)
	assert.True(t, o.Group.Completed)
	require.NotNil(t, o.Result.Recipient)
	assert.Equal(t, testutil.OwnerID, *o.Result.Recipient)
	assert.Equal(t, uint64(101000), f.supply(t))
	assert.Equal(t, uint64(101000), f.balance(t, testutil.OwnerID))

	before := f.rootHash(t)
	late := f.transition(testutil.MemberC, Mint{Amount: 1000})
	late.Group = &GroupInfo{Position: 0, ActionID: actionID}
	requireDenied(t, f.one(t, late), ErrCodeGroupActionAlreadyCompleted)
	assert.Equal(t, before, f.rootHash(t))
	assert.Equal(t, uint64(101000), f.supply(t))

	require.NoError(t, f.p.View(context.Background(), func(st *State) error {
		ga, err := st.GroupAction(f.contract.ID, 0, actionID)
		require.NoError(t, err)
		require.NotNil(t, ga)
		assert.True(t, ga.Completed)
		assert.Equal(t, testutil.MemberA, ga.Proposer)
		assert.Equal(t, []value.Identifier{testutil.MemberA, testutil.MemberB}, ga.SignerIDs())

		a, err := ga.Action()
		require.NoError(t, err)
		assert.Equal(t, Mint{Amount: 1000}, a)
		return nil
	}))
}

func TestGroupSignatureRejections(t *testing.T) {
	f := newFixture(t)
	actionID := ActionID(f.tokenID, testutil.MemberA, 7, KindMint)

	propose := f.transition(testutil.MemberA, Mint{Amount: 1000})
	propose.Nonce = 7
	propose.Group = &GroupInfo{Position: 0, IsProposer: true}
	require.Equal(t, StatusPending, f.one(t, propose).Status)

	cosign := func(owner value.Identifier, a Action, id value.Identifier) Transition {
		tr := f.transition(owner, a)
		tr.Group = &GroupInfo{Position: 0, ActionID: id}
		return tr
	}

	tests := []struct {
		name string
		tr   Transition
		code ErrorCode
	}{
		{"proposal replayed", propose, ErrCodeGroupActionAlreadySigned},
		{"proposer signs again", cosign(testutil.MemberA, Mint{Amount: 1000}, actionID), ErrCodeGroupActionAlreadySigned},
		{"unknown action", cosign(testutil.MemberB, Mint{Amount: 1000}, testutil.RepeatedID(9)), ErrCodeGroupActionDoesNotExist},
		{"changed amount", cosign(testutil.MemberB, Mint{Amount: 999}, actionID), ErrCodeGroupActionParametersModified},
		{"not a member", cosign(testutil.Outsider, Mint{Amount: 1000}, actionID), ErrCodeIdentityNotMemberOfGroup},
		{"no group info", f.transition(testutil.MemberB, Mint{Amount: 1000}), ErrCodeUnauthorized},
		{"group on transfer", cosign(testutil.OwnerID, Transfer{Amount: 1, Recipient: testutil.MemberA}, actionID), ErrCodeGroupActionNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.rootHash(t)
			requireDenied(t, f.one(t, tt.tr), tt.code)
			assert.Equal(t, before, f.rootHash(t))
		})
	}

	t.Run("unknown group position", func(t *testing.T) {
		tr := f.transition(testutil.MemberB, Mint{Amount: 1000})
		tr.Group = &GroupInfo{Position: 9, ActionID: actionID}
		o := f.one(t, tr)
		requireDenied(t, o, ErrCodeInvalidGroupPosition)
		ce, _ := o.Denial()
		assert.False(t, ce.Paid)
	})

	t.Run("unknown token position", func(t *testing.T) {
		tr := f.transition(testutil.OwnerID, Burn{Amount: 1})
		tr.TokenPosition = 3
		o := f.one(t, tr)
		requireDenied(t, o, ErrCodeInvalidTokenPosition)
		ce, _ := o.Denial()
		assert.False(t, ce.Paid)
	})

	// the rejected signatures did not disturb the pending action
	o := f.one(t, cosign(testutil.MemberC, Mint{Amount: 1000}, actionID))
	requireApplied(t, o)
	assert.Equal(t, uint64(101000), f.supply(t))
}

func TestBatchIsolatesDenials(t *testing.T) {
	f := newFixture(t)

	out := f.apply(t, 0,
		f.transition(testutil.OwnerID, Transfer{Amount: 10, Recipient: testutil.MemberA}),
		f.transition(testutil.MemberA, Transfer{Amount: 11, Recipient: testutil.MemberB}),
		f.transition(testutil.MemberA, Transfer{Amount: 10, Recipient: testutil.MemberB}),
	)
	requireApplied(t, out[0])
	requireDenied(t, out[1], ErrCodeInsufficientBalance)
	requireApplied(t, out[2])
	for i, o := range out {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, KindTransfer, o.Kind)
	}
	assert.Equal(t, uint64(0), f.balance(t, testutil.MemberA))
	assert.Equal(t, uint64(10), f.balance(t, testutil.MemberB))
}

func TestBatchReportsMissingContract(t *testing.T) {
	f := newFixture(t)

	tr := f.transition(testutil.OwnerID, Burn{Amount: 1})
	tr.Contract = contract.ByID{ID: testutil.RepeatedID(42)}
	o := f.one(t, tr)
	assert.Equal(t, StatusFailed, o.Status)
	assert.ErrorIs(t, o.Err, contract.ErrContractNotFound)
	_, denied := o.Denial()
	assert.False(t, denied)
}

func TestEmergencyPause(t *testing.T) {
	f := newFixture(t)
	pay := f.transition(testutil.OwnerID, Transfer{Amount: 5, Recipient: testutil.MemberA})
	// a single identity mints, so the pause check is reached without a group
	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, ConfigUpdate{
		Item: ControlChange{Rule: RuleManualMinting, Takers: contract.IdentityTaker{ID: testutil.MemberA}},
	})))
	mint := f.transition(testutil.MemberA, Mint{Amount: 1000})

	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, EmergencyAction{Action: EmergencyPause})))
	requireDenied(t, f.one(t, pay), ErrCodeTokenPaused)
	requireDenied(t, f.one(t, f.transition(testutil.OwnerID, Burn{Amount: 5})), ErrCodeTokenPaused)
	requireDenied(t, f.one(t, mint), ErrCodeTokenPaused)
	assert.Equal(t, uint64(100000), f.supply(t))

	// administration keeps working while paused
	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, Freeze{Identity: testutil.MemberC})))

	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, EmergencyAction{Action: EmergencyResume})))
	requireApplied(t, f.one(t, pay))
	assert.Equal(t, uint64(5), f.balance(t, testutil.MemberA))
	requireApplied(t, f.one(t, mint))
	assert.Equal(t, uint64(101000), f.supply(t))
}

func TestFreezeAndDestroyFrozenFunds(t *testing.T) {
	f := newFixture(t)

	requireDenied(t, f.one(t, f.transition(testutil.OwnerID, Unfreeze{Identity: testutil.MemberA})), ErrCodeAccountNotFrozen)
	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, Transfer{Amount: 300, Recipient: testutil.MemberA})))
	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, Freeze{Identity: testutil.MemberA})))
	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, Freeze{Identity: testutil.MemberA})))

	requireDenied(t, f.one(t, f.transition(testutil.MemberA, Transfer{Amount: 1, Recipient: testutil.MemberB})), ErrCodeAccountFrozen)
	requireDenied(t, f.one(t, f.transition(testutil.OwnerID, Transfer{Amount: 1, Recipient: testutil.MemberA})), ErrCodeAccountFrozen)
	requireDenied(t, f.one(t, f.transition(testutil.MemberB, Freeze{Identity: testutil.MemberA})), ErrCodeUnauthorized)

	o := f.one(t, f.transition(testutil.OwnerID, DestroyFrozenFunds{Identity: testutil.MemberA}))
	requireApplied(t, o)
	assert.Equal(t, uint64(300), o.Result.Amount)
	assert.Equal(t, uint64(99700), f.supply(t))
	assert.Equal(t, uint64(0), f.balance(t, testutil.MemberA))

	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, Unfreeze{Identity: testutil.MemberA})))
	requireDenied(t, f.one(t, f.transition(testutil.OwnerID, DestroyFrozenFunds{Identity: testutil.MemberA})), ErrCodeAccountNotFrozen)
}

func TestConfigUpdate(t *testing.T) {
	f := newFixture(t)
	update := func(owner value.Identifier, item ConfigChangeItem) Outcome {
		return f.one(t, f.transition(owner, ConfigUpdate{Item: item}))
	}
	stored := func() *contract.DataContract {
		var c *contract.DataContract
		require.NoError(t, f.db.View(context.Background(), func(tx *grove.Tx) error {
			var err error
			c, err = contract.NewRegistry(nil).Fetch(tx, f.contract.ID)
			return err
		}))
		return c
	}

	o := update(testutil.OwnerID, MintingAllowChoosingDestinationChange{Allowed: false})
	requireApplied(t, o)
	assert.Equal(t, uint32(2), o.Result.ContractVersion)
	c := stored()
	assert.Equal(t, uint32(2), c.Version)
	assert.False(t, c.Tokens[0].MintingAllowChoosingDestination)

	requireDenied(t, update(testutil.MemberA, MintingAllowChoosingDestinationChange{Allowed: true}), ErrCodeUnauthorized)
	requireDenied(t, update(testutil.OwnerID, AdminChange{Rule: RuleFreeze, Takers: contract.NoOne{}}), ErrCodeSelfChangeNotPermitted)
	requireDenied(t, update(testutil.OwnerID, ControlChange{Rule: RuleFreeze, Takers: contract.NoOne{}}), ErrCodeChangeToNoOneNotAllowed)
	requireDenied(t, update(testutil.OwnerID, MainControlGroupChange{Position: ptr(uint16(5))}), ErrCodeGroupDoesNotExist)
	requireDenied(t, update(testutil.OwnerID, ControlChange{Rule: RuleFreeze, Takers: contract.IdentityTaker{ID: testutil.Outsider}}), ErrCodeIdentityDoesNotExist)
	assert.Equal(t, uint32(2), stored().Version, "denied updates do not bump the version")

	require.NoError(t, f.p.RegisterIdentities(context.Background(), testutil.Outsider))
	requireApplied(t, update(testutil.OwnerID, ControlChange{Rule: RuleFreeze, Takers: contract.IdentityTaker{ID: testutil.Outsider}}))
	requireDenied(t, f.one(t, f.transition(testutil.OwnerID, Freeze{Identity: testutil.MemberA})), ErrCodeUnauthorized)
	requireApplied(t, f.one(t, f.transition(testutil.Outsider, Freeze{Identity: testutil.MemberA})))

	// the max supply rule is decided by the main group
	requireDenied(t, update(testutil.OwnerID, MaxSupplyChange{MaxSupply: ptr(uint64(1))}), ErrCodeIdentityNotMemberOfGroup)

	requireApplied(t, update(testutil.OwnerID, MainControlGroupChange{}))
	mint := f.transition(testutil.MemberA, Mint{Amount: 1})
	mint.Group = &GroupInfo{Position: 0, IsProposer: true}
	requireDenied(t, f.one(t, mint), ErrCodeMainGroupNotSet)
	assert.Equal(t, uint32(4), stored().Version)
}

func TestMaxSupplyChangeThroughGroup(t *testing.T) {
	f := newFixture(t)
	propose := func(max uint64, nonce uint64) Outcome {
		tr := f.transition(testutil.MemberA, ConfigUpdate{Item: MaxSupplyChange{MaxSupply: &max}})
		tr.Nonce = nonce
		tr.Group = &GroupInfo{Position: 0, IsProposer: true}
		return f.one(t, tr)
	}

	// a proposal is validated against current state when signed
	requireDenied(t, propose(99999, 1), ErrCodeMaxSupplyBelowSupply)

	require.Equal(t, StatusPending, propose(100500, 2).Status)
	item := MaxSupplyChange{MaxSupply: ptr(uint64(100500))}
	sign := f.transition(testutil.MemberC, ConfigUpdate{Item: item})
	sign.Group = &GroupInfo{Position: 0, ActionID: ActionID(f.tokenID, testutil.MemberA, 2, KindConfigUpdate)}
	o := f.one(t, sign)
	requireApplied(t, o)
	assert.Equal(t, uint32(2), o.Result.ContractVersion)

	mint := f.transition(testutil.MemberA, Mint{Amount: 501})
	mint.Nonce = 3
	mint.Group = &GroupInfo{Position: 0, IsProposer: true}
	requireDenied(t, f.one(t, mint), ErrCodeMintPastMaxSupply)
}

func TestMintRecipient(t *testing.T) {
	f := newFixture(t)
	mint := func(proposer value.Identifier, nonce uint64, recipient *value.Identifier) Outcome {
		tr := f.transition(proposer, Mint{Amount: 10, Recipient: recipient})
		tr.Nonce = nonce
		tr.Group = &GroupInfo{Position: 0, IsProposer: true}
		return f.one(t, tr)
	}

	requireDenied(t, mint(testutil.MemberA, 1, ptr(testutil.Outsider)), ErrCodeRecipientDoesNotExist)

	require.Equal(t, StatusPending, mint(testutil.MemberA, 2, ptr(testutil.MemberC)).Status)
	sign := f.transition(testutil.MemberB, Mint{Amount: 10, Recipient: ptr(testutil.MemberC)})
	sign.Group = &GroupInfo{Position: 0, ActionID: ActionID(f.tokenID, testutil.MemberA, 2, KindMint)}
	requireApplied(t, f.one(t, sign))
	assert.Equal(t, uint64(10), f.balance(t, testutil.MemberC))
}

func TestClaimDistribution(t *testing.T) {
	f := newFixture(t)
	claim := f.transition(testutil.Claimant, Claim{})

	requireDenied(t, f.apply(t, 4999, claim)[0], ErrCodeNoCurrentRewards)
	requireDenied(t, f.apply(t, 6000, f.transition(testutil.MemberA, Claim{}))[0], ErrCodeWrongClaimant)

	o := f.apply(t, 6000, claim)[0]
	requireApplied(t, o)
	assert.Equal(t, uint64(250), o.Result.Amount)
	assert.Equal(t, uint64(250), f.balance(t, testutil.Claimant))
	assert.Equal(t, uint64(100250), f.supply(t))

	requireDenied(t, f.apply(t, 7000, claim)[0], ErrCodeNoCurrentRewards)
}

func TestDirectPurchase(t *testing.T) {
	f := newFixture(t)
	buy := func(amount, agreed uint64) Outcome {
		return f.one(t, f.transition(testutil.MemberA, DirectPurchase{Amount: amount, TotalAgreedPrice: agreed}))
	}

	requireDenied(t, buy(10, 100), ErrCodeNotForSale)
	requireDenied(t, f.one(t, f.transition(testutil.MemberA, SetPrice{Price: ptr(uint64(3))})), ErrCodeUnauthorized)
	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, SetPrice{Price: ptr(uint64(3))})))

	requireDenied(t, buy(10, 29), ErrCodePriceTooLow)
	requireDenied(t, buy(1<<63, 1<<63), ErrCodePriceTooLow)

	o := buy(10, 30)
	requireApplied(t, o)
	assert.Equal(t, uint64(30), o.Result.Credits)
	assert.Equal(t, uint64(10), f.balance(t, testutil.MemberA))
	assert.Equal(t, uint64(100010), f.supply(t))

	requireApplied(t, f.one(t, f.transition(testutil.OwnerID, SetPrice{})))
	requireDenied(t, buy(1, 3), ErrCodeNotForSale)
}

func ptr[T any](v T) *T { return &v }
