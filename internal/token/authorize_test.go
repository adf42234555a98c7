package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/testutil"
)

func TestAuthorize(t *testing.T) {
	c := testutil.MustLoadContract(t, testutil.PeopleContractCUE)
	cfg, ok := c.Token(0)
	require.True(t, ok)

	auth, err := Authorize(testutil.MemberA, KindMint, cfg, c)
	require.NoError(t, err)
	assert.True(t, auth.IsGroup())
	assert.Equal(t, uint16(0), auth.GroupPosition)
	assert.Equal(t, uint32(2), auth.Group.RequiredPower)

	auth, err = Authorize(testutil.OwnerID, KindFreeze, cfg, c)
	require.NoError(t, err)
	assert.False(t, auth.IsGroup())

	_, err = Authorize(testutil.Outsider, KindMint, cfg, c)
	assert.True(t, HasCode(err, ErrCodeIdentityNotMemberOfGroup))
	assert.True(t, IsUnauthorized(err))

	_, err = Authorize(testutil.MemberA, KindFreeze, cfg, c)
	assert.True(t, HasCode(err, ErrCodeUnauthorized))

	// transfers act on the actor's own account and have no rule
	_, err = Authorize(testutil.MemberA, KindTransfer, cfg, c)
	require.Error(t, err)
	_, isDenial := AsConsensusError(err)
	assert.False(t, isDenial)
}

func TestAuthorizeTakersGroupErrors(t *testing.T) {
	c := testutil.MustLoadContract(t, testutil.PeopleContractCUE)
	cfg := c.Tokens[0].Clone()

	_, err := AuthorizeTakers(testutil.MemberA, contract.GroupTaker{Position: 4}, cfg, c)
	assert.True(t, HasCode(err, ErrCodeGroupDoesNotExist))

	cfg.MainControlGroup = nil
	_, err = AuthorizeTakers(testutil.MemberA, contract.MainGroup{}, cfg, c)
	assert.True(t, HasCode(err, ErrCodeMainGroupNotSet))

	_, err = AuthorizeTakers(testutil.OwnerID, contract.NoOne{}, cfg, c)
	assert.True(t, HasCode(err, ErrCodeUnauthorized))

	_, err = AuthorizeTakers(testutil.Outsider, contract.IdentityTaker{ID: testutil.Outsider}, cfg, c)
	assert.NoError(t, err)
}

func TestAllowedFor(t *testing.T) {
	c := testutil.MustLoadContract(t, testutil.PeopleContractCUE)
	cfg := c.Tokens[0]
	group := contract.GroupTaker{Position: 0}

	tests := []struct {
		name  string
		taker ActionTaker
		goal  ActionGoal
		want  bool
	}{
		{"one member participates", SingleIdentity(testutil.MemberA), GoalParticipation, true},
		{"outsider does not participate", SingleIdentity(testutil.Outsider), GoalParticipation, false},
		{"one member cannot complete", SingleIdentity(testutil.MemberA), GoalCompletion, false},
		{"two members complete", SpecifiedIdentities(testutil.MemberA, testutil.MemberC), GoalCompletion, true},
		{"outsiders add no power", SpecifiedIdentities(testutil.MemberA, testutil.Outsider), GoalCompletion, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AllowedFor(group, c, cfg, tt.taker, tt.goal))
		})
	}

	assert.True(t, AllowedFor(contract.ContractOwner{}, c, cfg, SingleIdentity(testutil.OwnerID), GoalCompletion))
	assert.False(t, AllowedFor(contract.NoOne{}, c, cfg, SingleIdentity(testutil.OwnerID), GoalCompletion))
}

func TestTakersFor(t *testing.T) {
	c := testutil.MustLoadContract(t, testutil.PeopleContractCUE)
	cfg := c.Tokens[0]

	takers, ok := TakersFor(KindMint, cfg)
	require.True(t, ok)
	assert.Equal(t, contract.MainGroup{}, takers)

	for _, k := range []ActionKind{KindTransfer, KindDirectPurchase, KindClaim, KindConfigUpdate} {
		_, ok := TakersFor(k, cfg)
		assert.False(t, ok, k.String())
	}
}
