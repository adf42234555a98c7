package contract

import (
	"maps"

	"github.com/roach88/docgrove/internal/value"
)

// TokenConventions describe how a token is displayed.
type TokenConventions struct {
	Decimals      uint8
	Localizations map[string]string
}

// TokenConfiguration holds a token's supply settings and the change-control
// rules for every token action.
type TokenConfiguration struct {
	Conventions            TokenConventions
	ConventionsChangeRules ChangeControlRules

	BaseSupply           uint64
	MaxSupply            *uint64
	MaxSupplyChangeRules ChangeControlRules

	StartAsPaused                bool
	AllowTransferToFrozenBalance bool

	MainControlGroup              *uint16
	MainControlGroupCanBeModified AuthorizedActionTakers

	ManualMintingRules      ChangeControlRules
	ManualBurningRules      ChangeControlRules
	FreezeRules             ChangeControlRules
	UnfreezeRules           ChangeControlRules
	DestroyFrozenFundsRules ChangeControlRules
	EmergencyActionRules    ChangeControlRules

	NewTokensDestinationIdentity      *value.Identifier
	NewTokensDestinationIdentityRules ChangeControlRules

	MintingAllowChoosingDestination      bool
	MintingAllowChoosingDestinationRules ChangeControlRules

	DirectPurchasePricingRules ChangeControlRules

	// PreProgrammedDistribution maps a block time (ms) to the amounts each
	// recipient may claim from that time on.
	PreProgrammedDistribution map[uint64]map[value.Identifier]uint64
}

// Normalize fills nil takers with NoOne.
func (c *TokenConfiguration) Normalize() {
	for _, r := range c.allRules() {
		*r = r.Normalize()
	}
	if c.MainControlGroupCanBeModified == nil {
		c.MainControlGroupCanBeModified = NoOne{}
	}
}

func (c *TokenConfiguration) allRules() []*ChangeControlRules {
	return []*ChangeControlRules{
		&c.ConventionsChangeRules,
		&c.MaxSupplyChangeRules,
		&c.ManualMintingRules,
		&c.ManualBurningRules,
		&c.FreezeRules,
		&c.UnfreezeRules,
		&c.DestroyFrozenFundsRules,
		&c.EmergencyActionRules,
		&c.NewTokensDestinationIdentityRules,
		&c.MintingAllowChoosingDestinationRules,
		&c.DirectPurchasePricingRules,
	}
}

// Takers lists every action-takers assignment in the configuration.
func (c *TokenConfiguration) Takers() []AuthorizedActionTakers {
	out := []AuthorizedActionTakers{c.MainControlGroupCanBeModified}
	for _, r := range c.allRules() {
		out = append(out, r.AuthorizedToMakeChange, r.AdminActionTakers)
	}
	return out
}

// Clone returns a deep copy.
func (c *TokenConfiguration) Clone() *TokenConfiguration {
	out := *c
	out.Conventions.Localizations = maps.Clone(c.Conventions.Localizations)
	if c.MaxSupply != nil {
		v := *c.MaxSupply
		out.MaxSupply = &v
	}
	if c.MainControlGroup != nil {
		v := *c.MainControlGroup
		out.MainControlGroup = &v
	}
	if c.NewTokensDestinationIdentity != nil {
		v := *c.NewTokensDestinationIdentity
		out.NewTokensDestinationIdentity = &v
	}
	if c.PreProgrammedDistribution != nil {
		out.PreProgrammedDistribution = make(map[uint64]map[value.Identifier]uint64, len(c.PreProgrammedDistribution))
		for at, recipients := range c.PreProgrammedDistribution {
			out.PreProgrammedDistribution[at] = maps.Clone(recipients)
		}
	}
	return &out
}
