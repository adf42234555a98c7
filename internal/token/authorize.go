package token

import (
	"fmt"
	"slices"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/value"
)

// ActionTaker is who acts: a single identity, or the set of identities that
// signed a group action.
type ActionTaker struct {
	Identities []value.Identifier
}

// SingleIdentity is an ActionTaker of one identity.
func SingleIdentity(id value.Identifier) ActionTaker {
	return ActionTaker{Identities: []value.Identifier{id}}
}

// SpecifiedIdentities is an ActionTaker of several identities.
func SpecifiedIdentities(ids ...value.Identifier) ActionTaker {
	return ActionTaker{Identities: ids}
}

func (t ActionTaker) includes(id value.Identifier) bool {
	return slices.Contains(t.Identities, id)
}

// ActionGoal is what an ActionTaker must achieve under a group rule.
type ActionGoal uint8

const (
	// GoalCompletion requires the takers' combined power to reach the
	// group's required power.
	GoalCompletion ActionGoal = iota
	// GoalParticipation requires one taker to be a group member.
	GoalParticipation
)

// AllowedFor reports whether taker meets goal under takers.
func AllowedFor(takers contract.AuthorizedActionTakers, c *contract.DataContract, cfg *contract.TokenConfiguration, taker ActionTaker, goal ActionGoal) bool {
	switch t := takers.(type) {
	case contract.ContractOwner:
		return taker.includes(c.OwnerID)
	case contract.IdentityTaker:
		return taker.includes(t.ID)
	case contract.MainGroup:
		if cfg.MainControlGroup == nil {
			return false
		}
		g, ok := c.Group(*cfg.MainControlGroup)
		return ok && groupAllows(g, taker, goal)
	case contract.GroupTaker:
		g, ok := c.Group(t.Position)
		return ok && groupAllows(g, taker, goal)
	}
	return false
}

func groupAllows(g contract.Group, taker ActionTaker, goal ActionGoal) bool {
	var power uint64
	for _, id := range taker.Identities {
		p, ok := g.MemberPower(id)
		if !ok {
			continue
		}
		if goal == GoalParticipation {
			return true
		}
		power += uint64(p)
	}
	return goal == GoalCompletion && power >= uint64(g.RequiredPower)
}

// Authorization is the result of a successful Authorize.
type Authorization struct {
	Takers contract.AuthorizedActionTakers
	// Group is set when the takers resolve through a group; the action then
	// needs signatures worth the group's required power.
	Group         *contract.Group
	GroupPosition uint16
}

// IsGroup reports whether the action is decided by a group.
func (a Authorization) IsGroup() bool { return a.Group != nil }

// TakersFor returns the takers governing kind. Transfers, purchases and
// claims act on the actor's own account and have none; config updates are
// governed per item.
func TakersFor(kind ActionKind, cfg *contract.TokenConfiguration) (contract.AuthorizedActionTakers, bool) {
	switch kind {
	case KindMint:
		return cfg.ManualMintingRules.AuthorizedToMakeChange, true
	case KindBurn:
		return cfg.ManualBurningRules.AuthorizedToMakeChange, true
	case KindFreeze:
		return cfg.FreezeRules.AuthorizedToMakeChange, true
	case KindUnfreeze:
		return cfg.UnfreezeRules.AuthorizedToMakeChange, true
	case KindDestroyFrozenFunds:
		return cfg.DestroyFrozenFundsRules.AuthorizedToMakeChange, true
	case KindEmergencyAction:
		return cfg.EmergencyActionRules.AuthorizedToMakeChange, true
	case KindSetPrice:
		return cfg.DirectPurchasePricingRules.AuthorizedToMakeChange, true
	}
	return nil, false
}

// Authorize decides whether actor may perform kind on the token configured
// by cfg in contract c. It is the entry point for callers outside this
// package; Processor resolves the takers itself, since config updates are
// governed per item, and calls AuthorizeTakers.
func Authorize(actor value.Identifier, kind ActionKind, cfg *contract.TokenConfiguration, c *contract.DataContract) (Authorization, error) {
	takers, ok := TakersFor(kind, cfg)
	if !ok {
		return Authorization{}, fmt.Errorf("%s is not governed by a single change-control rule", kind)
	}
	return AuthorizeTakers(actor, takers, cfg, c)
}

// AuthorizeTakers decides whether actor may act under takers.
//
// MainGroup with no main group configured is MAIN_GROUP_NOT_SET, distinct
// from GROUP_DOES_NOT_EXIST for a group position missing from the contract.
func AuthorizeTakers(actor value.Identifier, takers contract.AuthorizedActionTakers, cfg *contract.TokenConfiguration, c *contract.DataContract) (Authorization, error) {
	auth := Authorization{Takers: takers}
	var position uint16
	switch t := takers.(type) {
	case nil, contract.NoOne:
		return auth, deny(ErrCodeUnauthorized, "no one may perform this action").with("actor", actor.String())
	case contract.ContractOwner:
		if actor != c.OwnerID {
			return auth, deny(ErrCodeUnauthorized, "only the contract owner may perform this action").with("actor", actor.String())
		}
		return auth, nil
	case contract.IdentityTaker:
		if actor != t.ID {
			return auth, deny(ErrCodeUnauthorized, "only %s may perform this action", t.ID).with("actor", actor.String())
		}
		return auth, nil
	case contract.MainGroup:
		if cfg.MainControlGroup == nil {
			return auth, deny(ErrCodeMainGroupNotSet, "token has no main control group")
		}
		position = *cfg.MainControlGroup
	case contract.GroupTaker:
		position = t.Position
	default:
		return auth, fmt.Errorf("unknown action takers %T", takers)
	}

	g, ok := c.Group(position)
	if !ok {
		return auth, deny(ErrCodeGroupDoesNotExist, "group %d does not exist", position).
			with("position", fmt.Sprint(position))
	}
	if !AllowedFor(takers, c, cfg, SingleIdentity(actor), GoalParticipation) {
		return auth, deny(ErrCodeIdentityNotMemberOfGroup, "%s is not a member of group %d", actor, position).
			with("actor", actor.String())
	}
	auth.Group = &g
	auth.GroupPosition = position
	return auth, nil
}
