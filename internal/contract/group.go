package contract

import (
	"fmt"
	"maps"

	"github.com/roach88/docgrove/internal/value"
)

// Group is a set of identities with voting power and the power an action
// needs to complete. Groups are defined with the contract and never edited.
type Group struct {
	Members       map[value.Identifier]uint32
	RequiredPower uint32
}

// MemberPower returns the power of id within the group.
func (g Group) MemberPower(id value.Identifier) (uint32, bool) {
	p, ok := g.Members[id]
	return p, ok
}

// TotalPower sums every member's power.
func (g Group) TotalPower() uint64 {
	var total uint64
	for _, p := range g.Members {
		total += uint64(p)
	}
	return total
}

func (g Group) validate() error {
	if len(g.Members) == 0 {
		return fmt.Errorf("group has no members")
	}
	if g.RequiredPower == 0 {
		return fmt.Errorf("group required power must be positive")
	}
	for id, p := range g.Members {
		if p == 0 {
			return fmt.Errorf("member %s has zero power", id)
		}
		if p > g.RequiredPower {
			return fmt.Errorf("member %s power %d exceeds required power %d", id, p, g.RequiredPower)
		}
	}
	if g.TotalPower() < uint64(g.RequiredPower) {
		return fmt.Errorf("total member power %d is below required power %d", g.TotalPower(), g.RequiredPower)
	}
	return nil
}

func (g Group) clone() Group {
	return Group{Members: maps.Clone(g.Members), RequiredPower: g.RequiredPower}
}
