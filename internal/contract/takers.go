package contract

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/docgrove/internal/value"
)

// AuthorizedActionTakers names who may perform an action. It is a sealed
// sum type: NoOne, ContractOwner, MainGroup, IdentityTaker, GroupTaker.
type AuthorizedActionTakers interface {
	isAuthorizedActionTakers()
	String() string
}

// NoOne denies everyone.
type NoOne struct{}

// ContractOwner allows only the contract owner.
type ContractOwner struct{}

// MainGroup delegates to the token's main control group.
type MainGroup struct{}

// IdentityTaker allows a single identity.
type IdentityTaker struct {
	ID value.Identifier
}

// GroupTaker delegates to the contract group at Position.
type GroupTaker struct {
	Position uint16
}

func (NoOne) isAuthorizedActionTakers()         {}
func (ContractOwner) isAuthorizedActionTakers() {}
func (MainGroup) isAuthorizedActionTakers()     {}
func (IdentityTaker) isAuthorizedActionTakers() {}
func (GroupTaker) isAuthorizedActionTakers()    {}

func (NoOne) String() string           { return "noOne" }
func (ContractOwner) String() string   { return "contractOwner" }
func (MainGroup) String() string       { return "mainGroup" }
func (t IdentityTaker) String() string { return "identity:" + t.ID.String() }
func (t GroupTaker) String() string    { return "group:" + strconv.Itoa(int(t.Position)) }

// ParseAuthorizedActionTakers parses the String form.
func ParseAuthorizedActionTakers(s string) (AuthorizedActionTakers, error) {
	switch s {
	case "", "noOne":
		return NoOne{}, nil
	case "contractOwner":
		return ContractOwner{}, nil
	case "mainGroup":
		return MainGroup{}, nil
	}
	kind, arg, ok := strings.Cut(s, ":")
	if !ok {
		return nil, fmt.Errorf("unknown action takers %q", s)
	}
	switch kind {
	case "identity":
		id, err := value.ParseIdentifier(arg)
		if err != nil {
			return nil, fmt.Errorf("action takers %q: %w", s, err)
		}
		return IdentityTaker{ID: id}, nil
	case "group":
		n, err := strconv.ParseUint(arg, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("action takers %q: invalid group position", s)
		}
		return GroupTaker{Position: uint16(n)}, nil
	}
	return nil, fmt.Errorf("unknown action takers %q", s)
}

// IsGroupTakers reports whether t resolves through a group.
func IsGroupTakers(t AuthorizedActionTakers) bool {
	switch t.(type) {
	case MainGroup, GroupTaker:
		return true
	}
	return false
}

// ChangeControlRules pairs who may perform an action with who may change that
// assignment.
type ChangeControlRules struct {
	AuthorizedToMakeChange AuthorizedActionTakers
	AdminActionTakers      AuthorizedActionTakers

	ChangingAuthorizedActionTakersToNoOneAllowed bool
	ChangingAdminActionTakersToNoOneAllowed      bool
	SelfChangingAdminActionTakersAllowed         bool
}

// Normalize replaces nil takers with NoOne.
func (r ChangeControlRules) Normalize() ChangeControlRules {
	if r.AuthorizedToMakeChange == nil {
		r.AuthorizedToMakeChange = NoOne{}
	}
	if r.AdminActionTakers == nil {
		r.AdminActionTakers = NoOne{}
	}
	return r
}
