package token

import (
	"fmt"
	"math"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/value"
)

// Rule names one ChangeControlRules entry of a token configuration.
type Rule uint8

const (
	RuleConventions Rule = iota
	RuleMaxSupply
	RuleManualMinting
	RuleManualBurning
	RuleFreeze
	RuleUnfreeze
	RuleDestroyFrozenFunds
	RuleEmergencyAction
	RuleNewTokensDestinationIdentity
	RuleMintingAllowChoosingDestination
	RuleDirectPurchasePricing
)

var ruleNames = [...]string{
	RuleConventions:                     "conventions",
	RuleMaxSupply:                       "maxSupply",
	RuleManualMinting:                   "manualMinting",
	RuleManualBurning:                   "manualBurning",
	RuleFreeze:                          "freeze",
	RuleUnfreeze:                        "unfreeze",
	RuleDestroyFrozenFunds:              "destroyFrozenFunds",
	RuleEmergencyAction:                 "emergencyAction",
	RuleNewTokensDestinationIdentity:    "newTokensDestinationIdentity",
	RuleMintingAllowChoosingDestination: "mintingAllowChoosingDestination",
	RuleDirectPurchasePricing:           "directPurchasePricing",
}

func (r Rule) String() string {
	if int(r) < len(ruleNames) {
		return ruleNames[r]
	}
	return fmt.Sprintf("Rule(%d)", uint8(r))
}

// ParseRule parses the String form.
func ParseRule(s string) (Rule, bool) {
	for r, name := range ruleNames {
		if name == s {
			return Rule(r), true
		}
	}
	return 0, false
}

// RulesOf returns a pointer to the rule's entry in cfg.
func RulesOf(cfg *contract.TokenConfiguration, r Rule) *contract.ChangeControlRules {
	switch r {
	case RuleConventions:
		return &cfg.ConventionsChangeRules
	case RuleMaxSupply:
		return &cfg.MaxSupplyChangeRules
	case RuleManualMinting:
		return &cfg.ManualMintingRules
	case RuleManualBurning:
		return &cfg.ManualBurningRules
	case RuleFreeze:
		return &cfg.FreezeRules
	case RuleUnfreeze:
		return &cfg.UnfreezeRules
	case RuleDestroyFrozenFunds:
		return &cfg.DestroyFrozenFundsRules
	case RuleEmergencyAction:
		return &cfg.EmergencyActionRules
	case RuleNewTokensDestinationIdentity:
		return &cfg.NewTokensDestinationIdentityRules
	case RuleMintingAllowChoosingDestination:
		return &cfg.MintingAllowChoosingDestinationRules
	default:
		return &cfg.DirectPurchasePricingRules
	}
}

// ConfigChangeItem is one change to a token configuration. Value items are
// gated by the rule's AuthorizedToMakeChange; ControlChange and AdminChange
// reassign a rule's takers and are gated by its AdminActionTakers.
type ConfigChangeItem interface {
	isConfigChangeItem()
	// AuthorizedTakers returns who may make this change under cfg.
	AuthorizedTakers(cfg *contract.TokenConfiguration) contract.AuthorizedActionTakers
	// Apply writes the change into cfg.
	Apply(cfg *contract.TokenConfiguration)
	String() string
}

// ConventionsChange replaces the display conventions.
type ConventionsChange struct {
	Conventions contract.TokenConventions
}

// MaxSupplyChange sets or clears the max supply.
type MaxSupplyChange struct {
	MaxSupply *uint64
}

// NewTokensDestinationIdentityChange sets or clears where minted tokens go.
type NewTokensDestinationIdentityChange struct {
	Identity *value.Identifier
}

// MintingAllowChoosingDestinationChange toggles per-mint recipients.
type MintingAllowChoosingDestinationChange struct {
	Allowed bool
}

// MainControlGroupChange sets or clears the main control group.
type MainControlGroupChange struct {
	Position *uint16
}

// ControlChange reassigns who may perform Rule.
type ControlChange struct {
	Rule   Rule
	Takers contract.AuthorizedActionTakers
}

// AdminChange reassigns who administers Rule.
type AdminChange struct {
	Rule   Rule
	Takers contract.AuthorizedActionTakers
}

func (ConventionsChange) isConfigChangeItem()                     {}
func (MaxSupplyChange) isConfigChangeItem()                       {}
func (NewTokensDestinationIdentityChange) isConfigChangeItem()    {}
func (MintingAllowChoosingDestinationChange) isConfigChangeItem() {}
func (MainControlGroupChange) isConfigChangeItem()                {}
func (ControlChange) isConfigChangeItem()                         {}
func (AdminChange) isConfigChangeItem()                           {}

func (ConventionsChange) AuthorizedTakers(cfg *contract.TokenConfiguration) contract.AuthorizedActionTakers {
	return cfg.ConventionsChangeRules.AuthorizedToMakeChange
}

func (MaxSupplyChange) AuthorizedTakers(cfg *contract.TokenConfiguration) contract.AuthorizedActionTakers {
	return cfg.MaxSupplyChangeRules.AuthorizedToMakeChange
}

func (NewTokensDestinationIdentityChange) AuthorizedTakers(cfg *contract.TokenConfiguration) contract.AuthorizedActionTakers {
	return cfg.NewTokensDestinationIdentityRules.AuthorizedToMakeChange
}

func (MintingAllowChoosingDestinationChange) AuthorizedTakers(cfg *contract.TokenConfiguration) contract.AuthorizedActionTakers {
	return cfg.MintingAllowChoosingDestinationRules.AuthorizedToMakeChange
}

func (MainControlGroupChange) AuthorizedTakers(cfg *contract.TokenConfiguration) contract.AuthorizedActionTakers {
	return cfg.MainControlGroupCanBeModified
}

func (c ControlChange) AuthorizedTakers(cfg *contract.TokenConfiguration) contract.AuthorizedActionTakers {
	return RulesOf(cfg, c.Rule).AdminActionTakers
}

func (c AdminChange) AuthorizedTakers(cfg *contract.TokenConfiguration) contract.AuthorizedActionTakers {
	return RulesOf(cfg, c.Rule).AdminActionTakers
}

func (c ConventionsChange) Apply(cfg *contract.TokenConfiguration) {
	cfg.Conventions = c.Conventions
}

func (c MaxSupplyChange) Apply(cfg *contract.TokenConfiguration) {
	cfg.MaxSupply = c.MaxSupply
}

func (c NewTokensDestinationIdentityChange) Apply(cfg *contract.TokenConfiguration) {
	cfg.NewTokensDestinationIdentity = c.Identity
}

func (c MintingAllowChoosingDestinationChange) Apply(cfg *contract.TokenConfiguration) {
	cfg.MintingAllowChoosingDestination = c.Allowed
}

func (c MainControlGroupChange) Apply(cfg *contract.TokenConfiguration) {
	cfg.MainControlGroup = c.Position
}

func (c ControlChange) Apply(cfg *contract.TokenConfiguration) {
	RulesOf(cfg, c.Rule).AuthorizedToMakeChange = c.Takers
}

func (c AdminChange) Apply(cfg *contract.TokenConfiguration) {
	RulesOf(cfg, c.Rule).AdminActionTakers = c.Takers
}

func (c ConventionsChange) String() string {
	return fmt.Sprintf("conventions(decimals=%d)", c.Conventions.Decimals)
}

func (c MaxSupplyChange) String() string {
	if c.MaxSupply == nil {
		return "maxSupply(none)"
	}
	return fmt.Sprintf("maxSupply(%d)", *c.MaxSupply)
}

func (c NewTokensDestinationIdentityChange) String() string {
	if c.Identity == nil {
		return "newTokensDestinationIdentity(none)"
	}
	return "newTokensDestinationIdentity(" + c.Identity.String() + ")"
}

func (c MintingAllowChoosingDestinationChange) String() string {
	return fmt.Sprintf("mintingAllowChoosingDestination(%t)", c.Allowed)
}

func (c MainControlGroupChange) String() string {
	if c.Position == nil {
		return "mainControlGroup(none)"
	}
	return fmt.Sprintf("mainControlGroup(%d)", *c.Position)
}

func (c ControlChange) String() string {
	return fmt.Sprintf("control(%s=%s)", c.Rule, c.Takers)
}

func (c AdminChange) String() string {
	return fmt.Sprintf("admin(%s=%s)", c.Rule, c.Takers)
}

// ConfigChangeItemValue renders item as a map keyed by "item".
func ConfigChangeItemValue(item ConfigChangeItem) value.Map {
	switch c := item.(type) {
	case ConventionsChange:
		locs := make(value.Map, len(c.Conventions.Localizations))
		for k, v := range c.Conventions.Localizations {
			locs[k] = value.String(v)
		}
		return value.Map{
			"item":          value.String("conventions"),
			"decimals":      value.Int(c.Conventions.Decimals),
			"localizations": locs,
		}
	case MaxSupplyChange:
		m := value.Map{"item": value.String("maxSupply"), "value": value.Null{}}
		if c.MaxSupply != nil {
			m["value"] = amountValue(*c.MaxSupply)
		}
		return m
	case NewTokensDestinationIdentityChange:
		m := value.Map{"item": value.String("newTokensDestinationIdentity"), "identity": value.Null{}}
		if c.Identity != nil {
			m["identity"] = *c.Identity
		}
		return m
	case MintingAllowChoosingDestinationChange:
		return value.Map{"item": value.String("mintingAllowChoosingDestination"), "allowed": value.Bool(c.Allowed)}
	case MainControlGroupChange:
		m := value.Map{"item": value.String("mainControlGroup"), "position": value.Null{}}
		if c.Position != nil {
			m["position"] = value.Int(*c.Position)
		}
		return m
	case ControlChange:
		return value.Map{
			"item":   value.String("control"),
			"rule":   value.String(c.Rule.String()),
			"takers": value.String(c.Takers.String()),
		}
	case AdminChange:
		return value.Map{
			"item":   value.String("admin"),
			"rule":   value.String(c.Rule.String()),
			"takers": value.String(c.Takers.String()),
		}
	}
	return value.Map{}
}

// ParseConfigChangeItem decodes the ConfigChangeItemValue form.
func ParseConfigChangeItem(m value.Map) (ConfigChangeItem, error) {
	name, _ := m["item"].(value.String)
	switch name {
	case "conventions":
		d, err := uintField(m, "decimals")
		if err != nil {
			return nil, err
		}
		if d > math.MaxUint8 {
			return nil, fmt.Errorf("decimals %d out of range", d)
		}
		conv := contract.TokenConventions{Decimals: uint8(d)}
		if locs, ok := m["localizations"].(value.Map); ok {
			conv.Localizations = make(map[string]string, len(locs))
			for k, v := range locs {
				s, ok := v.(value.String)
				if !ok {
					return nil, fmt.Errorf("localization %q must be a string", k)
				}
				conv.Localizations[k] = string(s)
			}
		}
		return ConventionsChange{Conventions: conv}, nil
	case "maxSupply":
		var c MaxSupplyChange
		if v, ok := m["value"]; ok && !value.IsNull(v) {
			n, err := uintField(m, "value")
			if err != nil {
				return nil, err
			}
			c.MaxSupply = &n
		}
		return c, nil
	case "newTokensDestinationIdentity":
		id, err := optionalIDField(m, "identity")
		if err != nil {
			return nil, err
		}
		return NewTokensDestinationIdentityChange{Identity: id}, nil
	case "mintingAllowChoosingDestination":
		b, ok := m["allowed"].(value.Bool)
		if !ok {
			return nil, fmt.Errorf("allowed must be a boolean")
		}
		return MintingAllowChoosingDestinationChange{Allowed: bool(b)}, nil
	case "mainControlGroup":
		var c MainControlGroupChange
		if v, ok := m["position"]; ok && !value.IsNull(v) {
			n, err := uintField(m, "position")
			if err != nil {
				return nil, err
			}
			if n > math.MaxUint16 {
				return nil, fmt.Errorf("position %d out of range", n)
			}
			pos := uint16(n)
			c.Position = &pos
		}
		return c, nil
	case "control", "admin":
		rs, _ := m["rule"].(value.String)
		rule, ok := ParseRule(string(rs))
		if !ok {
			return nil, fmt.Errorf("unknown rule %q", rs)
		}
		ts, _ := m["takers"].(value.String)
		takers, err := contract.ParseAuthorizedActionTakers(string(ts))
		if err != nil {
			return nil, err
		}
		if name == "control" {
			return ControlChange{Rule: rule, Takers: takers}, nil
		}
		return AdminChange{Rule: rule, Takers: takers}, nil
	}
	return nil, fmt.Errorf("unknown config change item %q", name)
}

// checkChange validates item against the current configuration and state
// before it is applied. Targets are checked eagerly: an identity or group
// named by the change must exist now.
func checkChange(st *State, c *contract.DataContract, cfg *contract.TokenConfiguration, tokenID value.Identifier, item ConfigChangeItem) error {
	switch ch := item.(type) {
	case ControlChange:
		rules := RulesOf(cfg, ch.Rule)
		if _, ok := ch.Takers.(contract.NoOne); ok && !rules.ChangingAuthorizedActionTakersToNoOneAllowed {
			return deny(ErrCodeChangeToNoOneNotAllowed, "%s may not be assigned to no one", ch.Rule)
		}
		return checkTakersTarget(st, c, cfg, ch.Takers)
	case AdminChange:
		rules := RulesOf(cfg, ch.Rule)
		if !rules.SelfChangingAdminActionTakersAllowed {
			return deny(ErrCodeSelfChangeNotPermitted, "admin takers of %s may not be changed", ch.Rule)
		}
		if _, ok := ch.Takers.(contract.NoOne); ok && !rules.ChangingAdminActionTakersToNoOneAllowed {
			return deny(ErrCodeChangeToNoOneNotAllowed, "admin of %s may not be assigned to no one", ch.Rule)
		}
		return checkTakersTarget(st, c, cfg, ch.Takers)
	case MaxSupplyChange:
		if ch.MaxSupply == nil {
			return nil
		}
		supply, err := st.TotalSupply(tokenID)
		if err != nil {
			return err
		}
		if *ch.MaxSupply < supply {
			return deny(ErrCodeMaxSupplyBelowSupply, "max supply %d is below current supply %d", *ch.MaxSupply, supply).
				with("supply", fmt.Sprint(supply))
		}
	case NewTokensDestinationIdentityChange:
		if ch.Identity != nil {
			return requireIdentity(st, *ch.Identity)
		}
	case MainControlGroupChange:
		if ch.Position != nil {
			if _, ok := c.Group(*ch.Position); !ok {
				return deny(ErrCodeGroupDoesNotExist, "group %d does not exist", *ch.Position)
			}
		}
	}
	return nil
}

func checkTakersTarget(st *State, c *contract.DataContract, cfg *contract.TokenConfiguration, takers contract.AuthorizedActionTakers) error {
	switch t := takers.(type) {
	case contract.IdentityTaker:
		return requireIdentity(st, t.ID)
	case contract.GroupTaker:
		if _, ok := c.Group(t.Position); !ok {
			return deny(ErrCodeGroupDoesNotExist, "group %d does not exist", t.Position)
		}
	case contract.MainGroup:
		if cfg.MainControlGroup == nil {
			return deny(ErrCodeMainGroupNotSet, "token has no main control group")
		}
	}
	return nil
}

func requireIdentity(st *State, id value.Identifier) error {
	ok, err := st.IdentityExists(id)
	if err != nil {
		return err
	}
	if !ok {
		return deny(ErrCodeIdentityDoesNotExist, "identity %s does not exist", id).with("identity", id.String())
	}
	return nil
}
