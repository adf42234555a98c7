package contract

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/docgrove/internal/value"
)

// contractWire is the shape shared by CUE sources and stored CBOR. Maps keyed
// by position use decimal strings so both encodings stay canonical.
type contractWire struct {
	ID        string                      `json:"id"`
	Owner     string                      `json:"owner"`
	Version   uint32                      `json:"version"`
	Documents map[string]documentTypeWire `json:"documents,omitempty"`
	Groups    map[string]groupWire        `json:"groups,omitempty"`
	Tokens    map[string]tokenWire        `json:"tokens,omitempty"`
}

type documentTypeWire struct {
	Properties   map[string]propertyWire `json:"properties"`
	Required     []string                `json:"required,omitempty"`
	Indices      []indexWire             `json:"indices,omitempty"`
	KeepsHistory bool                    `json:"keepsHistory,omitempty"`
	Mutable      *bool                   `json:"mutable,omitempty"`
}

type propertyWire struct {
	Type      string `json:"type"`
	MaxLength int    `json:"maxLength,omitempty"`
}

type indexWire struct {
	Name       string              `json:"name"`
	Properties []map[string]string `json:"properties"`
	Unique     bool                `json:"unique,omitempty"`
}

type groupWire struct {
	Members       map[string]uint32 `json:"members"`
	RequiredPower uint32            `json:"requiredPower"`
}

type rulesWire struct {
	AuthorizedToMakeChange string `json:"authorizedToMakeChange,omitempty"`
	AdminActionTakers      string `json:"adminActionTakers,omitempty"`

	ToNoOneAllowed      bool `json:"changingAuthorizedActionTakersToNoOneAllowed,omitempty"`
	AdminToNoOneAllowed bool `json:"changingAdminActionTakersToNoOneAllowed,omitempty"`
	SelfChangingAllowed bool `json:"selfChangingAdminActionTakersAllowed,omitempty"`
}

type tokenWire struct {
	Decimals               uint8             `json:"decimals,omitempty"`
	Localizations          map[string]string `json:"localizations,omitempty"`
	ConventionsChangeRules rulesWire         `json:"conventionsChangeRules"`

	BaseSupply           uint64    `json:"baseSupply,omitempty"`
	MaxSupply            *uint64   `json:"maxSupply,omitempty"`
	MaxSupplyChangeRules rulesWire `json:"maxSupplyChangeRules"`

	StartAsPaused                bool `json:"startAsPaused,omitempty"`
	AllowTransferToFrozenBalance bool `json:"allowTransferToFrozenBalance,omitempty"`

	MainControlGroup              *uint16 `json:"mainControlGroup,omitempty"`
	MainControlGroupCanBeModified string  `json:"mainControlGroupCanBeModified,omitempty"`

	ManualMintingRules      rulesWire `json:"manualMintingRules"`
	ManualBurningRules      rulesWire `json:"manualBurningRules"`
	FreezeRules             rulesWire `json:"freezeRules"`
	UnfreezeRules           rulesWire `json:"unfreezeRules"`
	DestroyFrozenFundsRules rulesWire `json:"destroyFrozenFundsRules"`
	EmergencyActionRules    rulesWire `json:"emergencyActionRules"`

	NewTokensDestinationIdentity      string    `json:"newTokensDestinationIdentity,omitempty"`
	NewTokensDestinationIdentityRules rulesWire `json:"newTokensDestinationIdentityRules"`

	MintingAllowChoosingDestination      bool      `json:"mintingAllowChoosingDestination,omitempty"`
	MintingAllowChoosingDestinationRules rulesWire `json:"mintingAllowChoosingDestinationRules"`

	DirectPurchasePricingRules rulesWire `json:"directPurchasePricingRules"`

	Distribution map[string]map[string]uint64 `json:"distribution,omitempty"`
}

// EncodeCBOR serializes a contract to canonical CBOR.
func EncodeCBOR(c *DataContract) ([]byte, error) {
	return value.EncodeCBOR(toWire(c))
}

// DecodeCBOR parses and validates a contract produced by EncodeCBOR.
func DecodeCBOR(data []byte) (*DataContract, error) {
	var w contractWire
	if err := value.DecodeCBORInto(data, &w); err != nil {
		return nil, fmt.Errorf("contract: %w", err)
	}
	return fromWire(w)
}

func toWire(c *DataContract) contractWire {
	w := contractWire{
		ID:      c.ID.String(),
		Owner:   c.OwnerID.String(),
		Version: c.Version,
	}
	if len(c.DocumentTypes) > 0 {
		w.Documents = make(map[string]documentTypeWire, len(c.DocumentTypes))
	}
	for name, dt := range c.DocumentTypes {
		mutable := dt.Mutable
		dw := documentTypeWire{
			Properties:   make(map[string]propertyWire, len(dt.Properties)),
			KeepsHistory: dt.KeepsHistory,
			Mutable:      &mutable,
		}
		for pname, p := range dt.Properties {
			dw.Properties[pname] = propertyWire{Type: string(p.Type), MaxLength: p.MaxLength}
			if p.Required {
				dw.Required = append(dw.Required, pname)
			}
		}
		sort.Strings(dw.Required)
		for _, idx := range dt.Indexes {
			iw := indexWire{Name: idx.Name, Unique: idx.Unique}
			for _, p := range idx.Properties {
				dir := "asc"
				if !p.Ascending {
					dir = "desc"
				}
				iw.Properties = append(iw.Properties, map[string]string{p.Name: dir})
			}
			dw.Indices = append(dw.Indices, iw)
		}
		w.Documents[name] = dw
	}
	if len(c.Groups) > 0 {
		w.Groups = make(map[string]groupWire, len(c.Groups))
	}
	for pos, g := range c.Groups {
		gw := groupWire{Members: make(map[string]uint32, len(g.Members)), RequiredPower: g.RequiredPower}
		for id, p := range g.Members {
			gw.Members[id.String()] = p
		}
		w.Groups[strconv.Itoa(int(pos))] = gw
	}
	if len(c.Tokens) > 0 {
		w.Tokens = make(map[string]tokenWire, len(c.Tokens))
	}
	for pos, t := range c.Tokens {
		w.Tokens[strconv.Itoa(int(pos))] = tokenToWire(t)
	}
	return w
}

func rulesToWire(r ChangeControlRules) rulesWire {
	r = r.Normalize()
	return rulesWire{
		AuthorizedToMakeChange: r.AuthorizedToMakeChange.String(),
		AdminActionTakers:      r.AdminActionTakers.String(),
		ToNoOneAllowed:         r.ChangingAuthorizedActionTakersToNoOneAllowed,
		AdminToNoOneAllowed:    r.ChangingAdminActionTakersToNoOneAllowed,
		SelfChangingAllowed:    r.SelfChangingAdminActionTakersAllowed,
	}
}

func rulesFromWire(w rulesWire) (ChangeControlRules, error) {
	auth, err := ParseAuthorizedActionTakers(w.AuthorizedToMakeChange)
	if err != nil {
		return ChangeControlRules{}, err
	}
	admin, err := ParseAuthorizedActionTakers(w.AdminActionTakers)
	if err != nil {
		return ChangeControlRules{}, err
	}
	return ChangeControlRules{
		AuthorizedToMakeChange: auth,
		AdminActionTakers:      admin,
		ChangingAuthorizedActionTakersToNoOneAllowed: w.ToNoOneAllowed,
		ChangingAdminActionTakersToNoOneAllowed:      w.AdminToNoOneAllowed,
		SelfChangingAdminActionTakersAllowed:         w.SelfChangingAllowed,
	}, nil
}

func tokenToWire(t *TokenConfiguration) tokenWire {
	w := tokenWire{
		Decimals:                             t.Conventions.Decimals,
		Localizations:                        t.Conventions.Localizations,
		ConventionsChangeRules:               rulesToWire(t.ConventionsChangeRules),
		BaseSupply:                           t.BaseSupply,
		MaxSupply:                            t.MaxSupply,
		MaxSupplyChangeRules:                 rulesToWire(t.MaxSupplyChangeRules),
		StartAsPaused:                        t.StartAsPaused,
		AllowTransferToFrozenBalance:         t.AllowTransferToFrozenBalance,
		MainControlGroup:                     t.MainControlGroup,
		ManualMintingRules:                   rulesToWire(t.ManualMintingRules),
		ManualBurningRules:                   rulesToWire(t.ManualBurningRules),
		FreezeRules:                          rulesToWire(t.FreezeRules),
		UnfreezeRules:                        rulesToWire(t.UnfreezeRules),
		DestroyFrozenFundsRules:              rulesToWire(t.DestroyFrozenFundsRules),
		EmergencyActionRules:                 rulesToWire(t.EmergencyActionRules),
		NewTokensDestinationIdentityRules:    rulesToWire(t.NewTokensDestinationIdentityRules),
		MintingAllowChoosingDestination:      t.MintingAllowChoosingDestination,
		MintingAllowChoosingDestinationRules: rulesToWire(t.MintingAllowChoosingDestinationRules),
		DirectPurchasePricingRules:           rulesToWire(t.DirectPurchasePricingRules),
	}
	if t.MainControlGroupCanBeModified != nil {
		w.MainControlGroupCanBeModified = t.MainControlGroupCanBeModified.String()
	}
	if t.NewTokensDestinationIdentity != nil {
		w.NewTokensDestinationIdentity = t.NewTokensDestinationIdentity.String()
	}
	if len(t.PreProgrammedDistribution) > 0 {
		w.Distribution = make(map[string]map[string]uint64, len(t.PreProgrammedDistribution))
		for at, recipients := range t.PreProgrammedDistribution {
			rw := make(map[string]uint64, len(recipients))
			for id, amount := range recipients {
				rw[id.String()] = amount
			}
			w.Distribution[strconv.FormatUint(at, 10)] = rw
		}
	}
	return w
}

func tokenFromWire(w tokenWire) (*TokenConfiguration, error) {
	t := &TokenConfiguration{
		Conventions:                     TokenConventions{Decimals: w.Decimals, Localizations: w.Localizations},
		BaseSupply:                      w.BaseSupply,
		MaxSupply:                       w.MaxSupply,
		StartAsPaused:                   w.StartAsPaused,
		AllowTransferToFrozenBalance:    w.AllowTransferToFrozenBalance,
		MainControlGroup:                w.MainControlGroup,
		MintingAllowChoosingDestination: w.MintingAllowChoosingDestination,
	}
	pairs := []struct {
		dst *ChangeControlRules
		src rulesWire
		tag string
	}{
		{&t.ConventionsChangeRules, w.ConventionsChangeRules, "conventionsChangeRules"},
		{&t.MaxSupplyChangeRules, w.MaxSupplyChangeRules, "maxSupplyChangeRules"},
		{&t.ManualMintingRules, w.ManualMintingRules, "manualMintingRules"},
		{&t.ManualBurningRules, w.ManualBurningRules, "manualBurningRules"},
		{&t.FreezeRules, w.FreezeRules, "freezeRules"},
		{&t.UnfreezeRules, w.UnfreezeRules, "unfreezeRules"},
		{&t.DestroyFrozenFundsRules, w.DestroyFrozenFundsRules, "destroyFrozenFundsRules"},
		{&t.EmergencyActionRules, w.EmergencyActionRules, "emergencyActionRules"},
		{&t.NewTokensDestinationIdentityRules, w.NewTokensDestinationIdentityRules, "newTokensDestinationIdentityRules"},
		{&t.MintingAllowChoosingDestinationRules, w.MintingAllowChoosingDestinationRules, "mintingAllowChoosingDestinationRules"},
		{&t.DirectPurchasePricingRules, w.DirectPurchasePricingRules, "directPurchasePricingRules"},
	}
	for _, p := range pairs {
		r, err := rulesFromWire(p.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.tag, err)
		}
		*p.dst = r
	}
	main, err := ParseAuthorizedActionTakers(w.MainControlGroupCanBeModified)
	if err != nil {
		return nil, fmt.Errorf("mainControlGroupCanBeModified: %w", err)
	}
	t.MainControlGroupCanBeModified = main
	if w.NewTokensDestinationIdentity != "" {
		id, err := value.ParseIdentifier(w.NewTokensDestinationIdentity)
		if err != nil {
			return nil, fmt.Errorf("newTokensDestinationIdentity: %w", err)
		}
		t.NewTokensDestinationIdentity = &id
	}
	if len(w.Distribution) > 0 {
		t.PreProgrammedDistribution = make(map[uint64]map[value.Identifier]uint64, len(w.Distribution))
		for at, recipients := range w.Distribution {
			ms, err := strconv.ParseUint(at, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("distribution time %q: %w", at, err)
			}
			out := make(map[value.Identifier]uint64, len(recipients))
			for idStr, amount := range recipients {
				id, err := value.ParseIdentifier(idStr)
				if err != nil {
					return nil, fmt.Errorf("distribution recipient: %w", err)
				}
				out[id] = amount
			}
			t.PreProgrammedDistribution[ms] = out
		}
	}
	return t, nil
}

func fromWire(w contractWire) (*DataContract, error) {
	id, err := value.ParseIdentifier(w.ID)
	if err != nil {
		return nil, fmt.Errorf("contract id: %w", err)
	}
	owner, err := value.ParseIdentifier(w.Owner)
	if err != nil {
		return nil, fmt.Errorf("contract owner: %w", err)
	}
	c := &DataContract{
		ID:            id,
		OwnerID:       owner,
		Version:       w.Version,
		DocumentTypes: make(map[string]*DocumentType, len(w.Documents)),
		Groups:        make(map[uint16]Group, len(w.Groups)),
		Tokens:        make(map[uint16]*TokenConfiguration, len(w.Tokens)),
	}
	if c.Version == 0 {
		c.Version = 1
	}
	for name, dw := range w.Documents {
		dt, err := documentTypeFromWire(name, dw)
		if err != nil {
			return nil, err
		}
		c.DocumentTypes[name] = dt
	}
	for posStr, gw := range w.Groups {
		pos, err := parsePosition(posStr)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", posStr, err)
		}
		g := Group{Members: make(map[value.Identifier]uint32, len(gw.Members)), RequiredPower: gw.RequiredPower}
		for idStr, power := range gw.Members {
			member, err := value.ParseIdentifier(idStr)
			if err != nil {
				return nil, fmt.Errorf("group %d member: %w", pos, err)
			}
			g.Members[member] = power
		}
		c.Groups[pos] = g
	}
	for posStr, tw := range w.Tokens {
		pos, err := parsePosition(posStr)
		if err != nil {
			return nil, fmt.Errorf("token %q: %w", posStr, err)
		}
		t, err := tokenFromWire(tw)
		if err != nil {
			return nil, fmt.Errorf("token %d: %w", pos, err)
		}
		c.Tokens[pos] = t
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func documentTypeFromWire(name string, dw documentTypeWire) (*DocumentType, error) {
	dt := &DocumentType{
		Name:         name,
		Properties:   make(map[string]Property, len(dw.Properties)),
		KeepsHistory: dw.KeepsHistory,
		Mutable:      dw.Mutable == nil || *dw.Mutable,
	}
	for pname, pw := range dw.Properties {
		dt.Properties[pname] = Property{Name: pname, Type: PropertyType(pw.Type), MaxLength: pw.MaxLength}
	}
	for _, req := range dw.Required {
		p, ok := dt.Properties[req]
		if !ok {
			return nil, fmt.Errorf("document type %q: required property %q is not defined", name, req)
		}
		p.Required = true
		dt.Properties[req] = p
	}
	for _, iw := range dw.Indices {
		idx := Index{Name: iw.Name, Unique: iw.Unique}
		for _, entry := range iw.Properties {
			if len(entry) != 1 {
				return nil, fmt.Errorf("document type %q: index %q: each property entry needs exactly one field", name, iw.Name)
			}
			for field, dir := range entry {
				switch dir {
				case "asc":
					idx.Properties = append(idx.Properties, IndexProperty{Name: field, Ascending: true})
				case "desc":
					idx.Properties = append(idx.Properties, IndexProperty{Name: field})
				default:
					return nil, fmt.Errorf("document type %q: index %q: direction %q must be asc or desc", name, iw.Name, dir)
				}
			}
		}
		dt.Indexes = append(dt.Indexes, idx)
	}
	return dt, nil
}

func parsePosition(s string) (uint16, error) {
	n, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("position must be an integer in [0, 65535]")
	}
	return uint16(n), nil
}
