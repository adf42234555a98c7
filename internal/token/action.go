package token

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/value"
)

// ActionKind identifies a token action. Its numeric value is the
// discriminant hashed into group action ids.
type ActionKind uint8

const (
	KindBurn ActionKind = iota
	KindMint
	KindTransfer
	KindFreeze
	KindUnfreeze
	KindDestroyFrozenFunds
	KindClaim
	KindEmergencyAction
	KindConfigUpdate
	KindDirectPurchase
	KindSetPrice
)

var kindNames = [...]string{
	KindBurn:               "burn",
	KindMint:               "mint",
	KindTransfer:           "transfer",
	KindFreeze:             "freeze",
	KindUnfreeze:           "unfreeze",
	KindDestroyFrozenFunds: "destroyFrozenFunds",
	KindClaim:              "claim",
	KindEmergencyAction:    "emergencyAction",
	KindConfigUpdate:       "configUpdate",
	KindDirectPurchase:     "directPurchase",
	KindSetPrice:           "setPrice",
}

func (k ActionKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ActionKind(%d)", uint8(k))
}

// ParseActionKind parses the String form.
func ParseActionKind(s string) (ActionKind, bool) {
	for k, name := range kindNames {
		if name == s {
			return ActionKind(k), true
		}
	}
	return 0, false
}

// Action is one token operation. It is a sealed sum type over Mint, Burn,
// Transfer, Freeze, Unfreeze, DestroyFrozenFunds, EmergencyAction,
// ConfigUpdate, SetPrice, DirectPurchase and Claim.
type Action interface {
	Kind() ActionKind
	// fields returns the action's main parameters. Co-signers of a group
	// action must submit identical fields.
	fields() value.Map
}

// Mint creates Amount new tokens. Recipient overrides the configured
// destination when the token allows choosing one.
type Mint struct {
	Amount    uint64
	Recipient *value.Identifier
}

// Burn destroys Amount of the acting identity's tokens.
type Burn struct {
	Amount uint64
}

// Transfer moves Amount from the acting identity to Recipient.
type Transfer struct {
	Amount    uint64
	Recipient value.Identifier
}

// Freeze blocks Identity from sending tokens.
type Freeze struct {
	Identity value.Identifier
}

// Unfreeze lifts a freeze.
type Unfreeze struct {
	Identity value.Identifier
}

// DestroyFrozenFunds burns the whole balance of a frozen identity.
type DestroyFrozenFunds struct {
	Identity value.Identifier
}

// Emergency is the operation carried by an EmergencyAction.
type Emergency uint8

const (
	EmergencyPause Emergency = iota
	EmergencyResume
)

func (e Emergency) String() string {
	if e == EmergencyPause {
		return "pause"
	}
	return "resume"
}

// EmergencyAction pauses or resumes the token.
type EmergencyAction struct {
	Action Emergency
}

// ConfigUpdate changes one item of the token configuration.
type ConfigUpdate struct {
	Item ConfigChangeItem
}

// SetPrice sets the per-token price for direct purchase. A nil Price takes
// the token off sale.
type SetPrice struct {
	Price *uint64
}

// DirectPurchase buys Amount newly minted tokens, paying at most
// TotalAgreedPrice.
type DirectPurchase struct {
	Amount           uint64
	TotalAgreedPrice uint64
}

// Claim collects the acting identity's due pre-programmed distributions.
type Claim struct{}

func (Mint) Kind() ActionKind               { return KindMint }
func (Burn) Kind() ActionKind               { return KindBurn }
func (Transfer) Kind() ActionKind           { return KindTransfer }
func (Freeze) Kind() ActionKind             { return KindFreeze }
func (Unfreeze) Kind() ActionKind           { return KindUnfreeze }
func (DestroyFrozenFunds) Kind() ActionKind { return KindDestroyFrozenFunds }
func (EmergencyAction) Kind() ActionKind    { return KindEmergencyAction }
func (ConfigUpdate) Kind() ActionKind       { return KindConfigUpdate }
func (SetPrice) Kind() ActionKind           { return KindSetPrice }
func (DirectPurchase) Kind() ActionKind     { return KindDirectPurchase }
func (Claim) Kind() ActionKind              { return KindClaim }

func (a Mint) fields() value.Map {
	m := value.Map{"amount": amountValue(a.Amount)}
	if a.Recipient != nil {
		m["recipient"] = *a.Recipient
	}
	return m
}

func (a Burn) fields() value.Map {
	return value.Map{"amount": amountValue(a.Amount)}
}

func (a Transfer) fields() value.Map {
	return value.Map{"amount": amountValue(a.Amount), "recipient": a.Recipient}
}

func (a Freeze) fields() value.Map             { return value.Map{"identity": a.Identity} }
func (a Unfreeze) fields() value.Map           { return value.Map{"identity": a.Identity} }
func (a DestroyFrozenFunds) fields() value.Map { return value.Map{"identity": a.Identity} }

func (a EmergencyAction) fields() value.Map {
	return value.Map{"emergency": value.String(a.Action.String())}
}

func (a ConfigUpdate) fields() value.Map {
	if a.Item == nil {
		return value.Map{}
	}
	return value.Map{"item": ConfigChangeItemValue(a.Item)}
}

func (a SetPrice) fields() value.Map {
	if a.Price == nil {
		return value.Map{}
	}
	return value.Map{"price": amountValue(*a.Price)}
}

func (a DirectPurchase) fields() value.Map {
	return value.Map{
		"amount":           amountValue(a.Amount),
		"totalAgreedPrice": amountValue(a.TotalAgreedPrice),
	}
}

func (Claim) fields() value.Map { return value.Map{} }

// amountValue stores a u64 in an Int. Values past MaxInt64 wrap, which keeps
// the mapping one-to-one for payload comparison.
func amountValue(u uint64) value.Int { return value.Int(int64(u)) }

// ActionValue renders a as a map with a "type" key.
func ActionValue(a Action) value.Map {
	m := a.fields()
	m["type"] = value.String(a.Kind().String())
	return m
}

// payload is the canonical CBOR encoding of a's main parameters.
func payload(a Action) ([]byte, error) {
	return value.EncodeCBOR(ActionValue(a))
}

// ParseAction decodes the ActionValue form.
func ParseAction(m value.Map) (Action, error) {
	s, ok := m["type"].(value.String)
	if !ok {
		return nil, fmt.Errorf("action: missing type")
	}
	kind, ok := ParseActionKind(string(s))
	if !ok {
		return nil, fmt.Errorf("action: unknown type %q", s)
	}
	var err error
	switch kind {
	case KindMint:
		var a Mint
		if a.Amount, err = uintField(m, "amount"); err != nil {
			return nil, err
		}
		if a.Recipient, err = optionalIDField(m, "recipient"); err != nil {
			return nil, err
		}
		return a, nil
	case KindBurn:
		var a Burn
		a.Amount, err = uintField(m, "amount")
		return a, err
	case KindTransfer:
		var a Transfer
		if a.Amount, err = uintField(m, "amount"); err != nil {
			return nil, err
		}
		a.Recipient, err = idField(m, "recipient")
		return a, err
	case KindFreeze:
		id, err := idField(m, "identity")
		return Freeze{Identity: id}, err
	case KindUnfreeze:
		id, err := idField(m, "identity")
		return Unfreeze{Identity: id}, err
	case KindDestroyFrozenFunds:
		id, err := idField(m, "identity")
		return DestroyFrozenFunds{Identity: id}, err
	case KindEmergencyAction:
		switch m["emergency"] {
		case value.String("pause"):
			return EmergencyAction{Action: EmergencyPause}, nil
		case value.String("resume"):
			return EmergencyAction{Action: EmergencyResume}, nil
		}
		return nil, fmt.Errorf("action: emergency must be pause or resume")
	case KindConfigUpdate:
		im, ok := m["item"].(value.Map)
		if !ok {
			return nil, fmt.Errorf("action: configUpdate needs an item map")
		}
		item, err := ParseConfigChangeItem(im)
		if err != nil {
			return nil, err
		}
		return ConfigUpdate{Item: item}, nil
	case KindSetPrice:
		var a SetPrice
		if _, ok := m["price"]; ok && !value.IsNull(m["price"]) {
			p, err := uintField(m, "price")
			if err != nil {
				return nil, err
			}
			a.Price = &p
		}
		return a, nil
	case KindDirectPurchase:
		var a DirectPurchase
		if a.Amount, err = uintField(m, "amount"); err != nil {
			return nil, err
		}
		a.TotalAgreedPrice, err = uintField(m, "totalAgreedPrice")
		return a, err
	case KindClaim:
		return Claim{}, nil
	}
	return nil, fmt.Errorf("action: unhandled type %s", kind)
}

// GroupInfo attaches a transition to a group action.
type GroupInfo struct {
	// Position is the contract group the action is signed under.
	Position uint16
	// ActionID names the action a co-signer signs. Proposers leave it zero;
	// the id is derived from the proposal.
	ActionID value.Identifier
	// IsProposer marks the signature that creates the action.
	IsProposer bool
}

// Transition is one signed token action.
type Transition struct {
	// Owner is the identity submitting the transition.
	Owner value.Identifier
	// Nonce is the owner's identity nonce; it makes proposal ids unique.
	Nonce uint64

	Contract      contract.Source
	TokenPosition uint16
	Group         *GroupInfo
	Action        Action
	Note          string
}

// ActionID derives a group action id from the proposal.
func ActionID(tokenID, proposer value.Identifier, nonce uint64, kind ActionKind) value.Identifier {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	return value.HashIdentifier(value.DomainAction, tokenID.Bytes(), proposer.Bytes(), n[:], []byte{byte(kind)})
}

// ParseTransition decodes a transition map with keys owner, nonce,
// contractId, tokenPosition, group {position, actionId, proposer}, action
// and note.
func ParseTransition(m value.Map) (Transition, error) {
	var (
		t   Transition
		err error
	)
	if t.Owner, err = idField(m, "owner"); err != nil {
		return t, err
	}
	if _, ok := m["nonce"]; ok {
		if t.Nonce, err = uintField(m, "nonce"); err != nil {
			return t, err
		}
	}
	contractID, err := idField(m, "contractId")
	if err != nil {
		return t, err
	}
	t.Contract = contract.ByID{ID: contractID}
	if _, ok := m["tokenPosition"]; ok {
		pos, err := uintField(m, "tokenPosition")
		if err != nil {
			return t, err
		}
		if pos > math.MaxUint16 {
			return t, fmt.Errorf("tokenPosition %d out of range", pos)
		}
		t.TokenPosition = uint16(pos)
	}
	if g, ok := m["group"]; ok {
		gm, ok := g.(value.Map)
		if !ok {
			return t, fmt.Errorf("group must be a map")
		}
		info := &GroupInfo{}
		pos, err := uintField(gm, "position")
		if err != nil {
			return t, err
		}
		if pos > math.MaxUint16 {
			return t, fmt.Errorf("group position %d out of range", pos)
		}
		info.Position = uint16(pos)
		if b, ok := gm["proposer"].(value.Bool); ok {
			info.IsProposer = bool(b)
		}
		if _, ok := gm["actionId"]; ok {
			if info.ActionID, err = idField(gm, "actionId"); err != nil {
				return t, err
			}
		}
		if !info.IsProposer && info.ActionID.IsZero() {
			return t, fmt.Errorf("group co-signature needs an actionId")
		}
		t.Group = info
	}
	am, ok := m["action"].(value.Map)
	if !ok {
		return t, fmt.Errorf("transition needs an action map")
	}
	if t.Action, err = ParseAction(am); err != nil {
		return t, err
	}
	if s, ok := m["note"].(value.String); ok {
		t.Note = string(s)
	}
	return t, nil
}

func uintField(m value.Map, key string) (uint64, error) {
	n, ok := m[key].(value.Int)
	if !ok {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return uint64(n), nil
}

func idField(m value.Map, key string) (value.Identifier, error) {
	v, ok := m[key]
	if !ok {
		return value.Identifier{}, fmt.Errorf("%s is required", key)
	}
	id, err := value.IdentifierFromValue(v)
	if err != nil {
		return value.Identifier{}, fmt.Errorf("%s: %w", key, err)
	}
	return id, nil
}

func optionalIDField(m value.Map, key string) (*value.Identifier, error) {
	if v, ok := m[key]; !ok || value.IsNull(v) {
		return nil, nil
	}
	id, err := idField(m, key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
