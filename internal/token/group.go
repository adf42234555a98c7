package token

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/roach88/docgrove/internal/value"
)

// GroupAction is a proposed token action collecting group signatures.
//
// Lifecycle: created by the proposer's signature, extended by each other
// member's signature, and completed (terminal) when the signers' power
// reaches the group's required power. The underlying action is applied in
// the same transaction that completes it.
type GroupAction struct {
	ID            value.Identifier
	TokenID       value.Identifier
	GroupPosition uint16
	Proposer      value.Identifier
	Kind          ActionKind
	// Payload is the canonical CBOR of the proposed action.
	Payload   []byte
	Signers   map[value.Identifier]uint32
	Power     uint64
	Completed bool
}

// SignerIDs returns the signers sorted bytewise.
func (a *GroupAction) SignerIDs() []value.Identifier {
	ids := make([]value.Identifier, 0, len(a.Signers))
	for id := range a.Signers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	return ids
}

// Action decodes the proposed action.
func (a *GroupAction) Action() (Action, error) {
	v, err := value.DecodeCBOR(a.Payload)
	if err != nil {
		return nil, err
	}
	m, ok := v.(value.Map)
	if !ok {
		return nil, fmt.Errorf("group action payload is not a map")
	}
	return ParseAction(m)
}

type groupActionWire struct {
	ID        string            `json:"id"`
	Token     string            `json:"token"`
	Position  uint16            `json:"position"`
	Proposer  string            `json:"proposer"`
	Kind      uint8             `json:"kind"`
	Payload   []byte            `json:"payload"`
	Signers   map[string]uint32 `json:"signers"`
	Power     uint64            `json:"power"`
	Completed bool              `json:"completed,omitempty"`
}

func (a *GroupAction) encode() ([]byte, error) {
	w := groupActionWire{
		ID:        a.ID.String(),
		Token:     a.TokenID.String(),
		Position:  a.GroupPosition,
		Proposer:  a.Proposer.String(),
		Kind:      uint8(a.Kind),
		Payload:   a.Payload,
		Signers:   make(map[string]uint32, len(a.Signers)),
		Power:     a.Power,
		Completed: a.Completed,
	}
	for id, p := range a.Signers {
		w.Signers[id.String()] = p
	}
	return value.EncodeCBOR(w)
}

func decodeGroupAction(data []byte) (*GroupAction, error) {
	var w groupActionWire
	if err := value.DecodeCBORInto(data, &w); err != nil {
		return nil, fmt.Errorf("group action: %w", err)
	}
	a := &GroupAction{
		GroupPosition: w.Position,
		Kind:          ActionKind(w.Kind),
		Payload:       w.Payload,
		Signers:       make(map[value.Identifier]uint32, len(w.Signers)),
		Power:         w.Power,
		Completed:     w.Completed,
	}
	var err error
	if a.ID, err = value.ParseIdentifier(w.ID); err != nil {
		return nil, fmt.Errorf("group action id: %w", err)
	}
	if a.TokenID, err = value.ParseIdentifier(w.Token); err != nil {
		return nil, fmt.Errorf("group action token: %w", err)
	}
	if a.Proposer, err = value.ParseIdentifier(w.Proposer); err != nil {
		return nil, fmt.Errorf("group action proposer: %w", err)
	}
	for s, p := range w.Signers {
		id, err := value.ParseIdentifier(s)
		if err != nil {
			return nil, fmt.Errorf("group action signer: %w", err)
		}
		a.Signers[id] = p
	}
	return a, nil
}

// signature is one member's contribution to a group action.
type signature struct {
	contractID value.Identifier
	tokenID    value.Identifier
	position   uint16
	power      uint32
	required   uint32
	signer     value.Identifier
	nonce      uint64
	info       GroupInfo
	action     Action
}

// sign adds sig to its group action and returns the updated action without
// storing it. A rejected signature returns a ConsensusError and leaves the
// stored action untouched.
func sign(st *State, sig signature) (*GroupAction, error) {
	body, err := payload(sig.action)
	if err != nil {
		return nil, err
	}
	kind := sig.action.Kind()

	if sig.info.IsProposer {
		id := ActionID(sig.tokenID, sig.signer, sig.nonce, kind)
		existing, err := st.GroupAction(sig.contractID, sig.position, id)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, rejectExisting(existing, sig.signer)
		}
		a := &GroupAction{
			ID:            id,
			TokenID:       sig.tokenID,
			GroupPosition: sig.position,
			Proposer:      sig.signer,
			Kind:          kind,
			Payload:       body,
			Signers:       map[value.Identifier]uint32{sig.signer: sig.power},
			Power:         uint64(sig.power),
		}
		a.Completed = a.Power >= uint64(sig.required)
		return a, nil
	}

	a, err := st.GroupAction(sig.contractID, sig.position, sig.info.ActionID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, deny(ErrCodeGroupActionDoesNotExist, "group action %s does not exist", sig.info.ActionID).
			with("action_id", sig.info.ActionID.String())
	}
	if a.Completed || a.Power >= uint64(sig.required) {
		return nil, alreadyCompleted(a)
	}
	if _, signed := a.Signers[sig.signer]; signed {
		return nil, rejectExisting(a, sig.signer)
	}
	if a.TokenID != sig.tokenID || a.Kind != kind || !bytes.Equal(a.Payload, body) {
		return nil, deny(ErrCodeGroupActionParametersModified, "signature for %s does not match the proposed %s", a.ID, a.Kind).
			with("action_id", a.ID.String())
	}
	a.Signers[sig.signer] = sig.power
	a.Power += uint64(sig.power)
	a.Completed = a.Power >= uint64(sig.required)
	return a, nil
}

// rejectExisting denies a signature on an action that already exists: it is
// either completed or already carries the signer.
func rejectExisting(a *GroupAction, signer value.Identifier) *ConsensusError {
	if a.Completed {
		return alreadyCompleted(a)
	}
	return deny(ErrCodeGroupActionAlreadySigned, "%s already signed group action %s", signer, a.ID).
		with("action_id", a.ID.String()).
		with("signer", signer.String())
}

func alreadyCompleted(a *GroupAction) *ConsensusError {
	return deny(ErrCodeGroupActionAlreadyCompleted, "group action %s is already completed", a.ID).
		with("action_id", a.ID.String())
}
