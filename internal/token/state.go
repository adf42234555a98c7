package token

import (
	"encoding/binary"
	"fmt"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/value"
)

// Tree roots owned by this package.
var (
	TokensRootKey       = []byte{16}
	IdentitiesRootKey   = []byte{32}
	GroupActionsRootKey = []byte{88}
)

// Keys inside a token's tree.
var (
	statusKey   = []byte{0}
	supplyKey   = []byte{1}
	balancesKey = []byte{2}
	frozenKey   = []byte{3}
	priceKey    = []byte{4}
	claimsKey   = []byte{5}
)

// present is the item stored for set membership (registered identities,
// frozen accounts).
var present = []byte{1}

// TokenPath returns [[16], token id].
func TokenPath(tokenID value.Identifier) [][]byte {
	return [][]byte{TokensRootKey, tokenID.Bytes()}
}

func tokenSubPath(tokenID value.Identifier, key []byte) [][]byte {
	return append(TokenPath(tokenID), key)
}

// GroupActionsPath returns [[88], contract id, position], the layer holding
// one group's actions.
func GroupActionsPath(contractID value.Identifier, position uint16) [][]byte {
	var pos [2]byte
	binary.BigEndian.PutUint16(pos[:], position)
	return [][]byte{GroupActionsRootKey, contractID.Bytes(), pos[:]}
}

// State reads and writes token state inside one grove transaction.
type State struct {
	tx *grove.Tx
}

// NewState wraps tx.
func NewState(tx *grove.Tx) *State {
	return &State{tx: tx}
}

func (s *State) getU64(path [][]byte, key []byte) (uint64, bool, error) {
	data, err := s.tx.GetItem(path, key)
	if grove.IsAbsence(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := contract.DecodeU64(data)
	if err != nil {
		return 0, false, &grove.CorruptedError{Message: fmt.Sprintf("token amount: %v", err)}
	}
	return n, true, nil
}

// TokenExists reports whether the token's state has been initialized.
func (s *State) TokenExists(tokenID value.Identifier) (bool, error) {
	return s.tx.Has(TokenPath(tokenID), statusKey)
}

// Balance returns id's balance. ok is false when the identity never held the
// token, which is different from a zero balance.
func (s *State) Balance(tokenID, id value.Identifier) (amount uint64, ok bool, err error) {
	return s.getU64(tokenSubPath(tokenID, balancesKey), id.Bytes())
}

// TotalSupply returns the token's supply.
func (s *State) TotalSupply(tokenID value.Identifier) (uint64, error) {
	n, _, err := s.getU64(TokenPath(tokenID), supplyKey)
	return n, err
}

// IsPaused reports whether the token is paused.
func (s *State) IsPaused(tokenID value.Identifier) (bool, error) {
	data, err := s.tx.GetItem(TokenPath(tokenID), statusKey)
	if grove.IsAbsence(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return len(data) == 1 && data[0] == 1, nil
}

// IsFrozen reports whether id's account is frozen.
func (s *State) IsFrozen(tokenID, id value.Identifier) (bool, error) {
	return s.tx.Has(tokenSubPath(tokenID, frozenKey), id.Bytes())
}

// Price returns the per-token direct purchase price, or nil when the token
// is not for sale.
func (s *State) Price(tokenID value.Identifier) (*uint64, error) {
	n, ok, err := s.getU64(TokenPath(tokenID), priceKey)
	if err != nil || !ok {
		return nil, err
	}
	return &n, nil
}

// LastClaim returns the latest distribution moment id has claimed.
func (s *State) LastClaim(tokenID, id value.Identifier) (uint64, bool, error) {
	return s.getU64(tokenSubPath(tokenID, claimsKey), id.Bytes())
}

// IdentityExists reports whether id was registered.
func (s *State) IdentityExists(id value.Identifier) (bool, error) {
	return s.tx.Has([][]byte{IdentitiesRootKey}, id.Bytes())
}

// GroupAction returns the stored action, or nil when none exists.
func (s *State) GroupAction(contractID value.Identifier, position uint16, actionID value.Identifier) (*GroupAction, error) {
	data, err := s.tx.GetItem(GroupActionsPath(contractID, position), actionID.Bytes())
	if grove.IsAbsence(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeGroupAction(data)
}

// RegisterIdentity records id as existing.
func (s *State) RegisterIdentity(id value.Identifier) error {
	root := [][]byte{IdentitiesRootKey}
	if err := s.tx.EnsurePath(root); err != nil {
		return err
	}
	_, err := s.tx.InsertIfNotExists(root, id.Bytes(), grove.NewItem(present))
	return err
}

// InitToken creates the token's state on first registration: the base
// supply credited to the destination identity (or the contract owner), and
// the configured starting pause state. It does nothing for a token that
// already has state.
func (s *State) InitToken(tokenID value.Identifier, cfg *contract.TokenConfiguration, owner value.Identifier) error {
	exists, err := s.TokenExists(tokenID)
	if err != nil || exists {
		return err
	}
	path := TokenPath(tokenID)
	if err := s.tx.EnsurePath(path); err != nil {
		return err
	}
	for _, key := range [][]byte{balancesKey, frozenKey, claimsKey} {
		if _, err := s.tx.InsertTreeIfNotExists(path, key); err != nil {
			return err
		}
	}
	if err := s.setPaused(tokenID, cfg.StartAsPaused); err != nil {
		return err
	}
	if err := s.setSupply(tokenID, cfg.BaseSupply); err != nil {
		return err
	}
	if cfg.BaseSupply == 0 {
		return nil
	}
	dest := owner
	if cfg.NewTokensDestinationIdentity != nil {
		dest = *cfg.NewTokensDestinationIdentity
	}
	return s.setBalance(tokenID, dest, cfg.BaseSupply)
}

func (s *State) putU64(path [][]byte, key []byte, n uint64) error {
	return s.tx.Insert(path, key, grove.NewItem(contract.EncodeU64(n)))
}

func (s *State) setBalance(tokenID, id value.Identifier, amount uint64) error {
	return s.putU64(tokenSubPath(tokenID, balancesKey), id.Bytes(), amount)
}

func (s *State) setSupply(tokenID value.Identifier, supply uint64) error {
	return s.putU64(TokenPath(tokenID), supplyKey, supply)
}

func (s *State) setPaused(tokenID value.Identifier, paused bool) error {
	b := byte(0)
	if paused {
		b = 1
	}
	return s.tx.Insert(TokenPath(tokenID), statusKey, grove.NewItem([]byte{b}))
}

func (s *State) setFrozen(tokenID, id value.Identifier, frozen bool) error {
	path := tokenSubPath(tokenID, frozenKey)
	if frozen {
		return s.tx.Insert(path, id.Bytes(), grove.NewItem(present))
	}
	return s.tx.Delete(path, id.Bytes())
}

func (s *State) setPrice(tokenID value.Identifier, price *uint64) error {
	if price != nil {
		return s.putU64(TokenPath(tokenID), priceKey, *price)
	}
	ok, err := s.tx.Has(TokenPath(tokenID), priceKey)
	if err != nil || !ok {
		return err
	}
	return s.tx.Delete(TokenPath(tokenID), priceKey)
}

func (s *State) setLastClaim(tokenID, id value.Identifier, moment uint64) error {
	return s.putU64(tokenSubPath(tokenID, claimsKey), id.Bytes(), moment)
}

func (s *State) putGroupAction(contractID value.Identifier, a *GroupAction) error {
	path := GroupActionsPath(contractID, a.GroupPosition)
	if err := s.tx.EnsurePath(path); err != nil {
		return err
	}
	data, err := a.encode()
	if err != nil {
		return err
	}
	return s.tx.Insert(path, a.ID.Bytes(), grove.NewItem(data))
}

// credit adds amount to id's balance.
func (s *State) credit(tokenID, id value.Identifier, amount uint64) error {
	bal, _, err := s.Balance(tokenID, id)
	if err != nil {
		return err
	}
	if bal+amount < bal {
		return deny(ErrCodeMintPastMaxSupply, "balance of %s would overflow", id)
	}
	return s.setBalance(tokenID, id, bal+amount)
}

// debit subtracts amount from id's balance, denying underflow.
func (s *State) debit(tokenID, id value.Identifier, amount uint64) error {
	bal, _, err := s.Balance(tokenID, id)
	if err != nil {
		return err
	}
	if bal < amount {
		return insufficient(id, bal, amount)
	}
	return s.setBalance(tokenID, id, bal-amount)
}

func insufficient(id value.Identifier, balance, amount uint64) *ConsensusError {
	return deny(ErrCodeInsufficientBalance, "%s has %d, needs %d", id, balance, amount).
		with("identity", id.String()).
		with("balance", fmt.Sprint(balance)).
		with("amount", fmt.Sprint(amount))
}
