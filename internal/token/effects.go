package token

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/value"
)

// effect runs one action against token state on behalf of actor. With
// commit false it only validates: group proposals are checked against the
// current state but leave it unchanged until the action completes.
type effect struct {
	st        *State
	tx        *grove.Tx
	registry  *contract.Registry
	contract  *contract.DataContract
	cfg       *contract.TokenConfiguration
	position  uint16
	tokenID   value.Identifier
	actor     value.Identifier
	blockTime uint64
}

// Result reports what an applied action changed.
type Result struct {
	// Amount is the number of tokens minted, burned, moved, destroyed,
	// bought or claimed.
	Amount uint64
	// Recipient is the identity credited, when there is one.
	Recipient *value.Identifier
	// Credits is the price paid by a direct purchase.
	Credits uint64
	// ContractVersion is the contract version written by a config update.
	ContractVersion uint32
}

func (e *effect) run(a Action, commit bool) (Result, error) {
	switch act := a.(type) {
	case Mint:
		return e.mint(act, commit)
	case Burn:
		return e.burn(act, commit)
	case Transfer:
		return e.transfer(act, commit)
	case Freeze:
		if !commit {
			return Result{}, nil
		}
		return Result{}, e.st.setFrozen(e.tokenID, act.Identity, true)
	case Unfreeze:
		if err := e.requireFrozen(act.Identity); err != nil || !commit {
			return Result{}, err
		}
		return Result{}, e.st.setFrozen(e.tokenID, act.Identity, false)
	case DestroyFrozenFunds:
		return e.destroyFrozen(act, commit)
	case EmergencyAction:
		if !commit {
			return Result{}, nil
		}
		return Result{}, e.st.setPaused(e.tokenID, act.Action == EmergencyPause)
	case ConfigUpdate:
		return e.configUpdate(act, commit)
	case SetPrice:
		if !commit {
			return Result{}, nil
		}
		return Result{}, e.st.setPrice(e.tokenID, act.Price)
	case DirectPurchase:
		return e.purchase(act, commit)
	case Claim:
		return e.claim(commit)
	}
	return Result{}, fmt.Errorf("unknown token action %T", a)
}

func (e *effect) requireActive() error {
	paused, err := e.st.IsPaused(e.tokenID)
	if err != nil {
		return err
	}
	if paused {
		return deny(ErrCodeTokenPaused, "token %s is paused", e.tokenID)
	}
	return nil
}

func (e *effect) requireNotFrozen(id value.Identifier) error {
	frozen, err := e.st.IsFrozen(e.tokenID, id)
	if err != nil {
		return err
	}
	if frozen {
		return deny(ErrCodeAccountFrozen, "account %s is frozen", id).with("identity", id.String())
	}
	return nil
}

func (e *effect) requireFrozen(id value.Identifier) error {
	frozen, err := e.st.IsFrozen(e.tokenID, id)
	if err != nil {
		return err
	}
	if !frozen {
		return deny(ErrCodeAccountNotFrozen, "account %s is not frozen", id).with("identity", id.String())
	}
	return nil
}

// grow returns the supply after issuing amount, denying overflow and
// anything past the max supply.
func (e *effect) grow(amount uint64) (uint64, error) {
	supply, err := e.st.TotalSupply(e.tokenID)
	if err != nil {
		return 0, err
	}
	next, carry := bits.Add64(supply, amount, 0)
	if carry != 0 || (e.cfg.MaxSupply != nil && next > *e.cfg.MaxSupply) {
		d := deny(ErrCodeMintPastMaxSupply, "issuing %d would exceed the max supply", amount).
			with("supply", fmt.Sprint(supply))
		if e.cfg.MaxSupply != nil {
			d.with("max_supply", fmt.Sprint(*e.cfg.MaxSupply))
		}
		return 0, d
	}
	return next, nil
}

// issue credits amount of new tokens to id.
func (e *effect) issue(id value.Identifier, amount uint64, commit bool) error {
	next, err := e.grow(amount)
	if err != nil || !commit {
		return err
	}
	if err := e.st.credit(e.tokenID, id, amount); err != nil {
		return err
	}
	return e.st.setSupply(e.tokenID, next)
}

func (e *effect) mint(a Mint, commit bool) (Result, error) {
	if err := e.requireActive(); err != nil {
		return Result{}, err
	}
	var dest value.Identifier
	switch {
	case a.Recipient != nil:
		if !e.cfg.MintingAllowChoosingDestination {
			return Result{}, deny(ErrCodeUnauthorized, "token does not allow choosing a mint recipient")
		}
		dest = *a.Recipient
	case e.cfg.NewTokensDestinationIdentity != nil:
		dest = *e.cfg.NewTokensDestinationIdentity
	default:
		return Result{}, deny(ErrCodeDestinationRequired, "mint needs a recipient: the token has no destination identity")
	}
	exists, err := e.st.IdentityExists(dest)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{}, deny(ErrCodeRecipientDoesNotExist, "recipient %s does not exist", dest).with("recipient", dest.String())
	}
	if err := e.issue(dest, a.Amount, commit); err != nil {
		return Result{}, err
	}
	return Result{Amount: a.Amount, Recipient: &dest}, nil
}

func (e *effect) burn(a Burn, commit bool) (Result, error) {
	if err := e.requireActive(); err != nil {
		return Result{}, err
	}
	if err := e.requireNotFrozen(e.actor); err != nil {
		return Result{}, err
	}
	bal, _, err := e.st.Balance(e.tokenID, e.actor)
	if err != nil {
		return Result{}, err
	}
	if bal < a.Amount {
		return Result{}, insufficient(e.actor, bal, a.Amount)
	}
	if !commit {
		return Result{Amount: a.Amount}, nil
	}
	if err := e.st.setBalance(e.tokenID, e.actor, bal-a.Amount); err != nil {
		return Result{}, err
	}
	return Result{Amount: a.Amount}, e.shrink(a.Amount)
}

func (e *effect) shrink(amount uint64) error {
	supply, err := e.st.TotalSupply(e.tokenID)
	if err != nil {
		return err
	}
	if supply < amount {
		return &grove.CorruptedError{Message: fmt.Sprintf("token %s supply %d is below a held balance %d", e.tokenID, supply, amount)}
	}
	return e.st.setSupply(e.tokenID, supply-amount)
}

func (e *effect) transfer(a Transfer, commit bool) (Result, error) {
	if err := e.requireActive(); err != nil {
		return Result{}, err
	}
	if err := e.requireNotFrozen(e.actor); err != nil {
		return Result{}, err
	}
	if !e.cfg.AllowTransferToFrozenBalance {
		if err := e.requireNotFrozen(a.Recipient); err != nil {
			return Result{}, err
		}
	}
	bal, _, err := e.st.Balance(e.tokenID, e.actor)
	if err != nil {
		return Result{}, err
	}
	if bal < a.Amount {
		return Result{}, insufficient(e.actor, bal, a.Amount)
	}
	res := Result{Amount: a.Amount, Recipient: &a.Recipient}
	if !commit {
		return res, nil
	}
	if err := e.st.debit(e.tokenID, e.actor, a.Amount); err != nil {
		return Result{}, err
	}
	return res, e.st.credit(e.tokenID, a.Recipient, a.Amount)
}

func (e *effect) destroyFrozen(a DestroyFrozenFunds, commit bool) (Result, error) {
	if err := e.requireFrozen(a.Identity); err != nil {
		return Result{}, err
	}
	bal, _, err := e.st.Balance(e.tokenID, a.Identity)
	if err != nil || !commit {
		return Result{Amount: bal}, err
	}
	if err := e.st.setBalance(e.tokenID, a.Identity, 0); err != nil {
		return Result{}, err
	}
	return Result{Amount: bal}, e.shrink(bal)
}

func (e *effect) configUpdate(a ConfigUpdate, commit bool) (Result, error) {
	if a.Item == nil {
		return Result{}, fmt.Errorf("config update without an item")
	}
	if err := checkChange(e.st, e.contract, e.cfg, e.tokenID, a.Item); err != nil {
		return Result{}, err
	}
	if !commit {
		return Result{}, nil
	}
	next := e.contract.Clone()
	a.Item.Apply(next.Tokens[e.position])
	next.Version++
	if err := e.registry.Put(e.tx, next); err != nil {
		return Result{}, err
	}
	return Result{ContractVersion: next.Version}, nil
}

func (e *effect) purchase(a DirectPurchase, commit bool) (Result, error) {
	if err := e.requireActive(); err != nil {
		return Result{}, err
	}
	price, err := e.st.Price(e.tokenID)
	if err != nil {
		return Result{}, err
	}
	if price == nil {
		return Result{}, deny(ErrCodeNotForSale, "token %s is not for sale", e.tokenID)
	}
	hi, total := bits.Mul64(a.Amount, *price)
	if hi != 0 || total > a.TotalAgreedPrice {
		return Result{}, deny(ErrCodePriceTooLow, "%d tokens at %d each exceed the agreed %d", a.Amount, *price, a.TotalAgreedPrice).
			with("price", fmt.Sprint(*price))
	}
	if err := e.issue(e.actor, a.Amount, commit); err != nil {
		return Result{}, err
	}
	buyer := e.actor
	return Result{Amount: a.Amount, Recipient: &buyer, Credits: total}, nil
}

// claim collects every pre-programmed distribution to the actor at a moment
// no later than the block time and after the actor's last claim.
func (e *effect) claim(commit bool) (Result, error) {
	if err := e.requireActive(); err != nil {
		return Result{}, err
	}
	last, claimed, err := e.st.LastClaim(e.tokenID, e.actor)
	if err != nil {
		return Result{}, err
	}
	moments := make([]uint64, 0, len(e.cfg.PreProgrammedDistribution))
	for at := range e.cfg.PreProgrammedDistribution {
		moments = append(moments, at)
	}
	sort.Slice(moments, func(i, j int) bool { return moments[i] < moments[j] })

	var (
		listed bool
		due    uint64
		latest uint64
	)
	for _, at := range moments {
		amount, ok := e.cfg.PreProgrammedDistribution[at][e.actor]
		if !ok {
			continue
		}
		listed = true
		if at > e.blockTime || (claimed && at <= last) {
			continue
		}
		sum, carry := bits.Add64(due, amount, 0)
		if carry != 0 {
			return Result{}, deny(ErrCodeMintPastMaxSupply, "claim overflows")
		}
		due, latest = sum, at
	}
	if !listed {
		return Result{}, deny(ErrCodeWrongClaimant, "%s is not a distribution recipient", e.actor).with("claimant", e.actor.String())
	}
	if due == 0 {
		return Result{}, deny(ErrCodeNoCurrentRewards, "nothing to claim at %d", e.blockTime)
	}
	if err := e.issue(e.actor, due, commit); err != nil {
		return Result{}, err
	}
	claimant := e.actor
	res := Result{Amount: due, Recipient: &claimant}
	if !commit {
		return res, nil
	}
	return res, e.st.setLastClaim(e.tokenID, e.actor, latest)
}
