package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/metrics"
	"github.com/roach88/docgrove/internal/value"
)

// Status is the result class of one transition.
type Status string

const (
	// StatusApplied means the action's effect is visible in the store.
	StatusApplied Status = "applied"
	// StatusPending means a group signature was recorded but the group has
	// not reached its required power.
	StatusPending Status = "pending"
	// StatusDenied means a ConsensusError rejected the transition.
	StatusDenied Status = "denied"
	// StatusFailed means the store or the input failed; nothing was written.
	StatusFailed Status = "failed"
)

// Batch is an ordered set of transitions processed in one block.
type Batch struct {
	// BlockTimeMs is the block time distributions are claimed against.
	BlockTimeMs uint64
	Transitions []Transition
}

// Outcome is the result of one transition.
type Outcome struct {
	Index  int
	Kind   ActionKind
	Status Status
	// Err is a *ConsensusError for denials.
	Err error
	// Group is the group action the transition signed, if any.
	Group *GroupAction
	// Result describes the applied effect.
	Result Result
	// Cost is the store work the transition performed.
	Cost grove.Cost
}

// Denial returns the ConsensusError of a denied outcome.
func (o Outcome) Denial() (*ConsensusError, bool) {
	return AsConsensusError(o.Err)
}

// Processor validates and applies token transitions.
//
// CRITICAL: each transition runs in its own write transaction. A denial or
// failure discards that transaction, so a rejected group signature leaves the
// stored action exactly as it was and sibling transitions are unaffected.
type Processor struct {
	db       *grove.DB
	registry *contract.Registry
	logger   *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a Processor over db.
func NewProcessor(db *grove.DB, opts ...Option) *Processor {
	p := &Processor{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	p.registry = contract.NewRegistry(p.logger)
	return p
}

// RegisterContract stores c and initializes the state of each of its
// tokens.
func (p *Processor) RegisterContract(ctx context.Context, c *contract.DataContract) error {
	return p.db.Update(ctx, func(tx *grove.Tx) error {
		if err := p.registry.Put(tx, c); err != nil {
			return err
		}
		st := NewState(tx)
		for pos, cfg := range c.Tokens {
			if err := st.InitToken(c.TokenID(pos), cfg, c.OwnerID); err != nil {
				return fmt.Errorf("token %d: %w", pos, err)
			}
		}
		return nil
	})
}

// RegisterIdentities records ids as existing identities.
func (p *Processor) RegisterIdentities(ctx context.Context, ids ...value.Identifier) error {
	return p.db.Update(ctx, func(tx *grove.Tx) error {
		st := NewState(tx)
		for _, id := range ids {
			if err := st.RegisterIdentity(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// View runs fn over a read-only State.
func (p *Processor) View(ctx context.Context, fn func(*State) error) error {
	return p.db.View(ctx, func(tx *grove.Tx) error {
		return fn(NewState(tx))
	})
}

// Apply processes the batch in order and returns one outcome per
// transition. It never stops early: a denied or failed transition does not
// affect the others.
func (p *Processor) Apply(ctx context.Context, batch Batch) []Outcome {
	out := make([]Outcome, len(batch.Transitions))
	for i, t := range batch.Transitions {
		out[i] = p.applyOne(ctx, batch.BlockTimeMs, i, t)
	}
	return out
}

func (p *Processor) applyOne(ctx context.Context, blockTime uint64, index int, t Transition) (o Outcome) {
	o = Outcome{Index: index}
	if t.Action != nil {
		o.Kind = t.Action.Kind()
	}
	ctx, span := metrics.StartSpan(ctx, "token.apply",
		attribute.String("action", o.Kind.String()),
		attribute.Int("index", index),
		attribute.Bool("group", t.Group != nil))
	defer func() {
		if o.Status == StatusFailed {
			metrics.EndSpan(span, o.Err)
		} else {
			span.SetAttributes(attribute.String("status", string(o.Status)))
			span.End()
		}
		metrics.RecordTokenTransition(o.Kind.String(), string(o.Status))
	}()

	tx, err := p.db.Begin(ctx, true)
	if err != nil {
		o.Status, o.Err = StatusFailed, err
		return o
	}
	defer tx.Discard()

	err = p.transition(ctx, tx, blockTime, t, &o)
	if err == nil {
		err = tx.Commit()
	}
	o.Cost = tx.Cost()

	var ce *ConsensusError
	switch {
	case errors.As(err, &ce):
		o.Status, o.Err = StatusDenied, ce
		if t.Group != nil {
			metrics.RecordGroupSignature("rejected")
		}
		p.logger.Debug("token transition denied",
			"index", index,
			"action", o.Kind.String(),
			"owner", t.Owner.String(),
			"code", string(ce.Code))
		return o
	case err != nil:
		o.Status, o.Err = StatusFailed, err
		p.logger.Warn("token transition failed",
			"index", index,
			"action", o.Kind.String(),
			"error", err)
		return o
	}

	if o.Group != nil {
		switch {
		case o.Group.Completed:
			metrics.RecordGroupSignature("completed")
		case t.Group.IsProposer:
			metrics.RecordGroupSignature("proposed")
		default:
			metrics.RecordGroupSignature("signed")
		}
	}
	p.logger.Debug("token transition processed",
		"index", index,
		"action", o.Kind.String(),
		"owner", t.Owner.String(),
		"status", string(o.Status))
	return o
}

// transition validates t and writes its effect into tx, filling o.
func (p *Processor) transition(ctx context.Context, tx *grove.Tx, blockTime uint64, t Transition, o *Outcome) error {
	if t.Action == nil {
		return fmt.Errorf("transition %d has no action", o.Index)
	}
	if t.Contract == nil {
		return fmt.Errorf("transition %d has no contract", o.Index)
	}
	c, err := p.registry.Resolve(ctx, tx, t.Contract)
	if err != nil {
		return err
	}
	cfg, ok := c.Token(t.TokenPosition)
	if !ok {
		return deny(ErrCodeInvalidTokenPosition, "contract %s has no token %d", c.ID, t.TokenPosition)
	}
	tokenID := c.TokenID(t.TokenPosition)
	st := NewState(tx)
	if err := st.InitToken(tokenID, cfg, c.OwnerID); err != nil {
		return err
	}

	var (
		takers   contract.AuthorizedActionTakers
		governed bool
	)
	if cu, ok := t.Action.(ConfigUpdate); ok {
		if cu.Item == nil {
			return fmt.Errorf("config update without an item")
		}
		takers, governed = cu.Item.AuthorizedTakers(cfg), true
	} else {
		takers, governed = TakersFor(t.Action.Kind(), cfg)
	}

	if t.Group != nil {
		if !governed || !contract.IsGroupTakers(takers) {
			return deny(ErrCodeGroupActionNotAllowed, "%s is not decided by a group", t.Action.Kind())
		}
		if _, ok := c.Group(t.Group.Position); !ok {
			return deny(ErrCodeInvalidGroupPosition, "contract %s has no group %d", c.ID, t.Group.Position).
				with("position", fmt.Sprint(t.Group.Position))
		}
	}

	eff := &effect{
		st:        st,
		tx:        tx,
		registry:  p.registry,
		contract:  c,
		cfg:       cfg,
		position:  t.TokenPosition,
		tokenID:   tokenID,
		actor:     t.Owner,
		blockTime: blockTime,
	}
	if !governed {
		o.Result, err = eff.run(t.Action, true)
		if err != nil {
			return err
		}
		o.Status = StatusApplied
		return nil
	}

	auth, err := AuthorizeTakers(t.Owner, takers, cfg, c)
	if err != nil {
		return err
	}
	if !auth.IsGroup() {
		o.Result, err = eff.run(t.Action, true)
		if err != nil {
			return err
		}
		o.Status = StatusApplied
		return nil
	}
	if t.Group == nil {
		return deny(ErrCodeUnauthorized, "%s needs signatures from group %d", t.Action.Kind(), auth.GroupPosition)
	}
	if t.Group.Position != auth.GroupPosition {
		return deny(ErrCodeUnauthorized, "%s is decided by group %d, not %d", t.Action.Kind(), auth.GroupPosition, t.Group.Position)
	}
	return p.groupSignature(st, eff, auth, t, o)
}

func (p *Processor) groupSignature(st *State, eff *effect, auth Authorization, t Transition, o *Outcome) error {
	power, _ := auth.Group.MemberPower(t.Owner)
	action, err := sign(st, signature{
		contractID: eff.contract.ID,
		tokenID:    eff.tokenID,
		position:   auth.GroupPosition,
		power:      power,
		required:   auth.Group.RequiredPower,
		signer:     t.Owner,
		nonce:      t.Nonce,
		info:       *t.Group,
		action:     t.Action,
	})
	if err != nil {
		return err
	}
	o.Group = action

	// The effect acts for the proposer whoever completes the action.
	eff.actor = action.Proposer
	if !action.Completed {
		if o.Result, err = eff.run(t.Action, false); err != nil {
			return err
		}
		o.Status = StatusPending
		return st.putGroupAction(eff.contract.ID, action)
	}

	signers := SpecifiedIdentities(action.SignerIDs()...)
	if !AllowedFor(auth.Takers, eff.contract, eff.cfg, signers, GoalCompletion) {
		return deny(ErrCodeUnauthorized, "signers of %s do not reach the required power", action.ID)
	}
	if o.Result, err = eff.run(t.Action, true); err != nil {
		return err
	}
	o.Status = StatusApplied
	return st.putGroupAction(eff.contract.ID, action)
}
