// Package token authorizes and applies token transitions, including actions
// decided by contract groups.
//
// Token state lives in the grove beside the contracts:
//
//	[16] token id
//	    [0] paused flag (1 byte)
//	    [1] total supply
//	    [2] balances: identity -> amount
//	    [3] frozen accounts: identity -> 1
//	    [4] direct purchase price, absent when not for sale
//	    [5] claims: identity -> last distribution moment claimed
//	[32] registered identities: identity -> 1
//	[88] contract id, group position (2 bytes BE)
//	    action id -> GroupAction (CBOR)
//
// Amounts use contract.EncodeU64 so balances sort numerically.
//
// A transition is authorized against the change-control rule governing its
// action. When that rule resolves to a group, the first signer proposes a
// GroupAction and each member adds their power; the signature that brings
// the total to the group's required power completes the action and applies
// it in the same transaction. Every rejection is a *ConsensusError with a
// stable code.
package token
