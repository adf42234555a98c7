package token

import (
	"errors"
	"fmt"
)

// ConsensusError is a typed, non-fatal denial of a token transition.
//
// Consensus errors never abort a batch: the transition that produced one
// leaves no trace in the store and its siblings still run. Paid tells the
// fee layer whether the denial was detected after state was consulted
// (paid) or from the transition's shape alone (unpaid).
type ConsensusError struct {
	// Code identifies the denial.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Details contains additional context (identities, amounts, positions).
	Details map[string]string

	// Paid is a classification hint for the external fee layer.
	Paid bool
}

// ErrorCode categorizes consensus errors.
type ErrorCode string

const (
	// Authorization.
	ErrCodeUnauthorized             ErrorCode = "UNAUTHORIZED_TOKEN_ACTION"
	ErrCodeMainGroupNotSet          ErrorCode = "MAIN_GROUP_NOT_SET"
	ErrCodeGroupDoesNotExist        ErrorCode = "GROUP_DOES_NOT_EXIST"
	ErrCodeIdentityDoesNotExist     ErrorCode = "IDENTITY_DOES_NOT_EXIST"
	ErrCodeIdentityNotMemberOfGroup ErrorCode = "IDENTITY_NOT_MEMBER_OF_GROUP"

	// Group actions.
	ErrCodeGroupActionAlreadyCompleted   ErrorCode = "GROUP_ACTION_ALREADY_COMPLETED"
	ErrCodeGroupActionAlreadySigned      ErrorCode = "GROUP_ACTION_ALREADY_SIGNED_BY_IDENTITY"
	ErrCodeGroupActionDoesNotExist       ErrorCode = "GROUP_ACTION_DOES_NOT_EXIST"
	ErrCodeGroupActionNotAllowed         ErrorCode = "GROUP_ACTION_NOT_ALLOWED_ON_TRANSITION"
	ErrCodeGroupActionParametersModified ErrorCode = "MODIFICATION_OF_GROUP_ACTION_MAIN_PARAMETERS_NOT_PERMITTED"

	// Balances and status.
	ErrCodeInsufficientBalance ErrorCode = "INSUFFICIENT_TOKEN_BALANCE"
	ErrCodeTokenPaused         ErrorCode = "TOKEN_IS_PAUSED"
	ErrCodeAccountFrozen       ErrorCode = "TOKEN_ACCOUNT_FROZEN"
	ErrCodeAccountNotFrozen    ErrorCode = "TOKEN_ACCOUNT_NOT_FROZEN"

	// Supply and minting.
	ErrCodeMintPastMaxSupply       ErrorCode = "MINT_PAST_MAX_SUPPLY"
	ErrCodeMaxSupplyBelowSupply    ErrorCode = "MAX_SUPPLY_BELOW_CURRENT_SUPPLY"
	ErrCodeRecipientDoesNotExist   ErrorCode = "RECIPIENT_DOES_NOT_EXIST"
	ErrCodeDestinationRequired     ErrorCode = "DESTINATION_REQUIRED"
	ErrCodeInvalidGroupPosition    ErrorCode = "INVALID_GROUP_POSITION"
	ErrCodeInvalidTokenPosition    ErrorCode = "INVALID_TOKEN_POSITION"
	ErrCodeSelfChangeNotPermitted  ErrorCode = "SELF_CHANGE_NOT_PERMITTED"
	ErrCodeChangeToNoOneNotAllowed ErrorCode = "CHANGE_TO_NO_ONE_NOT_PERMITTED"

	// Direct purchase and distribution.
	ErrCodeNotForSale       ErrorCode = "NOT_FOR_SALE"
	ErrCodePriceTooLow      ErrorCode = "PRICE_TOO_LOW"
	ErrCodeNoCurrentRewards ErrorCode = "NO_CURRENT_REWARDS"
	ErrCodeWrongClaimant    ErrorCode = "WRONG_CLAIMANT"
)

// unpaidCodes are detected from the transition alone, before any state is
// read.
var unpaidCodes = map[ErrorCode]bool{
	ErrCodeInvalidTokenPosition:  true,
	ErrCodeInvalidGroupPosition:  true,
	ErrCodeGroupActionNotAllowed: true,
}

// Error implements the error interface.
func (e *ConsensusError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func deny(code ErrorCode, format string, args ...any) *ConsensusError {
	return &ConsensusError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Paid:    !unpaidCodes[code],
	}
}

// with attaches a detail and returns e.
func (e *ConsensusError) with(key, val string) *ConsensusError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = val
	return e
}

// AsConsensusError returns the ConsensusError in err's chain, if any.
func AsConsensusError(err error) (*ConsensusError, bool) {
	var ce *ConsensusError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// HasCode reports whether err is a ConsensusError with the given code.
func HasCode(err error, code ErrorCode) bool {
	ce, ok := AsConsensusError(err)
	return ok && ce.Code == code
}

// IsUnauthorized reports whether err denies the actor's authority, including
// group membership and missing group or identity targets.
func IsUnauthorized(err error) bool {
	ce, ok := AsConsensusError(err)
	if !ok {
		return false
	}
	switch ce.Code {
	case ErrCodeUnauthorized, ErrCodeMainGroupNotSet, ErrCodeGroupDoesNotExist,
		ErrCodeIdentityDoesNotExist, ErrCodeIdentityNotMemberOfGroup:
		return true
	}
	return false
}

// IsGroupActionError reports whether err rejects a group action signature.
func IsGroupActionError(err error) bool {
	ce, ok := AsConsensusError(err)
	if !ok {
		return false
	}
	switch ce.Code {
	case ErrCodeGroupActionAlreadyCompleted, ErrCodeGroupActionAlreadySigned,
		ErrCodeGroupActionDoesNotExist, ErrCodeGroupActionNotAllowed,
		ErrCodeGroupActionParametersModified:
		return true
	}
	return false
}
