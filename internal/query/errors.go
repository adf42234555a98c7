package query

import (
	"errors"
	"fmt"
)

// SyntaxError reports a query that cannot be compiled: malformed clauses,
// unsupported combinations, index mismatches and invalid cursors. Syntax
// errors are detected before or during compilation, never while executing.
type SyntaxError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string
}

// ErrorCode categorizes syntax errors.
type ErrorCode string

const (
	ErrCodeInvalidFormatWhereClause    ErrorCode = "INVALID_FORMAT_WHERE_CLAUSE"
	ErrCodeInvalidWhereClause          ErrorCode = "INVALID_WHERE_CLAUSE"
	ErrCodeInvalidWhereClauseOrder     ErrorCode = "INVALID_WHERE_CLAUSE_ORDER"
	ErrCodeDuplicateNonGroupableClause ErrorCode = "DUPLICATE_NON_GROUPABLE_CLAUSE"
	ErrCodeMultipleInClauses           ErrorCode = "MULTIPLE_IN_CLAUSES"
	ErrCodeMultipleRangeClauses        ErrorCode = "MULTIPLE_RANGE_CLAUSES"
	ErrCodeRangeClausesNotGroupable    ErrorCode = "RANGE_CLAUSES_NOT_GROUPABLE"
	ErrCodeInvalidInClause             ErrorCode = "INVALID_IN_CLAUSE"
	ErrCodeInvalidBetweenClause        ErrorCode = "INVALID_BETWEEN_CLAUSE"
	ErrCodeInvalidStartsWithClause     ErrorCode = "INVALID_STARTS_WITH_CLAUSE"
	ErrCodeDuplicateStartConditions    ErrorCode = "DUPLICATE_START_CONDITIONS"
	ErrCodeUnsupported                 ErrorCode = "UNSUPPORTED"
	ErrCodeInvalidLimit                ErrorCode = "INVALID_LIMIT"
	ErrCodeInvalidOrderByProperties    ErrorCode = "INVALID_ORDER_BY_PROPERTIES"
	ErrCodeWhereClauseOnNonIndexed     ErrorCode = "WHERE_CLAUSE_ON_NON_INDEXED_PROPERTY"
	ErrCodeQueryTooFarFromIndex        ErrorCode = "QUERY_TOO_FAR_FROM_INDEX"
	ErrCodeQueryOnTypeWithNoIndexes    ErrorCode = "QUERY_ON_DOCUMENT_TYPE_WITH_NO_INDEXES"
	ErrCodeMissingOrderByForRange      ErrorCode = "MISSING_ORDER_BY_FOR_RANGE"
	ErrCodeStartDocumentNotFound       ErrorCode = "START_DOCUMENT_NOT_FOUND"
	ErrCodeInvalidSQL                  ErrorCode = "INVALID_SQL"
	ErrCodeDocumentTypeNotFound        ErrorCode = "DOCUMENT_TYPE_NOT_FOUND"
	ErrCodeInvalidContractID           ErrorCode = "INVALID_CONTRACT_ID"
	ErrCodeInvalidDocumentType         ErrorCode = "INVALID_DOCUMENT_TYPE"
	ErrCodeInvalidStartCondition       ErrorCode = "INVALID_START_CONDITION"
	ErrCodeInvalidBlockTime            ErrorCode = "INVALID_BLOCK_TIME"
	ErrCodeInvalidOffset               ErrorCode = "INVALID_OFFSET"
	ErrCodeInvalidKeyValue             ErrorCode = "INVALID_KEY_VALUE"
)

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func syntaxErr(code ErrorCode, format string, args ...any) *SyntaxError {
	return &SyntaxError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf returns the code of a SyntaxError anywhere in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se *SyntaxError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

// IsSyntaxError reports whether err is a SyntaxError.
func IsSyntaxError(err error) bool {
	var se *SyntaxError
	return errors.As(err, &se)
}

// HasCode reports whether err is a SyntaxError with the given code.
func HasCode(err error, code ErrorCode) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

// IsIndexError reports whether err stems from index selection.
func IsIndexError(err error) bool {
	c, ok := CodeOf(err)
	if !ok {
		return false
	}
	switch c {
	case ErrCodeWhereClauseOnNonIndexed, ErrCodeQueryTooFarFromIndex,
		ErrCodeQueryOnTypeWithNoIndexes, ErrCodeMissingOrderByForRange:
		return true
	}
	return false
}

// IsStartDocumentNotFound reports whether err is an unknown cursor.
func IsStartDocumentNotFound(err error) bool {
	return HasCode(err, ErrCodeStartDocumentNotFound)
}

// CorruptedError reports a contract or store invariant that user input
// cannot violate, such as an index without properties.
type CorruptedError struct {
	Message string
}

func (e *CorruptedError) Error() string {
	return "corrupted query state: " + e.Message
}

// IsCorrupted reports whether err is a CorruptedError.
func IsCorrupted(err error) bool {
	var ce *CorruptedError
	return errors.As(err, &ce)
}
