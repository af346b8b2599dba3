package aggregation

import (
	"errors"

	"MultiBridge/internal/dispatch"
	"MultiBridge/internal/registry"
)

var (
	// ErrUnauthorizedSource is returned when the attesting source has no weight.
	ErrUnauthorizedSource = errors.New("unauthorized source")

	// ErrUnauthorizedOrigin is returned when the provenance does not match the origin registry.
	ErrUnauthorizedOrigin = errors.New("unauthorized origin")

	// ErrDuplicateAttestation is returned when a source attests a pending message twice.
	ErrDuplicateAttestation = errors.New("duplicate attestation")

	// ErrDownstreamExecutionFailed is returned when the dispatched payload failed.
	// The attestation is rolled back and may be resubmitted.
	ErrDownstreamExecutionFailed = errors.New("downstream execution failed")

	// ErrWrongDestination is returned when a message targets another chain.
	ErrWrongDestination = errors.New("wrong destination chain")

	// ErrInvalidThreshold is returned when a threshold above 100 is configured.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrLengthMismatch is returned when parallel configuration arrays differ in length.
	ErrLengthMismatch = errors.New("length mismatch")

	// ErrEmptyList is returned when initialization receives no sources or no origins.
	ErrEmptyList = errors.New("empty list")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrUnauthorizedGovernance is returned when a mutator runs without the
	// capability of the message currently executing.
	ErrUnauthorizedGovernance = errors.New("unauthorized governance call")

	// ErrMalformedGovernance is returned when a self-targeted payload cannot be decoded.
	ErrMalformedGovernance = errors.New("malformed governance payload")

	// ErrMalformedRequest is returned when a transport request cannot be decoded.
	ErrMalformedRequest = errors.New("malformed request")

	// Registry and dispatch errors, re-exported so callers need a single package.
	ErrZeroAddress    = registry.ErrZeroAddress
	ErrZeroChainID    = registry.ErrZeroChainID
	ErrUnknownSource  = registry.ErrUnknownSource
	ErrWeightOverflow = registry.ErrWeightOverflow
	ErrNoHandler      = dispatch.ErrNoHandler
)

// Code is the wire representation of an error kind.
type Code uint8

// Response codes. CodeOK is success; every other code names one error kind.
const (
	CodeOK Code = iota
	CodeUnauthorizedSource
	CodeUnauthorizedOrigin
	CodeDuplicateAttestation
	CodeDownstreamExecutionFailed
	CodeWrongDestination
	CodeInvalidThreshold
	CodeLengthMismatch
	CodeEmptyList
	CodeZeroAddress
	CodeZeroChainID
	CodeUnknownSource
	CodeAlreadyInitialized
	CodeUnauthorizedGovernance
	CodeMalformedGovernance
	CodeWeightOverflow
	CodeMalformedRequest
	CodeInternal Code = 0xFF
)

// codeErrors lists kinds in classification order. Downstream failure comes
// first because it wraps whatever the governance path or handler returned.
var codeErrors = []struct {
	code Code
	err  error
	kind string
}{
	{CodeDownstreamExecutionFailed, ErrDownstreamExecutionFailed, "downstream_execution_failed"},
	{CodeUnauthorizedSource, ErrUnauthorizedSource, "unauthorized_source"},
	{CodeUnauthorizedOrigin, ErrUnauthorizedOrigin, "unauthorized_origin"},
	{CodeDuplicateAttestation, ErrDuplicateAttestation, "duplicate_attestation"},
	{CodeWrongDestination, ErrWrongDestination, "wrong_destination"},
	{CodeInvalidThreshold, ErrInvalidThreshold, "invalid_threshold"},
	{CodeLengthMismatch, ErrLengthMismatch, "length_mismatch"},
	{CodeEmptyList, ErrEmptyList, "empty_list"},
	{CodeZeroAddress, ErrZeroAddress, "zero_address"},
	{CodeZeroChainID, ErrZeroChainID, "zero_chain_id"},
	{CodeUnknownSource, ErrUnknownSource, "unknown_source"},
	{CodeAlreadyInitialized, ErrAlreadyInitialized, "already_initialized"},
	{CodeUnauthorizedGovernance, ErrUnauthorizedGovernance, "unauthorized_governance"},
	{CodeMalformedGovernance, ErrMalformedGovernance, "malformed_governance"},
	{CodeWeightOverflow, ErrWeightOverflow, "weight_overflow"},
	{CodeMalformedRequest, ErrMalformedRequest, "malformed_request"},
}

// ErrorCode classifies err. nil maps to CodeOK, unknown errors to CodeInternal.
func ErrorCode(err error) Code {
	if err == nil {
		return CodeOK
	}

	for _, ce := range codeErrors {
		if errors.Is(err, ce.err) {
			return ce.code
		}
	}

	return CodeInternal
}

// ErrorKind returns the snake_case name of the kind of err, for metrics and logs.
func ErrorKind(err error) string {
	code := ErrorCode(err)

	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.kind
		}
	}

	if code == CodeOK {
		return "ok"
	}

	return "internal"
}

// CodeError returns the sentinel error of code, nil for CodeOK.
// Unknown codes yield a generic error.
func CodeError(code Code) error {
	if code == CodeOK {
		return nil
	}

	for _, ce := range codeErrors {
		if ce.code == code {
			return ce.err
		}
	}

	return errInternal
}

// errInternal stands for failures with no dedicated kind.
var errInternal = errors.New("internal error")
