package czerrors

import (
	"errors"
	"strings"
)

// Validation (V) Errors: the input is discarded, nothing was mutated.
var (
	ErrMalformedPayload     = errors.New("V1|MalformedPayload: Rollup input payload could not be decoded.")
	ErrUnrecognizedSender   = errors.New("V2|UnrecognizedSender: Advance request from a sender that is neither the deposit portal nor the inbox.")
	ErrAmountOutOfRange     = errors.New("V3|AmountOutOfRange: Deposit amount is zero or exceeds the money supply.")
	ErrMalformedTransaction = errors.New("V4|MalformedTransaction: Transaction bytes do not form a well-formed v5 transaction.")
	ErrMalformedQuery       = errors.New("V5|MalformedQuery: Inspect query could not be decoded.")
)

// Consensus (C) Errors: the request is rejected and the ledger is unchanged.
var (
	ErrUnknownPreviousOutput    = errors.New("C1|UnknownPreviousOutput: Transparent input spends an output not in the UTXO set.")
	ErrDuplicateNullifier       = errors.New("C2|DuplicateNullifier: Shielded action reveals a nullifier already in the nullifier set.")
	ErrUnknownAnchor            = errors.New("C3|UnknownAnchor: Shielded bundle anchor is not in the historical root window.")
	ErrScriptVerificationFailed = errors.New("C4|ScriptVerificationFailed: Transparent input script did not verify.")
	ErrShieldedProofInvalid     = errors.New("C5|ShieldedProofInvalid: Shielded bundle proof or signatures did not verify.")
	ErrValueBalance             = errors.New("C6|ValueBalance: Transaction spends more than its inputs provide.")
	ErrTransactionExpired       = errors.New("C7|TransactionExpired: Transaction expiry height is below the block height.")
	ErrGenesisAlreadyApplied    = errors.New("C8|GenesisAlreadyApplied: Genesis requested on a ledger that already has a tip.")
	ErrNoGenesis                = errors.New("C9|NoGenesis: Request received before the genesis block.")
	ErrConcurrentApply          = errors.New("C10|ConcurrentApply: Apply called while another request is in flight.")
	ErrInvalidTransaction       = errors.New("C11|InvalidTransaction: Transaction violates a structural consensus rule.")
)

// Transport (T) Errors: nothing was mutated, safe to retry.
var (
	ErrVerifierUnavailable = errors.New("T1|VerifierUnavailable: Verifier could not be reached or timed out.")
	ErrHostUnavailable     = errors.New("T2|HostUnavailable: Rollup host request failed.")
)

// Fatal (F) Errors: the process must halt.
var (
	ErrPersistDivergence = errors.New("F1|PersistDivergence: Block accepted in memory but could not be persisted.")
)

// Class is the handling category of an error.
type Class int

const (
	ClassUnknown Class = iota
	ClassValidation
	ClassConsensus
	ClassTransport
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassValidation:
		return "validation"
	case ClassConsensus:
		return "consensus"
	case ClassTransport:
		return "transport"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var classes = []struct {
	class Class
	errs  []error
}{
	{ClassFatal, []error{ErrPersistDivergence}},
	{ClassTransport, []error{ErrVerifierUnavailable, ErrHostUnavailable}},
	{ClassConsensus, []error{
		ErrUnknownPreviousOutput, ErrDuplicateNullifier, ErrUnknownAnchor,
		ErrScriptVerificationFailed, ErrShieldedProofInvalid, ErrValueBalance,
		ErrTransactionExpired, ErrGenesisAlreadyApplied, ErrNoGenesis,
		ErrConcurrentApply, ErrInvalidTransaction,
	}},
	{ClassValidation, []error{
		ErrMalformedPayload, ErrUnrecognizedSender, ErrAmountOutOfRange,
		ErrMalformedTransaction, ErrMalformedQuery,
	}},
}

// ClassOf reports the category of err. Fatal wins over every other class when
// an error wraps several sentinels.
func ClassOf(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	for _, c := range classes {
		for _, target := range c.errs {
			if errors.Is(err, target) {
				return c.class
			}
		}
	}
	return ClassUnknown
}

// IsFatal reports whether err requires the process to halt.
func IsFatal(err error) bool {
	return ClassOf(err) == ClassFatal
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	// Split on ':' to separate the error name from its description.
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}
