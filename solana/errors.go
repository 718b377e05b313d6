package staking_rewards

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ErrorKind classifies failures by how a caller should react to them.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindInsufficientFunds
	KindState
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindState:
		return "state"
	default:
		return "internal"
	}
}

// ProgramError is an error surfaced by the staking program (or the token
// program it calls) with its on-chain code.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
	Kind ErrorKind
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

// Is matches program errors by code so decoded RPC errors compare equal to the sentinels.
func (e *ProgramError) Is(target error) bool {
	var other *ProgramError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

func newProgramError(code uint32, name, msg string, kind ErrorKind) *ProgramError {
	err := &ProgramError{Code: code, Name: name, Msg: msg, Kind: kind}
	programErrors[code] = err
	return err
}

var programErrors = map[uint32]*ProgramError{}

// Program-defined errors.
var (
	ErrIsStaked           = newProgramError(6000, "IsStaked", "Token are already staked", KindState)
	ErrNotStaked          = newProgramError(6001, "NotStaked", "Token not staked", KindState)
	ErrNoTokens           = newProgramError(6002, "NoTokens", "No Token to stake", KindValidation)
	ErrLockPeriodNotEnded = newProgramError(6003, "LockPeriodNotEnded", "Lock period has not ended yet", KindState)
	ErrAlreadyInitialized = newProgramError(6004, "AlreadyInitialized", "Vault is already initialized", KindState)
	ErrOwnerMismatch      = newProgramError(6005, "OwnerMismatch", "Stake record belongs to another staker", KindValidation)
	ErrEscrowMismatch     = newProgramError(6006, "EscrowMismatch", "Stake account balance does not match the staked principal", KindInternal)
	ErrMathOverflow       = newProgramError(6007, "MathOverflow", "Arithmetic overflow", KindInternal)
)

// Framework errors, numbered the way Anchor numbers them.
var (
	ErrInstructionFallbackNotFound  = newProgramError(101, "InstructionFallbackNotFound", "Fallback functions are not supported", KindValidation)
	ErrInstructionDidNotDeserialize = newProgramError(102, "InstructionDidNotDeserialize", "The program could not deserialize the given instruction", KindValidation)
	ErrConstraintSigner             = newProgramError(2002, "ConstraintSigner", "A signer constraint was violated", KindValidation)
	ErrConstraintSeeds              = newProgramError(2006, "ConstraintSeeds", "A seeds constraint was violated", KindValidation)
	ErrConstraintAssociated         = newProgramError(2009, "ConstraintAssociated", "An associated constraint was violated", KindValidation)
	ErrConstraintTokenMint          = newProgramError(2014, "ConstraintTokenMint", "A token mint constraint was violated", KindValidation)
	ErrConstraintTokenOwner         = newProgramError(2015, "ConstraintTokenOwner", "A token owner constraint was violated", KindValidation)
	ErrAccountNotEnoughKeys         = newProgramError(3005, "AccountNotEnoughKeys", "Not enough account keys given to the instruction", KindValidation)
	ErrInvalidProgramID             = newProgramError(3008, "InvalidProgramId", "Program ID was not as expected", KindValidation)
	ErrAccountNotInitialized        = newProgramError(3012, "AccountNotInitialized", "The program expected this account to be already initialized", KindState)
)

// Errors raised by the token and system programs while the staking program
// moves funds. Codes are those of the SPL token and system programs.
var (
	ErrAccountAlreadyInUse      = newProgramError(0, "AccountAlreadyInUse", "An account with the same address already exists", KindState)
	ErrTokenInsufficientFunds   = newProgramError(1, "InsufficientFunds", "Insufficient funds", KindInsufficientFunds)
	ErrTokenMintMismatch        = newProgramError(3, "MintMismatch", "Account not associated with this Mint", KindValidation)
	ErrTokenOwnerMismatch       = newProgramError(4, "OwnerMismatch", "Owner does not match", KindValidation)
	ErrMissingRequiredSignature = newProgramError(8, "MissingRequiredSignature", "Missing required signature for instruction", KindValidation)
	ErrTokenUninitialized       = newProgramError(9, "UninitializedState", "State is uninitialized", KindState)
	ErrTokenOverflow            = newProgramError(14, "Overflow", "Operation overflowed", KindInternal)
)

// ErrorByCode looks up a program error by its numeric code.
func ErrorByCode(code uint32) (*ProgramError, bool) {
	err, ok := programErrors[code]
	return err, ok
}

// KindOf returns the classification of err, KindInternal when unknown.
func KindOf(err error) ErrorKind {
	var progErr *ProgramError
	if errors.As(err, &progErr) {
		return progErr.Kind
	}
	return KindInternal
}

var customErrorPattern = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)

// DecodeError maps the "custom program error: 0x..." text returned by an RPC
// node back to a ProgramError. The wrapped error stays in the chain.
func DecodeError(err error) error {
	if err == nil {
		return nil
	}
	match := customErrorPattern.FindStringSubmatch(err.Error())
	if match == nil {
		return err
	}
	code, parseErr := strconv.ParseUint(match[1], 16, 32)
	if parseErr != nil {
		return err
	}
	progErr, ok := ErrorByCode(uint32(code))
	if !ok {
		return err
	}
	return fmt.Errorf("%w: %v", progErr, err)
}
