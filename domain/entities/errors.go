package entities

import (
	"errors"
	"fmt"
)

// ValidationKind is the rule a wager failed
type ValidationKind string

const (
	ValidationNotConnected         ValidationKind = "not_connected"
	ValidationInvalidAmount        ValidationKind = "invalid_amount"
	ValidationInsufficientBalance  ValidationKind = "insufficient_balance"
	ValidationInsufficientTreasury ValidationKind = "insufficient_treasury"
)

// ValidationError is a user-correctable wager error. It never reaches the ledger.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// TransportError is a failed advisory ledger read
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("ledger read %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TransactionError is a rejected, reverted or unconfirmed ledger write.
// It ends the current wager.
type TransactionError struct {
	Stage TxStage
	Hash  string
	Err   error
}

func (e *TransactionError) Error() string {
	if e.Hash != "" {
		return fmt.Sprintf("%s transaction %s failed: %v", e.Stage, e.Hash, e.Err)
	}
	return fmt.Sprintf("%s transaction failed: %v", e.Stage, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

var (
	// ErrCorrelationMiss marks data for a request that is not the active one
	ErrCorrelationMiss = errors.New("correlation miss")

	// ErrWagerInFlight is returned when an action needs the session to be idle
	ErrWagerInFlight = errors.New("a wager is already in progress")

	// ErrTransactionReverted is the cause recorded when a receipt reports failure
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrSessionClosed is returned for actions on a closed session
	ErrSessionClosed = errors.New("wager session closed")
)
