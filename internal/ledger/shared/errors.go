package shared

import "errors"

var (
	// ErrUnbalanced indicates debit != credit beyond tolerance.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrNoLines indicates an entry without lines.
	ErrNoLines = errors.New("ledger: journal requires at least one line")
	// ErrAlreadyPosted indicates a second posting attempt.
	ErrAlreadyPosted = errors.New("ledger: entry already posted")
	// ErrEntryNotFound indicates missing entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrPostedImmutable indicates mutation of a posted entry.
	ErrPostedImmutable = errors.New("ledger: posted entry is immutable")
	// ErrInactiveAccount indicates a line against an inactive or unknown account.
	ErrInactiveAccount = errors.New("ledger: account inactive or unknown")
	// ErrTrialImbalance indicates the trial balance postcondition failed.
	ErrTrialImbalance = errors.New("ledger: trial balance out of balance")
)
