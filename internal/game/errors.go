package game

import "errors"

var (
	ErrAlreadyRunning          = errors.New("game already running")
	ErrInsufficientPlayers     = errors.New("not enough players")
	ErrUnverifiedProfile       = errors.New("profile is not verified")
	ErrInvalidWebhookTarget    = errors.New("invalid webhook target")
	ErrLedgerCallFailed        = errors.New("ledger call failed")
	ErrVerificationUnavailable = errors.New("profile verification unavailable")
	ErrInvalidRegistration     = errors.New("invalid registration")
	ErrInvalidWallet           = errors.New("invalid wallet address")

	// ErrDeadlinePending is returned when the ledger clock never passed the
	// reveal deadline within the configured number of polls.
	ErrDeadlinePending = errors.New("ledger reveal deadline not reached")
	// ErrStopped is returned once the scheduling loop has exited.
	ErrStopped = errors.New("orchestrator stopped")
)
