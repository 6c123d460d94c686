package strategystore

import "errors"

var (
	errStoreNil        = errors.New("strategystore: store is nil")
	errEmptyIDs        = errors.New("strategystore: at least one strategy id is required")
	errBadOutcomeInput = errors.New("strategystore: session id and attempt id are required")

	// ErrNoWinner is returned by RecordOutcome when the named attempt is
	// not part of the session; nothing is mutated in that case.
	ErrNoWinner = errors.New("strategystore: winning attempt not found in session")

	// ErrUnknownStrategy is returned by ByIDs for ids with no row.
	ErrUnknownStrategy = errors.New("strategystore: unknown strategy id")
)
