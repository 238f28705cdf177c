package portfolio

import "errors"

// Ledger errors. They are returned wrapped with context; match with
// errors.Is.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrPositionLimit     = errors.New("position size limit exceeded")
	ErrPositionNotFound  = errors.New("position not found")
	ErrNoOpenTradeFound  = errors.New("no open trade found")
	ErrInvalidOrder      = errors.New("invalid order")
)
