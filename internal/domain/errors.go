package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrPriceUnavailable  = errors.New("no price source available")
	ErrNoLiquidity       = errors.New("no liquidity for pair")
	ErrPoolNotFound      = errors.New("liquidity pool not found")
	ErrApprovalFailed    = errors.New("token approval failed")
	ErrConfirmTimeout    = errors.New("confirmation timed out")
	ErrReverted          = errors.New("transaction reverted")
	ErrInsufficientFunds = errors.New("insufficient balance")
	ErrPrecisionLoss     = errors.New("precision loss in decimal conversion")
	ErrLockHeld          = errors.New("lock already held")
)
