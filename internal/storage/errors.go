package storage

import "errors"

// Common storage errors
var (
	ErrNotFound          = errors.New("not found")
	ErrExists            = errors.New("already exists")
	ErrTransferRejected  = errors.New("recipient rejected transfer")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotPending        = errors.New("request is not pending")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrConflict          = errors.New("round was changed by another writer")
)
