package wallet

import "errors"

var (
	ErrWalletExists      = errors.New("wallet: keystore already initialised")
	ErrWalletNotFound    = errors.New("wallet: keystore not found")
	ErrEmptyPassword     = errors.New("wallet: password must not be empty")
	ErrDecryptionFailed  = errors.New("wallet: decryption failed (wrong password?)")
	ErrIdentityNotFound  = errors.New("wallet: identity not found")
	ErrInvalidAmount     = errors.New("wallet: amount must be positive")
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
)
