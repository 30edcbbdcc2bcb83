package orchestrator

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrTransient         = errors.New("transient connection error")
	ErrFatal             = errors.New("fatal account error")
	ErrCredentialRefresh = errors.New("credential refresh failed")
	ErrConflict          = errors.New("conflict")
	ErrNotFound          = errors.New("account not found")
	ErrNotRunning        = errors.New("account not running")
	ErrShuttingDown      = errors.New("orchestrator shutting down")
)

// ConfigurationError is a bad request from the caller. Never retried.
type ConfigurationError struct {
	AccountID string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	if e.AccountID == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error for account %s: %s", e.AccountID, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// TransientConnectionError is a disconnect, timeout or send failure. The
// task retries it with backoff.
type TransientConnectionError struct {
	AccountID string
	Op        string
	Err       error
}

func (e *TransientConnectionError) Error() string {
	return fmt.Sprintf("account %s: %s: %v", e.AccountID, e.Op, e.Err)
}

func (e *TransientConnectionError) Unwrap() error { return e.Err }

func (e *TransientConnectionError) Is(target error) bool { return target == ErrTransient }

// FatalAccountError stops the account's task until an operator intervenes.
type FatalAccountError struct {
	AccountID string
	Failures  int
	Err       error
}

func (e *FatalAccountError) Error() string {
	if e.Failures > 0 {
		return fmt.Sprintf("account %s stopped after %d consecutive failures: %v", e.AccountID, e.Failures, e.Err)
	}
	return fmt.Sprintf("account %s stopped: %v", e.AccountID, e.Err)
}

func (e *FatalAccountError) Unwrap() error { return e.Err }

func (e *FatalAccountError) Is(target error) bool { return target == ErrFatal }

// CredentialRefreshError means a login-derived credential could not be
// exchanged for a long-lived one. Callers fall back to the raw credential.
type CredentialRefreshError struct {
	AccountID string
	Err       error
}

func (e *CredentialRefreshError) Error() string {
	return fmt.Sprintf("refreshing credential for account %s: %v", e.AccountID, e.Err)
}

func (e *CredentialRefreshError) Unwrap() error { return e.Err }

func (e *CredentialRefreshError) Is(target error) bool { return target == ErrCredentialRefresh }

// ConflictError is a uniqueness violation: an account id held by another
// owner, or a duplicate keyword rule.
type ConflictError struct {
	AccountID string
	Reason    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on account %s: %s", e.AccountID, e.Reason)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
