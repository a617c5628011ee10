package errors

import "errors"

// IsAuthorization checks if an error indicates a missing identity or role.
func IsAuthorization(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthorizationError
	return errors.As(err, &authErr) || errors.Is(err, ErrUnauthorized)
}

// IsInvalidState checks if an error indicates an invalid entity status.
func IsInvalidState(err error) bool {
	if err == nil {
		return false
	}

	var stateErr *InvalidStateError
	return errors.As(err, &stateErr)
}

// IsReplay checks if an error indicates a nonce mismatch or reuse.
func IsReplay(err error) bool {
	if err == nil {
		return false
	}

	var replayErr *ReplayError
	return errors.As(err, &replayErr)
}

// IsInsufficientFunds checks if an error indicates a balance, quota, or pool
// shortfall.
func IsInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}

	var fundsErr *InsufficientFundsError
	return errors.As(err, &fundsErr) || errors.Is(err, ErrInsufficientFunds)
}

// IsConfiguration checks if an error indicates a misconfigured parameter.
func IsConfiguration(err error) bool {
	if err == nil {
		return false
	}

	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// IsTransferFailure checks if an error indicates a failed outbound payout.
func IsTransferFailure(err error) bool {
	if err == nil {
		return false
	}

	var transferErr *TransferFailureError
	return errors.As(err, &transferErr)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr) || errors.Is(err, ErrNotFound)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Code()
	}

	// Try to infer from sentinel errors
	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsAuthorization(err):
		return CodeAuthorization
	case IsInsufficientFunds(err):
		return CodeInsufficientFunds
	default:
		return CodeInternal
	}
}

// GetErrorMessage extracts a human-readable message from an error.
func GetErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Message()
	}

	return err.Error()
}

// Cause returns the underlying cause of an error.
// It unwraps the error chain until it finds the root cause.
func Cause(err error) error {
	for {
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		underlying := unwrapper.Unwrap()
		if underlying == nil {
			return err
		}
		err = underlying
	}
}
