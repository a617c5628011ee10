package errors

// Error codes for categorizing errors.
// Every validation failure in the settlement core surfaces one of these codes
// so callers can react to a specific, structured reason.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeAuthorization indicates the caller lacks the required identity or role.
	CodeAuthorization = "AUTHORIZATION_ERROR"

	// CodeInvalidState indicates the operation is invalid for the entity's
	// current status.
	CodeInvalidState = "INVALID_STATE"

	// CodeReplay indicates a nonce mismatch or reuse.
	CodeReplay = "REPLAY_ERROR"

	// CodeInsufficientFunds indicates a balance, quota, or pool is too low.
	CodeInsufficientFunds = "INSUFFICIENT_FUNDS"

	// CodeConfig indicates a configuration error: asset not whitelisted,
	// rate unset, zero address.
	CodeConfig = "CONFIG_ERROR"

	// CodeTransferFailure indicates an external payout failed.
	CodeTransferFailure = "TRANSFER_FAILURE"

	// CodeValidation indicates input validation failed.
	CodeValidation = "VALIDATION_ERROR"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound = "NOT_FOUND"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"

	// CodeStorageError indicates an audit storage operation failed.
	CodeStorageError = "STORAGE_ERROR"
)

// ErrorCategory represents a high-level error category.
type ErrorCategory string

const (
	// CategoryClient indicates the caller submitted a request the engine
	// rejects as-is; resubmitting the same request will fail again.
	CategoryClient ErrorCategory = "CLIENT_ERROR"

	// CategoryAuth indicates an authorization failure.
	CategoryAuth ErrorCategory = "AUTH_ERROR"

	// CategoryFunds indicates a balance, quota, or pool shortfall.
	CategoryFunds ErrorCategory = "FUNDS_ERROR"

	// CategoryServer indicates an engine-side failure.
	CategoryServer ErrorCategory = "SERVER_ERROR"
)

// GetCategory returns the category for an error code.
func GetCategory(code string) ErrorCategory {
	switch code {
	case CodeValidation, CodeInvalidState, CodeReplay, CodeNotFound:
		return CategoryClient
	case CodeAuthorization:
		return CategoryAuth
	case CodeInsufficientFunds:
		return CategoryFunds
	default:
		return CategoryServer
	}
}

// IsClientError returns true if the error code is attributable to the caller.
func IsClientError(code string) bool {
	cat := GetCategory(code)
	return cat == CategoryClient || cat == CategoryAuth || cat == CategoryFunds
}

// IsServerError returns true if the error code indicates an engine-side failure.
func IsServerError(code string) bool {
	return GetCategory(code) == CategoryServer
}
