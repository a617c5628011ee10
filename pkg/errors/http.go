package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	TraceID string            `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status code for an error.
// It maps error codes to appropriate HTTP status codes.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	// Check if it's our custom error type
	var customErr Error
	if errors.As(err, &customErr) {
		return codeToHTTPStatus(customErr.Code())
	}

	// Check sentinel errors
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	}

	// Default to internal server error
	return http.StatusInternalServerError
}

// codeToHTTPStatus maps error codes to HTTP status codes.
func codeToHTTPStatus(code string) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeInvalidState, CodeReplay:
		return http.StatusConflict
	case CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case CodeNotFound:
		return http.StatusNotFound
	case CodeTransferFailure:
		return http.StatusBadGateway
	case CodeConfig, CodeInternal, CodeStorageError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTPError converts an error to an HTTPError.
func ToHTTPError(err error, traceID string) *HTTPError {
	if err == nil {
		return &HTTPError{
			Status:  http.StatusOK,
			Code:    CodeOK,
			Message: "success",
			TraceID: traceID,
		}
	}

	httpErr := &HTTPError{
		Status:  StatusCode(err),
		TraceID: traceID,
		Details: make(map[string]string),
	}

	// Extract details from custom error types
	var customErr Error
	if errors.As(err, &customErr) {
		httpErr.Code = customErr.Code()
		httpErr.Message = customErr.Message()
	} else {
		httpErr.Code = CodeInternal
		httpErr.Message = err.Error()
	}

	// Add type-specific details
	var (
		authErr     *AuthorizationError
		stateErr    *InvalidStateError
		replayErr   *ReplayError
		fundsErr    *InsufficientFundsError
		cfgErr      *ConfigurationError
		transferErr *TransferFailureError
		validErr    *ValidationError
		notFoundErr *NotFoundError
	)

	switch {
	case errors.As(err, &authErr):
		if authErr.Operation != "" {
			httpErr.Details["operation"] = authErr.Operation
		}
		if authErr.Required != "" {
			httpErr.Details["required"] = authErr.Required
		}
	case errors.As(err, &stateErr):
		if stateErr.Entity != "" {
			httpErr.Details["entity"] = stateErr.Entity
		}
		if stateErr.Current != "" {
			httpErr.Details["current"] = stateErr.Current
		}
		if stateErr.Wanted != "" {
			httpErr.Details["wanted"] = stateErr.Wanted
		}
	case errors.As(err, &replayErr):
		httpErr.Details["expected_nonce"] = uitoa(replayErr.Expected)
		httpErr.Details["got_nonce"] = uitoa(replayErr.Got)
	case errors.As(err, &fundsErr):
		if fundsErr.Resource != "" {
			httpErr.Details["resource"] = fundsErr.Resource
		}
		if fundsErr.Need != "" {
			httpErr.Details["need"] = fundsErr.Need
		}
		if fundsErr.Have != "" {
			httpErr.Details["have"] = fundsErr.Have
		}
	case errors.As(err, &cfgErr):
		if cfgErr.Parameter != "" {
			httpErr.Details["parameter"] = cfgErr.Parameter
		}
	case errors.As(err, &transferErr):
		if transferErr.Asset != "" {
			httpErr.Details["asset"] = transferErr.Asset
		}
		if transferErr.Recipient != "" {
			httpErr.Details["recipient"] = transferErr.Recipient
		}
	case errors.As(err, &validErr):
		if validErr.Field != "" {
			httpErr.Details["field"] = validErr.Field
		}
	case errors.As(err, &notFoundErr):
		if notFoundErr.Resource != "" {
			httpErr.Details["resource"] = notFoundErr.Resource
		}
		if notFoundErr.ID != "" {
			httpErr.Details["id"] = notFoundErr.ID
		}
	}

	return httpErr
}

// WriteHTTPError writes an error response to an http.ResponseWriter.
func WriteHTTPError(w http.ResponseWriter, err error, traceID string) {
	httpErr := ToHTTPError(err, traceID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.Status)
	_ = json.NewEncoder(w).Encode(httpErr)
}

func uitoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
