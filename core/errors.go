package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	DispatchErrorBadInput         = "DISPATCH_BAD_INPUT"
	DispatchErrorSigningFailed    = "DISPATCH_SIGNING_FAILED"
	DispatchErrorAttemptNotFound  = "DISPATCH_ATTEMPT_NOT_FOUND"
	DispatchErrorEventNotFound    = "DISPATCH_EVENT_NOT_FOUND"
	DispatchErrorDeliveryConflict = "DISPATCH_DELIVERY_CONFLICT"
	DispatchErrorRateLimited      = "DISPATCH_RATE_LIMITED"
	DispatchErrorStoreUnavailable = "DISPATCH_STORE_UNAVAILABLE"
	DispatchErrorInternal         = "DISPATCH_INTERNAL_ERROR"
)

func dispatchErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureDispatchErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "not found"):
		return newDispatchError(err.Error(), goerrors.CategoryNotFound, DispatchErrorAttemptNotFound)
	case strings.Contains(msg, "sign"), strings.Contains(msg, "secret"):
		return newDispatchError(err.Error(), goerrors.CategoryBadInput, DispatchErrorSigningFailed)
	case strings.Contains(msg, "already claimed"), strings.Contains(msg, "terminal"):
		return newDispatchError(err.Error(), goerrors.CategoryConflict, DispatchErrorDeliveryConflict)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newDispatchError(err.Error(), goerrors.CategoryRateLimit, DispatchErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newDispatchError(err.Error(), goerrors.CategoryBadInput, DispatchErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureDispatchErrorEnvelope(mapped)
}

func newDispatchError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureDispatchErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureDispatchErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = dispatchHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultDispatchTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultDispatchTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return DispatchErrorBadInput
	case goerrors.CategoryNotFound:
		return DispatchErrorAttemptNotFound
	case goerrors.CategoryConflict:
		return DispatchErrorDeliveryConflict
	case goerrors.CategoryRateLimit:
		return DispatchErrorRateLimited
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return DispatchErrorStoreUnavailable
	default:
		return DispatchErrorInternal
	}
}

func dispatchHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal, goerrors.CategoryOperation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
