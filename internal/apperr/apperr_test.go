package apperr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindNotFound, KindOf(ErrNotFound))
	assert.Equal(t, KindValidation, KindOf(NewValidationError("code", "required")))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain error")))
	assert.Equal(t, KindDeadline, KindOf(Wrap(KindDeadline, "timed out", nil)))
}

func TestHTTPStatus(t *testing.T) {
	tests := map[Kind]int{
		KindValidation:         http.StatusBadRequest,
		KindNotFound:           http.StatusNotFound,
		KindConflict:           http.StatusConflict,
		KindRateLimited:        http.StatusTooManyRequests,
		KindDeadline:           http.StatusGatewayTimeout,
		KindUpstreamUnavailable: http.StatusBadGateway,
		KindDBUnavailable:      http.StatusServiceUnavailable,
		KindInternal:           http.StatusInternalServerError,
	}
	for kind, status := range tests {
		assert.Equal(t, status, HTTPStatus(kind), "kind %s", kind)
	}
}

func TestError_UnwrapReturnsWrappedError(t *testing.T) {
	inner := errors.New("network reset")
	wrapped := Wrap(KindUpstreamUnavailable, "embed failure", inner)

	var appErr *Error
	ok := errors.As(wrapped, &appErr)
	assert.True(t, ok)
	assert.ErrorIs(t, wrapped, inner)
}

func TestIsValidationError(t *testing.T) {
	assert.True(t, IsValidationError(NewValidationError("system", "must be one of ayurveda, siddha, unani")))
	assert.False(t, IsValidationError(ErrNotFound))
}
