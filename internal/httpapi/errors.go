package httpapi

import (
	echo "github.com/labstack/echo/v5"

	"github.com/tm2bridge/tm2bridge/internal/apperr"
)

// errorBody is the shape of every error response written by
// writeAppError: a request id, a machine-readable label, and a human
// message. FHIR not-found responses carry an OperationOutcome instead.
type errorBody struct {
	RequestID  string  `json:"request_id"`
	Error      string  `json:"error"`
	Message    string  `json:"message"`
	RetryAfter *int64  `json:"retry_after,omitempty"`
}

// writeAppError maps an apperr.Error to its HTTP status and body.
func writeAppError(c *echo.Context, err error) error {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	body := errorBody{
		RequestID: requestIDFromContext(c),
		Error:     apperr.Label(kind),
		Message:   err.Error(),
	}
	if kind == apperr.KindRateLimited {
		retryAfter := int64(0)
		if v := c.Response().Header().Get("Retry-After"); v != "" {
			retryAfter = parseRetryAfter(v)
		}
		body.RetryAfter = &retryAfter
	}
	return c.JSON(status, body)
}

func parseRetryAfter(v string) int64 {
	var n int64
	for _, r := range v {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int64(r-'0')
	}
	return n
}
