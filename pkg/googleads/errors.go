package googleads

import (
	"net/http"
	"strings"

	"github.com/ajitpratap0/adsync/pkg/errors"
	jsonpkg "github.com/ajitpratap0/adsync/pkg/json"
)

// apiErrorBody is the error envelope returned by Google APIs
type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// statusError converts a non-200 reply into a typed error
func statusError(code int, body []byte) *errors.Error {
	var envelope apiErrorBody
	message := strings.TrimSpace(string(body))
	if err := jsonpkg.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	}
	if message == "" {
		message = http.StatusText(code)
	}

	err := errors.New(errorTypeForStatus(code), message).
		WithDetail("status_code", code)
	if envelope.Error.Status != "" {
		err = err.WithDetail("api_status", envelope.Error.Status)
	}
	return err
}

func errorTypeForStatus(code int) errors.ErrorType {
	switch {
	case code == http.StatusUnauthorized:
		return errors.ErrorTypeAuthentication
	case code == http.StatusForbidden:
		return errors.ErrorTypePermission
	case code == http.StatusNotFound:
		return errors.ErrorTypeNotFound
	case code == http.StatusTooManyRequests:
		return errors.ErrorTypeRateLimit
	case code >= 500:
		return errors.ErrorTypeConnection
	default:
		return errors.ErrorTypeQuery
	}
}
