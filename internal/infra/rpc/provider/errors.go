package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// APIError is a platform error, either request-level (HTTP status != 2xx) or
// embedded in a per-operation result body.
type APIError struct {
	StatusCode  int
	Code        int
	Subcode     int
	Type        string
	Message     string
	IsTransient bool
	RetryAfter  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Subcode != 0 {
		return fmt.Sprintf("http %d: api error %d/%d: %s", e.StatusCode, e.Code, e.Subcode, msg)
	}
	return fmt.Sprintf("http %d: api error %d: %s", e.StatusCode, e.Code, msg)
}

// AsAPIError unwraps err into an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether the platform said the object does not exist.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	if !ok {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.Code == 803 ||
		(apiErr.Code == 100 && apiErr.Subcode == 33)
}

// ParseErrorBody decodes an error envelope of the form
// {"error":{"message":..,"type":..,"code":..,"error_subcode":..,"is_transient":..}}.
// It returns nil when body carries no error object.
func ParseErrorBody(statusCode int, body string) *APIError {
	if !gjson.Valid(body) {
		return nil
	}
	e := gjson.Get(body, "error")
	if !e.Exists() || e.Type == gjson.Null {
		return nil
	}
	if e.Type == gjson.String {
		return &APIError{StatusCode: statusCode, Message: e.String()}
	}
	return &APIError{
		StatusCode:  statusCode,
		Code:        int(e.Get("code").Int()),
		Subcode:     int(e.Get("error_subcode").Int()),
		Type:        e.Get("type").String(),
		Message:     e.Get("message").String(),
		IsTransient: e.Get("is_transient").Bool(),
	}
}
