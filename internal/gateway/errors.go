package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotConfigured   = errors.New("gateway_not_configured")
	ErrTransport       = errors.New("gateway_transport_error")
	ErrInvalidResponse = errors.New("gateway_invalid_response")
)

// APIError is a non-2xx answer from the PG API. Body is passed through to API callers.
type APIError struct {
	StatusCode int
	Body       json.RawMessage
	Message    string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("gateway: status %d: %s", e.StatusCode, msg)
}

// Details returns the upstream payload when it is JSON, else the message.
func (e *APIError) Details() any {
	if len(e.Body) > 0 && json.Valid(e.Body) {
		return e.Body
	}
	return e.Error()
}

type apiErrorBody struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status}
	if json.Valid(body) {
		apiErr.Body = json.RawMessage(body)
		var parsed apiErrorBody
		if err := json.Unmarshal(body, &parsed); err == nil {
			apiErr.Message = parsed.Message
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// ErrorDetails extracts what should be shown to a caller for a failed gateway call.
func ErrorDetails(err error) any {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Details()
	}
	if err == nil {
		return nil
	}
	return err.Error()
}
