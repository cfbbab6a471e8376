package ringcentral

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// APIError is the normalized form of a RingCentral error response.
// Formatting matches what operators see across the bridge's logs:
//
//	HTTP 429 ErrorCode=CMN-301 RequestId=abc AccountId=default
//	Message="Request rate exceeded" [CMN-301: ...]
type APIError struct {
	HTTPStatus int
	ErrorCode  string
	RequestID  string
	AccountID  string
	Message    string
	SubErrors  []SubError
	RetryAfter int // seconds, from Retry-After when present
}

// SubError is one entry of the nested "errors" array.
type SubError struct {
	ErrorCode string `json:"errorCode,omitempty"`
	Message   string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d", e.HTTPStatus)
	if e.ErrorCode != "" {
		fmt.Fprintf(&b, " ErrorCode=%s", e.ErrorCode)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " RequestId=%s", e.RequestID)
	}
	if e.AccountID != "" {
		fmt.Fprintf(&b, " AccountId=%s", e.AccountID)
	}
	fmt.Fprintf(&b, " Message=%q", e.Message)
	if len(e.SubErrors) > 0 {
		parts := make([]string, 0, len(e.SubErrors))
		for _, s := range e.SubErrors {
			if s.ErrorCode != "" {
				parts = append(parts, s.ErrorCode+": "+s.Message)
			} else {
				parts = append(parts, s.Message)
			}
		}
		fmt.Fprintf(&b, " [%s]", strings.Join(parts, "; "))
	}
	return b.String()
}

// IsAuthError reports whether err is fatal for the subscription loop
// (401 or an invalid_grant token rejection).
func IsAuthError(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		if ae.HTTPStatus == 401 {
			return true
		}
		if strings.Contains(strings.ToLower(ae.Message), "invalid_grant") ||
			strings.EqualFold(ae.ErrorCode, "invalid_grant") {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err is a 429 / rate-exceeded response.
func IsRateLimited(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		if ae.HTTPStatus == 429 {
			return true
		}
		if strings.Contains(strings.ToLower(ae.Message), "request rate exceeded") {
			return true
		}
	}
	return false
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.HTTPStatus == 404
}

// RetryAfterSeconds extracts the Retry-After hint, 0 if absent.
func RetryAfterSeconds(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return 0
}

// rcErrorBody covers both the OAuth error shape and the platform
// application error shape.
type rcErrorBody struct {
	ErrorCode        string     `json:"errorCode"`
	Message          string     `json:"message"`
	Error            string     `json:"error"`
	ErrorDescription string     `json:"error_description"`
	Errors           []SubError `json:"errors"`
}

// parseAPIError normalizes an error response body. The body may be a
// JSON object or a stringified JSON message.
func parseAPIError(status int, requestID, accountID string, body []byte, retryAfter int) *APIError {
	ae := &APIError{
		HTTPStatus: status,
		RequestID:  requestID,
		AccountID:  accountID,
		RetryAfter: retryAfter,
	}

	var eb rcErrorBody
	raw := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &eb); err != nil {
		// Some gateways wrap the JSON object in a string.
		var inner string
		if json.Unmarshal(body, &inner) == nil {
			_ = json.Unmarshal([]byte(inner), &eb)
		}
	}

	ae.ErrorCode = eb.ErrorCode
	if ae.ErrorCode == "" {
		ae.ErrorCode = eb.Error
	}
	ae.Message = eb.Message
	if ae.Message == "" {
		ae.Message = eb.ErrorDescription
	}
	if ae.Message == "" {
		ae.Message = raw
	}
	ae.SubErrors = eb.Errors
	return ae
}
