package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// Error is a failed REST or Auth response.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("supabase %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("supabase %d: %s", e.Status, msg)
}

// IsNotFound reports whether err means the requested row does not exist.
// PostgREST answers single-object reads with 406 and code PGRST116 when no
// row matched.
func IsNotFound(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status == http.StatusNotFound || e.Status == http.StatusNotAcceptable || e.Code == "PGRST116"
}

// IsConflict reports a unique constraint violation.
func IsConflict(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status == http.StatusConflict || e.Code == "23505"
}

// IsUnauthorized reports rejected credentials or tokens.
func IsUnauthorized(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden ||
		(e.Status == http.StatusBadRequest && e.Code == "invalid_grant")
}

// parseError decodes PostgREST ({code,message,details,hint}) and GoTrue
// ({error,error_description} or {code,msg}) error bodies.
func parseError(resp *Response) error {
	e := &Error{Status: resp.StatusCode}
	var body struct {
		Code             json.RawMessage `json:"code"`
		Message          string          `json:"message"`
		Msg              string          `json:"msg"`
		Details          string          `json:"details"`
		Hint             string          `json:"hint"`
		ErrorCode        string          `json:"error"`
		ErrorDescription string          `json:"error_description"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		// GoTrue sometimes sends a numeric code.
		var code string
		if json.Unmarshal(body.Code, &code) == nil {
			e.Code = code
		}
		e.Message = firstNonEmpty(body.Message, body.Msg, body.ErrorDescription, body.ErrorCode)
		if e.Code == "" {
			e.Code = body.ErrorCode
		}
		e.Details = body.Details
		e.Hint = body.Hint
	} else if len(resp.Body) > 0 && len(resp.Body) < 512 {
		e.Message = string(resp.Body)
	}
	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
