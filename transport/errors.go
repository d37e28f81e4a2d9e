package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode is the machine-readable code the platform attaches to failures.
type ErrorCode string

const (
	CodeInvalidSession       ErrorCode = "InvalidSession"
	CodeMissingAuthReq       ErrorCode = "MissingAuthReq"
	CodeInvalidParameter     ErrorCode = "InvalidParameter"
	CodeAuthProviderNotFound ErrorCode = "AuthProviderNotFound"
	CodeUserpassAuthFailure  ErrorCode = "UserpassAuthFailure"
	CodeUserNotFound         ErrorCode = "UserNotFound"
	CodeUnknown              ErrorCode = "Unknown"
)

// ServiceError is a failure reported by the platform.
type ServiceError struct {
	Status  int
	Code    ErrorCode
	Message string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service error %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("service error %d (%s): %s", e.Status, e.Code, e.Message)
}

type errorBody struct {
	Error     string `json:"error"`
	ErrorCode string `json:"error_code"`
}

// ErrorFromResponse builds a ServiceError from a non-2xx status and a
// {"error","error_code"} JSON body. Unparseable bodies yield CodeUnknown with the
// status text as message.
func ErrorFromResponse(status int, body []byte) *ServiceError {
	out := &ServiceError{Status: status, Code: CodeUnknown}
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		if eb.ErrorCode != "" {
			out.Code = ErrorCode(eb.ErrorCode)
		}
		out.Message = eb.Error
	}
	if out.Message == "" {
		out.Message = http.StatusText(status)
	}
	return out
}

// IsAuthorizationFailure reports whether err means the access token was rejected:
// a 401 or an InvalidSession code.
func IsAuthorizationFailure(err error) bool {
	var se *ServiceError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusUnauthorized || se.Code == CodeInvalidSession
}

// CodeOf returns the code of the ServiceError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
