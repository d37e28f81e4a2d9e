package goAuthClient

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/goAuthClient/internal/flows"
	"github.com/MrEthical07/goAuthClient/transport"
)

const (
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventLoginReused      = "login_reused"
	auditEventLinkSuccess      = "link_success"
	auditEventLinkFailure      = "link_failure"
	auditEventLogout           = "logout"
	auditEventUserRemoved      = "user_removed"
	auditEventUserSwitched     = "user_switched"
	auditEventRefreshSuccess   = "refresh_success"
	auditEventRefreshFailure   = "refresh_failure"
	auditEventRequestFatalAuth = "request_fatal_auth"
)

// AuditErrorCode is the stable error label carried by failed audit events.
type AuditErrorCode string

const (
	auditErrMustAuthenticate  AuditErrorCode = "must_authenticate_first"
	auditErrUserNotFound      AuditErrorCode = "user_not_found"
	auditErrUserNoLongerValid AuditErrorCode = "user_no_longer_valid"
	auditErrUnexpectedArgs    AuditErrorCode = "unexpected_arguments"
	auditErrPersist           AuditErrorCode = "persist_failed"
	auditErrFatalAuth         AuditErrorCode = "fatal_auth"
	auditErrIncompleteLogin   AuditErrorCode = "incomplete_login"
	auditErrLinkMismatch      AuditErrorCode = "link_mismatch"
	auditErrMissingRefresh    AuditErrorCode = "missing_refresh_token"
	auditErrTimeout           AuditErrorCode = "timeout"
	auditErrInternal          AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	provider string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		EventType: eventType,
		RequestID: RequestIDFromContext(ctx),
		AppID:     e.config.App.ID,
		UserID:    userID,
		Provider:  provider,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	var svc *transport.ServiceError
	switch {
	case errors.Is(err, ErrFatalAuth):
		return auditErrFatalAuth
	case errors.As(err, &svc):
		return AuditErrorCode("service_" + strings.ToLower(string(svc.Code)))
	case errors.Is(err, ErrMustAuthenticateFirst):
		return auditErrMustAuthenticate
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrUserNoLongerValid):
		return auditErrUserNoLongerValid
	case errors.Is(err, ErrUnexpectedArguments):
		return auditErrUnexpectedArgs
	case errors.Is(err, ErrCouldNotPersistAuthInfo):
		return auditErrPersist
	case errors.Is(err, flows.ErrIncompleteLogin):
		return auditErrIncompleteLogin
	case errors.Is(err, flows.ErrLinkMismatch):
		return auditErrLinkMismatch
	case errors.Is(err, flows.ErrMissingRefreshToken):
		return auditErrMissingRefresh
	case errors.Is(err, context.DeadlineExceeded):
		return auditErrTimeout
	default:
		return auditErrInternal
	}
}
