package authsession

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	auditEventSignatureInvalid     = "access_signature_invalid"
	auditEventRefreshMissing       = "refresh_missing"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshRateLimited   = "refresh_rate_limited"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventLoginSuccess         = "login_success"
	auditEventLoginFailure         = "login_failure"
	auditEventLogout               = "logout"
)

// AuditErrorCode is the stable error label written to audit events. It keeps
// each failure kind distinct even though callers see a single outcome.
type AuditErrorCode string

const (
	auditErrExpired          AuditErrorCode = "expired"
	auditErrSignatureInvalid AuditErrorCode = "signature_invalid"
	auditErrRefreshNotFound  AuditErrorCode = "refresh_not_found"
	auditErrRefreshMismatch  AuditErrorCode = "refresh_mismatch"
	auditErrUserNotFound     AuditErrorCode = "user_not_found"
	auditErrRateLimited      AuditErrorCode = "rate_limited"
	auditErrUnavailable      AuditErrorCode = "backend_unavailable"
	auditErrIssueFailed      AuditErrorCode = "issue_failed"
	auditErrInternal         AuditErrorCode = "internal_error"
)

func (a *Authenticator) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID int64,
	err error,
	metadataBuilder func() map[string]string,
) {
	if a == nil || a.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: a.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	a.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch KindOf(err) {
	case KindExpired:
		return auditErrExpired
	case KindSignatureInvalid:
		return auditErrSignatureInvalid
	case KindRefreshNotFound:
		return auditErrRefreshNotFound
	case KindRefreshMismatch:
		return auditErrRefreshMismatch
	case KindUserNotFound:
		return auditErrUserNotFound
	}

	switch {
	case errors.Is(err, ErrRefreshRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrUnavailable
	case errors.Is(err, ErrTokenIssue):
		return auditErrIssueFailed
	default:
		return auditErrInternal
	}
}

func reasonMetadata(reason string) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"reason": reason}
	}
}

func latencySince(start time.Time, now time.Time) time.Duration {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}
