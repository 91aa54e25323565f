package warden

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the warden domain. Policy rejections carry typed
// wrappers below; errors.Is against these sentinels still matches.
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrBadRequest       = errors.New("bad request")
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionRevoked   = errors.New("session revoked")
	ErrRateLimited      = errors.New("rate limited")
	ErrQuotaExceeded    = errors.New("daily token quota exceeded")
	ErrBudgetExhausted  = errors.New("daily budget exhausted")
	ErrContentBlocked   = errors.New("message blocked by content policy")
	ErrConversationFull = errors.New("conversation length limit reached")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrModelUnavailable = errors.New("model endpoint unavailable")
)

// RateLimitError reports the most restrictive violated limit.
type RateLimitError struct {
	Scope      string // "address" or "subject"
	Window     string // "minute", "hour", "day"
	Limit      int64
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s/%s limit %d, retry after %s",
		e.Scope, e.Window, e.Limit, e.RetryAfter.Round(time.Second))
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// QuotaError reports a daily token quota rejection.
type QuotaError struct {
	Used  int64
	Limit int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("daily token quota exceeded: used %d of %d", e.Used, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// GateError reports a content-gate block with its signature category.
type GateError struct {
	Reason string // e.g. "instruction_override"
}

func (e *GateError) Error() string {
	return "message blocked by content policy: " + e.Reason
}

func (e *GateError) Unwrap() error { return ErrContentBlocked }

// CeilingError reports a conversation at or over its token ceiling.
type CeilingError struct {
	ConversationID string
	TotalTokens    int64
	Ceiling        int64
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("conversation %s at %d of %d tokens, remediation required",
		e.ConversationID, e.TotalTokens, e.Ceiling)
}

func (e *CeilingError) Unwrap() error { return ErrConversationFull }
