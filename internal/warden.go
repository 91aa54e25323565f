// Package warden defines domain types and interfaces for the Warden chat gateway.
// This package has no project imports -- it is the dependency root.
package warden

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"time"
)

// --- Identity ---

// Tier classifies a caller for limit lookup purposes.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierStandard  Tier = "standard"
	TierElevated  Tier = "elevated"
)

// TierLimits holds the effective limits for a tier. Tiers are data, not code:
// adding a tier is a config change and every component looks limits up here.
// A value of 0 means unlimited.
type TierLimits struct {
	RequestsPerMinute int64 `yaml:"requests_per_minute"`
	RequestsPerHour   int64 `yaml:"requests_per_hour"`
	RequestsPerDay    int64 `yaml:"requests_per_day"`
	DailyTokenLimit   int64 `yaml:"daily_token_limit"`
	MaxOutputTokens   int   `yaml:"max_output_tokens"`
}

// Identity is the resolved caller context for a single request.
// It is recomputed per request and never persisted.
type Identity struct {
	Addr    string     // network address, always present
	Subject string     // authenticated subject ID, empty for anonymous
	Tier    Tier       // limit tier
	Limits  TierLimits // resolved limits for the tier
}

// Anonymous reports whether the identity has no durable subject to
// attribute usage to.
func (id *Identity) Anonymous() bool { return id.Subject == "" }

// --- Conversations ---

// ConversationState is the lifecycle state of a conversation thread.
type ConversationState int

const (
	// ConvActive accepts new messages while total tokens stay under the ceiling.
	ConvActive ConversationState = iota
	// ConvLimitReached rejects messages; remediation is the only way forward.
	ConvLimitReached
	// ConvArchived is terminal. Token totals are frozen.
	ConvArchived
)

// String returns the wire/storage name of the state.
func (s ConversationState) String() string {
	switch s {
	case ConvActive:
		return "active"
	case ConvLimitReached:
		return "limit_reached"
	case ConvArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// ParseConversationState converts a stored state name back to the enum.
func ParseConversationState(s string) ConversationState {
	switch s {
	case "limit_reached":
		return ConvLimitReached
	case "archived":
		return ConvArchived
	default:
		return ConvActive
	}
}

// Conversation is a single chat thread and its governance counters.
// TotalTokens only ever increases; once State is ConvArchived it is frozen.
type Conversation struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"owner_id"`
	State          ConversationState `json:"-"`
	TotalTokens    int64             `json:"total_tokens"`
	SummaryContext string            `json:"summary_context,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Turn is one completed user/assistant exchange, append-only.
type Turn struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	UserText         string    `json:"user_text"`
	AssistantText    string    `json:"assistant_text"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	RequestID        string    `json:"request_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// --- Usage accounting ---

// Usage is the token usage report returned by a model call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int64 { return u.InputTokens + u.OutputTokens }

// LedgerEntry is one calendar day of aggregate spend. Rows are created
// lazily on first spend and never deleted; SpendCents only increases
// within a day.
type LedgerEntry struct {
	Day          string `json:"day"` // YYYY-MM-DD, UTC
	SpendCents   int64  `json:"spend_cents"`
	RequestCount int64  `json:"request_count"`
	TokenCount   int64  `json:"token_count"`
	SubjectCount int64  `json:"subject_count"`
	AlertedPct   int    `json:"alerted_pct"` // highest alert threshold fired today
}

// DailyTokenUsage is accumulated consumption for one (subject, day).
type DailyTokenUsage struct {
	Subject      string `json:"subject"`
	Day          string `json:"day"`
	TokensUsed   int64  `json:"tokens_used"`
	RequestCount int64  `json:"request_count"`
}

// RequestLog is a single governed chat request, recorded asynchronously for
// diagnosis and admin reporting. Outcome carries either "ok" or the
// governance component that rejected the request.
type RequestLog struct {
	ID               string    `json:"id"`
	RequestID        string    `json:"request_id"`
	Subject          string    `json:"subject,omitempty"`
	Addr             string    `json:"addr"`
	Tier             Tier      `json:"tier"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostCents        int64     `json:"cost_cents"`
	LatencyMs        int       `json:"latency_ms"`
	Outcome          string    `json:"outcome"`
	CreatedAt        time.Time `json:"created_at"`
}

// DayKey returns the UTC calendar-day key all daily counters share.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// --- Sessions ---

// Session is a durable authenticated session resolved to a subject and tier.
type Session struct {
	ID        string     `json:"id"`
	TokenHash string     `json:"-"` // SHA-256 hex, never exposed
	Subject   string     `json:"subject"`
	Tier      Tier       `json:"tier"`
	Revoked   bool       `json:"revoked"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// SessionTokenPrefix is the prefix for all opaque Warden session tokens.
const SessionTokenPrefix = "wdn_"

// HashToken returns the hex-encoded SHA-256 hash of a raw session token.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// --- Model endpoint ---

// PromptMessage is a single message in a model prompt.
type PromptMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// CompletionRequest is the bounded input to a model call.
type CompletionRequest struct {
	Messages        []PromptMessage `json:"messages"`
	MaxOutputTokens int             `json:"max_output_tokens"`
}

// CompletionResult is the model's reply plus its usage report.
// Usage is the only ground truth ever committed to the ledgers.
type CompletionResult struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// ModelClient is the hosted language-model endpoint, treated as a black box.
type ModelClient interface {
	// Name returns the client identifier (e.g. "openai").
	Name() string
	// Complete sends a bounded prompt and returns text plus a usage report.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
	// HealthCheck verifies connectivity to the endpoint.
	HealthCheck(ctx context.Context) error
}

// Resolver derives the caller identity for a request. Requests without
// credentials resolve to an anonymous identity rather than an error.
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*Identity, error)
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the identity middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the resolved identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if present,
// avoiding a new context.WithValue allocation. Falls back to creating new metadata
// if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}
