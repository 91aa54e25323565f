// Package app orchestrates the governance pipeline around each model call.
// The order is fixed: rate limit, content gate, quota and budget pre-flight,
// conversation ceiling, model call, then usage commits. Cheap checks run
// first so most rejections never touch the durable stores.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/budget"
	"github.com/wardenlabs/warden/internal/contentgate"
	"github.com/wardenlabs/warden/internal/convo"
	"github.com/wardenlabs/warden/internal/cost"
	"github.com/wardenlabs/warden/internal/quota"
	"github.com/wardenlabs/warden/internal/ratelimit"
	"github.com/wardenlabs/warden/internal/storage"
)

// maxMessageBytes bounds the raw user message before any governance check
// sees it. Oversized input is a client error, not a quota event.
const maxMessageBytes = 16 * 1024

// Outcome labels recorded in the request log and governance metrics.
const (
	OutcomeOK          = "ok"
	OutcomeRateLimited = "rate_limited"
	OutcomeBlocked     = "blocked"
	OutcomeQuota       = "quota_exceeded"
	OutcomeBudget      = "budget_exhausted"
	OutcomeConvFull    = "conversation_full"
	OutcomeModelError  = "model_error"
	OutcomeStoreError  = "store_error"
	OutcomeRemediated  = "remediated"
	OutcomeBadRequest  = "bad_request"
)

// Recorder receives one request log row per governed request. Implemented
// by worker.LogRecorder; recording is asynchronous and best-effort.
type Recorder interface {
	Record(r warden.RequestLog)
}

// nopRecorder is used when no recorder is wired (tests, CLI tools).
type nopRecorder struct{}

func (nopRecorder) Record(warden.RequestLog) {}

// SendRequest is one inbound chat message.
type SendRequest struct {
	ConversationID string // empty starts a new conversation
	Message        string
}

// Reply is the outcome of a successful Send.
type Reply struct {
	ConversationID string       `json:"conversation_id"`
	TurnID         string       `json:"turn_id"`
	Text           string       `json:"text"`
	Usage          warden.Usage `json:"usage"`
	TotalTokens    int64        `json:"total_tokens"`
}

// ChatService runs the governance pipeline for chat requests.
type ChatService struct {
	limiter   *ratelimit.Limiter
	gate      *contentgate.Gate
	estimator *cost.Estimator
	quota     *quota.Enforcer
	budget    *budget.Ledger
	governor  *convo.Governor
	store     storage.ConversationStore
	model     warden.ModelClient
	recorder  Recorder
	now       func() time.Time
}

// NewChatService wires the pipeline. recorder may be nil.
func NewChatService(
	limiter *ratelimit.Limiter,
	gate *contentgate.Gate,
	estimator *cost.Estimator,
	quotaEnf *quota.Enforcer,
	ledger *budget.Ledger,
	governor *convo.Governor,
	store storage.ConversationStore,
	model warden.ModelClient,
	recorder Recorder,
) *ChatService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &ChatService{
		limiter:   limiter,
		gate:      gate,
		estimator: estimator,
		quota:     quotaEnf,
		budget:    ledger,
		governor:  governor,
		store:     store,
		model:     model,
		recorder:  recorder,
		now:       time.Now,
	}
}

// Send runs one chat request through the full governance pipeline.
// Rejections surface as typed errors wrapping the domain sentinels; the
// caller maps them to transport status codes.
func (s *ChatService) Send(ctx context.Context, id *warden.Identity, req *SendRequest) (*Reply, error) {
	start := s.now()

	if req.Message == "" {
		return nil, fmt.Errorf("%w: empty message", warden.ErrBadRequest)
	}
	if len(req.Message) > maxMessageBytes {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", warden.ErrBadRequest, maxMessageBytes)
	}

	// Rate limit first: the counter increments persist even when the
	// request is ultimately denied further down.
	if err := s.limiter.Check(ctx, id); err != nil {
		s.log(id, req.ConversationID, start, nil, 0, outcomeFor(err))
		return nil, err
	}

	if err := s.gate.Check(req.Message); err != nil {
		s.log(id, req.ConversationID, start, nil, 0, OutcomeBlocked)
		return nil, err
	}

	conv, err := s.loadOrCreate(ctx, id, req.ConversationID)
	if err != nil {
		return nil, err
	}

	if err := s.governor.CanAccept(ctx, conv); err != nil {
		s.log(id, conv.ID, start, nil, 0, outcomeFor(err))
		return nil, err
	}

	prompt, promptLen, err := s.buildPrompt(ctx, conv, req.Message)
	if err != nil {
		return nil, err
	}

	maxOut := id.Limits.MaxOutputTokens
	estTokens := s.estimator.RequestTokens(promptLen, maxOut)
	estCents := s.estimator.EstimateCents(promptLen, maxOut)

	if err := s.quota.Reserve(ctx, id, estTokens); err != nil {
		s.log(id, conv.ID, start, nil, 0, outcomeFor(err))
		return nil, err
	}
	if err := s.budget.CheckAndReserve(ctx, estCents); err != nil {
		s.log(id, conv.ID, start, nil, 0, outcomeFor(err))
		return nil, err
	}

	res, err := s.model.Complete(ctx, &warden.CompletionRequest{
		Messages:        prompt,
		MaxOutputTokens: maxOut,
	})
	if err != nil {
		// No commits: the call did not complete, so the speculative
		// reservation stands and actual usage is unknown.
		s.log(id, conv.ID, start, nil, 0, OutcomeModelError)
		return nil, fmt.Errorf("model call: %w", err)
	}

	total := s.commit(ctx, id, conv.ID, res.Usage)

	turn := &warden.Turn{
		ID:               uuid.Must(uuid.NewV7()).String(),
		ConversationID:   conv.ID,
		UserText:         req.Message,
		AssistantText:    res.Text,
		PromptTokens:     int(res.Usage.InputTokens),
		CompletionTokens: int(res.Usage.OutputTokens),
		RequestID:        warden.RequestIDFromContext(ctx),
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.AppendTurn(ctx, turn); err != nil {
		// Usage is already committed; the reply is still valid. Losing
		// the transcript row is logged, not surfaced.
		slog.LogAttrs(ctx, slog.LevelError, "turn append failed",
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()),
		)
	}

	s.log(id, conv.ID, start, &res.Usage, s.estimator.ActualCents(res.Usage), OutcomeOK)

	return &Reply{
		ConversationID: conv.ID,
		TurnID:         turn.ID,
		Text:           res.Text,
		Usage:          res.Usage,
		TotalTokens:    total,
	}, nil
}

// commit records actual usage into quota, ledger and conversation total.
// Commit failures are logged, never returned: the model call already
// happened and the reply belongs to the caller.
func (s *ChatService) commit(ctx context.Context, id *warden.Identity, convID string, u warden.Usage) int64 {
	ctx = context.WithoutCancel(ctx)
	cents := s.estimator.ActualCents(u)

	if err := s.quota.Commit(ctx, id.Subject, int(u.Total())); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "quota commit failed",
			slog.String("subject", id.Subject),
			slog.String("error", err.Error()),
		)
	}
	if err := s.budget.Commit(ctx, cents, u.Total(), id.Subject); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "budget commit failed",
			slog.String("error", err.Error()),
		)
	}
	total, err := s.governor.RecordUsage(ctx, convID, int(u.Total()))
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "conversation commit failed",
			slog.String("conversation_id", convID),
			slog.String("error", err.Error()),
		)
	}
	return total
}

// loadOrCreate resolves the target conversation, creating a fresh one when
// no ID was supplied. Conversations are owned: a caller may only post to
// threads keyed to its own identity.
func (s *ChatService) loadOrCreate(ctx context.Context, id *warden.Identity, convID string) (*warden.Conversation, error) {
	if convID == "" {
		c := convo.NewConversation(uuid.Must(uuid.NewV7()).String(), OwnerKey(id), "", s.now().UTC())
		if err := s.store.CreateConversation(ctx, c); err != nil {
			return nil, fmt.Errorf("create conversation: %w: %w", warden.ErrStoreUnavailable, err)
		}
		return c, nil
	}

	c, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		if errors.Is(err, warden.ErrNotFound) {
			return nil, warden.ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w: %w", warden.ErrStoreUnavailable, err)
	}
	if c.OwnerID != OwnerKey(id) {
		return nil, warden.ErrForbidden
	}
	return c, nil
}

// buildPrompt assembles the bounded model prompt: the summary context (if
// the thread was remediated), the stored turn history, then the new
// message. promptLen is the total character count fed to the estimator.
func (s *ChatService) buildPrompt(ctx context.Context, conv *warden.Conversation, message string) ([]warden.PromptMessage, int, error) {
	var prompt []warden.PromptMessage
	promptLen := 0

	if conv.SummaryContext != "" {
		prompt = append(prompt, warden.PromptMessage{
			Role:    "system",
			Content: "Summary of the conversation so far: " + conv.SummaryContext,
		})
		promptLen += len(conv.SummaryContext)
	}

	turns, err := s.store.ListTurns(ctx, conv.ID, 0, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("load turns: %w: %w", warden.ErrStoreUnavailable, err)
	}
	for _, t := range turns {
		prompt = append(prompt,
			warden.PromptMessage{Role: "user", Content: t.UserText},
			warden.PromptMessage{Role: "assistant", Content: t.AssistantText},
		)
		promptLen += len(t.UserText) + len(t.AssistantText)
	}

	prompt = append(prompt, warden.PromptMessage{Role: "user", Content: message})
	promptLen += len(message)

	return prompt, promptLen, nil
}

// OwnerKey returns the durable ownership key for an identity: the subject
// when authenticated, otherwise the network address.
func OwnerKey(id *warden.Identity) string {
	if id.Subject != "" {
		return id.Subject
	}
	return "addr:" + id.Addr
}

func (s *ChatService) log(id *warden.Identity, convID string, start time.Time, u *warden.Usage, cents int64, outcome string) {
	row := warden.RequestLog{
		Subject:        id.Subject,
		Addr:           id.Addr,
		Tier:           id.Tier,
		ConversationID: convID,
		CostCents:      cents,
		LatencyMs:      int(s.now().Sub(start).Milliseconds()),
		Outcome:        outcome,
		CreatedAt:      s.now().UTC(),
	}
	if u != nil {
		row.PromptTokens = int(u.InputTokens)
		row.CompletionTokens = int(u.OutputTokens)
	}
	s.recorder.Record(row)
}

func slogError(ctx context.Context, msg string, err error) {
	slog.LogAttrs(ctx, slog.LevelError, msg, slog.String("error", err.Error()))
}

// outcomeFor maps a pipeline error to its request log label.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, warden.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, warden.ErrContentBlocked):
		return OutcomeBlocked
	case errors.Is(err, warden.ErrQuotaExceeded):
		return OutcomeQuota
	case errors.Is(err, warden.ErrBudgetExhausted):
		return OutcomeBudget
	case errors.Is(err, warden.ErrConversationFull):
		return OutcomeConvFull
	case errors.Is(err, warden.ErrStoreUnavailable):
		return OutcomeStoreError
	case errors.Is(err, warden.ErrBadRequest):
		return OutcomeBadRequest
	default:
		return OutcomeModelError
	}
}
