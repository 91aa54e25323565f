package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	warden "github.com/wardenlabs/warden/internal"
	"github.com/wardenlabs/warden/internal/budget"
	"github.com/wardenlabs/warden/internal/cost"
	"github.com/wardenlabs/warden/internal/quota"
	"github.com/wardenlabs/warden/internal/storage"
)

const summaryPrompt = "Summarize the following conversation in a short paragraph. " +
	"Preserve the topic, any decisions made, and unresolved questions. " +
	"Reply with the summary only."

// RemediationResult is the outcome of a successful Remediate call.
type RemediationResult struct {
	NewConversationID string `json:"new_conversation_id"`
	Summary           string `json:"summary"`
}

// RemediationService archives a full conversation and reopens it as a new
// thread seeded with a model-produced summary. The summary call is a real
// model call and passes through quota and budget like any other.
type RemediationService struct {
	estimator  *cost.Estimator
	quota      *quota.Enforcer
	budget     *budget.Ledger
	store      storage.ConversationStore
	model      warden.ModelClient
	recorder   Recorder
	summaryMax int // output ceiling for the summary call
	turnWindow int // most recent turns fed to the summarizer, 0 = all
	now        func() time.Time
}

// RemediationOptions tunes the summary call. Zero values use defaults.
type RemediationOptions struct {
	SummaryMaxOutputTokens int
	TurnWindow             int
}

// NewRemediationService wires the remediation workflow. recorder may be nil.
func NewRemediationService(
	estimator *cost.Estimator,
	quotaEnf *quota.Enforcer,
	ledger *budget.Ledger,
	store storage.ConversationStore,
	model warden.ModelClient,
	recorder Recorder,
	opts RemediationOptions,
) *RemediationService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	summaryMax := opts.SummaryMaxOutputTokens
	if summaryMax <= 0 {
		summaryMax = 512
	}
	return &RemediationService{
		estimator:  estimator,
		quota:      quotaEnf,
		budget:     ledger,
		store:      store,
		model:      model,
		recorder:   recorder,
		summaryMax: summaryMax,
		turnWindow: opts.TurnWindow,
		now:        time.Now,
	}
}

// Remediate summarizes a conversation that hit its token ceiling, creates
// a replacement thread seeded with the summary, and archives the original.
// Archival is ordered last: a failure anywhere earlier leaves the original
// conversation untouched and the caller may retry.
func (s *RemediationService) Remediate(ctx context.Context, id *warden.Identity, conversationID string) (*RemediationResult, error) {
	start := s.now()

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, warden.ErrNotFound) {
			return nil, warden.ErrNotFound
		}
		return nil, fmt.Errorf("load conversation: %w: %w", warden.ErrStoreUnavailable, err)
	}
	if conv.OwnerID != OwnerKey(id) {
		return nil, warden.ErrForbidden
	}
	switch conv.State {
	case warden.ConvLimitReached:
		// remediation target
	case warden.ConvArchived:
		return nil, fmt.Errorf("%w: conversation already archived", warden.ErrConflict)
	default:
		return nil, fmt.Errorf("%w: conversation has not reached its ceiling", warden.ErrConflict)
	}

	prompt, promptLen, err := s.summaryInput(ctx, conv)
	if err != nil {
		return nil, err
	}

	estTokens := s.estimator.RequestTokens(promptLen, s.summaryMax)
	estCents := s.estimator.EstimateCents(promptLen, s.summaryMax)

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
		MaxOutputTokens: s.summaryMax,
	})
	if err != nil {
		s.log(id, conv.ID, start, nil, 0, OutcomeModelError)
		return nil, fmt.Errorf("summary call: %w", err)
	}

	s.commitUsage(ctx, id, res.Usage)

	summary := strings.TrimSpace(res.Text)
	newConv := &warden.Conversation{
		ID:             uuid.Must(uuid.NewV7()).String(),
		OwnerID:        conv.OwnerID,
		State:          warden.ConvActive,
		SummaryContext: summary,
		CreatedAt:      s.now().UTC(),
		UpdatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateConversation(ctx, newConv); err != nil {
		return nil, fmt.Errorf("create remediated conversation: %w: %w", warden.ErrStoreUnavailable, err)
	}

	// Archive only after the replacement exists. A failure here leaves
	// both threads visible, which is recoverable; the reverse is not.
	if err := s.store.TransitionConversation(ctx, conv.ID, warden.ConvLimitReached, warden.ConvArchived); err != nil {
		if !errors.Is(err, warden.ErrConflict) {
			return nil, fmt.Errorf("archive conversation: %w: %w", warden.ErrStoreUnavailable, err)
		}
		// A concurrent remediation archived it first; the new thread
		// created above still stands for this caller.
	}

	s.log(id, conv.ID, start, &res.Usage, s.estimator.ActualCents(res.Usage), OutcomeRemediated)

	return &RemediationResult{
		NewConversationID: newConv.ID,
		Summary:           summary,
	}, nil
}

// summaryInput flattens the turn history into a single summarization prompt.
func (s *RemediationService) summaryInput(ctx context.Context, conv *warden.Conversation) ([]warden.PromptMessage, int, error) {
	turns, err := s.store.ListTurns(ctx, conv.ID, 0, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("load turns: %w: %w", warden.ErrStoreUnavailable, err)
	}
	if s.turnWindow > 0 && len(turns) > s.turnWindow {
		turns = turns[len(turns)-s.turnWindow:]
	}

	var b strings.Builder
	if conv.SummaryContext != "" {
		b.WriteString("Earlier summary: ")
		b.WriteString(conv.SummaryContext)
		b.WriteString("\n\n")
	}
	for _, t := range turns {
		b.WriteString("User: ")
		b.WriteString(t.UserText)
		b.WriteString("\nAssistant: ")
		b.WriteString(t.AssistantText)
		b.WriteString("\n")
	}

	transcript := b.String()
	prompt := []warden.PromptMessage{
		{Role: "system", Content: summaryPrompt},
		{Role: "user", Content: transcript},
	}
	return prompt, len(summaryPrompt) + len(transcript), nil
}

// commitUsage records the summary call's actual usage into quota and
// ledger. The archived thread's token total is deliberately left alone.
func (s *RemediationService) commitUsage(ctx context.Context, id *warden.Identity, u warden.Usage) {
	ctx = context.WithoutCancel(ctx)
	if err := s.quota.Commit(ctx, id.Subject, int(u.Total())); err != nil {
		slogError(ctx, "quota commit failed", err)
	}
	if err := s.budget.Commit(ctx, s.estimator.ActualCents(u), u.Total(), id.Subject); err != nil {
		slogError(ctx, "budget commit failed", err)
	}
}

func (s *RemediationService) log(id *warden.Identity, convID string, start time.Time, u *warden.Usage, cents int64, outcome string) {
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
