// Package workflow composes multi-step user-facing operations out of
// saga steps, so a failure partway through leaves no stored asset or
// record behind.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
	"github.com/ahandley/textline/internal/saga"
)

// Data keys shared between extraction saga steps.
const (
	keyAssetURL      = "asset_url"
	keySummary       = "summary"
	keyTokensUsed    = "tokens_used"
	keyPreviousState = "previous_extraction"
)

// Caller is the gated generation surface the extraction step uses.
type Caller interface {
	Call(ctx context.Context, owner domain.OwnerKey, req *domain.GenerationRequest) (*domain.GenerationResult, error)
}

// StateAccess is the conversation-state surface the record step uses.
type StateAccess interface {
	GetState(ctx context.Context, key domain.OwnerKey) (*domain.ConversationState, error)
	UpdateState(ctx context.Context, state *domain.ConversationState) error
}

// ExtractionRequest describes one inbound media item to process.
type ExtractionRequest struct {
	Owner    domain.OwnerKey
	Channel  string
	ReplyTo  string // phone number for the confirmation message
	Media    []byte
	Filename string
	Caption  string
}

// ExtractionResult reports a completed extraction.
type ExtractionResult struct {
	SagaID     string `json:"saga_id"`
	AssetURL   string `json:"asset_url"`
	Summary    string `json:"summary"`
	TokensUsed int    `json:"tokens_used"`
}

// Extractor runs the media extraction workflow: store the asset, run
// the content extraction, record the result on the conversation, and
// confirm to the user. The asset upload and the record write are
// compensated on failure; the extraction call and the confirmation
// message have no side effects worth undoing.
type Extractor struct {
	orchestrator *saga.Orchestrator
	blobs        ports.BlobStore
	caller       Caller
	states       StateAccess
	messenger    ports.Messenger
	logger       *slog.Logger
}

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	Blobs     ports.BlobStore
	Caller    Caller
	States    StateAccess
	Messenger ports.Messenger
	Logger    *slog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(opts ExtractorOptions) (*Extractor, error) {
	if opts.Blobs == nil || opts.Caller == nil || opts.States == nil || opts.Messenger == nil {
		return nil, fmt.Errorf("workflow: blobs, caller, states and messenger are all required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		orchestrator: saga.NewOrchestrator(logger),
		blobs:        opts.Blobs,
		caller:       opts.Caller,
		states:       opts.States,
		messenger:    opts.Messenger,
		logger:       logger,
	}, nil
}

const extractionPrompt = "Extract the schedule-relevant details from the attached document: " +
	"dates, times, locations, participants and any required items. " +
	"Reply with a short plain-text summary a parent can act on."

// Run executes the extraction saga. On failure the user gets a
// best-effort notice and the triggering error is returned.
func (e *Extractor) Run(ctx context.Context, req *ExtractionRequest) (*ExtractionResult, error) {
	sagaID := uuid.NewString()
	assetPath := fmt.Sprintf("media/%s/%s/%s", req.Owner.HouseholdID, sagaID, req.Filename)

	steps := []*saga.Step{
		{
			Name: "store_media",
			Execute: func(ctx context.Context, data *saga.Data) (any, error) {
				url, err := e.blobs.Upload(ctx, req.Media, assetPath)
				if err != nil {
					return nil, err
				}
				data.Set(keyAssetURL, url)
				return url, nil
			},
			Compensate: func(ctx context.Context, data *saga.Data) error {
				return e.blobs.Delete(ctx, data.GetString(keyAssetURL))
			},
		},
		{
			Name: "extract_content",
			Execute: func(ctx context.Context, data *saga.Data) (any, error) {
				result, err := e.caller.Call(ctx, req.Owner, &domain.GenerationRequest{
					SystemPrompt: extractionPrompt,
					Messages: []domain.ChatMessage{
						{Role: "user", Content: fmt.Sprintf("Document: %s\nCaption: %s", data.GetString(keyAssetURL), req.Caption)},
					},
				})
				if err != nil {
					return nil, err
				}
				data.Set(keySummary, result.Content)
				data.Set(keyTokensUsed, result.TokensUsed)
				return result.Content, nil
			},
		},
		{
			Name: "record_extraction",
			Execute: func(ctx context.Context, data *saga.Data) (any, error) {
				state, err := e.states.GetState(ctx, req.Owner)
				if err != nil {
					return nil, err
				}
				if state == nil {
					state = &domain.ConversationState{OwnerKey: req.Owner, Channel: req.Channel}
				}
				if state.FlowData == nil {
					state.FlowData = make(map[string]any)
				}
				if prev, ok := state.FlowData["last_extraction"]; ok {
					data.Set(keyPreviousState, prev)
				}
				state.FlowData["last_extraction"] = map[string]any{
					"saga_id":   sagaID,
					"asset_url": data.GetString(keyAssetURL),
					"summary":   data.GetString(keySummary),
					"stored_at": time.Now().UTC().Format(time.RFC3339),
				}
				return nil, e.states.UpdateState(ctx, state)
			},
			Compensate: func(ctx context.Context, data *saga.Data) error {
				state, err := e.states.GetState(ctx, req.Owner)
				if err != nil || state == nil || state.FlowData == nil {
					return err
				}
				if prev, ok := data.Get(keyPreviousState); ok {
					state.FlowData["last_extraction"] = prev
				} else {
					delete(state.FlowData, "last_extraction")
				}
				return e.states.UpdateState(ctx, state)
			},
		},
		{
			Name: "notify_user",
			Execute: func(ctx context.Context, data *saga.Data) (any, error) {
				return e.messenger.Send(ctx, &domain.OutboundMessage{
					To:            req.ReplyTo,
					Body:          "Got it! Here's what I pulled out:\n\n" + data.GetString(keySummary),
					CorrelationID: sagaID,
				})
			},
		},
	}

	sctx := saga.NewContext(sagaID, steps...)
	if err := e.orchestrator.Execute(ctx, sctx); err != nil {
		// The notice is best effort: the saga error is what the caller
		// needs to see.
		if _, sendErr := e.messenger.Send(ctx, &domain.OutboundMessage{
			To:            req.ReplyTo,
			Body:          "Sorry, I couldn't finish processing that attachment. Please try sending it again.",
			CorrelationID: sagaID,
		}); sendErr != nil {
			e.logger.Warn("extraction failure notice not delivered",
				slog.String("saga_id", sagaID),
				slog.String("error", sendErr.Error()),
			)
		}
		return nil, err
	}

	tokens, _ := sctx.Data.Get(keyTokensUsed)
	tokensUsed, _ := tokens.(int)
	return &ExtractionResult{
		SagaID:     sagaID,
		AssetURL:   sctx.Data.GetString(keyAssetURL),
		Summary:    sctx.Data.GetString(keySummary),
		TokensUsed: tokensUsed,
	}, nil
}
