// Package pipeline processes one inbound message end to end: load the
// owner's conversation state, screen for safety-relevant content,
// generate a reply through the gated provider, persist the updated
// state, deliver the reply and emit the processed event.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahandley/textline/internal/domain"
	"github.com/ahandley/textline/internal/ports"
	"github.com/ahandley/textline/internal/risk"
	"github.com/ahandley/textline/internal/workflow"
)

// Stage names the pipeline's progress through one message, reported in
// logs so a stuck or failed message is attributable to a single stage.
type Stage string

const (
	StageReceived            Stage = "RECEIVED"
	StageStateLoaded         Stage = "STATE_LOADED"
	StageRiskChecked         Stage = "RISK_CHECKED"
	StageEscalationSent      Stage = "ESCALATION_SENT"
	StageGenerationRequested Stage = "GENERATION_REQUESTED"
	StageStateUpdated        Stage = "STATE_UPDATED"
	StageReplySent           Stage = "REPLY_SENT"
	StageEventEmitted        Stage = "EVENT_EMITTED"
)

// EventMessageProcessed is emitted once per successfully handled
// message.
const EventMessageProcessed = "message.processed"

// historyLimit caps the conversation turns carried into generation.
const historyLimit = 10

// InboundMessage is one message arriving from the messaging channel.
type InboundMessage struct {
	Owner     domain.OwnerKey
	Channel   string
	From      string // reply destination
	Body      string
	MessageID string // provider message ID, used as the idempotency key
}

// Pipeline wires the processing stages together.
type Pipeline struct {
	states     workflow.StateAccess
	classifier *risk.Classifier
	caller     workflow.Caller
	messenger  ports.Messenger
	bus        ports.EventBus
	audit      ports.CrisisAuditStore
	hotline    string
	prompt     string
	onRisk     func(category string)
	logger     *slog.Logger
}

// Options configures a Pipeline.
type Options struct {
	States     workflow.StateAccess
	Classifier *risk.Classifier
	Caller     workflow.Caller
	Messenger  ports.Messenger
	Bus        ports.EventBus
	Audit      ports.CrisisAuditStore

	// HotlineNumber appears in the safety reply.
	HotlineNumber string

	// SystemPrompt steers the generation provider.
	SystemPrompt string

	// OnRiskMatch, when set, is called once per detected risk with the
	// primary category.
	OnRiskMatch func(category string)

	Logger *slog.Logger
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.States == nil || opts.Caller == nil || opts.Messenger == nil || opts.Bus == nil {
		return nil, fmt.Errorf("pipeline: states, caller, messenger and bus are all required")
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = risk.NewClassifier()
	}
	hotline := opts.HotlineNumber
	if hotline == "" {
		hotline = "988"
	}
	prompt := opts.SystemPrompt
	if prompt == "" {
		prompt = "You are a warm, concise family assistant replying over SMS. Keep replies under 300 characters."
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		states:     opts.States,
		classifier: classifier,
		caller:     opts.Caller,
		messenger:  opts.Messenger,
		bus:        opts.Bus,
		audit:      opts.Audit,
		hotline:    hotline,
		prompt:     prompt,
		onRisk:     opts.OnRiskMatch,
		logger:     logger,
	}, nil
}

// complianceKeywords are handled by the carrier's opt-out machinery and
// must never reach the generation path.
var complianceKeywords = map[string]bool{
	"stop": true, "stopall": true, "unsubscribe": true,
	"cancel": true, "end": true, "quit": true,
	"help": true, "info": true,
}

// ProcessInbound runs one message through the full pipeline and
// reports the outcome. A safety escalation, once sent, stands even if a
// later stage fails.
func (p *Pipeline) ProcessInbound(ctx context.Context, msg *InboundMessage) (*domain.PipelineResult, error) {
	stage := StageReceived
	log := p.logger.With(
		slog.String("owner_key", msg.Owner.String()),
		slog.String("message_id", msg.MessageID),
	)

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		log.Info("empty message ignored")
		return &domain.PipelineResult{Status: domain.StatusIgnored}, nil
	}
	if complianceKeywords[strings.ToLower(body)] {
		log.Info("compliance keyword deferred to carrier", slog.String("keyword", strings.ToLower(body)))
		return &domain.PipelineResult{Status: domain.StatusIgnored}, nil
	}

	state, err := p.states.GetState(ctx, msg.Owner)
	if err != nil {
		return p.fail(log, stage, err)
	}
	if state == nil {
		state = &domain.ConversationState{
			OwnerKey:    msg.Owner,
			Channel:     msg.Channel,
			CurrentFlow: "conversation",
			StartedAt:   time.Now().UTC(),
		}
	}
	stage = StageStateLoaded

	finding := p.classifier.Detect(body)
	stage = StageRiskChecked
	isRisk := finding.Matched

	if isRisk {
		if p.onRisk != nil {
			p.onRisk(string(finding.Category))
		}
		// The escalation goes out before anything else and is never
		// undone by later failures.
		safety := risk.SafetyReply(p.hotline)
		if _, err := p.messenger.Send(ctx, &domain.OutboundMessage{
			To:            msg.From,
			Body:          safety,
			CorrelationID: msg.MessageID,
		}); err != nil {
			return p.fail(log, stage, fmt.Errorf("safety escalation not delivered: %w", err))
		}
		stage = StageEscalationSent
		log.Warn("risk detected, escalation sent",
			slog.String("category", string(finding.Category)),
			slog.Float64("confidence", finding.Confidence),
		)
		p.recordCrisis(ctx, log, msg, finding)
	}

	req := &domain.GenerationRequest{
		SystemPrompt: p.prompt,
		Messages:     append(historyFromState(state), domain.ChatMessage{Role: "user", Content: body}),
	}
	stage = StageGenerationRequested
	generated, err := p.caller.Call(ctx, msg.Owner, req)
	if err != nil {
		result, ferr := p.fail(log, stage, err)
		result.IsRisk = isRisk
		result.ReplySent = isRisk // the escalation already went out
		return result, ferr
	}

	appendHistory(state, body, generated.Content)
	state.CurrentStep = "awaiting_reply"
	state.LastActivityAt = time.Now().UTC()
	if err := p.states.UpdateState(ctx, state); err != nil {
		result, ferr := p.fail(log, stage, err)
		result.IsRisk = isRisk
		result.ReplySent = isRisk
		return result, ferr
	}
	stage = StageStateUpdated

	if _, err := p.messenger.Send(ctx, &domain.OutboundMessage{
		To:            msg.From,
		Body:          generated.Content,
		CorrelationID: msg.MessageID,
	}); err != nil {
		result, ferr := p.fail(log, stage, err)
		result.IsRisk = isRisk
		result.ReplySent = isRisk
		return result, ferr
	}
	stage = StageReplySent

	p.emitProcessed(ctx, log, msg, isRisk)
	stage = StageEventEmitted

	log.Info("message processed", slog.String("stage", string(stage)), slog.Bool("is_risk", isRisk))
	return &domain.PipelineResult{
		Status:    domain.StatusSuccess,
		ReplySent: true,
		IsRisk:    isRisk,
		Reply:     generated.Content,
	}, nil
}

func (p *Pipeline) fail(log *slog.Logger, stage Stage, err error) (*domain.PipelineResult, error) {
	log.Error("pipeline stage failed",
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()),
	)
	return &domain.PipelineResult{Status: domain.StatusError}, err
}

// recordCrisis writes the audit record. Audit persistence failing must
// not block the conversation; the escalation already went out.
func (p *Pipeline) recordCrisis(ctx context.Context, log *slog.Logger, msg *InboundMessage, finding domain.RiskFinding) {
	if p.audit == nil {
		return
	}
	rec := &ports.CrisisEventRecord{
		ID:              uuid.NewString(),
		OwnerKey:        msg.Owner,
		Category:        finding.Category,
		MatchedTerms:    finding.MatchedTerms,
		Confidence:      finding.Confidence,
		HotlineProvided: true,
		CorrelationID:   msg.MessageID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := p.audit.RecordCrisisEvent(ctx, rec); err != nil {
		log.Error("crisis audit record not persisted", slog.String("error", err.Error()))
	}
}

// emitProcessed publishes the processed event. The reply is already
// delivered at this point, so a bus outage is logged and swallowed
// rather than surfaced as a user-visible failure.
func (p *Pipeline) emitProcessed(ctx context.Context, log *slog.Logger, msg *InboundMessage, isRisk bool) {
	payload, err := json.Marshal(map[string]any{
		"household_id": msg.Owner.HouseholdID,
		"member_id":    msg.Owner.MemberID,
		"channel":      msg.Channel,
		"is_risk":      isRisk,
	})
	if err != nil {
		log.Error("processed event payload not encoded", slog.String("error", err.Error()))
		return
	}
	eventID := msg.MessageID
	if eventID == "" {
		eventID = uuid.NewString()
	}
	if _, err := p.bus.Emit(ctx, &domain.Event{
		ID:            eventID,
		Type:          EventMessageProcessed,
		Payload:       payload,
		CorrelationID: msg.MessageID,
	}); err != nil {
		log.Error("processed event not emitted", slog.String("error", err.Error()))
	}
}

// historyFromState reads prior turns out of FlowData. States that have
// round-tripped through JSON carry the history as []any of maps, fresh
// in-process states as []domain.ChatMessage; both shapes are accepted.
func historyFromState(state *domain.ConversationState) []domain.ChatMessage {
	if state.FlowData == nil {
		return nil
	}
	var history []domain.ChatMessage
	switch raw := state.FlowData["history"].(type) {
	case []domain.ChatMessage:
		history = raw
	case []any:
		for _, entry := range raw {
			m, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if role != "" && content != "" {
				history = append(history, domain.ChatMessage{Role: role, Content: content})
			}
		}
	}
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	return history
}

func appendHistory(state *domain.ConversationState, userText, reply string) {
	history := historyFromState(state)
	if state.FlowData == nil {
		state.FlowData = make(map[string]any)
	}
	history = append(history,
		domain.ChatMessage{Role: "user", Content: userText},
		domain.ChatMessage{Role: "assistant", Content: reply},
	)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	state.FlowData["history"] = history
}
