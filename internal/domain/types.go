package domain

import (
	"encoding/json"
	"time"
)

// OwnerKey identifies the logical owner of a conversation: a household
// plus an optional individual member within it. Retry budgets, state
// records and cache entries are all scoped by OwnerKey.
type OwnerKey struct {
	HouseholdID string `json:"household_id"`
	MemberID    string `json:"member_id,omitempty"`
}

// String renders the key in its canonical cache-key form.
func (k OwnerKey) String() string {
	if k.MemberID != "" {
		return "state:individual:" + k.HouseholdID + ":" + k.MemberID
	}
	return "state:group:" + k.HouseholdID
}

// ConversationState is the per-owner conversation position. The cache
// holds the authoritative copy for active conversations; the durable
// store holds the copy used for cold recovery and audit.
type ConversationState struct {
	OwnerKey       OwnerKey       `json:"owner_key"`
	Channel        string         `json:"channel"`
	CurrentFlow    string         `json:"current_flow"`
	CurrentStep    string         `json:"current_step"`
	FlowData       map[string]any `json:"flow_data,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
}

// Marshal serializes the state for cache storage.
func (s *ConversationState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalState deserializes a cached state value.
func UnmarshalState(data []byte) (*ConversationState, error) {
	var s ConversationState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Event is a domain event carrying a caller-supplied idempotency key.
// An event with a given ID is delivered at most once within the bus's
// retention window.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// OutboundMessage is a single message handed to the batch dispatcher.
type OutboundMessage struct {
	To            string `json:"to"`
	Body          string `json:"body"`
	From          string `json:"from,omitempty"`
	MediaURL      string `json:"media_url,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// GenerationRequest is the input to the text-generation capability.
type GenerationRequest struct {
	Messages     []ChatMessage
	SystemPrompt string
}

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationResult is the output of a successful generation call.
type GenerationResult struct {
	Content    string
	TokensUsed int
	Latency    time.Duration
}

// PipelineStatus is the outcome classification for one inbound message.
type PipelineStatus string

const (
	StatusSuccess PipelineStatus = "success"
	StatusIgnored PipelineStatus = "ignored"
	StatusError   PipelineStatus = "error"
)

// PipelineResult is returned to the webhook layer for every inbound
// message.
type PipelineResult struct {
	Status    PipelineStatus `json:"status"`
	ReplySent bool           `json:"reply_sent"`
	IsRisk    bool           `json:"is_risk"`
	Reply     string         `json:"reply,omitempty"`
}
