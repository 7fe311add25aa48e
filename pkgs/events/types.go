package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event being emitted
type EventType string

const (
	// Submission lifecycle events
	EventSubmissionReceived EventType = "submission_received"
	EventSubmissionScored   EventType = "submission_scored"
	EventScoreFailed        EventType = "score_failed"
	EventSubmissionFlagged  EventType = "submission_flagged"

	// Mint events
	EventMinted         EventType = "minted"
	EventMintFailed     EventType = "mint_failed"
	EventOverrideMinted EventType = "override_minted"
	EventDirectMinted   EventType = "direct_minted"

	// Worker events
	EventStaleSubmission EventType = "stale_submission"
)

// Channel groups events are published under
const (
	GroupSubmission = "submission"
	GroupMint       = "mint"
	GroupMonitor    = "monitor"
)

// Group returns the channel group an event type belongs to
func (t EventType) Group() string {
	switch t {
	case EventMinted, EventMintFailed, EventOverrideMinted, EventDirectMinted:
		return GroupMint
	case EventStaleSubmission:
		return GroupMonitor
	default:
		return GroupSubmission
	}
}

// EventSeverity indicates the importance/severity of an event
type EventSeverity string

const (
	SeverityInfo    EventSeverity = "info"
	SeverityWarning EventSeverity = "warning"
	SeverityError   EventSeverity = "error"
)

// Event represents a system event with metadata and payload
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	Severity  EventSeverity `json:"severity"`
	Timestamp time.Time     `json:"timestamp"`

	Component  string `json:"component"`
	InstanceID string `json:"instance_id,omitempty"`

	Payload json.RawMessage `json:"payload"`

	ProjectID string            `json:"project_id,omitempty"`
	Operator  string            `json:"operator,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SubmissionEventPayload contains data for submission lifecycle events
type SubmissionEventPayload struct {
	ProjectID        string  `json:"project_id"`
	Status           string  `json:"status"`
	OwnerAddress     string  `json:"owner_address,omitempty"`
	FraudScore       float64 `json:"fraud_score,omitempty"`
	Threshold        float64 `json:"threshold,omitempty"`
	PredictedCO2Tons float64 `json:"predicted_co2_tons,omitempty"`
	Reason           string  `json:"reason,omitempty"`
}

// MintEventPayload contains data for mint events
type MintEventPayload struct {
	ProjectID   string `json:"project_id,omitempty"`
	To          string `json:"to"`
	Amount      int64  `json:"amount"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	ContentRef  string `json:"content_ref,omitempty"`
	ReceiptCID  string `json:"receipt_cid,omitempty"`
}

// StaleEventPayload describes a record stuck in a non-terminal state
type StaleEventPayload struct {
	ProjectID string    `json:"project_id"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Age       int64     `json:"age_seconds"`
}

// EventHandler is called when an event is emitted
type EventHandler func(event *Event)

// EventFilter can be used to filter events before processing
type EventFilter func(event *Event) bool

// Subscriber represents an event subscriber with optional filtering
type Subscriber struct {
	ID      string
	Handler EventHandler
	Filter  EventFilter
	Types   []EventType // Subscribe to specific event types only
}

// String returns a string representation of the event
func (e *Event) String() string {
	return fmt.Sprintf("[%s] %s: %s (component=%s, project=%s)",
		e.Timestamp.Format(time.RFC3339),
		e.Severity,
		e.Type,
		e.Component,
		e.ProjectID,
	)
}

// ToJSON serializes the event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NewEvent creates a new event with the given parameters
func NewEvent(eventType EventType, severity EventSeverity, component string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return &Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Component: component,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
	}, nil
}
