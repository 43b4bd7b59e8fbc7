// Package models defines the core data structures for TrialConsent.
//
// It includes consent records, the administrative review status workflow,
// chat messages and the JSON envelope shared by every API response.
package models

import (
	"errors"
	"time"
)

// Error variables for better error handling and testability
var (
	ErrInvalidStatus    = errors.New("invalid participant status")
	ErrTerminalStatus   = errors.New("consent record already reviewed")
	ErrIllegalStatus    = errors.New("status transition not allowed")
	ErrRecordNotFound   = errors.New("consent record not found")
	ErrEmptyChatMessage = errors.New("message is required")
	ErrInvalidContext   = errors.New("context must be 'trial' or 'form'")
)

// ParticipantStatus represents where a consent submission sits in administrative review.
type ParticipantStatus string

const (
	// StatusPending indicates the record was created but not yet reviewed.
	StatusPending ParticipantStatus = "pending"
	// StatusCompleted indicates the participant finished the form and it awaits review.
	StatusCompleted ParticipantStatus = "completed"
	// StatusApproved indicates an administrator approved the consent. Terminal.
	StatusApproved ParticipantStatus = "approved"
	// StatusRejected indicates an administrator rejected the consent. Terminal.
	StatusRejected ParticipantStatus = "rejected"
)

// AllStatuses lists every status in display order.
var AllStatuses = []ParticipantStatus{StatusPending, StatusCompleted, StatusApproved, StatusRejected}

// IsValidParticipantStatus checks if the given participant status is valid.
func IsValidParticipantStatus(status ParticipantStatus) bool {
	switch status {
	case StatusPending, StatusCompleted, StatusApproved, StatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further review transition is possible.
func (s ParticipantStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// ValidateTransition checks a review transition. Only pending or completed
// records can move, and only to approved or rejected.
func ValidateTransition(from, to ParticipantStatus) error {
	if !IsValidParticipantStatus(to) {
		return ErrInvalidStatus
	}
	if from.IsTerminal() {
		return ErrTerminalStatus
	}
	if !to.IsTerminal() {
		return ErrIllegalStatus
	}
	return nil
}

// ConsentRecord is the finalized form state plus its identifiers and review status.
// Fields are never modified after creation.
type ConsentRecord struct {
	ID             string            `json:"id"`
	TrackingCode   string            `json:"tracking_code"`
	Fields         map[string]any    `json:"fields"`
	Status         ParticipantStatus `json:"status"`
	SubmissionDate time.Time         `json:"submission_date"`
	ApprovedDate   *time.Time        `json:"approved_date,omitempty"`
	RejectedDate   *time.Time        `json:"rejected_date,omitempty"`
}

// StringField returns a field value as a string, or "" when absent or not a string.
func (r ConsentRecord) StringField(key string) string {
	if v, ok := r.Fields[key].(string); ok {
		return v
	}
	return ""
}

// ParticipantName returns "first last" from the record fields.
func (r ConsentRecord) ParticipantName() string {
	first, last := r.StringField("firstName"), r.StringField("lastName")
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

// StatusUpdateRequest is the payload for PATCH /consents/{id}.
type StatusUpdateRequest struct {
	Status ParticipantStatus `json:"status"`
}

// Validate validates a StatusUpdateRequest.
func (r *StatusUpdateRequest) Validate() error {
	if !IsValidParticipantStatus(r.Status) {
		return ErrInvalidStatus
	}
	return nil
}

// ReviewSummary counts records per status for the admin dashboard.
type ReviewSummary struct {
	Total    int                       `json:"total"`
	ByStatus map[ParticipantStatus]int `json:"by_status"`
}

// Summarize builds a ReviewSummary over the given records.
func Summarize(records []ConsentRecord) ReviewSummary {
	summary := ReviewSummary{ByStatus: make(map[ParticipantStatus]int, len(AllStatuses))}
	for _, s := range AllStatuses {
		summary.ByStatus[s] = 0
	}
	for _, r := range records {
		summary.ByStatus[r.Status]++
		summary.Total++
	}
	return summary
}

// ChatContext selects which rule set answers a chat message.
type ChatContext string

const (
	// ChatContextTrial answers general trial questions. Never produces a patch.
	ChatContextTrial ChatContext = "trial"
	// ChatContextForm answers consent form questions and may produce a field patch.
	ChatContextForm ChatContext = "form"
)

// IsValidChatContext checks if the given chat context is supported.
func IsValidChatContext(c ChatContext) bool {
	return c == ChatContextTrial || c == ChatContextForm
}

// ChatMessage is one entry of a chat log.
type ChatMessage struct {
	ID    int    `json:"id"`
	Text  string `json:"text"`
	IsBot bool   `json:"is_bot"`
}

// ChatRequest is the payload for POST /chat.
type ChatRequest struct {
	ChatID    string      `json:"chat_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"` // form session receiving patches
	Context   ChatContext `json:"context"`
	Message   string      `json:"message"`
	Voice     bool        `json:"voice,omitempty"` // message came from a finalized transcript
	Speak     *bool       `json:"speak,omitempty"` // updates the speak-replies preference
}

// Validate validates a ChatRequest.
func (r *ChatRequest) Validate() error {
	if r.Message == "" {
		return ErrEmptyChatMessage
	}
	if r.Context == "" {
		r.Context = ChatContextTrial
	}
	if !IsValidChatContext(r.Context) {
		return ErrInvalidContext
	}
	return nil
}

// SpeechRequest is the payload for POST /text-to-speech.
type SpeechRequest struct {
	Text string `json:"text"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusInvalid indicates the request was understood but failed validation.
	APIStatusInvalid APIStatus = "invalid"
)

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Invalid creates a validation-failure response carrying the offending details.
func Invalid(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusInvalid).
		WithMessage(message).
		WithResult(result).
		Build()
}
