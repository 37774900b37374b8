// Package models defines the core data structures for TaskPipe.
//
// It includes the inbound message record, task provider types and the API response
// envelope, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// MaxMediaPerMessage is the number of attachments a single inbound message may carry.
const MaxMediaPerMessage = 1

// Error variables for better error handling and testability
var (
	ErrEmptySender         = errors.New("sender cannot be empty")
	ErrMissingMediaURL     = errors.New("media message is missing the media URL")
	ErrMissingMediaType    = errors.New("media message is missing the media content type")
	ErrNotAuthenticated    = errors.New("account not connected")
	ErrAuthExpired         = errors.New("account authorization expired or was revoked")
	ErrUnsupportedMedia    = errors.New("unsupported media type")
	ErrInvalidOAuthState   = errors.New("invalid or expired authorization state")
	ErrProviderUnavailable = errors.New("task provider not configured")
)

// IsAuthError reports whether err means the sender has to (re)connect their account.
// Both cases look the same to the user.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) || errors.Is(err, ErrAuthExpired)
}

// InboundMessage is the transport-independent record of one incoming WhatsApp message.
type InboundMessage struct {
	MessageID        string `json:"message_id,omitempty"`
	SenderID         string `json:"sender_id"`
	Text             string `json:"text,omitempty"`
	MediaURL         string `json:"media_url,omitempty"`
	MediaContentType string `json:"media_content_type,omitempty"`
	MediaCount       int    `json:"media_count"`
	Time             int64  `json:"time"`
}

// HasText reports whether the message carries non-blank text.
func (m InboundMessage) HasText() bool {
	return strings.TrimSpace(m.Text) != ""
}

// HasMedia reports whether the message carries at least one attachment.
func (m InboundMessage) HasMedia() bool {
	return m.MediaCount > 0
}

// Validate checks the record once at the transport boundary.
func (m InboundMessage) Validate() error {
	if strings.TrimSpace(m.SenderID) == "" {
		return ErrEmptySender
	}
	// Multi-attachment messages are refused before any media field is needed.
	if m.MediaCount == MaxMediaPerMessage {
		if m.MediaURL == "" {
			return ErrMissingMediaURL
		}
		if m.MediaContentType == "" {
			return ErrMissingMediaType
		}
	}
	return nil
}

// NewTask is the payload sent to the task provider on creation.
type NewTask struct {
	Title   string    `json:"title"`
	Notes   string    `json:"notes,omitempty"`
	DueDate time.Time `json:"due_date"`
}

// Task is a task as returned by the provider.
type Task struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Notes  string `json:"notes,omitempty"`
	Due    string `json:"due,omitempty"`
	Status string `json:"status,omitempty"`
}

// DeleteOutcome describes what a delete-by-title call did.
type DeleteOutcome string

const (
	// DeleteOutcomeDeleted means exactly one task matched and was deleted.
	DeleteOutcomeDeleted DeleteOutcome = "deleted"
	// DeleteOutcomeNotFound means no task carries the title.
	DeleteOutcomeNotFound DeleteOutcome = "not_found"
	// DeleteOutcomeAmbiguous means several tasks share the title and nothing was deleted.
	DeleteOutcomeAmbiguous DeleteOutcome = "ambiguous"
)

// HistoryRole identifies the speaker of a chat history entry.
type HistoryRole string

const (
	HistoryRoleUser      HistoryRole = "user"
	HistoryRoleAssistant HistoryRole = "assistant"
)

// HistoryEntry is one turn of a sender's conversation with the model.
type HistoryEntry struct {
	Role      HistoryRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"created_at"`
}

// API Response types for consistent JSON responses

// APIStatus is the status field of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  APIStatus   `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}
