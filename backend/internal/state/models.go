package state

import (
	"fmt"
	"strings"
	"time"

	"voice-bridge/backend/internal/constants"
)

// SessionConfig is the mutable configuration of one live session
type SessionConfig struct {
	Voice             string `json:"voice"`
	Model             string `json:"model"`
	Language          string `json:"language"`
	Mode              string `json:"mode"`                         // chat or live_analysis
	SystemInstruction string `json:"system_instruction,omitempty"` // Forced instruction, if the caller supplied one
	ConversationID    string `json:"conversation_id,omitempty"`    // Existing conversation to continue
	EnableReport      bool   `json:"enable_report"`                // Generate a report after every turn

	Stats *ReportStats `json:"stats,omitempty"`
}

// WithDefaults fills empty fields from the given defaults
func (c SessionConfig) WithDefaults(voice, model, language string) SessionConfig {
	if strings.TrimSpace(c.Voice) == "" {
		c.Voice = voice
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = model
	}
	if strings.TrimSpace(c.Language) == "" {
		c.Language = language
	}
	if c.Mode == "" {
		c.Mode = constants.ModeChat
	}
	return c
}

// Validate checks if the SessionConfig is usable for an upstream connection
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return ErrInvalidSessionConfig{Field: "model", Reason: "cannot be empty"}
	}
	if strings.TrimSpace(c.Voice) == "" {
		return ErrInvalidSessionConfig{Field: "voice", Reason: "cannot be empty"}
	}
	switch c.Mode {
	case constants.ModeChat, constants.ModeLiveAnalysis:
	default:
		return ErrInvalidSessionConfig{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", c.Mode)}
	}
	return nil
}

// ConversationRef is the causal chain position of a conversation
type ConversationRef struct {
	ConversationID string `json:"conversation_id"`
	LastMessageID  string `json:"last_message_id"`
}

// ParentID returns the id the next message should link to
func (r ConversationRef) ParentID() string {
	if r.LastMessageID == "" {
		return constants.NoParentMessageID
	}
	return r.LastMessageID
}

// Message is a single persisted conversation message
type Message struct {
	MessageID       string    `json:"message_id"`
	ParentMessageID string    `json:"parent_message_id"`
	ConversationID  string    `json:"conversation_id"`
	UserID          string    `json:"user_id"`
	Sender          string    `json:"sender"`
	Text            string    `json:"text"`
	IsCreatedByUser bool      `json:"is_created_by_user"`
	Model           string    `json:"model,omitempty"`
	Endpoint        string    `json:"endpoint,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ConversationMeta is the conversation record upserted alongside messages
type ConversationMeta struct {
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Title          string    `json:"title"`
	Model          string    `json:"model,omitempty"`
	Endpoint       string    `json:"endpoint,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ReportStats are the occupational-health counters a report may cite.
// Nil pointer fields are unknown and are left out of the report.
type ReportStats struct {
	Workers         int  `json:"workers"`
	WorkAccidents   int  `json:"work_accidents"`
	LostDays        int  `json:"lost_days"`
	ChargedDays     int  `json:"charged_days"`
	FatalAccidents  *int `json:"fatal_accidents,omitempty"`
	NewDiseaseCases *int `json:"new_disease_cases,omitempty"`
	OldDiseaseCases *int `json:"old_disease_cases,omitempty"`
}

// Errors

type ErrInvalidSessionConfig struct {
	Field  string
	Reason string
}

func (e ErrInvalidSessionConfig) Error() string {
	return fmt.Sprintf("invalid session config: %s - %s", e.Field, e.Reason)
}
