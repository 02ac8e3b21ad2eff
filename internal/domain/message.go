package domain

// Role constants for conversation turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is a single role-tagged message in the dialogue history.
// Turns are values; callers append new turns instead of editing old ones.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserTurn returns a turn authored by the user.
func UserTurn(content string) ConversationTurn {
	return ConversationTurn{Role: RoleUser, Content: content}
}

// AssistantTurn returns a turn authored by the assistant.
func AssistantTurn(content string) ConversationTurn {
	return ConversationTurn{Role: RoleAssistant, Content: content}
}

// ValidRole reports whether role is one the chat endpoint accepts.
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// ChatRequest is the JSON body posted to the chat endpoint.
type ChatRequest struct {
	Message   string             `json:"message"`
	History   []ConversationTurn `json:"history"`
	Diagnosis string             `json:"diagnosis"`
}

// Normalized returns a copy of r whose History is never nil, so it encodes
// as [] rather than null. The caller's slice is not aliased.
func (r ChatRequest) Normalized() ChatRequest {
	history := make([]ConversationTurn, len(r.History))
	copy(history, r.History)
	r.History = history
	return r
}
