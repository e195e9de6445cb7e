package api

import "fmt"

var validRoles = map[string]bool{
	RoleSystem:    true,
	RoleUser:      true,
	RoleAssistant: true,
}

// ValidateChatRequest checks a decoded ChatRequest for structural validity.
// It returns nil when the request is acceptable, or an APIError describing
// the first violation found. Validation never touches the upstream credential.
func ValidateChatRequest(req *ChatRequest) *APIError {
	if len(req.Messages) == 0 {
		return NewInvalidRequestError("messages", "messages must not be empty")
	}

	for i, msg := range req.Messages {
		if msg.Role == "" {
			return NewInvalidRequestError(
				fmt.Sprintf("messages[%d].role", i), "role is required")
		}
		if !validRoles[msg.Role] {
			return NewInvalidRequestError(
				fmt.Sprintf("messages[%d].role", i),
				fmt.Sprintf("role must be %q, %q, or %q", RoleSystem, RoleUser, RoleAssistant))
		}
		if msg.Content == "" {
			return NewInvalidRequestError(
				fmt.Sprintf("messages[%d].content", i), "content is required")
		}
	}

	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return NewInvalidRequestError("temperature", "temperature must be between 0 and 2")
	}
	if req.MaxTokens != nil && *req.MaxTokens <= 0 {
		return NewInvalidRequestError("max_tokens", "max_tokens must be a positive integer")
	}

	return nil
}
