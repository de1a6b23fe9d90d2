package domain

// Role defines the sender of a model message.
type Role string

const (
	// RoleUser indicates a message from the caller.
	RoleUser Role = "user"
	// RoleAssistant indicates a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem indicates system instructions that frame the conversation.
	RoleSystem Role = "system"
)
