package api

type ChatRole string

const (
	RoleSystem    ChatRole = "system"
	RoleHuman     ChatRole = "human"
	RoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}
