// internal/models/message.go
package models

// MessageRole 消息角色
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Valid 是否为已知角色
func (r MessageRole) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Message 对话中的一条消息
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// ChatRequest POST /api/chat 请求体
type ChatRequest struct {
	Messages []Message `json:"messages"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// FinishReason 生成结束原因
type FinishReason string

const (
	FinishStop    FinishReason = "stop"
	FinishLength  FinishReason = "length"
	FinishError   FinishReason = "error"
	FinishUnknown FinishReason = "unknown"
	FinishOther   FinishReason = "other"
)

// Finish 一次生成的结束记录
type Finish struct {
	Reason FinishReason `json:"finishReason"`
	Usage  Usage        `json:"usage"`
}
