// Package model defines the provider-neutral chat completion types used by
// the agent loop. Adapters under features/model translate them to the
// OpenAI, Anthropic and Bedrock SDKs.
package model

import (
	"context"
	"encoding/json"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries the result of a tool call.
	RoleTool Role = "tool"
)

type (
	// Client invokes a chat model. Implementations must be safe for
	// concurrent use.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
	}

	// Request is one completion call.
	Request struct {
		// Model is the provider model identifier.
		Model string
		// System is the system prompt.
		System string
		// Messages is the conversation so far.
		Messages []Message
		// Tools lists the tools the model may call.
		Tools []ToolDefinition
		// MaxTokens caps the completion. Zero uses the adapter default.
		MaxTokens int
		// Temperature is passed through when non-zero.
		Temperature float64
	}

	// Response is the assistant turn produced by the model.
	Response struct {
		// Message is the assistant message, with any tool calls.
		Message Message
		// Usage reports token counts when the provider returns them.
		Usage TokenUsage
		// StopReason is the provider stop reason.
		StopReason string
	}

	// Message is one conversation entry.
	Message struct {
		Role    Role   `json:"role" bson:"role"`
		Content string `json:"content,omitempty" bson:"content,omitempty"`
		// ToolCalls are the calls requested by an assistant message.
		ToolCalls []ToolCall `json:"tool_calls,omitempty" bson:"tool_calls,omitempty"`
		// ToolCallID links a tool message to the call it answers.
		ToolCallID string `json:"tool_call_id,omitempty" bson:"tool_call_id,omitempty"`
		// ToolName is the tool that produced a tool message.
		ToolName string `json:"tool_name,omitempty" bson:"tool_name,omitempty"`
		// IsError marks a tool message that reports a failure.
		IsError bool `json:"is_error,omitempty" bson:"is_error,omitempty"`
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID   string          `json:"id" bson:"id"`
		Name string          `json:"name" bson:"name"`
		Args json.RawMessage `json:"args,omitempty" bson:"args,omitempty"`
	}

	// ToolDefinition advertises a tool to the model.
	ToolDefinition struct {
		Name        string
		Description string
		// InputSchema is the JSON schema object of the tool arguments.
		InputSchema map[string]any
	}

	// TokenUsage reports token counts.
	TokenUsage struct {
		InputTokens  int
		OutputTokens int
	}
)

// UserMessage returns a user message with text.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// ToolResult returns the tool message answering call.
func ToolResult(call ToolCall, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isError,
	}
}

// ArgsOrEmpty returns the call arguments, defaulting to an empty object.
func (c ToolCall) ArgsOrEmpty() json.RawMessage {
	if len(c.Args) == 0 {
		return json.RawMessage("{}")
	}
	return c.Args
}
