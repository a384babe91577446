package anthropic

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/assistant0/assistant0/runtime/agent/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestComplete_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5", MaxTokens: 128})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stub.resp = &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}

	resp, err := cl.Complete(context.Background(), model.Request{
		System:   "You are Assistant0.",
		Messages: []model.Message{model.UserMessage("hello")},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Message.Content != "world" {
		t.Fatalf("unexpected text %q", resp.Message.Content)
	}
	if resp.StopReason != string(sdk.StopReasonEndTurn) {
		t.Fatalf("unexpected stop reason %q", resp.StopReason)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
	if len(stub.lastParams.System) != 1 || stub.lastParams.System[0].Text != "You are Assistant0." {
		t.Fatalf("system prompt not forwarded: %+v", stub.lastParams.System)
	}
	if stub.lastParams.MaxTokens != 128 {
		t.Fatalf("unexpected max tokens %d", stub.lastParams.MaxTokens)
	}
}

func TestComplete_ToolUse(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{{
			Type:  "tool_use",
			Name:  "shop_online",
			ID:    "tool-1",
			Input: json.RawMessage(`{"product":"headphones","qty":1}`),
		}},
		StopReason: sdk.StopReasonToolUse,
	}

	resp, err := cl.Complete(context.Background(), model.Request{
		Messages: []model.Message{model.UserMessage("buy headphones")},
		Tools: []model.ToolDefinition{{
			Name:        "shop_online",
			Description: "Buy a product",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"product": map[string]any{"type": "string"}},
				"required":   []string{"product"},
			},
		}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.Message.ToolCalls))
	}
	call := resp.Message.ToolCalls[0]
	if call.Name != "shop_online" || call.ID != "tool-1" {
		t.Fatalf("unexpected call %+v", call)
	}
	if string(call.Args) != `{"product":"headphones","qty":1}` {
		t.Fatalf("unexpected args %s", string(call.Args))
	}
	if len(stub.lastParams.Tools) != 1 || stub.lastParams.Tools[0].OfTool == nil {
		t.Fatalf("tool not advertised: %+v", stub.lastParams.Tools)
	}
	if got := stub.lastParams.Tools[0].OfTool.InputSchema.Required; len(got) != 1 || got[0] != "product" {
		t.Fatalf("unexpected required fields %v", got)
	}
}

func TestEncodeMessages_GroupsToolResults(t *testing.T) {
	c1 := model.ToolCall{ID: "c1", Name: "calculator", Args: []byte(`{"expression":"1+1"}`)}
	c2 := model.ToolCall{ID: "c2", Name: "calculator", Args: []byte(`{"expression":"2+2"}`)}
	msgs, err := encodeMessages([]model.Message{
		model.UserMessage("sums"),
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{c1, c2}},
		model.ToolResult(c1, "2", false),
		model.ToolResult(c2, "4", false),
		{Role: model.RoleAssistant, Content: "2 and 4"},
	}, nil)
	if err != nil {
		t.Fatalf("encodeMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(msgs))
	}
	if msgs[2].Role != sdk.MessageParamRoleUser || len(msgs[2].Content) != 2 {
		t.Fatalf("tool results not grouped: %+v", msgs[2])
	}
}

func TestSanitizeToolName(t *testing.T) {
	if got := sanitizeToolName("web.search"); got != "web_search" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
	if got := sanitizeToolName("get_tasks"); got != "get_tasks" {
		t.Fatalf("safe name changed: %q", got)
	}
}

func TestComplete_RateLimited(t *testing.T) {
	stub := &stubMessagesClient{err: &sdk.Error{StatusCode: 429}}
	cl, err := New(stub, Options{DefaultModel: "claude-sonnet-4-5"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = cl.Complete(context.Background(), model.Request{Messages: []model.Message{model.UserMessage("hi")}})
	pe, ok := model.AsProviderError(err)
	if !ok {
		t.Fatalf("expected provider error, got %T", err)
	}
	if !pe.Retryable() || pe.Kind != model.ProviderErrorKindRateLimited {
		t.Fatalf("unexpected classification %s", pe.Kind)
	}
}
