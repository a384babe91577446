// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. It encodes the system prompt, history and tool schemas
// into a ConverseInput and translates Converse responses (text + tool_use
// blocks) back into the provider-neutral model types.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/assistant0/assistant0/runtime/agent/model"
)

const providerName = "bedrock"

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client required
// by the adapter. It matches *bedrockruntime.Client so callers can pass either
// the real client or a fake in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures the Bedrock client adapter.
type Options struct {
	// Runtime provides access to the Bedrock runtime. Required.
	Runtime RuntimeClient

	// DefaultModel is the model identifier used when a request does not name
	// one. Required.
	DefaultModel string

	// MaxTokens sets the default completion cap when a request does not specify
	// MaxTokens. When zero, Bedrock uses its own default.
	MaxTokens int

	// Temperature is used when a request does not specify Temperature.
	Temperature float64
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      RuntimeClient
	defaultModel string
	maxTok       int
	temp         float64
}

// New builds a Bedrock-backed model client.
func New(opts Options) (*Client, error) {
	if opts.Runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("default model identifier is required")
	}
	return &Client{
		runtime:      opts.Runtime,
		defaultModel: opts.DefaultModel,
		maxTok:       opts.MaxTokens,
		temp:         opts.Temperature,
	}, nil
}

// NewFromConfig loads the default AWS configuration (environment, shared
// config, instance role) and builds a client for defaultModel.
func NewFromConfig(ctx context.Context, defaultModel string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return New(Options{Runtime: bedrockruntime.NewFromConfig(cfg), DefaultModel: defaultModel})
}

// Complete issues a Converse request and translates the response into the
// assistant message with its tool calls.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	toolConfig, canonToProv, provToCanon := encodeTools(req.Tools)
	msgs, err := encodeMessages(req.Messages, canonToProv)
	if err != nil {
		return model.Response{}, err
	}
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        msgs,
		ToolConfig:      toolConfig,
		InferenceConfig: c.inferenceConfig(req),
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.Response{}, wrapBedrockError(err)
	}
	return translateResponse(out, provToCanon)
}

func (c *Client) inferenceConfig(req model.Request) *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	set := false
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
		set = true
	}
	temp := req.Temperature
	if temp <= 0 {
		temp = c.temp
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(float32(temp))
		set = true
	}
	if !set {
		return nil
	}
	return &cfg
}

// isRateLimited treats both HTTP 429 responses and throttling error codes as
// rate limiting.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusTooManyRequests
}

func wrapBedrockError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var (
		status int
		code   string
		msg    string
	)
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode()
		msg = apiErr.ErrorMessage()
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status = respErr.HTTPStatusCode()
	}
	if isRateLimited(err) {
		status = http.StatusTooManyRequests
	}
	if status == 0 && code == "" {
		return fmt.Errorf("bedrock converse: %w", err)
	}
	return model.NewProviderError(providerName, status, code, msg, err)
}

// encodeMessages maps the history to Converse messages. Consecutive tool
// results are grouped into a single user message correlated to the prior
// tool_use blocks.
func encodeMessages(msgs []model.Message, nameMap map[string]string) ([]brtypes.Message, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var results []brtypes.ContentBlock
	flush := func() {
		if len(results) > 0 {
			conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: results})
			results = nil
		}
	}
	for _, m := range msgs {
		switch m.Role {
		case model.RoleTool:
			tr := brtypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
			}
			if m.IsError {
				tr.Status = brtypes.ToolResultStatusError
			}
			results = append(results, &brtypes.ContentBlockMemberToolResult{Value: tr})
		case model.RoleUser:
			flush()
			if m.Content == "" {
				continue
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case model.RoleAssistant:
			flush()
			blocks := make([]brtypes.ContentBlock, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				name := tc.Name
				if sanitized, ok := nameMap[name]; ok {
					name = sanitized
				}
				var input any
				if err := json.Unmarshal(tc.ArgsOrEmpty(), &input); err != nil {
					return nil, fmt.Errorf("bedrock: tool_use %s arguments: %w", tc.ID, err)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(name),
					Input:     document.NewLazyDocument(input),
				}})
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
		default:
			return nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
	}
	flush()
	if len(conversation) == 0 {
		return nil, errors.New("bedrock: at least one user message is required")
	}
	return conversation, nil
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, map[string]string) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		sanitized := SanitizeToolName(def.Name)
		canonToSan[def.Name] = sanitized
		sanToCanon[sanitized] = def.Name
		schema := def.InputSchema
		if len(schema) == 0 {
			schema = map[string]any{"type": "object"}
		}
		spec := brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}
		if def.Description != "" {
			spec.Description = aws.String(def.Description)
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, canonToSan, sanToCanon
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	msg := model.Message{Role: model.RoleAssistant}
	if out, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range out.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				msg.Content += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				name := aws.ToString(v.Value.Name)
				if canonical, ok := nameMap[name]; ok {
					name = canonical
				}
				msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{
					ID:   aws.ToString(v.Value.ToolUseId),
					Name: name,
					Args: decodeDocument(v.Value.Input),
				})
			}
		}
	}
	resp := model.Response{Message: msg, StopReason: string(output.StopReason)}
	if usage := output.Usage; usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(usage.OutputTokens)),
		}
	}
	return resp, nil
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}
