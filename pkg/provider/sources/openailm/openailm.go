// Package openailm adapts OpenAI compatible chat completion endpoints.
package openailm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/llm"
	"botcore/pkg/provider"
	"botcore/pkg/tools"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	TypeOpenAI = "openai_chat_completion"
	TypeZhipu  = "zhipu_chat_completion"

	zhipuBaseURL = "https://open.bigmodel.cn/api/paas/v4/"

	defaultOpenAIModel = "gpt-4o-mini"
	defaultZhipuModel  = "glm-4-flash"

	// maxToolRounds bounds the tool calls answered within one user turn.
	maxToolRounds = 5
)

var registerOnce sync.Once

// Register adds the OpenAI and Zhipu adapters to the provider registry.
func Register() {
	registerOnce.Do(func() {
		provider.RegisterChat(TypeOpenAI, Constructor("", defaultOpenAIModel))
		provider.RegisterChat(TypeZhipu, Constructor(zhipuBaseURL, defaultZhipuModel))
	})
}

// Provider talks to a /chat/completions endpoint.
type Provider struct {
	*provider.ChatBase

	client *openai.Client
	http   *http.Client
	cfg    provider.AdapterConfig
}

// Constructor returns a constructor that falls back to baseURL and model
// when the entry leaves api_base or model_config.model empty.
func Constructor(baseURL, model string) provider.ChatConstructor {
	return func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool) (provider.ChatProvider, error) {
		return New(entry, settings, database, persist, baseURL, model)
	}
}

func New(entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool, baseURL, model string) (*Provider, error) {
	cfg, err := provider.DecodeAdapterConfig(entry)
	if err != nil {
		return nil, err
	}
	key, err := cfg.RequireKey(entry)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient()
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(2),
	}
	if cfg.APIBase != "" {
		baseURL = cfg.APIBase
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)

	p := &Provider{
		ChatBase: provider.NewChatBase(entry, settings, database, persist, cfg.ModelOr(model)),
		client:   &client,
		http:     httpClient,
		cfg:      cfg,
	}
	slog.Info("OpenAI compatible provider initialized", "provider", entry.ID, "model", p.Model(), "base_url", baseURL)
	return p, nil
}

func (p *Provider) TextChat(ctx context.Context, req provider.ChatRequest) (*llm.Response, error) {
	conv, user, err := p.Conversation(ctx, req)
	if err != nil {
		return nil, err
	}

	msgs, err := p.convertMessages(p.SystemPrompt(req), conv)
	if err != nil {
		return nil, err
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.Model()),
		Messages: msgs,
	}
	if t := p.cfg.ModelConfig.Temperature; t != nil {
		params.Temperature = openai.Float(*t)
	}
	if n := p.cfg.ModelConfig.MaxTokens; n > 0 {
		params.MaxTokens = openai.Int(int64(n))
	}

	reg := p.Tools()
	if defs := toolParams(reg); len(defs) > 0 {
		params.Tools = defs
	}

	var completion *openai.ChatCompletion
	for round := 0; ; round++ {
		completion, err = p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("provider %s: chat completion failed: %w", p.ID(), err)
		}
		if len(completion.Choices) == 0 {
			return nil, fmt.Errorf("provider %s: empty completion", p.ID())
		}
		calls := completion.Choices[0].Message.ToolCalls
		if len(calls) == 0 || reg == nil {
			break
		}
		if round == maxToolRounds {
			slog.Warn("Tool call limit reached", "provider", p.ID(), "rounds", round)
			break
		}
		// Tool traffic stays in this request; only the final answer is recorded.
		params.Messages = append(params.Messages, completion.Choices[0].Message.ToParam())
		for _, tc := range calls {
			out := reg.Call(ctx, tc.Function.Name, tc.Function.Arguments)
			params.Messages = append(params.Messages, openai.ToolMessage(out, tc.ID))
		}
	}

	choice := completion.Choices[0]
	resp := &llm.Response{
		Text:         choice.Message.Content,
		Model:        completion.Model,
		FinishReason: provider.NormalizeStopReason(string(choice.FinishReason)),
		Usage: &llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	p.Record(ctx, req, user, resp)
	return resp, nil
}

func (p *Provider) convertMessages(systemPrompt string, conv []llm.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv)+1)
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}

	for _, m := range conv {
		switch m.Role {
		case llm.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.GetTextContent()))
		case llm.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.GetTextContent()))
		case llm.RoleUser:
			if !m.HasImages() {
				msgs = append(msgs, openai.UserMessage(m.GetTextContent()))
				continue
			}
			var parts []openai.ChatCompletionContentPartUnionParam
			for _, block := range m.Content {
				switch block.Type {
				case llm.BlockTypeText:
					parts = append(parts, openai.TextContentPart(block.Text))
				case llm.BlockTypeImage:
					if block.Source == nil {
						continue
					}
					u, err := block.Source.DataURL()
					if err != nil {
						return nil, fmt.Errorf("provider %s: %w", p.ID(), err)
					}
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: u}))
				}
			}
			msgs = append(msgs, openai.UserMessage(parts))
		}
	}
	return msgs, nil
}

func toolParams(reg *tools.ToolRegistry) []openai.ChatCompletionToolUnionParam {
	if reg == nil {
		return nil
	}
	var defs []openai.ChatCompletionToolUnionParam
	for _, t := range reg.GetAll() {
		defs = append(defs, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name(),
			Description: openai.String(t.Description()),
			Parameters:  openai.FunctionParameters(tools.Schema(t)),
		}))
	}
	return defs
}

// Terminate drops pooled connections.
func (p *Provider) Terminate(context.Context) error {
	p.http.CloseIdleConnections()
	return nil
}
