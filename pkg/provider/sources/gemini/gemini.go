// Package gemini adapts the Google Gen AI chat API.
package gemini

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

	"google.golang.org/genai"
)

const (
	Type = "googlegenai_chat_completion"

	defaultModel = "gemini-2.0-flash"
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		provider.RegisterChat(Type, func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool) (provider.ChatProvider, error) {
			return New(ctx, entry, settings, database, persist)
		})
	})
}

// GeminiClient Google Gemini API provider
type GeminiClient struct {
	*provider.ChatBase

	client *genai.Client
	http   *http.Client
	cfg    provider.AdapterConfig
}

func New(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool) (*GeminiClient, error) {
	cfg, err := provider.DecodeAdapterConfig(entry)
	if err != nil {
		return nil, err
	}
	key, err := cfg.RequireKey(entry)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient()
	cc := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.APIBase != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.APIBase}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("provider %s: failed to create gemini client: %w", entry.ID, err)
	}

	g := &GeminiClient{
		ChatBase: provider.NewChatBase(entry, settings, database, persist, cfg.ModelOr(defaultModel)),
		client:   client,
		http:     httpClient,
		cfg:      cfg,
	}
	slog.Info("Gemini provider initialized", "provider", entry.ID, "model", g.Model())
	return g, nil
}

func (g *GeminiClient) TextChat(ctx context.Context, req provider.ChatRequest) (*llm.Response, error) {
	conv, user, err := g.Conversation(ctx, req)
	if err != nil {
		return nil, err
	}
	contents, err := convertMessages(conv)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", g.ID(), err)
	}

	gc := &genai.GenerateContentConfig{}
	if sp := g.SystemPrompt(req); sp != "" {
		gc.SystemInstruction = genai.NewContentFromText(sp, genai.RoleUser)
	}
	if t := g.cfg.ModelConfig.Temperature; t != nil {
		gc.Temperature = genai.Ptr(float32(*t))
	}
	if n := g.cfg.ModelConfig.MaxTokens; n > 0 {
		gc.MaxOutputTokens = int32(n)
	}

	model := g.Model()
	result, err := g.client.Models.GenerateContent(ctx, model, contents, gc)
	if err != nil {
		return nil, fmt.Errorf("provider %s: generate content failed: %w", g.ID(), err)
	}
	if len(result.Candidates) == 0 {
		return nil, fmt.Errorf("provider %s: empty response", g.ID())
	}

	resp := &llm.Response{
		Text:         result.Text(),
		Model:        model,
		FinishReason: provider.NormalizeStopReason(string(result.Candidates[0].FinishReason)),
	}
	if u := result.UsageMetadata; u != nil {
		resp.Usage = &llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	g.Record(ctx, req, user, resp)
	return resp, nil
}

// convertMessages maps the history onto Gemini contents. System turns are
// carried by SystemInstruction instead.
func convertMessages(messages []llm.Message) ([]*genai.Content, error) {
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			continue
		}
		role := genai.RoleUser
		if msg.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}

		var parts []*genai.Part
		for _, block := range msg.Content {
			switch block.Type {
			case llm.BlockTypeText:
				if block.Text == "" {
					continue // 略過空文本
				}
				parts = append(parts, genai.NewPartFromText(block.Text))
			case llm.BlockTypeImage:
				if block.Source == nil {
					continue
				}
				if block.Source.Type == "url" {
					parts = append(parts, genai.NewPartFromURI(block.Source.URL, block.Source.MediaType))
					continue
				}
				data, err := block.Source.Bytes()
				if err != nil {
					return nil, err
				}
				parts = append(parts, genai.NewPartFromBytes(data, block.Source.MediaType))
			}
		}
		if len(parts) > 0 {
			contents = append(contents, genai.NewContentFromParts(parts, genai.Role(role)))
		}
	}
	return contents, nil
}

func (g *GeminiClient) Terminate(context.Context) error {
	g.http.CloseIdleConnections()
	return nil
}
