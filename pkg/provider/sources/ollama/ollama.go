// Package ollama adapts a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/llm"
	"botcore/pkg/provider"

	"github.com/ollama/ollama/api"
)

const (
	Type = "ollama_chat_completion"

	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		provider.RegisterChat(Type, func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool) (provider.ChatProvider, error) {
			return New(ctx, entry, settings, database, persist)
		})
	})
}

type options struct {
	// Heartbeat makes construction fail when the server is unreachable.
	Heartbeat bool `json:"heartbeat"`
	// KeepAlive is passed through, e.g. "5m".
	KeepAlive string `json:"keep_alive"`
}

// OllamaClient Ollama API provider
type OllamaClient struct {
	*provider.ChatBase

	client *api.Client
	http   *http.Client
	cfg    provider.AdapterConfig
	opts   options
}

func New(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool) (*OllamaClient, error) {
	cfg, err := provider.DecodeAdapterConfig(entry)
	if err != nil {
		return nil, err
	}
	var o options
	if err := entry.Decode(&o); err != nil {
		return nil, err
	}

	base := cfg.APIBase
	if base == "" {
		base = defaultBaseURL
	}
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("provider %s: invalid base URL: %w", entry.ID, err)
	}

	httpClient := cfg.HTTPClient()
	client := api.NewClient(u, httpClient)
	if o.Heartbeat {
		if err := client.Heartbeat(ctx); err != nil {
			return nil, fmt.Errorf("provider %s: ollama unreachable at %s: %w", entry.ID, base, err)
		}
	}

	c := &OllamaClient{
		ChatBase: provider.NewChatBase(entry, settings, database, persist, cfg.ModelOr(defaultModel)),
		client:   client,
		http:     httpClient,
		cfg:      cfg,
		opts:     o,
	}
	slog.Info("Ollama provider initialized", "provider", entry.ID, "model", c.Model(), "base_url", base)
	return c, nil
}

func (o *OllamaClient) TextChat(ctx context.Context, req provider.ChatRequest) (*llm.Response, error) {
	conv, user, err := o.Conversation(ctx, req)
	if err != nil {
		return nil, err
	}
	msgs, err := o.convertMessages(o.SystemPrompt(req), conv)
	if err != nil {
		return nil, err
	}

	stream := false
	chatReq := &api.ChatRequest{
		Model:    o.Model(),
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if t := o.cfg.ModelConfig.Temperature; t != nil {
		chatReq.Options["temperature"] = *t
	}
	if n := o.cfg.ModelConfig.MaxTokens; n > 0 {
		chatReq.Options["num_predict"] = n
	}
	if o.opts.KeepAlive != "" {
		if d, err := parseKeepAlive(o.opts.KeepAlive); err == nil {
			chatReq.KeepAlive = d
		} else {
			slog.Warn("Ignoring invalid keep_alive", "provider", o.ID(), "value", o.opts.KeepAlive, "error", err)
		}
	}

	var text strings.Builder
	resp := &llm.Response{Model: o.Model()}
	err = o.client.Chat(ctx, chatReq, func(cr api.ChatResponse) error {
		text.WriteString(cr.Message.Content)
		if cr.Done {
			resp.Model = cr.Model
			resp.FinishReason = provider.NormalizeStopReason(cr.DoneReason)
			resp.Usage = &llm.Usage{
				PromptTokens:     cr.PromptEvalCount,
				CompletionTokens: cr.EvalCount,
				TotalTokens:      cr.PromptEvalCount + cr.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: chat failed: %w", o.ID(), err)
	}
	resp.Text = text.String()

	o.Record(ctx, req, user, resp)
	return resp, nil
}

// convertMessages flattens each message into text plus raw images; Ollama
// cannot fetch remote images, so URL images are dropped with a warning.
func (o *OllamaClient) convertMessages(systemPrompt string, messages []llm.Message) ([]api.Message, error) {
	out := make([]api.Message, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, api.Message{Role: llm.RoleSystem, Content: systemPrompt})
	}

	for _, m := range messages {
		msg := api.Message{Role: m.Role, Content: m.GetTextContent()}
		for _, block := range m.Images() {
			if block.Source.Type == "url" {
				slog.Warn("Skipping remote image", "provider", o.ID(), "url", block.Source.URL)
				continue
			}
			data, err := block.Source.Bytes()
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", o.ID(), err)
			}
			msg.Images = append(msg.Images, api.ImageData(data))
		}
		out = append(out, msg)
	}
	return out, nil
}

func parseKeepAlive(s string) (*api.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, err
	}
	return &api.Duration{Duration: d}, nil
}

func (o *OllamaClient) Terminate(context.Context) error {
	o.http.CloseIdleConnections()
	return nil
}
