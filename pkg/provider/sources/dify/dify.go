// Package dify adapts a Dify application. Dify keeps the conversation on
// its side, so the provider only tracks the conversation id per session.
package dify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"botcore/pkg/config"
	"botcore/pkg/db"
	"botcore/pkg/llm"
	"botcore/pkg/provider"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	Type = "dify"

	defaultBaseURL   = "https://api.dify.ai/v1"
	defaultOutputKey = "text"

	APIChat     = "chat"
	APIWorkflow = "workflow"
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		provider.RegisterChat(Type, func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool) (provider.ChatProvider, error) {
			return New(entry, settings, database, persist)
		})
	})
}

type options struct {
	APIKey  string `json:"dify_api_key"`
	APIBase string `json:"dify_api_base"`
	// APIType is "chat" (chat and agent apps) or "workflow".
	APIType string `json:"dify_api_type"`
	// OutputKey names the workflow output returned as the reply.
	OutputKey string `json:"dify_workflow_output_key"`
}

// Provider calls the Dify service API.
type Provider struct {
	*provider.ChatBase

	http    *http.Client
	baseURL string
	apiKey  string
	opts    options

	mu            sync.Mutex
	conversations map[string]string
}

func New(entry config.ProviderEntry, settings config.ProviderSettings, database db.Database, persist bool) (*Provider, error) {
	cfg, err := provider.DecodeAdapterConfig(entry)
	if err != nil {
		return nil, err
	}
	var o options
	if err := entry.Decode(&o); err != nil {
		return nil, err
	}

	key := o.APIKey
	if key == "" {
		if key, err = cfg.RequireKey(entry); err != nil {
			return nil, err
		}
	}
	base := o.APIBase
	if base == "" {
		base = cfg.APIBase
	}
	if base == "" {
		base = defaultBaseURL
	}
	switch o.APIType {
	case "", "agent":
		o.APIType = APIChat
	case APIChat, APIWorkflow:
	default:
		return nil, fmt.Errorf("provider %s: unsupported dify_api_type %q", entry.ID, o.APIType)
	}
	if o.OutputKey == "" {
		o.OutputKey = defaultOutputKey
	}

	p := &Provider{
		ChatBase:      provider.NewChatBase(entry, settings, database, persist, cfg.ModelOr("dify-"+o.APIType)),
		http:          cfg.HTTPClient(),
		baseURL:       strings.TrimSuffix(base, "/"),
		apiKey:        key,
		opts:          o,
		conversations: make(map[string]string),
	}
	slog.Info("Dify provider initialized", "provider", entry.ID, "api_type", o.APIType, "base_url", p.baseURL)
	return p, nil
}

type chatRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	ConversationID string         `json:"conversation_id,omitempty"`
	User           string         `json:"user"`
}

type chatResponse struct {
	Answer         string `json:"answer"`
	ConversationID string `json:"conversation_id"`
	Metadata       struct {
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	} `json:"metadata"`
}

type workflowRequest struct {
	Inputs       map[string]any `json:"inputs"`
	ResponseMode string         `json:"response_mode"`
	User         string         `json:"user"`
}

type workflowResponse struct {
	Data struct {
		Status      string         `json:"status"`
		Outputs     map[string]any `json:"outputs"`
		Error       string         `json:"error"`
		TotalTokens int            `json:"total_tokens"`
	} `json:"data"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (p *Provider) TextChat(ctx context.Context, req provider.ChatRequest) (*llm.Response, error) {
	if len(req.Images) > 0 {
		slog.Warn("Dify provider ignores images", "provider", p.ID(), "count", len(req.Images))
	}
	user := llm.NewUserMessage(req.Prompt)

	var (
		resp *llm.Response
		err  error
	)
	switch p.opts.APIType {
	case APIWorkflow:
		resp, err = p.runWorkflow(ctx, req)
	default:
		resp, err = p.chat(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	p.Record(ctx, req, user, resp)
	return resp, nil
}

func (p *Provider) chat(ctx context.Context, req provider.ChatRequest) (*llm.Response, error) {
	body := chatRequest{
		Inputs:         p.inputs(req),
		Query:          req.Prompt,
		ResponseMode:   "blocking",
		ConversationID: p.conversation(req.SessionID),
		User:           req.SessionID,
	}
	var out chatResponse
	if err := p.post(ctx, "/chat-messages", body, &out); err != nil {
		return nil, err
	}
	if out.ConversationID != "" {
		p.mu.Lock()
		p.conversations[req.SessionID] = out.ConversationID
		p.mu.Unlock()
	}
	u := out.Metadata.Usage
	return &llm.Response{
		Text:         out.Answer,
		Model:        p.Model(),
		FinishReason: llm.StopReasonStop,
		Usage: &llm.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		},
	}, nil
}

func (p *Provider) runWorkflow(ctx context.Context, req provider.ChatRequest) (*llm.Response, error) {
	inputs := p.inputs(req)
	inputs["query"] = req.Prompt
	body := workflowRequest{Inputs: inputs, ResponseMode: "blocking", User: req.SessionID}

	var out workflowResponse
	if err := p.post(ctx, "/workflows/run", body, &out); err != nil {
		return nil, err
	}
	if out.Data.Status != "" && out.Data.Status != "succeeded" {
		return nil, fmt.Errorf("provider %s: workflow %s: %s", p.ID(), out.Data.Status, out.Data.Error)
	}
	v, ok := out.Data.Outputs[p.opts.OutputKey]
	if !ok {
		return nil, fmt.Errorf("provider %s: workflow output %q missing", p.ID(), p.opts.OutputKey)
	}
	text, ok := v.(string)
	if !ok {
		raw, _ := json.Marshal(v)
		text = string(raw)
	}
	return &llm.Response{
		Text:         text,
		Model:        p.Model(),
		FinishReason: llm.StopReasonStop,
		Usage:        &llm.Usage{TotalTokens: out.Data.TotalTokens},
	}, nil
}

func (p *Provider) inputs(req provider.ChatRequest) map[string]any {
	inputs := map[string]any{}
	if sp := p.SystemPrompt(req); sp != "" {
		inputs["system_prompt"] = sp
	}
	return inputs
}

func (p *Provider) conversation(sessionID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversations[sessionID]
}

func (p *Provider) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := p.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("provider %s: dify request failed: %w", p.ID(), err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("provider %s: read dify response: %w", p.ID(), err)
	}
	if res.StatusCode >= http.StatusBadRequest {
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("provider %s: dify %d %s: %s", p.ID(), res.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("provider %s: dify returned %s", p.ID(), res.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("provider %s: decode dify response: %w", p.ID(), err)
	}
	return nil
}

// Forget also starts a new Dify conversation for the session.
func (p *Provider) Forget(ctx context.Context, sessionID string) error {
	p.mu.Lock()
	delete(p.conversations, sessionID)
	p.mu.Unlock()
	return p.ChatBase.Forget(ctx, sessionID)
}

func (p *Provider) Terminate(context.Context) error {
	p.http.CloseIdleConnections()
	return nil
}
