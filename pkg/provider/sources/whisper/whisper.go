// Package whisper adapts the OpenAI audio transcription API.
package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"botcore/pkg/config"
	"botcore/pkg/provider"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	Type = "openai_whisper_api"

	defaultModel = "whisper-1"
)

var registerOnce sync.Once

func Register() {
	registerOnce.Do(func() {
		provider.RegisterSTT(Type, func(ctx context.Context, entry config.ProviderEntry, settings config.ProviderSettings) (provider.STTProvider, error) {
			return New(entry)
		})
	})
}

type options struct {
	Language string `json:"language"`
}

type Provider struct {
	provider.Base

	client   *openai.Client
	http     *http.Client
	model    string
	language string
}

func New(entry config.ProviderEntry) (*Provider, error) {
	cfg, err := provider.DecodeAdapterConfig(entry)
	if err != nil {
		return nil, err
	}
	key, err := cfg.RequireKey(entry)
	if err != nil {
		return nil, err
	}
	var o options
	if err := entry.Decode(&o); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient()
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithHTTPClient(httpClient),
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	client := openai.NewClient(opts...)

	p := &Provider{
		Base:     provider.NewBase(entry),
		client:   &client,
		http:     httpClient,
		model:    cfg.ModelOr(defaultModel),
		language: o.Language,
	}
	slog.Info("Whisper provider initialized", "provider", entry.ID, "model", p.model)
	return p, nil
}

// Transcribe uploads the audio file and returns its text.
func (p *Provider) Transcribe(ctx context.Context, audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("provider %s: failed to open audio: %w", p.ID(), err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = openai.String(p.language)
	}

	tr, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("provider %s: transcription failed: %w", p.ID(), err)
	}
	return tr.Text, nil
}

func (p *Provider) Terminate(context.Context) error {
	p.http.CloseIdleConnections()
	return nil
}
