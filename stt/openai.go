package stt

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIConfig configures the OpenAI transcription provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string        // optional, defaults to the OpenAI API
	Model   string        // optional, defaults to whisper-1
	Timeout time.Duration // optional, per request
}

// OpenAI transcribes audio with the OpenAI audio transcription endpoint.
type OpenAI struct {
	client openai.Client
	model  string
	ready  bool
}

// NewOpenAI creates the provider. It is not ready without an API key.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(timeout),
		// Commands are stale by the time a slow retry succeeds.
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		ready:  cfg.APIKey != "",
	}
}

func (o *OpenAI) Name() string        { return "openai" }
func (o *OpenAI) DisplayName() string { return "OpenAI Whisper" }
func (o *OpenAI) IsReady() bool       { return o.ready }
func (o *OpenAI) Close() error        { return nil }

// Transcribe uploads audio as a WAV file and returns the recognised text.
func (o *OpenAI) Transcribe(ctx context.Context, audio []float32, language string) (*TranscribeResult, error) {
	if !o.ready {
		return nil, fmt.Errorf("%w: API key required", ErrNotReady)
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(encodeWAV(audio, SampleRate)), "audio.wav", "audio/wav"),
		Model: openai.AudioModel(o.model),
	}
	// The API detects the language when none is given; it rejects "auto".
	if language != "" && language != "auto" {
		params.Language = openai.String(language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	return &TranscribeResult{
		Text:     strings.TrimSpace(resp.Text),
		Language: language,
	}, nil
}
