// ABOUTME: OpenAI Chat Completions streaming backend for model.Model
// ABOUTME: Also serves Gemini through Google's OpenAI-compatible endpoint

// Package openai implements model.Model on top of the OpenAI Chat
// Completions streaming API. Any service that speaks the same protocol
// (Gemini's OpenAI-compatible endpoint, local gateways) can be reached by
// setting Options.BaseURL.
package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/2389/coven-writer/internal/model"
)

// GeminiBaseURL is Google's OpenAI-compatible Gemini endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// Model wraps the OpenAI Chat Completions API behind the model.Model interface.
type Model struct {
	client   *openai.Client
	opts     model.Options
	provider string
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *model.Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := openai.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts, provider: "openai"}
}

// NewGeminiModel creates a model that talks to Gemini through its
// OpenAI-compatible endpoint unless another BaseURL is given.
func NewGeminiModel(optFns ...func(o *model.Options)) *Model {
	fns := append([]func(o *model.Options){func(o *model.Options) {
		o.Model = "gemini-1.5-flash"
		o.BaseURL = GeminiBaseURL
	}}, optFns...)
	m := NewModel(fns...)
	m.provider = "gemini"
	return m
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *model.Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts, provider: "openai"}
}

func defaultOptions() model.Options {
	return model.Options{
		Model:       openai.ChatModelGPT4oMini,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// OpenStream implements model.Model. The prompt is sent as a single user message.
func (m *Model) OpenStream(ctx context.Context, prompt string) (model.Stream, error) {
	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       m.opts.Model,
		Temperature: openai.Float(m.opts.Temperature),
	}
	if m.opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(m.opts.MaxTokens)
	}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%s streaming error: %w", m.provider, err)
	}
	return &chatStream{stream: stream, provider: m.provider}, nil
}

// Info returns metadata describing this model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:        m.opts.Model,
		Provider:    m.provider,
		Temperature: m.opts.Temperature,
	}
}

// chatStream adapts an SSE chat completion stream to model.Stream.
// Chunks without choices (usage-only trailers) are skipped.
type chatStream struct {
	stream   *ssestream.Stream[openai.ChatCompletionChunk]
	provider string
	current  model.Chunk
}

func (s *chatStream) Next() bool {
	for s.stream.Next() {
		ck := s.stream.Current()
		if len(ck.Choices) == 0 {
			continue
		}
		ch := ck.Choices[0]
		s.current = model.Chunk{
			Delta:        ch.Delta.Content,
			FinishReason: ch.FinishReason,
		}
		return true
	}
	return false
}

func (s *chatStream) Current() model.Chunk { return s.current }

func (s *chatStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return fmt.Errorf("%s streaming error: %w", s.provider, err)
	}
	return nil
}

func (s *chatStream) Close() error { return s.stream.Close() }
