// ABOUTME: Anthropic Messages API streaming backend for model.Model
// ABOUTME: Surfaces text deltas from content_block_delta events as chunks

// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/2389/coven-writer/internal/model"
)

// Model wraps the Anthropic Messages API behind the model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   model.Options
}

// NewModel creates a new Anthropic model using the official client
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

	client := anthropic.NewClient(clientOpts...)
	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *model.Options)) *Model {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

func defaultOptions() model.Options {
	return model.Options{
		Model:       string(anthropic.ModelClaude3_5Sonnet20241022),
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// OpenStream implements model.Model.
func (m *Model) OpenStream(ctx context.Context, prompt string) (model.Stream, error) {
	maxTokens := m.opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(m.opts.Model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	stream := m.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("anthropic streaming error: %w", err)
	}
	return &messageStream{stream: stream}, nil
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:        m.opts.Model,
		Provider:    "anthropic",
		Temperature: m.opts.Temperature,
	}
}

// messageStream adapts Anthropic stream events to model.Stream.
// Only text deltas and the stop reason become chunks.
type messageStream struct {
	stream  *ssestream.Stream[anthropic.MessageStreamEventUnion]
	current model.Chunk
}

func (s *messageStream) Next() bool {
	for s.stream.Next() {
		switch ev := s.stream.Current().AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok {
				s.current = model.Chunk{Delta: delta.Text}
				return true
			}
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				s.current = model.Chunk{FinishReason: string(ev.Delta.StopReason)}
				return true
			}
		}
	}
	return false
}

func (s *messageStream) Current() model.Chunk { return s.current }

func (s *messageStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return fmt.Errorf("anthropic streaming error: %w", err)
	}
	return nil
}

func (s *messageStream) Close() error { return s.stream.Close() }
