// ABOUTME: Generative model abstraction shared by all providers
// ABOUTME: Defines Model, Stream and Chunk used by responders to consume incremental output

package model

import (
	"context"
	"errors"
)

// ErrStreamClosed is reported by streams that were closed before they were exhausted.
var ErrStreamClosed = errors.New("stream closed")

// Chunk is one incremental piece of model output.
type Chunk struct {
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"` // "stop", "length", ... on the last chunk
}

// Text returns the text carried by the chunk. It may be empty.
func (c Chunk) Text() string { return c.Delta }

// Stream is an incremental generation in progress. It follows the iterator
// shape of the provider SDKs:
//
//	for s.Next() {
//		chunk := s.Current()
//	}
//	if err := s.Err(); err != nil { ... }
//
// Close releases the underlying connection and is safe to call more than once.
type Stream interface {
	Next() bool
	Current() Chunk
	Err() error
	Close() error
}

// Info contains metadata about a model implementation.
type Info struct {
	Name        string  `json:"name"`
	Provider    string  `json:"provider"` // "openai", "gemini", "anthropic", "mock"
	Temperature float64 `json:"temperature"`
}

// Model opens incremental generations for a prompt.
type Model interface {
	// OpenStream starts generating a completion for prompt. Failures may be
	// reported here or later through Stream.Err. Cancelling ctx aborts the
	// generation.
	OpenStream(ctx context.Context, prompt string) (Stream, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Options configure provider adapters.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
}
