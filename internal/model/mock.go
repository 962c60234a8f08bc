// ABOUTME: Scriptable in-memory Model for tests and local runs
// ABOUTME: Replays fixed chunks with optional failure injection and step gating

package model

import (
	"context"
	"sync"
)

// MockModel is a lightweight in-memory Model used by tests.
// Each OpenStream call replays the configured chunks, optionally failing
// after a number of chunks and optionally waiting on a gate before each one.
type MockModel struct {
	info Info

	mu        sync.Mutex
	chunks    []string
	openErr   error
	failErr   error
	failAfter int
	gate      <-chan struct{}
	prompts   []string
	streams   []*MockStream
}

// MockOption configures a MockModel.
type MockOption func(m *MockModel)

// WithOpenError makes OpenStream fail with err.
func WithOpenError(err error) MockOption {
	return func(m *MockModel) { m.openErr = err }
}

// WithFailure makes the stream fail with err after n chunks were delivered.
func WithFailure(n int, err error) MockOption {
	return func(m *MockModel) {
		m.failAfter = n
		m.failErr = err
	}
}

// WithGate makes every Next call wait for a value on gate (or ctx cancellation)
// before producing the next chunk or the terminal result.
func WithGate(gate <-chan struct{}) MockOption {
	return func(m *MockModel) { m.gate = gate }
}

// NewMockModel constructs a MockModel that streams chunks in order.
func NewMockModel(chunks []string, opts ...MockOption) *MockModel {
	m := &MockModel{
		info:      Info{Name: "mock", Provider: "mock"},
		chunks:    chunks,
		failAfter: -1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OpenStream implements Model.
func (m *MockModel) OpenStream(ctx context.Context, prompt string) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, prompt)
	if m.openErr != nil {
		return nil, m.openErr
	}

	s := &MockStream{
		ctx:       ctx,
		chunks:    append([]string(nil), m.chunks...),
		failAfter: m.failAfter,
		failErr:   m.failErr,
		gate:      m.gate,
	}
	m.streams = append(m.streams, s)
	return s, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

// Prompts returns every prompt passed to OpenStream.
func (m *MockModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// Streams returns every stream opened so far.
func (m *MockModel) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockStream(nil), m.streams...)
}

// MockStream is the Stream returned by MockModel.
type MockStream struct {
	ctx       context.Context
	chunks    []string
	failAfter int
	failErr   error
	gate      <-chan struct{}

	mu      sync.Mutex
	pos     int
	current Chunk
	err     error
	closed  bool
	done    bool
}

// Next implements Stream.
func (s *MockStream) Next() bool {
	s.mu.Lock()
	if s.done || s.closed {
		s.mu.Unlock()
		return false
	}
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-s.ctx.Done():
			return s.finish(s.ctx.Err())
		}
	}
	if err := s.ctx.Err(); err != nil {
		return s.finish(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.done = true
		s.err = ErrStreamClosed
		return false
	}
	if s.failAfter >= 0 && s.pos >= s.failAfter {
		s.done = true
		s.err = s.failErr
		return false
	}
	if s.pos >= len(s.chunks) {
		s.done = true
		return false
	}

	s.current = Chunk{Delta: s.chunks[s.pos]}
	s.pos++
	if s.pos == len(s.chunks) && s.failAfter < 0 {
		s.current.FinishReason = "stop"
	}
	return true
}

func (s *MockStream) finish(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	s.err = err
	return false
}

// Current implements Stream.
func (s *MockStream) Current() Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err implements Stream.
func (s *MockStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements Stream.
func (s *MockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Delivered returns how many chunks were produced.
func (s *MockStream) Delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}
