package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a scripted Provider implementation for tests.
//
// Invoke pops responses from Responses in order; InvokeStream pops scripts
// from Streams. When a queue is exhausted the zero behavior is a finish
// decision (Invoke) or a single empty finished chunk (InvokeStream), so loop
// tests terminate instead of hanging.
type MockProvider struct {
	mu sync.Mutex

	// Responses are returned by successive Invoke calls.
	Responses []*Response

	// Errors, when non-nil at the same index as a nil response, is returned
	// by Invoke instead.
	Errors []error

	// Streams are returned by successive InvokeStream calls. Each script is
	// emitted as one chunk per entry, then a finished chunk.
	Streams [][]string

	// StreamErr, when set, is emitted as a terminal error chunk at the end of
	// every stream.
	StreamErr error

	// Requests records every request seen, in order.
	Requests []*Request

	invokeCount int
	streamCount int
}

// Invoke returns the next scripted response.
func (m *MockProvider) Invoke(_ context.Context, req *Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	i := m.invokeCount
	m.invokeCount++

	if i < len(m.Errors) && m.Errors[i] != nil {
		return nil, m.Errors[i]
	}
	if i < len(m.Responses) {
		return m.Responses[i], nil
	}
	// Script exhausted: default to finishing so loop tests terminate.
	return &Response{Decision: &Decision{Kind: DecisionFinish}}, nil
}

// InvokeStream returns a channel replaying the next scripted stream.
func (m *MockProvider) InvokeStream(_ context.Context, req *Request) (<-chan *StreamChunk, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	i := m.streamCount
	m.streamCount++
	var script []string
	if i < len(m.Streams) {
		script = m.Streams[i]
	}
	streamErr := m.StreamErr
	m.mu.Unlock()

	ch := make(chan *StreamChunk, len(script)+1)
	go func() {
		defer close(ch)
		for _, chunk := range script {
			ch <- &StreamChunk{Content: chunk}
		}
		if streamErr != nil {
			ch <- &StreamChunk{Error: streamErr}
			return
		}
		ch <- &StreamChunk{Finished: true}
	}()
	return ch, nil
}

// GetModel returns a placeholder model name.
func (m *MockProvider) GetModel() string {
	return "mock"
}

// InvokeCount returns how many Invoke calls have been made.
func (m *MockProvider) InvokeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invokeCount
}

// LastRequest returns the most recent request, or an error if none were made.
func (m *MockProvider) LastRequest() (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return nil, fmt.Errorf("no requests recorded")
	}
	return m.Requests[len(m.Requests)-1], nil
}
