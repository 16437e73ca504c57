package llm

import (
	"context"
	"sync"
)

// MockCall records one Generate invocation against a MockClient.
type MockCall struct {
	System string
	Prompt string
	Params GenerationParams
}

// MockClient is a scripted LLMClient for tests and keyless demo runs.
// Responses are consumed in FIFO order; once the queue drains, every
// call returns DefaultResponse.
type MockClient struct {
	mu              sync.Mutex
	queue           []string
	err             error
	calls           []MockCall
	DefaultResponse string
}

func NewMockClient(responses ...string) *MockClient {
	return &MockClient{
		queue:           responses,
		DefaultResponse: "This is a mock answer grounded in the provided snippets.",
	}
}

// Enqueue appends scripted responses to the queue.
func (m *MockClient) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, responses...)
}

// FailWith makes every subsequent Generate call return err. Pass nil
// to clear the failure.
func (m *MockClient) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of the recorded invocations.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Generate implements the LLMClient interface
func (m *MockClient) Generate(ctx context.Context, system, prompt string,
	params GenerationParams) (string, error) {

	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{System: system, Prompt: prompt, Params: params})
	if m.err != nil {
		return "", m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	return m.DefaultResponse, nil
}
