// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reasoning

import (
	"context"
	"sync"
	"time"
)

// MockBackend is a scripted backend for testing.
//
// Results are consumed in order; when the script is exhausted the default
// response is returned. All calls are recorded.
//
// Thread Safety: Safe for concurrent use.
type MockBackend struct {
	mu sync.Mutex

	name            string
	model           string
	script          []mockResult
	defaultResponse *Response
	delay           time.Duration
	calls           []*Request
}

type mockResult struct {
	resp *Response
	err  error
}

// NewMockBackend creates a mock backend with a canned default response.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		name:  "mock",
		model: "mock-model",
		defaultResponse: &Response{
			Content:      "mock analysis response",
			InputTokens:  50,
			OutputTokens: 50,
			Model:        "mock-model",
		},
	}
}

// WithName sets the logical backend name.
func (m *MockBackend) WithName(name string) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithDelay adds artificial latency to every call.
func (m *MockBackend) WithDelay(d time.Duration) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// QueueResponse appends a success to the script.
func (m *MockBackend) QueueResponse(resp *Response) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockResult{resp: resp})
	return m
}

// QueueError appends a failure to the script.
func (m *MockBackend) QueueError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockResult{err: err})
	return m
}

// SetDefaultResponse replaces the fallback response.
func (m *MockBackend) SetDefaultResponse(resp *Response) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResponse = resp
	return m
}

// Calls returns a copy of all recorded requests.
func (m *MockBackend) Calls() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Request, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Complete calls made.
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Name implements Backend.
func (m *MockBackend) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// Model implements Backend.
func (m *MockBackend) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// Complete implements Backend.
func (m *MockBackend) Complete(ctx context.Context, request *Request) (*Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, request)
	var result mockResult
	if len(m.script) > 0 {
		result = m.script[0]
		m.script = m.script[1:]
	} else {
		result = mockResult{resp: m.defaultResponse}
	}
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, Timeout(m.Name(), ctx.Err())
		case <-time.After(delay):
		}
	}
	if result.err != nil {
		return nil, result.err
	}
	// Copy so callers can mutate freely.
	resp := *result.resp
	return &resp, nil
}
