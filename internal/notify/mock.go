package notify

import (
	"context"
	"sync"

	"github.com/oklog/ulid/v2"
)

// MockSender records requests instead of delivering them. Used when mock
// external services are enabled and in tests.
type MockSender struct {
	mu   sync.Mutex
	sent []Request
	fail error
}

// NewMockSender creates a recording sender.
func NewMockSender() *MockSender {
	return &MockSender{}
}

// FailWith makes every subsequent Send return err. Pass nil to recover.
func (m *MockSender) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MockSender) Send(_ context.Context, req *Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	m.sent = append(m.sent, *req)
	return "mock-" + ulid.Make().String(), nil
}

// Sent returns a copy of every recorded request.
func (m *MockSender) Sent() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.sent))
	copy(out, m.sent)
	return out
}
