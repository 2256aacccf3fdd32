package verifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colorfulnotion/cartezcash/czerrors"
)

// Memory is an in-process verifier for tests. It accepts everything unless
// Fail returns an error, and can simulate a slow verifier with Delay.
type Memory struct {
	mu    sync.Mutex
	calls []*Request

	Fail  func(req *Request) error
	Delay time.Duration
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Verify(ctx context.Context, req *Request) error {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	fail, delay := m.Fail, m.Delay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", czerrors.ErrVerifierUnavailable, ctx.Err())
		case <-timer.C:
		}
	}
	if fail != nil {
		return fail(req)
	}
	return nil
}

// Calls returns the requests seen so far.
func (m *Memory) Calls() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Request(nil), m.calls...)
}
