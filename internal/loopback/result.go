package loopback

import "sync"

// pending is a control response that reports done only after it has been
// polled delay times. The action it confirms has already been applied.
type pending[T any] struct {
	mu        sync.Mutex
	remaining int
	value     T
	err       error
}

func newPending[T any](delay int, value T, err error) *pending[T] {
	return &pending[T]{remaining: delay, value: value, err: err}
}

func (p *pending[T]) Poll() (T, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.remaining > 0 {
		p.remaining--
		var zero T
		return zero, false, nil
	}
	return p.value, true, p.err
}
