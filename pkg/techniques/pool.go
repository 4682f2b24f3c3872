package techniques

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrSaturated indicates the pool had no free slot within the caller's
// deadline.
var ErrSaturated = errors.New("techniques: tool pool saturated")

// Invocation is one technique run against a target.
type Invocation struct {
	Technique Technique
	Target    string
	// Args are extra tool arguments, already scope-checked by the caller.
	Args []string
}

// Output is what a technique run produced.
type Output struct {
	Stdout   string
	ExitCode int
	Duration time.Duration
}

// Invoker runs a single technique invocation. Implementations wrap
// external tools; tests substitute fakes.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (*Output, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, inv Invocation) (*Output, error)

func (f InvokerFunc) Invoke(ctx context.Context, inv Invocation) (*Output, error) {
	return f(ctx, inv)
}

// Pool bounds concurrent tool invocations and their launch rate so a
// scan cannot hammer the target harder than configured.
type Pool struct {
	invoker Invoker
	slots   chan struct{}
	limiter *rate.Limiter
	active  atomic.Int64
	total   atomic.Int64
}

// NewPool wraps an invoker with a concurrency bound and a launch rate
// of perSecond invocations per second.
func NewPool(invoker Invoker, size int, perSecond float64) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		invoker: invoker,
		slots:   make(chan struct{}, size),
		limiter: rate.NewLimiter(rate.Limit(perSecond), size),
	}
}

// Invoke runs one invocation once a slot and a rate token are
// available. It returns ErrSaturated if the context expires while
// waiting for a slot.
func (p *Pool) Invoke(ctx context.Context, inv Invocation) (*Output, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.Join(ErrSaturated, ctx.Err())
	}
	defer func() { <-p.slots }()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	p.active.Add(1)
	p.total.Add(1)
	defer p.active.Add(-1)

	return p.invoker.Invoke(ctx, inv)
}

// Active returns the number of invocations currently running.
func (p *Pool) Active() int64 { return p.active.Load() }

// Total returns the number of invocations started so far.
func (p *Pool) Total() int64 { return p.total.Load() }
