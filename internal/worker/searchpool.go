package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/katta-cluster/katta/pkg/errors"
)

// searchPool is the Worker's bounded executor for shard-local search and
// docFreqs work. Its concurrency ceiling is PoolMaxSize; a single shared
// timer thread ticks a monotonic counter that every submitted job compares
// itself against to enforce a soft per-request deadline, rather than each
// job starting its own time.After timer — the pattern spec.md §4.2's
// "search internals" paragraph describes as a shared timeout collector.
type searchPool struct {
	tokens       chan struct{}
	tick         atomic.Int64
	tickInterval time.Duration
	stop         chan struct{}

	inFlight func(delta int)
	rejected func()
}

func newSearchPool(maxSize int, tickInterval time.Duration, inFlight func(delta int), rejected func()) *searchPool {
	if maxSize <= 0 {
		maxSize = 100
	}
	if tickInterval <= 0 {
		tickInterval = 25 * time.Millisecond
	}
	p := &searchPool{
		tokens:       make(chan struct{}, maxSize),
		tickInterval: tickInterval,
		stop:         make(chan struct{}),
		inFlight:     inFlight,
		rejected:     rejected,
	}
	go p.runTimer()
	return p
}

func (p *searchPool) runTimer() {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.tick.Add(1)
		case <-p.stop:
			return
		}
	}
}

// Close stops the pool's timer thread. Jobs already admitted run to
// completion; Close does not wait for them.
func (p *searchPool) Close() {
	close(p.stop)
}

// Submit runs fn on the pool, enforcing budget as a soft deadline measured
// against the pool's shared tick counter rather than fn's own wall clock.
// A full pool rejects immediately rather than queueing unboundedly, since
// an unbounded queue in front of a bounded worker count only defers
// overload rather than shedding it.
//
// Budget overrun is reported through the timedOut return, not err: a shard
// that exceeds its collector budget still answered, just without finishing
// its scan, and the caller should turn that into a degraded-but-valid
// response rather than an RPC failure (spec.md §5's "returns whatever it
// has collected ... does not abort the overall query"). err carries fn's
// own error, the pool being saturated, or the caller's context expiring.
func (p *searchPool) Submit(ctx context.Context, budget time.Duration, fn func() (any, error)) (value any, err error, timedOut bool) {
	select {
	case p.tokens <- struct{}{}:
	default:
		if p.rejected != nil {
			p.rejected()
		}
		return nil, errors.ErrRPCTimeout, false
	}
	if p.inFlight != nil {
		p.inFlight(1)
	}
	defer func() {
		<-p.tokens
		if p.inFlight != nil {
			p.inFlight(-1)
		}
	}()

	baseline := p.tick.Load()
	budgetTicks := int64(budget / p.tickInterval)
	if budgetTicks <= 0 {
		budgetTicks = 1
	}

	type result struct {
		value any
		err   error
	}
	resultCh := make(chan result, 1)
	go func() {
		v, e := fn()
		resultCh <- result{v, e}
	}()

	checkTicker := time.NewTicker(p.tickInterval)
	defer checkTicker.Stop()
	for {
		select {
		case res := <-resultCh:
			return res.value, res.err, false
		case <-checkTicker.C:
			if p.tick.Load()-baseline >= budgetTicks {
				return nil, nil, true
			}
		case <-ctx.Done():
			return nil, ctx.Err(), false
		}
	}
}
