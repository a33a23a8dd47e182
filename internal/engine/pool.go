package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/apperror"
)

// Pool bounds concurrent engine calls. Up to workers callers run at once;
// up to maxQueue more wait for a slot; anyone beyond that is turned away
// with EngineBusy.
type Pool struct {
	slots    chan struct{}
	maxQueue int64
	waiting  atomic.Int64
	active   atomic.Int64
	rejected atomic.Int64
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Workers  int   `json:"workers"`
	MaxQueue int   `json:"max_queue"`
	Active   int64 `json:"active"`
	Waiting  int64 `json:"waiting"`
	Rejected int64 `json:"rejected"`
}

// NewPool returns a Pool. workers below 1 is treated as 1 and a negative
// maxQueue as 0.
func NewPool(workers, maxQueue int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if maxQueue < 0 {
		maxQueue = 0
	}
	return &Pool{
		slots:    make(chan struct{}, workers),
		maxQueue: int64(maxQueue),
	}
}

// Acquire takes a slot, waiting if the queue has room. The returned release
// function is idempotent. Cancellation while waiting returns ctx.Err().
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	select {
	case p.slots <- struct{}{}:
		return p.granted(), nil
	default:
	}

	if p.waiting.Add(1) > p.maxQueue {
		p.waiting.Add(-1)
		p.rejected.Add(1)
		return nil, apperror.New(apperror.EngineBusy, "transcription capacity is exhausted, retry later")
	}
	defer p.waiting.Add(-1)

	select {
	case p.slots <- struct{}{}:
		return p.granted(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) granted() func() {
	p.active.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			p.active.Add(-1)
			<-p.slots
		})
	}
}

// Stats returns current usage.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:  cap(p.slots),
		MaxQueue: int(p.maxQueue),
		Active:   p.active.Load(),
		Waiting:  p.waiting.Load(),
		Rejected: p.rejected.Load(),
	}
}
