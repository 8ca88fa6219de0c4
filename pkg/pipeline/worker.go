package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
)

var ErrPoolStopped = errors.New("worker pool stopped")

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	done chan error
}

// KeyedPool runs jobs on a fixed set of workers. Every job for a given key
// lands on the same worker, so jobs for one key run one at a time in
// submission order while different keys proceed in parallel.
type KeyedPool struct {
	workers []chan job
	wg      sync.WaitGroup

	mu      sync.RWMutex
	stopped bool
}

func NewKeyedPool(workers, queueSize int) *KeyedPool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 2
	}
	p := &KeyedPool{workers: make([]chan job, workers)}
	for i := range p.workers {
		p.workers[i] = make(chan job, queueSize)
	}
	return p
}

// Start launches the workers. They run until Stop.
func (p *KeyedPool) Start() {
	for _, q := range p.workers {
		p.wg.Add(1)
		go p.worker(q)
	}
}

// Do queues fn on the worker owning key and waits for it to finish.
func (p *KeyedPool) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return ErrPoolStopped
	}
	j := job{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case p.workers[p.slot(key)] <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop lets queued jobs finish and waits for the workers to exit.
func (p *KeyedPool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.workers {
		close(q)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *KeyedPool) slot(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.workers)))
}

func (p *KeyedPool) worker(queue chan job) {
	defer p.wg.Done()

	for j := range queue {
		if err := j.ctx.Err(); err != nil {
			j.done <- err
			continue
		}
		j.done <- j.fn(j.ctx)
	}
}
