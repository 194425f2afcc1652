package audit

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Enqueue once shutdown has closed the pipeline's
// intake. Records rejected this way are lost; the only window in which that
// can happen is after shutdown has begun.
var ErrClosed = errors.New("audit pipeline intake closed")

// Pipeline decouples connection handling from persistence latency. Any
// number of producers enqueue finalized records; a single consumer goroutine
// writes them to the sink one at a time, in arrival order, flushing each
// record before taking the next.
//
// Shutdown closes intake, the consumer drains everything already queued, and
// Done is closed only after the last queued record reaches the sink. The
// process must observe Done before exiting.
type Pipeline struct {
	sink Sink

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Record
	closed bool

	done chan struct{}
	err  error
}

// NewPipeline creates a pipeline writing to sink and starts its consumer.
func NewPipeline(sink Sink) *Pipeline {
	p := &Pipeline{
		sink: sink,
		done: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// Enqueue hands a finalized record to the pipeline. It never blocks on the
// consumer; the queue is bounded only by memory. Returns ErrClosed if intake
// has already been closed by shutdown.
func (p *Pipeline) Enqueue(r *Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, r)
	p.cond.Signal()
	return nil
}

// Shutdown closes intake. Safe to call more than once. Callers wait on
// Done() for the drain to finish.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.cond.Signal()
	p.mu.Unlock()
}

// Done is closed once the consumer has drained the queue and closed the
// sink, or aborted on a sink error. If it closes before Shutdown was called,
// the pipeline has failed; see Err.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Err returns the first fatal sink error, or nil after a clean drain.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Pending returns the number of records queued but not yet persisted.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *Pipeline) run() {
	defer close(p.done)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			// Intake closed and nothing left: drain complete.
			p.mu.Unlock()
			break
		}
		r := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if err := p.sink.Write(r); err != nil {
			logrus.WithError(err).Error("audit sink write failed, pipeline aborting")
			p.mu.Lock()
			p.err = err
			p.closed = true
			p.queue = nil
			p.mu.Unlock()
			break
		}
	}

	if err := p.sink.Close(); err != nil {
		p.mu.Lock()
		if p.err == nil {
			p.err = err
		}
		p.mu.Unlock()
	}
}
