package caption

import (
	"context"
	"errors"
	"sync"
	"time"

	"ftrack/internal/ft"
)

// ErrQueueFull is returned by Submit when every worker is busy and the
// queue has no room.
var ErrQueueFull = errors.New("caption queue full")

// ErrPoolClosed is returned by Submit after Stop.
var ErrPoolClosed = errors.New("caption pool closed")

// Sink receives finished captions.
type Sink interface {
	AttachCaption(ctx context.Context, rec ft.CaptionRecord) error
}

// Job is one image waiting to be captioned.
type Job struct {
	DeviceID  string
	Username  string
	Path      string
	MediaType string
	Data      []byte
}

// Pool runs captioning on a fixed number of workers fed by a bounded queue.
type Pool struct {
	captioner ft.Captioner
	sink      Sink
	logger    ft.Logger
	workers   int
	timeout   time.Duration

	mu     sync.Mutex
	queue  chan Job
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a stopped pool. timeout bounds each caption call.
func NewPool(captioner ft.Captioner, sink Sink, logger ft.Logger, workers, queueSize int, timeout time.Duration) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Pool{
		captioner: captioner,
		sink:      sink,
		logger:    logger,
		workers:   workers,
		timeout:   timeout,
		queue:     make(chan Job, queueSize),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

// Submit queues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains the queue and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(ctx, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	text, err := p.captioner.Caption(ctx, job.MediaType, job.Data)
	if err != nil {
		p.logger.Warn("captioning failed", "path", job.Path, "error", err)
		return
	}
	err = p.sink.AttachCaption(ctx, ft.CaptionRecord{
		DeviceID: job.DeviceID,
		Username: job.Username,
		Path:     job.Path,
		Caption:  text,
	})
	if err != nil {
		p.logger.Warn("storing caption failed", "path", job.Path, "error", err)
		return
	}
	p.logger.Debug("image captioned", "path", job.Path)
}
