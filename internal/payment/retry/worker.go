package retry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type worker struct {
	id         int
	workerPool chan chan Entry
	jobChannel chan Entry
	logger     *slog.Logger
}

func newWorker(id int, workerPool chan chan Entry, logger *slog.Logger) *worker {
	return &worker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan Entry),
		logger:     logger,
	}
}

func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, processFunc func(Entry)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.workerPool <- w.jobChannel

			select {
			case entry := <-w.jobChannel:
				w.logger.Debug("retry worker picked up entry",
					"worker_id", w.id, "transaction_id", entry.TransactionID)
				processFunc(entry)
			case <-ctx.Done():
				w.logger.Debug("retry worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

// PoolConfig sizes the retry worker pool and its timers.
type PoolConfig struct {
	WorkerCount   int
	QueueSize     int
	PollInterval  time.Duration
	SweepInterval time.Duration
}

// Pool drains the delayed queue and executes due retries through the
// scheduler. It also runs the periodic sweep and exhaustion cleanup so a
// single worker process covers the whole retry lifecycle.
type Pool struct {
	scheduler *Scheduler
	queue     DelayedQueue
	logger    *slog.Logger

	jobQueue   chan Entry
	workerPool chan chan Entry
	cfg        PoolConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewPool(scheduler *Scheduler, queue DelayedQueue, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		scheduler:  scheduler,
		queue:      queue,
		logger:     logger,
		jobQueue:   make(chan Entry, cfg.QueueSize),
		workerPool: make(chan chan Entry, cfg.WorkerCount),
		cfg:        cfg,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start brings up the workers, the dispatcher, the queue poller and the
// maintenance timers. Safe to call once.
func (p *Pool) Start() {
	p.once.Do(func() {
		for i := 0; i < p.cfg.WorkerCount; i++ {
			w := newWorker(i, p.workerPool, p.logger)
			w.start(p.ctx, &p.wg, p.processEntry)
		}

		p.wg.Add(3)
		go p.dispatch()
		go p.poll()
		go p.maintain()

		p.logger.Info("retry worker pool started",
			"workers", p.cfg.WorkerCount,
			"poll_interval", p.cfg.PollInterval,
			"sweep_interval", p.cfg.SweepInterval)
	})
}

func (p *Pool) Shutdown() {
	p.logger.Info("shutting down retry worker pool")
	p.cancel()
	p.wg.Wait()
	p.logger.Info("retry worker pool shutdown complete")
}

func (p *Pool) dispatch() {
	defer p.wg.Done()

	for {
		select {
		case entry := <-p.jobQueue:
			select {
			case jobChannel := <-p.workerPool:
				select {
				case jobChannel <- entry:
				case <-p.ctx.Done():
					return
				}
			case <-p.ctx.Done():
				return
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// poll moves due entries from the delayed queue onto the job queue.
func (p *Pool) poll() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			due, err := p.queue.PopDue(p.ctx, time.Now(), p.cfg.QueueSize)
			if err != nil {
				p.logger.Error("retry queue poll failed", "error", err)
				continue
			}
			for _, entry := range due {
				select {
				case p.jobQueue <- entry:
				case <-p.ctx.Done():
					return
				}
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// maintain runs the stale-failure sweep and exhaustion cleanup.
func (p *Pool) maintain() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.scheduler.ProcessRetryablePayments(p.ctx); err != nil {
				p.logger.Error("retry sweep failed", "error", err)
			}
			if _, err := p.scheduler.CleanupExhaustedRetries(p.ctx); err != nil {
				p.logger.Error("retry cleanup failed", "error", err)
			}
		case <-p.ctx.Done():
			return
		}
	}
}

// processEntry re-reads the transaction and re-checks eligibility before
// attempting; queue entries can be stale by the time they come due.
func (p *Pool) processEntry(entry Entry) {
	t, err := p.scheduler.repo.GetByTransactionID(entry.TransactionID)
	if err != nil {
		p.logger.Warn("queued retry references unknown transaction",
			"transaction_id", entry.TransactionID, "error", err)
		return
	}
	if !p.scheduler.IsRetryable(t) {
		p.logger.Debug("queued retry no longer eligible",
			"transaction_id", entry.TransactionID, "status", t.Status)
		return
	}

	resp := p.scheduler.svc.RetryPayment(p.ctx, entry.TransactionID)
	p.logger.Info("automatic retry executed",
		"transaction_id", entry.TransactionID,
		"attempt", entry.Attempt,
		"status", resp.Status)
}
