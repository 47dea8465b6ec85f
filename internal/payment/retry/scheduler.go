package retry

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	gatewaytypes "github.com/frahmantamala/payment-orchestration/internal/core/datamodel/gateway"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/payment"
	"github.com/frahmantamala/payment-orchestration/pkg/metrics"
)

// ExhaustedReason is stamped on failed transactions expired by cleanup.
const ExhaustedReason = "retry attempts exhausted"

const sweepBatchSize = 100

// Config is the retry policy: exponential backoff from BaseDelay, at most
// MaxAttempts automatic attempts, and a Cooldown the sweep respects before
// touching a failed transaction again.
type Config struct {
	BaseDelay   time.Duration
	Multiplier  float64
	MaxAttempts int
	Cooldown    time.Duration
}

// Stats is the operator view of the retry pipeline.
type Stats struct {
	PendingRetries int64                     `json:"pending_retries"`
	Expired        int64                     `json:"expired"`
	QueueDepth     int64                     `json:"queue_depth"`
	Retried        int64                     `json:"retried"`
	Succeeded      int64                     `json:"succeeded"`
	SuccessRate    float64                   `json:"success_rate"`
	ByAttempt      []AttemptStats            `json:"by_attempt"`
	Outcomes       []transaction.RetryBucket `json:"-"`
}

// AttemptStats is the success-rate breakdown for one attempt number.
type AttemptStats struct {
	Attempt     int     `json:"attempt"`
	Total       int64   `json:"total"`
	Succeeded   int64   `json:"succeeded"`
	SuccessRate float64 `json:"success_rate"`
}

// Scheduler decides which failed payments get another attempt and when.
// Scheduling only enqueues; the worker pool performs the attempt through
// the payment service, so the ceiling is enforced again at execution time.
type Scheduler struct {
	repo   payment.RepositoryAPI
	svc    payment.ServiceAPI
	queue  DelayedQueue
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewScheduler(repo payment.RepositoryAPI, svc payment.ServiceAPI, queue DelayedQueue, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Minute
	}
	return &Scheduler{
		repo:   repo,
		svc:    svc,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// IsRetryable reports whether a transaction qualifies for an automatic
// retry: failed, with attempt budget left.
func (s *Scheduler) IsRetryable(t *transaction.PaymentTransaction) bool {
	return t.Status == transaction.StatusFailed && t.RetryCount < s.cfg.MaxAttempts
}

// BackoffDelay is base * multiplier^retryCount.
func (s *Scheduler) BackoffDelay(retryCount int) time.Duration {
	return time.Duration(float64(s.cfg.BaseDelay) * math.Pow(s.cfg.Multiplier, float64(retryCount)))
}

// ScheduleRetry enqueues one delayed retry for a failed transaction.
// Returns false without enqueueing when the transaction does not qualify.
func (s *Scheduler) ScheduleRetry(ctx context.Context, t *transaction.PaymentTransaction) bool {
	if !s.IsRetryable(t) {
		return false
	}

	delay := s.BackoffDelay(t.RetryCount)
	entry := Entry{
		TransactionID: t.TransactionID,
		Attempt:       t.RetryCount + 1,
		DueAt:         s.now().Add(delay),
	}
	if err := s.queue.Push(ctx, entry); err != nil {
		s.logger.Error("retry scheduling failed",
			"transaction_id", t.TransactionID, "error", err)
		return false
	}

	metrics.RetriesScheduled.Inc()
	s.logger.Info("retry scheduled",
		"transaction_id", t.TransactionID,
		"attempt", entry.Attempt,
		"delay", delay)
	return true
}

// ProcessRetryablePayments sweeps the store for failed transactions with
// budget left whose last activity is older than the cooldown, and enqueues
// them as immediately due. This catches payments whose scheduled retry was
// lost, e.g. across a restart with the in-memory queue.
func (s *Scheduler) ProcessRetryablePayments(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.Cooldown)
	candidates, err := s.repo.GetRetryable(s.cfg.MaxAttempts, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	scheduled := 0
	for _, t := range candidates {
		entry := Entry{
			TransactionID: t.TransactionID,
			Attempt:       t.RetryCount + 1,
			DueAt:         s.now(),
		}
		if err := s.queue.Push(ctx, entry); err != nil {
			s.logger.Error("sweep enqueue failed",
				"transaction_id", t.TransactionID, "error", err)
			continue
		}
		metrics.RetriesScheduled.Inc()
		scheduled++
	}

	if scheduled > 0 {
		s.logger.Info("retry sweep enqueued stale failures", "count", scheduled)
	}
	return scheduled, nil
}

// CleanupExhaustedRetries expires failed transactions that used up their
// attempt budget, so they stop appearing in retry queries.
func (s *Scheduler) CleanupExhaustedRetries(ctx context.Context) (int64, error) {
	expired, err := s.repo.ExpireExhausted(s.cfg.MaxAttempts, ExhaustedReason)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		metrics.RetriesExhausted.Add(float64(expired))
		s.logger.Info("exhausted retries expired", "count", expired)
	}
	return expired, nil
}

// ManualRetry lets an operator force an attempt on a failed transaction
// regardless of the automatic ceiling. The only gate is the failed status,
// which the payment service enforces.
func (s *Scheduler) ManualRetry(ctx context.Context, transactionID string) *gatewaytypes.PaymentResponse {
	s.logger.Info("manual retry requested", "transaction_id", transactionID)
	return s.svc.RetryPayment(ctx, transactionID)
}

// CollectStats aggregates the retry pipeline state from the store and the
// queue.
func (s *Scheduler) CollectStats(ctx context.Context) (*Stats, error) {
	pending, err := s.repo.CountFailedBelow(s.cfg.MaxAttempts)
	if err != nil {
		return nil, err
	}
	expired, err := s.repo.CountByStatus(transaction.StatusExpired)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.repo.RetryOutcomes()
	if err != nil {
		return nil, err
	}
	depth, err := s.queue.Len(ctx)
	if err != nil {
		s.logger.Warn("retry queue depth unavailable", "error", err)
		depth = -1
	} else {
		metrics.RetryQueueDepth.Set(float64(depth))
	}

	stats := &Stats{
		PendingRetries: pending,
		Expired:        expired,
		QueueDepth:     depth,
		Outcomes:       outcomes,
	}

	byAttempt := map[int]*AttemptStats{}
	var attempts []int
	for _, bucket := range outcomes {
		stats.Retried += bucket.Count
		a, ok := byAttempt[bucket.RetryCount]
		if !ok {
			a = &AttemptStats{Attempt: bucket.RetryCount}
			byAttempt[bucket.RetryCount] = a
			attempts = append(attempts, bucket.RetryCount)
		}
		a.Total += bucket.Count
		if bucket.Status == transaction.StatusCompleted {
			a.Succeeded += bucket.Count
			stats.Succeeded += bucket.Count
		}
	}
	sort.Ints(attempts)
	for _, attempt := range attempts {
		a := byAttempt[attempt]
		if a.Total > 0 {
			a.SuccessRate = float64(a.Succeeded) / float64(a.Total)
		}
		stats.ByAttempt = append(stats.ByAttempt, *a)
	}
	if stats.Retried > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.Retried)
	}
	return stats, nil
}
