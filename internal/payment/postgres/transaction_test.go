package postgres

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/payment"
)

func TestTransactionRepository(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Transaction Repository Suite")
}

// TransactionSQLite is a test-specific version with text instead of jsonb for SQLite compatibility
type TransactionSQLite struct {
	ID                   int64      `gorm:"primaryKey"`
	TransactionID        string     `gorm:"column:transaction_id;not null;uniqueIndex"`
	GatewayTransactionID *string    `gorm:"column:gateway_transaction_id;index"`
	OrderID              string     `gorm:"column:order_id;not null;index"`
	Amount               int64      `gorm:"column:amount;not null"`
	Currency             string     `gorm:"column:currency;not null;default:KRW"`
	Gateway              string     `gorm:"column:gateway;not null"`
	PaymentMethod        string     `gorm:"column:payment_method;not null"`
	Status               string     `gorm:"column:status;not null;default:pending;index"`
	RetryCount           int        `gorm:"column:retry_count;not null;default:0"`
	LastRetryAt          *time.Time `gorm:"column:last_retry_at"`
	ApprovalNumber       *string    `gorm:"column:approval_number"`
	CardNumberMasked     *string    `gorm:"column:card_number_masked"`
	CardType             *string    `gorm:"column:card_type"`
	FailureReason        *string    `gorm:"column:failure_reason"`
	CancelReason         *string    `gorm:"column:cancel_reason"`
	CancelledAt          *time.Time `gorm:"column:cancelled_at"`
	RefundAmount         int64      `gorm:"column:refund_amount;not null;default:0"`
	RefundReason         *string    `gorm:"column:refund_reason"`
	RefundedAt           *time.Time `gorm:"column:refunded_at"`
	GatewayRequest       string     `gorm:"column:gateway_request;type:text"` // Use text for SQLite
	GatewayResponse      string     `gorm:"column:gateway_response;type:text"`
	WebhookPayload       string     `gorm:"column:webhook_payload;type:text"`
	WebhookReceivedAt    *time.Time `gorm:"column:webhook_received_at"`
	CreatedAt            time.Time  `gorm:"column:created_at"`
	UpdatedAt            time.Time  `gorm:"column:updated_at"`
}

func (TransactionSQLite) TableName() string {
	return "payment_transactions"
}

func newTestTx(txID, orderID string, status transaction.Status, retryCount int) *transaction.PaymentTransaction {
	return &transaction.PaymentTransaction{
		TransactionID: txID,
		OrderID:       orderID,
		Amount:        10000,
		Currency:      "KRW",
		Gateway:       transaction.GatewayInicis,
		PaymentMethod: "card",
		Status:        status,
		RetryCount:    retryCount,
	}
}

var _ = ginkgo.Describe("TransactionRepository", func() {
	var (
		db   *gorm.DB
		repo payment.RepositoryAPI
	)

	ginkgo.BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		err = db.AutoMigrate(&TransactionSQLite{})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		repo = NewTransactionRepository(db)
	})

	ginkgo.Describe("Create", func() {
		ginkgo.It("inserts the transaction and sets its id", func() {
			t := newTestTx("TXN-ORD-1-a", "ORD-1", transaction.StatusPending, 0)
			t.GatewayRequest = json.RawMessage(`{"amount":10000}`)

			err := repo.Create(t)

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(t.ID).To(gomega.BeNumerically(">", 0))
		})

		ginkgo.It("rejects a duplicate transaction id", func() {
			gomega.Expect(repo.Create(newTestTx("TXN-ORD-1-a", "ORD-1", transaction.StatusPending, 0))).ToNot(gomega.HaveOccurred())
			err := repo.Create(newTestTx("TXN-ORD-1-a", "ORD-2", transaction.StatusPending, 0))
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})

	ginkgo.Describe("GetByTransactionID", func() {
		ginkgo.BeforeEach(func() {
			t := newTestTx("TXN-ORD-1-a", "ORD-1", transaction.StatusCompleted, 0)
			gwID := "GW-001"
			t.GatewayTransactionID = &gwID
			gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())
		})

		ginkgo.It("returns the stored transaction", func() {
			result, err := repo.GetByTransactionID("TXN-ORD-1-a")

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.OrderID).To(gomega.Equal("ORD-1"))
			gomega.Expect(result.Status).To(gomega.Equal(transaction.StatusCompleted))
			gomega.Expect(*result.GatewayTransactionID).To(gomega.Equal("GW-001"))
		})

		ginkgo.It("returns the canonical not-found error for unknown ids", func() {
			result, err := repo.GetByTransactionID("TXN-missing")

			gomega.Expect(result).To(gomega.BeNil())
			gomega.Expect(errors.Is(err, internal.ErrTransactionNotFound)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("GetByGatewayTransactionID", func() {
		ginkgo.BeforeEach(func() {
			t := newTestTx("TXN-ORD-1-a", "ORD-1", transaction.StatusPending, 0)
			gwID := "GW-LOOKUP-1"
			t.GatewayTransactionID = &gwID
			gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())
		})

		ginkgo.It("resolves the transaction by the gateway's identifier", func() {
			result, err := repo.GetByGatewayTransactionID("GW-LOOKUP-1")

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(result.TransactionID).To(gomega.Equal("TXN-ORD-1-a"))
		})

		ginkgo.It("never matches an empty identifier", func() {
			_, err := repo.GetByGatewayTransactionID("")
			gomega.Expect(errors.Is(err, internal.ErrTransactionNotFound)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("GetByOrderID", func() {
		ginkgo.BeforeEach(func() {
			older := newTestTx("TXN-ORD-1-a", "ORD-1", transaction.StatusFailed, 0)
			older.CreatedAt = time.Now().Add(-2 * time.Hour)
			newer := newTestTx("TXN-ORD-1-b", "ORD-1", transaction.StatusCompleted, 1)
			newer.CreatedAt = time.Now().Add(-1 * time.Hour)
			other := newTestTx("TXN-ORD-2-a", "ORD-2", transaction.StatusPending, 0)

			for _, t := range []*transaction.PaymentTransaction{older, newer, other} {
				gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())
			}
		})

		ginkgo.It("returns all attempts for the order, newest first", func() {
			results, err := repo.GetByOrderID("ORD-1")

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(results).To(gomega.HaveLen(2))
			gomega.Expect(results[0].TransactionID).To(gomega.Equal("TXN-ORD-1-b"))
			gomega.Expect(results[1].TransactionID).To(gomega.Equal("TXN-ORD-1-a"))
		})

		ginkgo.It("returns an empty slice for an unknown order", func() {
			results, err := repo.GetByOrderID("ORD-999")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(results).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("Update", func() {
		ginkgo.It("persists mutations and bumps the updated timestamp", func() {
			t := newTestTx("TXN-ORD-1-a", "ORD-1", transaction.StatusPending, 0)
			gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())
			createdUpdatedAt := t.UpdatedAt

			t.Status = transaction.StatusCompleted
			approval := "AP-100"
			t.ApprovalNumber = &approval
			gomega.Expect(repo.Update(t)).ToNot(gomega.HaveOccurred())

			stored, err := repo.GetByTransactionID("TXN-ORD-1-a")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stored.Status).To(gomega.Equal(transaction.StatusCompleted))
			gomega.Expect(*stored.ApprovalNumber).To(gomega.Equal("AP-100"))
			gomega.Expect(stored.UpdatedAt).To(gomega.BeTemporally(">=", createdUpdatedAt))
		})
	})

	ginkgo.Describe("IncrementRetryCount", func() {
		ginkgo.It("bumps the counter and stamps the retry time on a failed row", func() {
			t := newTestTx("TXN-ORD-1-a", "ORD-1", transaction.StatusFailed, 1)
			gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())

			at := time.Now().UTC().Truncate(time.Second)
			gomega.Expect(repo.IncrementRetryCount(t.ID, at)).ToNot(gomega.HaveOccurred())

			stored, err := repo.GetByTransactionID("TXN-ORD-1-a")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stored.RetryCount).To(gomega.Equal(2))
			gomega.Expect(stored.LastRetryAt).ToNot(gomega.BeNil())
		})

		ginkgo.It("refuses once the row has left the failed state", func() {
			t := newTestTx("TXN-ORD-1-a", "ORD-1", transaction.StatusCompleted, 0)
			gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())

			err := repo.IncrementRetryCount(t.ID, time.Now())

			gomega.Expect(errors.Is(err, internal.ErrNotRetryable)).To(gomega.BeTrue())
			stored, _ := repo.GetByTransactionID("TXN-ORD-1-a")
			gomega.Expect(stored.RetryCount).To(gomega.Equal(0))
		})

		ginkgo.It("refuses an unknown row", func() {
			err := repo.IncrementRetryCount(99999, time.Now())
			gomega.Expect(errors.Is(err, internal.ErrNotRetryable)).To(gomega.BeTrue())
		})
	})

	ginkgo.Describe("GetRetryable", func() {
		var cutoff time.Time

		ginkgo.BeforeEach(func() {
			cutoff = time.Now().UTC().Add(-30 * time.Minute)

			neverRetried := newTestTx("TXN-never", "ORD-1", transaction.StatusFailed, 0)
			neverRetried.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

			staleRetry := newTestTx("TXN-stale", "ORD-2", transaction.StatusFailed, 1)
			staleRetry.CreatedAt = time.Now().UTC().Add(-3 * time.Hour)
			staleAt := time.Now().UTC().Add(-time.Hour)
			staleRetry.LastRetryAt = &staleAt

			recentRetry := newTestTx("TXN-recent", "ORD-3", transaction.StatusFailed, 1)
			recentAt := time.Now().UTC().Add(-time.Minute)
			recentRetry.LastRetryAt = &recentAt

			exhausted := newTestTx("TXN-exhausted", "ORD-4", transaction.StatusFailed, 3)
			exhausted.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

			completed := newTestTx("TXN-done", "ORD-5", transaction.StatusCompleted, 0)
			completed.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

			for _, t := range []*transaction.PaymentTransaction{neverRetried, staleRetry, recentRetry, exhausted, completed} {
				gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())
			}
		})

		ginkgo.It("returns stale failures under the ceiling, oldest first", func() {
			results, err := repo.GetRetryable(3, cutoff, 10)

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(results).To(gomega.HaveLen(2))
			gomega.Expect(results[0].TransactionID).To(gomega.Equal("TXN-stale"))
			gomega.Expect(results[1].TransactionID).To(gomega.Equal("TXN-never"))
		})

		ginkgo.It("respects the batch limit", func() {
			results, err := repo.GetRetryable(3, cutoff, 1)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(results).To(gomega.HaveLen(1))
		})
	})

	ginkgo.Describe("ExpireExhausted", func() {
		ginkgo.BeforeEach(func() {
			exhausted1 := newTestTx("TXN-ex-1", "ORD-1", transaction.StatusFailed, 3)
			exhausted2 := newTestTx("TXN-ex-2", "ORD-2", transaction.StatusFailed, 4)
			withBudget := newTestTx("TXN-budget", "ORD-3", transaction.StatusFailed, 1)
			completed := newTestTx("TXN-done", "ORD-4", transaction.StatusCompleted, 3)

			for _, t := range []*transaction.PaymentTransaction{exhausted1, exhausted2, withBudget, completed} {
				gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())
			}
		})

		ginkgo.It("expires only failed rows at or above the ceiling", func() {
			moved, err := repo.ExpireExhausted(3, "retry attempts exhausted")

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(moved).To(gomega.Equal(int64(2)))

			expired, err := repo.GetByTransactionID("TXN-ex-1")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(expired.Status).To(gomega.Equal(transaction.StatusExpired))
			gomega.Expect(*expired.FailureReason).To(gomega.Equal("retry attempts exhausted"))

			untouched, err := repo.GetByTransactionID("TXN-budget")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(untouched.Status).To(gomega.Equal(transaction.StatusFailed))
		})

		ginkgo.It("reports zero when nothing qualifies", func() {
			_, err := repo.ExpireExhausted(3, "retry attempts exhausted")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())

			moved, err := repo.ExpireExhausted(3, "retry attempts exhausted")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(moved).To(gomega.BeZero())
		})
	})

	ginkgo.Describe("counters", func() {
		ginkgo.BeforeEach(func() {
			rows := []*transaction.PaymentTransaction{
				newTestTx("TXN-1", "ORD-1", transaction.StatusFailed, 0),
				newTestTx("TXN-2", "ORD-2", transaction.StatusFailed, 2),
				newTestTx("TXN-3", "ORD-3", transaction.StatusFailed, 3),
				newTestTx("TXN-4", "ORD-4", transaction.StatusExpired, 3),
				newTestTx("TXN-5", "ORD-5", transaction.StatusCompleted, 0),
			}
			for _, t := range rows {
				gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())
			}
		})

		ginkgo.It("counts failed rows that still have budget", func() {
			count, err := repo.CountFailedBelow(3)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(count).To(gomega.Equal(int64(2)))
		})

		ginkgo.It("counts rows by status", func() {
			count, err := repo.CountByStatus(transaction.StatusExpired)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(count).To(gomega.Equal(int64(1)))
		})
	})

	ginkgo.Describe("RetryOutcomes", func() {
		ginkgo.BeforeEach(func() {
			rows := []*transaction.PaymentTransaction{
				newTestTx("TXN-1", "ORD-1", transaction.StatusCompleted, 1),
				newTestTx("TXN-2", "ORD-2", transaction.StatusCompleted, 1),
				newTestTx("TXN-3", "ORD-3", transaction.StatusFailed, 1),
				newTestTx("TXN-4", "ORD-4", transaction.StatusCompleted, 2),
				newTestTx("TXN-5", "ORD-5", transaction.StatusCompleted, 0), // first attempts excluded
			}
			for _, t := range rows {
				gomega.Expect(repo.Create(t)).ToNot(gomega.HaveOccurred())
			}
		})

		ginkgo.It("groups retried transactions by attempt and status", func() {
			buckets, err := repo.RetryOutcomes()

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(buckets).To(gomega.HaveLen(3))

			byKey := map[transaction.RetryBucket]int64{}
			for _, b := range buckets {
				byKey[transaction.RetryBucket{RetryCount: b.RetryCount, Status: b.Status}] = b.Count
			}
			gomega.Expect(byKey[transaction.RetryBucket{RetryCount: 1, Status: transaction.StatusCompleted}]).To(gomega.Equal(int64(2)))
			gomega.Expect(byKey[transaction.RetryBucket{RetryCount: 1, Status: transaction.StatusFailed}]).To(gomega.Equal(int64(1)))
			gomega.Expect(byKey[transaction.RetryBucket{RetryCount: 2, Status: transaction.StatusCompleted}]).To(gomega.Equal(int64(1)))
		})
	})

	ginkgo.Describe("Transact", func() {
		ginkgo.It("commits all writes when the unit succeeds", func() {
			err := repo.Transact(func(r payment.RepositoryAPI) error {
				if err := r.Create(newTestTx("TXN-a", "ORD-1", transaction.StatusPending, 0)); err != nil {
					return err
				}
				locked, err := r.GetByTransactionIDForUpdate("TXN-a")
				if err != nil {
					return err
				}
				locked.Status = transaction.StatusCompleted
				return r.Update(locked)
			})

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			stored, err := repo.GetByTransactionID("TXN-a")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stored.Status).To(gomega.Equal(transaction.StatusCompleted))
		})

		ginkgo.It("rolls every write back when the unit fails", func() {
			err := repo.Transact(func(r payment.RepositoryAPI) error {
				if err := r.Create(newTestTx("TXN-a", "ORD-1", transaction.StatusPending, 0)); err != nil {
					return err
				}
				return errors.New("boom")
			})

			gomega.Expect(err).To(gomega.HaveOccurred())
			_, err = repo.GetByTransactionID("TXN-a")
			gomega.Expect(errors.Is(err, internal.ErrTransactionNotFound)).To(gomega.BeTrue())
		})
	})
})
