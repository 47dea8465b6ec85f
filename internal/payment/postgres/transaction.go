package postgres

import (
	"errors"
	"time"

	"github.com/frahmantamala/payment-orchestration/internal"
	"github.com/frahmantamala/payment-orchestration/internal/core/datamodel/transaction"
	"github.com/frahmantamala/payment-orchestration/internal/payment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TransactionRepository implements payment.RepositoryAPI using GORM.
type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) payment.RepositoryAPI {
	return &TransactionRepository{db: db}
}

// Create saves a new payment transaction
func (r *TransactionRepository) Create(t *transaction.PaymentTransaction) error {
	return r.db.Create(t).Error
}

// GetByTransactionID retrieves a transaction by its business identifier
func (r *TransactionRepository) GetByTransactionID(transactionID string) (*transaction.PaymentTransaction, error) {
	var t transaction.PaymentTransaction
	err := r.db.Where("transaction_id = ?", transactionID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetByTransactionIDForUpdate retrieves a transaction holding a row lock.
// Only meaningful inside Transact; SQLite ignores the locking clause, which
// is fine because its writes serialize anyway.
func (r *TransactionRepository) GetByTransactionIDForUpdate(transactionID string) (*transaction.PaymentTransaction, error) {
	var t transaction.PaymentTransaction
	err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("transaction_id = ?", transactionID).
		First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetByGatewayTransactionID retrieves a transaction by the identifier the
// gateway assigned, used when webhooks do not echo our transaction id
func (r *TransactionRepository) GetByGatewayTransactionID(gatewayTransactionID string) (*transaction.PaymentTransaction, error) {
	if gatewayTransactionID == "" {
		return nil, internal.ErrTransactionNotFound
	}
	var t transaction.PaymentTransaction
	err := r.db.Where("gateway_transaction_id = ?", gatewayTransactionID).First(&t).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

// GetByOrderID retrieves all payment attempts for an order, newest first
func (r *TransactionRepository) GetByOrderID(orderID string) ([]*transaction.PaymentTransaction, error) {
	var txs []*transaction.PaymentTransaction
	err := r.db.Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&txs).Error
	return txs, err
}

// Update persists a mutated transaction
func (r *TransactionRepository) Update(t *transaction.PaymentTransaction) error {
	t.UpdatedAt = time.Now()
	return r.db.Save(t).Error
}

// IncrementRetryCount bumps the attempt counter on a failed transaction.
// The status guard keeps the counter from moving once the row has left the
// failed state.
func (r *TransactionRepository) IncrementRetryCount(id int64, at time.Time) error {
	result := r.db.Model(&transaction.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, transaction.StatusFailed).
		Updates(map[string]interface{}{
			"retry_count":   gorm.Expr("retry_count + 1"),
			"last_retry_at": at,
			"updated_at":    at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return internal.ErrNotRetryable
	}
	return nil
}

// GetRetryable finds failed transactions still under the attempt ceiling
// whose last attempt is older than the cutoff. Never-retried rows qualify
// by their creation time.
func (r *TransactionRepository) GetRetryable(maxAttempts int, cutoff time.Time, limit int) ([]*transaction.PaymentTransaction, error) {
	var txs []*transaction.PaymentTransaction
	err := r.db.Where("status = ? AND retry_count < ?", transaction.StatusFailed, maxAttempts).
		Where("(last_retry_at IS NULL AND created_at < ?) OR last_retry_at < ?", cutoff, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// ExpireExhausted flips failed transactions at or above the attempt ceiling
// to expired in a single statement and reports how many rows moved.
func (r *TransactionRepository) ExpireExhausted(maxAttempts int, reason string) (int64, error) {
	result := r.db.Model(&transaction.PaymentTransaction{}).
		Where("status = ? AND retry_count >= ?", transaction.StatusFailed, maxAttempts).
		Updates(map[string]interface{}{
			"status":         transaction.StatusExpired,
			"failure_reason": reason,
			"updated_at":     time.Now(),
		})
	return result.RowsAffected, result.Error
}

// CountFailedBelow counts failed transactions that still have retry budget
func (r *TransactionRepository) CountFailedBelow(maxAttempts int) (int64, error) {
	var count int64
	err := r.db.Model(&transaction.PaymentTransaction{}).
		Where("status = ? AND retry_count < ?", transaction.StatusFailed, maxAttempts).
		Count(&count).Error
	return count, err
}

// CountByStatus counts transactions in a given status
func (r *TransactionRepository) CountByStatus(status transaction.Status) (int64, error) {
	var count int64
	err := r.db.Model(&transaction.PaymentTransaction{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

// RetryOutcomes aggregates transactions that went through at least one
// retry, grouped by attempt number and final status
func (r *TransactionRepository) RetryOutcomes() ([]transaction.RetryBucket, error) {
	var buckets []transaction.RetryBucket
	err := r.db.Model(&transaction.PaymentTransaction{}).
		Select("retry_count, status, COUNT(*) AS count").
		Where("retry_count > ?", 0).
		Group("retry_count, status").
		Order("retry_count ASC").
		Find(&buckets).Error
	return buckets, err
}

// Transact runs fn inside a database transaction; any error or panic rolls
// the whole unit back.
func (r *TransactionRepository) Transact(fn func(payment.RepositoryAPI) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&TransactionRepository{db: tx})
	})
}
