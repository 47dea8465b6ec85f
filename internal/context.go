package internal

import (
	"context"
	"time"
)

type ctxKey string

const ContextTransactionKey ctxKey = "transactionID"

func TransactionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if txID, ok := ctx.Value(ContextTransactionKey).(string); ok {
		return txID
	}
	return ""
}

func ContextWithTransactionID(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, ContextTransactionKey, txID)
}

// WithTimeout returns a context with timeout, defaulting to 5 seconds if duration is zero or negative.
func WithTimeout(ctx context.Context, duration time.Duration) (context.Context, context.CancelFunc) {
	if duration <= 0 {
		duration = 5 * time.Second
	}
	return context.WithTimeout(ctx, duration)
}
