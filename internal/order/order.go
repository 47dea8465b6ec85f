package order

// PaymentStatus is the one-way status the payment core pushes back to the
// order domain.
type PaymentStatus string

const (
	PaymentStatusPaid       PaymentStatus = "paid"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusFailed     PaymentStatus = "failed"
)

// Order is the only view of the order domain the payment core consumes:
// a payment-eligibility query and a one-way status command. Nothing else
// about orders may be assumed here.
type Order interface {
	ID() string
	CanBePaid() bool
	UpdatePaymentStatus(status PaymentStatus) error
}

// Repository resolves orders by id. The order domain owns the
// implementation; retries re-fetch through this instead of holding on to a
// stale Order value.
type Repository interface {
	GetByID(id string) (Order, error)
}
