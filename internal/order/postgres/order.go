package postgres

import (
	"time"

	"gorm.io/gorm"

	"github.com/frahmantamala/payment-orchestration/internal/order"
)

// orderRow is the minimal projection of the orders table the payment core
// needs. The full order schema belongs to the order service.
type orderRow struct {
	OrderID       string    `gorm:"column:order_id;primaryKey"`
	Status        string    `gorm:"column:status"`
	PaymentStatus string    `gorm:"column:payment_status"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (orderRow) TableName() string {
	return "orders"
}

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) order.Repository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) GetByID(id string) (order.Order, error) {
	var row orderRow
	if err := r.db.Where("order_id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &gormOrder{db: r.db, row: row}, nil
}

type gormOrder struct {
	db  *gorm.DB
	row orderRow
}

func (o *gormOrder) ID() string {
	return o.row.OrderID
}

// CanBePaid allows payment only while the order itself is open and has not
// already been paid.
func (o *gormOrder) CanBePaid() bool {
	switch o.row.Status {
	case "pending", "confirmed":
	default:
		return false
	}
	return o.row.PaymentStatus != string(order.PaymentStatusPaid)
}

func (o *gormOrder) UpdatePaymentStatus(status order.PaymentStatus) error {
	err := o.db.Model(&orderRow{}).
		Where("order_id = ?", o.row.OrderID).
		Updates(map[string]interface{}{
			"payment_status": string(status),
			"updated_at":     time.Now(),
		}).Error
	if err != nil {
		return err
	}
	o.row.PaymentStatus = string(status)
	return nil
}
