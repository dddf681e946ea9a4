package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusRefunded OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusFailed, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentStatus mirrors the provider's checkout session payment_status
// taxonomy, plus "pending" for orders recorded before the provider reports.
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusUnpaid            PaymentStatus = "unpaid"
	PaymentStatusNoPaymentRequired PaymentStatus = "no_payment_required"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusUnpaid, PaymentStatusNoPaymentRequired:
		return true
	}
	return false
}

const DefaultPaymentMethod = "stripe"

// Line item bounds. MaxItemPrice matches the provider's largest accepted
// unit amount (99,999,999 minor units).
const MaxItemQuantity = 10000

var MaxItemPrice = MoneyFromCents(99_999_999)

// CartItem is a line item captured when the checkout session was created.
type CartItem struct {
	ProductID string `json:"productId"`
	Quantity  int64  `json:"quantity"`
	Price     Money  `json:"price"`
}

// Validate checks quantity and price bounds for a single line item.
func (c CartItem) Validate() error {
	if c.ProductID == "" {
		return fmt.Errorf("%w: cart item product is required", ErrValidationFailed)
	}
	if c.Quantity < 1 || c.Quantity > MaxItemQuantity {
		return fmt.Errorf("%w: cart item %s quantity must be between 1 and %d", ErrValidationFailed, c.ProductID, MaxItemQuantity)
	}
	if !c.Price.IsPositive() {
		return fmt.Errorf("%w: cart item %s price must be positive", ErrValidationFailed, c.ProductID)
	}
	if c.Price.GreaterThan(MaxItemPrice.Decimal) {
		return fmt.Errorf("%w: cart item %s price exceeds %s", ErrValidationFailed, c.ProductID, MaxItemPrice)
	}
	if _, err := c.Price.Cents(); err != nil {
		return err
	}
	return nil
}

// CartTotal sums unit price times quantity across items.
func CartTotal(items []CartItem) Money {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(item.Quantity)))
	}
	return NewMoney(total)
}

// OrderFields is everything needed to persist one order. PaymentReference is
// the deduplication key.
type OrderFields struct {
	PaymentReference string
	UserID           string
	CartID           string
	CartItems        []CartItem
	AddressInfo      json.RawMessage
	OrderStatus      OrderStatus
	PaymentMethod    string
	PaymentStatus    PaymentStatus
	TotalAmount      Money
	OrderDate        time.Time
	OrderUpdateDate  time.Time
	PaymentID        string
	PayerID          string
	MetadataVersion  int
}

func (f OrderFields) Validate() error {
	if f.PaymentReference == "" {
		return fmt.Errorf("%w: payment reference is required", ErrValidationFailed)
	}
	if f.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidationFailed)
	}
	if !f.OrderStatus.Valid() {
		return fmt.Errorf("%w: unknown order status %q", ErrValidationFailed, f.OrderStatus)
	}
	if !f.PaymentStatus.Valid() {
		return fmt.Errorf("%w: unknown payment status %q", ErrValidationFailed, f.PaymentStatus)
	}
	if f.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: total amount must not be negative", ErrValidationFailed)
	}
	return nil
}
