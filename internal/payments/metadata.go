package payments

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cimillas/orderhook/internal/domain"
)

// MetadataSchemaVersion is written into every new session. Sessions created
// before versioning carry no schemaVersion key and decode as version 0.
const MetadataSchemaVersion = 1

// Provider limits on session metadata.
const (
	maxMetadataKeys     = 50
	maxMetadataValueLen = 500
)

const (
	keySchemaVersion = "schemaVersion"
	keyUserID        = "userId"
	keyCartID        = "cartId"
	keyCartItems     = "cartItems"
	keyAddressInfo   = "addressInfo"
	keyOrderStatus   = "orderStatus"
	keyPaymentMethod = "paymentMethod"
	keyPaymentStatus = "paymentStatus"
	keyTotalAmount   = "totalAmount"
	keyOrderDate     = "orderDate"
)

// OrderContext is the order state attached to a checkout session and echoed
// back on its webhook events, so no local pending-order record is needed.
type OrderContext struct {
	SchemaVersion int
	UserID        string
	CartID        string
	CartItems     []domain.CartItem
	AddressInfo   json.RawMessage
	OrderStatus   domain.OrderStatus
	PaymentMethod string
	PaymentStatus domain.PaymentStatus
	TotalAmount   domain.Money
	OrderDate     time.Time
}

// Encode renders the context as session metadata.
func (c OrderContext) Encode() (map[string]string, error) {
	items, err := json.Marshal(c.CartItems)
	if err != nil {
		return nil, fmt.Errorf("encode cart items: %w", err)
	}

	md := map[string]string{
		keySchemaVersion: strconv.Itoa(c.SchemaVersion),
		keyUserID:        c.UserID,
		keyCartItems:     string(items),
		keyOrderStatus:   string(c.OrderStatus),
		keyPaymentMethod: c.PaymentMethod,
		keyPaymentStatus: string(c.PaymentStatus),
		keyTotalAmount:   c.TotalAmount.String(),
		keyOrderDate:     c.OrderDate.UTC().Format(time.RFC3339),
	}
	if c.CartID != "" {
		md[keyCartID] = c.CartID
	}
	if len(c.AddressInfo) > 0 {
		md[keyAddressInfo] = string(c.AddressInfo)
	}

	if len(md) > maxMetadataKeys {
		return nil, fmt.Errorf("%w: %d metadata keys exceeds %d", domain.ErrValidationFailed, len(md), maxMetadataKeys)
	}
	for k, v := range md {
		if len(v) > maxMetadataValueLen {
			return nil, fmt.Errorf("%w: metadata %s is %d chars, limit %d", domain.ErrValidationFailed, k, len(v), maxMetadataValueLen)
		}
	}
	return md, nil
}

// DecodeOrderContext reads session metadata back into an OrderContext,
// filling defaults and re-checking that the total matches the cart.
func DecodeOrderContext(md map[string]string) (OrderContext, error) {
	var c OrderContext

	if raw, ok := md[keySchemaVersion]; ok {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return OrderContext{}, fmt.Errorf("%w: schema version %q", domain.ErrValidationFailed, raw)
		}
		if v > MetadataSchemaVersion {
			return OrderContext{}, fmt.Errorf("%w: %d", domain.ErrUnsupportedSchema, v)
		}
		c.SchemaVersion = v
	}

	c.UserID = md[keyUserID]
	if c.UserID == "" {
		return OrderContext{}, fmt.Errorf("%w: metadata userId missing", domain.ErrValidationFailed)
	}
	c.CartID = md[keyCartID]

	if raw := md[keyCartItems]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.CartItems); err != nil {
			return OrderContext{}, fmt.Errorf("%w: cart items: %v", domain.ErrValidationFailed, err)
		}
	}
	if raw := md[keyAddressInfo]; raw != "" {
		c.AddressInfo = normalizeAddress(raw)
	}

	c.OrderStatus = domain.OrderStatus(orDefault(md[keyOrderStatus], string(domain.OrderStatusPending)))
	c.PaymentMethod = orDefault(md[keyPaymentMethod], domain.DefaultPaymentMethod)
	c.PaymentStatus = domain.PaymentStatus(orDefault(md[keyPaymentStatus], string(domain.PaymentStatusPending)))

	total, err := domain.ParseMoney(md[keyTotalAmount])
	if err != nil {
		return OrderContext{}, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	c.TotalAmount = total
	if sum := domain.CartTotal(c.CartItems); !sum.Equal(total) {
		return OrderContext{}, fmt.Errorf("%w: metadata total %s does not match cart total %s",
			domain.ErrValidationFailed, total, sum)
	}

	if raw := md[keyOrderDate]; raw != "" {
		at, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return OrderContext{}, fmt.Errorf("%w: order date %q", domain.ErrValidationFailed, raw)
		}
		c.OrderDate = at.UTC()
	}
	return c, nil
}

// normalizeAddress keeps JSON address blobs as-is and wraps legacy plain
// strings so the stored value is always valid JSON.
func normalizeAddress(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
