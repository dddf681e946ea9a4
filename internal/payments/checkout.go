package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cimillas/orderhook/internal/clock"
	"github.com/cimillas/orderhook/internal/domain"
	"github.com/stripe/stripe-go/v81"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
)

// SessionCreator is the provider call that opens a checkout session.
// *checkoutsession.Client satisfies it.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewSessionClient builds a provider client whose HTTP calls are bounded by
// timeout.
func NewSessionClient(secretKey string, timeout time.Duration) *checkoutsession.Client {
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
	})
	return &checkoutsession.Client{B: backend, Key: secretKey}
}

// CheckoutRequest is the cart and redirect targets for one checkout.
type CheckoutRequest struct {
	UserID        string
	CartID        string
	Cart          []domain.CartItem
	AddressInfo   json.RawMessage
	PaymentMethod string
	SuccessURL    string
	FailureURL    string
}

// SessionHandle is what the caller needs to redirect the buyer.
type SessionHandle struct {
	ID       string
	URL      string
	Metadata OrderContext
}

type CheckoutInitiator struct {
	sessions SessionCreator
	clock    clock.Clock
	logger   *slog.Logger
	currency stripe.Currency
}

func NewCheckoutInitiator(sessions SessionCreator, clk clock.Clock, logger *slog.Logger) *CheckoutInitiator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutInitiator{
		sessions: sessions,
		clock:    clk,
		logger:   logger,
		currency: stripe.CurrencyUSD,
	}
}

// CreateSession opens a payment session for the cart. It never returns an
// error: any failure is logged and reported as a nil handle, which callers
// present as "try again".
func (c *CheckoutInitiator) CreateSession(ctx context.Context, req CheckoutRequest) *SessionHandle {
	handle, err := c.createSession(ctx, req)
	if err != nil {
		c.logger.ErrorContext(ctx, "create checkout session failed",
			"user_id", req.UserID,
			"cart_id", req.CartID,
			"items", len(req.Cart),
			"error", err,
		)
		return nil
	}
	c.logger.InfoContext(ctx, "checkout session created",
		"session_id", handle.ID,
		"user_id", req.UserID,
		"total_amount", handle.Metadata.TotalAmount.String(),
	)
	return handle
}

func (c *CheckoutInitiator) createSession(ctx context.Context, req CheckoutRequest) (*SessionHandle, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidationFailed)
	}
	if len(req.Cart) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", domain.ErrValidationFailed)
	}
	if req.SuccessURL == "" || req.FailureURL == "" {
		return nil, fmt.Errorf("%w: success and failure urls are required", domain.ErrValidationFailed)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Cart))
	for _, item := range req.Cart {
		if err := item.Validate(); err != nil {
			return nil, err
		}
		cents, err := item.Price.Cents()
		if err != nil {
			return nil, err
		}
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(string(c.currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.ProductID),
				},
				UnitAmount: stripe.Int64(cents),
			},
			Quantity: stripe.Int64(item.Quantity),
		})
	}

	octx := OrderContext{
		SchemaVersion: MetadataSchemaVersion,
		UserID:        req.UserID,
		CartID:        req.CartID,
		CartItems:     req.Cart,
		AddressInfo:   req.AddressInfo,
		OrderStatus:   domain.OrderStatusPending,
		PaymentMethod: orDefault(req.PaymentMethod, domain.DefaultPaymentMethod),
		PaymentStatus: domain.PaymentStatusPending,
		TotalAmount:   domain.CartTotal(req.Cart),
		OrderDate:     c.clock.Now(),
	}
	metadata, err := octx.Encode()
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems:          lineItems,
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.FailureURL),
		ClientReferenceID:  stripe.String(req.UserID),
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	session, err := c.sessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return nil, fmt.Errorf("provider rejected session (%s/%s): %w", stripeErr.Type, stripeErr.Code, err)
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	if session == nil || session.ID == "" {
		return nil, errors.New("provider returned an empty session")
	}

	return &SessionHandle{
		ID:       session.ID,
		URL:      session.URL,
		Metadata: octx,
	}, nil
}
