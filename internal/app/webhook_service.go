package app

import (
	"context"
	"log/slog"

	"github.com/cimillas/orderhook/internal/clock"
	"github.com/cimillas/orderhook/internal/domain"
	"github.com/cimillas/orderhook/internal/payments"
	"github.com/stripe/stripe-go/v81"
)

// OrderRecorder is the minimal interface the webhook path needs to persist
// an order.
type OrderRecorder interface {
	WriteOrder(ctx context.Context, dbID, collectionID string, fields domain.OrderFields) (WriteResult, error)
}

type WebhookService struct {
	orders       OrderRecorder
	dbID         string
	collectionID string
	clock        clock.Clock
	logger       *slog.Logger
}

func NewWebhookService(orders OrderRecorder, dbID, collectionID string, clk clock.Clock, logger *slog.Logger) *WebhookService {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookService{
		orders:       orders,
		dbID:         dbID,
		collectionID: collectionID,
		clock:        clk,
		logger:       logger,
	}
}

type HandleResult struct {
	EventID string
	Type    string
	OrderID string
	Created bool
	Ignored bool
}

// HandleEvent turns a verified checkout event into exactly one order.
// Sessions paid on completion record a paid order; delayed payment methods
// wait for the async success or failure event so the first stored order
// already carries its final status.
func (s *WebhookService) HandleEvent(ctx context.Context, evt *payments.VerifiedEvent) (HandleResult, error) {
	res := HandleResult{EventID: evt.ID, Type: string(evt.Type)}

	var status domain.OrderStatus
	switch evt.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		status = domain.OrderStatusPaid
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		status = domain.OrderStatusFailed
	default:
		s.logger.InfoContext(ctx, "ignoring webhook event", "event_id", evt.ID, "type", evt.Type)
		res.Ignored = true
		return res, nil
	}

	session, err := evt.CheckoutSession()
	if err != nil {
		return HandleResult{}, &domain.WriteError{Kind: domain.ErrValidationFailed, Cause: err}
	}

	paymentStatus := domain.PaymentStatus(session.PaymentStatus)
	if evt.Type == stripe.EventTypeCheckoutSessionCompleted && !settled(paymentStatus) {
		s.logger.InfoContext(ctx, "checkout completed, awaiting async payment",
			"event_id", evt.ID, "session_id", session.ID, "payment_status", paymentStatus)
		res.Ignored = true
		return res, nil
	}

	fields, err := s.orderFields(session, status, paymentStatus)
	if err != nil {
		return HandleResult{}, &domain.WriteError{Kind: domain.ErrValidationFailed, Cause: err}
	}

	written, err := s.orders.WriteOrder(ctx, s.dbID, s.collectionID, fields)
	if err != nil {
		s.logger.ErrorContext(ctx, "order write failed",
			"event_id", evt.ID, "session_id", session.ID, "error", err)
		return HandleResult{}, err
	}

	res.OrderID = written.OrderID
	res.Created = written.Created
	return res, nil
}

func (s *WebhookService) orderFields(session *stripe.CheckoutSession, status domain.OrderStatus, paymentStatus domain.PaymentStatus) (domain.OrderFields, error) {
	octx, err := payments.DecodeOrderContext(session.Metadata)
	if err != nil {
		return domain.OrderFields{}, err
	}

	if session.AmountTotal != 0 {
		charged := domain.MoneyFromCents(session.AmountTotal)
		if !charged.Equal(octx.TotalAmount) {
			return domain.OrderFields{}, &amountMismatchError{charged: charged, recorded: octx.TotalAmount}
		}
	}

	if paymentStatus == "" {
		paymentStatus = octx.PaymentStatus
	}

	return domain.OrderFields{
		PaymentReference: session.ID,
		UserID:           octx.UserID,
		CartID:           octx.CartID,
		CartItems:        octx.CartItems,
		AddressInfo:      octx.AddressInfo,
		OrderStatus:      status,
		PaymentMethod:    octx.PaymentMethod,
		PaymentStatus:    paymentStatus,
		TotalAmount:      octx.TotalAmount,
		OrderDate:        octx.OrderDate,
		OrderUpdateDate:  s.clock.Now(),
		PaymentID:        payments.PaymentID(session),
		PayerID:          payments.PayerID(session),
		MetadataVersion:  octx.SchemaVersion,
	}, nil
}

func settled(status domain.PaymentStatus) bool {
	return status == domain.PaymentStatusPaid || status == domain.PaymentStatusNoPaymentRequired
}

type amountMismatchError struct {
	charged  domain.Money
	recorded domain.Money
}

func (e *amountMismatchError) Error() string {
	return "provider charged " + e.charged.String() + " but session metadata records " + e.recorded.String()
}

func (e *amountMismatchError) Unwrap() error {
	return domain.ErrValidationFailed
}
