package app

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cimillas/orderhook/internal/clock"
	"github.com/cimillas/orderhook/internal/domain"
	"github.com/cimillas/orderhook/internal/payments"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const webhookSecret = "whsec_test_secret"

type captureSessions struct {
	params *stripe.CheckoutSessionParams
}

func (c *captureSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	c.params = params
	return &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://pay.test/cs_test_1"}, nil
}

type webhookFixture struct {
	now      time.Time
	backend  *fakeBackend
	service  *WebhookService
	verifier *payments.Verifier
	metadata map[string]string
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessions := &captureSessions{}
	initiator := payments.NewCheckoutInitiator(sessions, clock.NewFixed(now.Add(-10*time.Minute)), logger)
	handle := initiator.CreateSession(context.Background(), payments.CheckoutRequest{
		UserID:      "user-1",
		CartID:      "cart-1",
		Cart:        []domain.CartItem{{ProductID: "A", Quantity: 2, Price: mustMoney(t, "10.00")}},
		AddressInfo: json.RawMessage(`{"city":"X"}`),
		SuccessURL:  "https://shop.test/success",
		FailureURL:  "https://shop.test/failure",
	})
	require.NotNil(t, handle)
	require.Equal(t, "20.00", handle.Metadata.TotalAmount.String())

	backend := newFakeBackend()
	writer := newTestWriter(backend, now)
	return &webhookFixture{
		now:      now,
		backend:  backend,
		service:  NewWebhookService(writer, "orders", "orders", clock.NewFixed(now), logger),
		verifier: payments.NewVerifier(webhookSecret, payments.WithClock(clock.NewFixed(now)), payments.WithLogger(logger)),
		metadata: sessions.params.Metadata,
	}
}

// deliver signs and verifies an event the way the HTTP handler would.
func (f *webhookFixture) deliver(t *testing.T, eventID string, eventType stripe.EventType, session map[string]any) (HandleResult, error) {
	t.Helper()
	session["object"] = "checkout.session"
	if _, ok := session["metadata"]; !ok {
		session["metadata"] = f.metadata
	}
	body, err := json.Marshal(map[string]any{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": f.now.Unix(),
		"data":    map[string]any{"object": session},
	})
	require.NoError(t, err)
	header := fmt.Sprintf("t=%d,v1=%s", f.now.Unix(), hex.EncodeToString(webhook.ComputeSignature(f.now, body, webhookSecret)))

	evt, err := f.verifier.Verify(body, header)
	require.NoError(t, err)
	return f.service.HandleEvent(context.Background(), evt)
}

func TestWebhookService_CheckoutCompletedEndToEnd(t *testing.T) {
	t.Parallel()
	f := newWebhookFixture(t)

	session := map[string]any{
		"id":             "cs_test_1",
		"payment_status": "paid",
		"amount_total":   2000,
		"payment_intent": "pi_1",
		"customer_details": map[string]any{
			"email": "buyer@shop.test",
		},
	}

	res, err := f.deliver(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, session)
	require.NoError(t, err)
	assert.False(t, res.Ignored)
	assert.True(t, res.Created)
	require.NotEmpty(t, res.OrderID)

	docs := f.backend.documents("orders", "orders")
	require.Len(t, docs, 1)
	data := docs[0].Data
	assert.Equal(t, "paid", data["orderStatus"])
	assert.Equal(t, "paid", data["paymentStatus"])
	assert.Equal(t, "20.00", data["totalAmount"])
	assert.Equal(t, "cs_test_1", data["orderId"])
	assert.Equal(t, "pi_1", data["paymentId"])
	assert.Equal(t, "buyer@shop.test", data["payerId"])
	assert.Equal(t, `{"city":"X"}`, data["addressInfo"])
	assert.Equal(t, "2025-03-01T11:50:00Z", data["orderDate"], "order date comes from session creation")

	again, err := f.deliver(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, session)
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.OrderID, again.OrderID)
	assert.Len(t, f.backend.documents("orders", "orders"), 1)
}

func TestWebhookService_AsyncPayments(t *testing.T) {
	t.Parallel()

	t.Run("unpaid completion waits for the async event", func(t *testing.T) {
		f := newWebhookFixture(t)

		res, err := f.deliver(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, map[string]any{
			"id": "cs_test_1", "payment_status": "unpaid", "amount_total": 2000,
		})
		require.NoError(t, err)
		assert.True(t, res.Ignored)
		assert.Empty(t, f.backend.documents("orders", "orders"))

		res, err = f.deliver(t, "evt_2", stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded, map[string]any{
			"id": "cs_test_1", "payment_status": "paid", "amount_total": 2000,
		})
		require.NoError(t, err)
		assert.True(t, res.Created)
		assert.Equal(t, "paid", f.backend.documents("orders", "orders")[0].Data["orderStatus"])
	})

	t.Run("async failure records a failed order", func(t *testing.T) {
		f := newWebhookFixture(t)

		res, err := f.deliver(t, "evt_3", stripe.EventTypeCheckoutSessionAsyncPaymentFailed, map[string]any{
			"id": "cs_test_1", "payment_status": "unpaid", "amount_total": 2000,
		})
		require.NoError(t, err)
		assert.True(t, res.Created)
		data := f.backend.documents("orders", "orders")[0].Data
		assert.Equal(t, "failed", data["orderStatus"])
		assert.Equal(t, "unpaid", data["paymentStatus"])
	})
}

func TestWebhookService_RejectsAndIgnores(t *testing.T) {
	t.Parallel()

	t.Run("unrelated event types are ignored", func(t *testing.T) {
		f := newWebhookFixture(t)
		res, err := f.deliver(t, "evt_1", "customer.created", map[string]any{"id": "cus_1"})
		require.NoError(t, err)
		assert.True(t, res.Ignored)
		assert.Zero(t, f.backend.callCount("CreateDocument"))
	})

	t.Run("charged amount must match the cart", func(t *testing.T) {
		f := newWebhookFixture(t)
		_, err := f.deliver(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, map[string]any{
			"id": "cs_test_1", "payment_status": "paid", "amount_total": 1999,
		})
		var werr *domain.WriteError
		require.ErrorAs(t, err, &werr)
		assert.ErrorIs(t, err, domain.ErrValidationFailed)
		assert.Zero(t, f.backend.callCount("CreateDocument"))
	})

	t.Run("missing metadata fails validation", func(t *testing.T) {
		f := newWebhookFixture(t)
		_, err := f.deliver(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, map[string]any{
			"id": "cs_test_1", "payment_status": "paid", "metadata": map[string]string{},
		})
		assert.ErrorIs(t, err, domain.ErrValidationFailed)
	})

	t.Run("backend failure propagates", func(t *testing.T) {
		f := newWebhookFixture(t)
		f.backend.failOn["CreateDocument"] = domain.ErrQuotaExceeded
		_, err := f.deliver(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, map[string]any{
			"id": "cs_test_1", "payment_status": "paid", "amount_total": 2000,
		})
		assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	})
}
