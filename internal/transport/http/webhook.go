package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cimillas/orderhook/internal/app"
	"github.com/cimillas/orderhook/internal/domain"
	"github.com/cimillas/orderhook/internal/metrics"
	"github.com/cimillas/orderhook/internal/payments"
)

// maxWebhookBody caps inbound event bodies; provider events are far smaller.
const maxWebhookBody = 64 << 10

// EventVerifier authenticates a raw webhook delivery.
type EventVerifier interface {
	Verify(rawBody []byte, header string) (*payments.VerifiedEvent, error)
}

// EventHandler turns a verified event into an order.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt *payments.VerifiedEvent) (app.HandleResult, error)
}

type webhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id"`
	OrderID  string `json:"order_id,omitempty"`
	Created  bool   `json:"created"`
	Ignored  bool   `json:"ignored,omitempty"`
}

// HandleStripeWebhook returns the provider webhook endpoint. The body is
// verified byte-for-byte before anything is decoded. Any 2xx tells the
// provider the delivery is done, so storage failures answer 5xx and the
// provider redelivers.
func HandleStripeWebhook(verifier EventVerifier, events EventHandler, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				metrics.WebhookEventsTotal.WithLabelValues("too_large").Inc()
				writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "event body too large")
				return
			}
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "could not read body")
			return
		}

		evt, err := verifier.Verify(body, r.Header.Get(payments.SignatureHeader))
		if err != nil {
			code := verificationCode(err)
			metrics.WebhookEventsTotal.WithLabelValues(code).Inc()
			writeError(w, http.StatusBadRequest, code, "webhook verification failed")
			return
		}

		res, err := events.HandleEvent(r.Context(), evt)
		if err != nil {
			status, code := writeFailureStatus(err)
			metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
			logger.ErrorContext(r.Context(), "webhook processing failed",
				"event_id", evt.ID, "type", evt.Type, "status", status, "error", err)
			writeError(w, status, code, "event could not be processed")
			return
		}

		switch {
		case res.Ignored:
			metrics.WebhookEventsTotal.WithLabelValues("ignored").Inc()
		case res.Created:
			metrics.WebhookEventsTotal.WithLabelValues("created").Inc()
		default:
			metrics.WebhookEventsTotal.WithLabelValues("duplicate").Inc()
		}

		writeJSON(w, http.StatusOK, webhookResponse{
			Received: true,
			EventID:  evt.ID,
			OrderID:  res.OrderID,
			Created:  res.Created,
			Ignored:  res.Ignored,
		})
	}
}

func verificationCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrBadSignature):
		return codeBadSignature
	case errors.Is(err, domain.ErrStaleTimestamp):
		return codeStaleTimestamp
	case errors.Is(err, domain.ErrMalformedHeader):
		return codeMalformedHeader
	case errors.Is(err, domain.ErrMalformedPayload):
		return codeMalformedPayload
	default:
		return codeBadSignature
	}
}

// writeFailureStatus maps order write and provisioning failures. Only
// validation failures are final; everything else is worth a redelivery.
func writeFailureStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidationFailed), errors.Is(err, domain.ErrUnsupportedSchema):
		return http.StatusUnprocessableEntity, codeValidationFailed
	case errors.Is(err, domain.ErrPermissionDenied),
		errors.Is(err, domain.ErrQuotaExceeded),
		errors.Is(err, domain.ErrSchemaConflict),
		errors.Is(err, domain.ErrBackendUnavailable):
		return http.StatusInternalServerError, codeStorageUnavailable
	default:
		return http.StatusInternalServerError, codeInternalError
	}
}
