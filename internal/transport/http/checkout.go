package http

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/cimillas/orderhook/internal/domain"
	"github.com/cimillas/orderhook/internal/metrics"
	"github.com/cimillas/orderhook/internal/payments"
	"github.com/xeipuuv/gojsonschema"
)

const maxCheckoutBody = 64 << 10

//go:embed schema/checkout.json
var checkoutSchemaJSON string

var checkoutSchema = gojsonschema.NewStringLoader(checkoutSchemaJSON)

// SessionStarter opens a checkout session; nil means try again later.
type SessionStarter interface {
	CreateSession(ctx context.Context, req payments.CheckoutRequest) *payments.SessionHandle
}

type checkoutRequest struct {
	UserID        string            `json:"userId"`
	CartID        string            `json:"cartId"`
	Cart          []domain.CartItem `json:"cart"`
	AddressInfo   json.RawMessage   `json:"addressInfo"`
	PaymentMethod string            `json:"paymentMethod"`
	SuccessURL    string            `json:"successUrl"`
	FailureURL    string            `json:"failureUrl"`
}

type checkoutResponse struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	TotalAmount string `json:"total_amount"`
}

// HandleCreateCheckout returns an HTTP handler that opens a payment session
// for a cart.
func HandleCreateCheckout(sessions SessionStarter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCheckoutBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "could not read body")
			return
		}

		if err := validateCheckout(body); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, err.Error())
			return
		}

		var req checkoutRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		for _, item := range req.Cart {
			if err := item.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
				return
			}
		}

		handle := sessions.CreateSession(r.Context(), payments.CheckoutRequest{
			UserID:        req.UserID,
			CartID:        req.CartID,
			Cart:          req.Cart,
			AddressInfo:   req.AddressInfo,
			PaymentMethod: req.PaymentMethod,
			SuccessURL:    req.SuccessURL,
			FailureURL:    req.FailureURL,
		})
		if handle == nil {
			metrics.CheckoutSessionsTotal.WithLabelValues("failed").Inc()
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{
				Error: "checkout is temporarily unavailable, please try again",
				Code:  codeCheckoutUnavailable,
				Retry: true,
			})
			return
		}

		metrics.CheckoutSessionsTotal.WithLabelValues("created").Inc()
		writeJSON(w, http.StatusCreated, checkoutResponse{
			ID:          handle.ID,
			URL:         handle.URL,
			TotalAmount: handle.Metadata.TotalAmount.String(),
		})
	}
}

func validateCheckout(body []byte) error {
	result, err := gojsonschema.Validate(checkoutSchema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return errors.New("request body is not valid JSON")
	}
	if result.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return errors.New("request does not match schema: " + strings.Join(msgs, "; "))
}
