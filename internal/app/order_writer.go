package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cimillas/orderhook/internal/clock"
	"github.com/cimillas/orderhook/internal/domain"
	"github.com/cimillas/orderhook/internal/metrics"
	"github.com/google/uuid"
)

type OrderWriter struct {
	backend     DocumentBackend
	provisioner *Provisioner
	clock       clock.Clock
	timeout     time.Duration
	logger      *slog.Logger
	newID       func() string
}

func NewOrderWriter(backend DocumentBackend, provisioner *Provisioner, clk clock.Clock, opts ...OrderWriterOption) *OrderWriter {
	w := &OrderWriter{
		backend:     backend,
		provisioner: provisioner,
		clock:       clk,
		timeout:     defaultStepTimeout,
		logger:      slog.Default(),
		newID:       func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

type OrderWriterOption func(*OrderWriter)

// WithWriteTimeout bounds each backend call made while writing.
func WithWriteTimeout(d time.Duration) OrderWriterOption {
	return func(w *OrderWriter) {
		if d > 0 {
			w.timeout = d
		}
	}
}

func WithWriterLogger(l *slog.Logger) OrderWriterOption {
	return func(w *OrderWriter) {
		if l != nil {
			w.logger = l
		}
	}
}

type WriteResult struct {
	OrderID string
	Created bool
}

// WriteOrder persists one order per payment reference. A repeated reference
// resolves to the order that was stored first and is not an error.
// Failures come back as *domain.WriteError (or *domain.ProvisionError when
// the namespace could not be established) and are never retried here.
func (w *OrderWriter) WriteOrder(ctx context.Context, dbID, collectionID string, fields domain.OrderFields) (WriteResult, error) {
	if err := fields.Validate(); err != nil {
		metrics.OrdersWrittenTotal.WithLabelValues("failed").Inc()
		return WriteResult{}, &domain.WriteError{Kind: domain.ErrValidationFailed, Cause: err}
	}

	if err := w.ensureNamespace(ctx, dbID, collectionID); err != nil {
		metrics.OrdersWrittenTotal.WithLabelValues("failed").Inc()
		return WriteResult{}, err
	}

	doc, err := w.document(fields)
	if err != nil {
		metrics.OrdersWrittenTotal.WithLabelValues("failed").Inc()
		return WriteResult{}, &domain.WriteError{Kind: domain.ErrValidationFailed, Cause: err}
	}

	outcome, err := w.createDocument(ctx, dbID, collectionID, doc)
	if err != nil {
		metrics.OrdersWrittenTotal.WithLabelValues("failed").Inc()
		return WriteResult{}, w.writeError(err)
	}

	if outcome == domain.OutcomeAlreadyExists {
		// The unique index rejected a second order for this reference; hand
		// back the one that won.
		existing, err := w.findExisting(ctx, dbID, collectionID, fields.PaymentReference)
		if err != nil {
			metrics.OrdersWrittenTotal.WithLabelValues("failed").Inc()
			return WriteResult{}, w.writeError(err)
		}
		metrics.OrdersWrittenTotal.WithLabelValues("duplicate").Inc()
		w.logger.InfoContext(ctx, "order already recorded",
			"payment_reference", fields.PaymentReference, "order_id", existing)
		return WriteResult{OrderID: existing, Created: false}, nil
	}

	metrics.OrdersWrittenTotal.WithLabelValues("created").Inc()
	w.logger.InfoContext(ctx, "order recorded",
		"payment_reference", fields.PaymentReference,
		"order_id", doc.ID,
		"order_status", fields.OrderStatus,
		"total_amount", fields.TotalAmount.String(),
	)
	return WriteResult{OrderID: doc.ID, Created: true}, nil
}

func (w *OrderWriter) ensureNamespace(ctx context.Context, dbID, collectionID string) error {
	if w.provisioner == nil {
		return nil
	}
	exists, err := w.provisioner.NamespaceExists(ctx, dbID, collectionID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return w.provisioner.EnsureNamespace(ctx, dbID, collectionID)
}

func (w *OrderWriter) createDocument(ctx context.Context, dbID, collectionID string, doc domain.Document) (domain.Outcome, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.backend.CreateDocument(callCtx, dbID, collectionID, doc)
}

func (w *OrderWriter) findExisting(ctx context.Context, dbID, collectionID, reference string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	id, err := w.backend.FindDocumentID(callCtx, dbID, collectionID, AttrOrderID, reference)
	if err != nil {
		return "", fmt.Errorf("find order for %s: %w", reference, err)
	}
	return id, nil
}

func (w *OrderWriter) writeError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.WriteError{Kind: domain.ErrBackendUnavailable, Cause: err}
	}
	return &domain.WriteError{Kind: domain.Classify(err), Cause: err}
}

// document lays the order out for storage. Cart items and address are kept
// as opaque JSON strings; only userId and orderId are indexed.
func (w *OrderWriter) document(f domain.OrderFields) (domain.Document, error) {
	items := f.CartItems
	if items == nil {
		items = []domain.CartItem{}
	}
	cartItems, err := json.Marshal(items)
	if err != nil {
		return domain.Document{}, fmt.Errorf("encode cart items: %w", err)
	}

	address := ""
	if len(f.AddressInfo) > 0 {
		if !json.Valid(f.AddressInfo) {
			return domain.Document{}, errors.New("address info is not valid JSON")
		}
		address = string(f.AddressInfo)
	}

	now := w.clock.Now()
	orderDate := f.OrderDate
	if orderDate.IsZero() {
		orderDate = now
	}
	updated := f.OrderUpdateDate
	if updated.IsZero() {
		updated = now
	}
	method := f.PaymentMethod
	if method == "" {
		method = domain.DefaultPaymentMethod
	}

	return domain.Document{
		ID: w.newID(),
		Attributes: map[string]string{
			AttrUserID:  f.UserID,
			AttrOrderID: f.PaymentReference,
		},
		Data: map[string]any{
			"userId":          f.UserID,
			"orderId":         f.PaymentReference,
			"cartId":          f.CartID,
			"cartItems":       string(cartItems),
			"addressInfo":     address,
			"orderStatus":     string(f.OrderStatus),
			"paymentMethod":   method,
			"paymentStatus":   string(f.PaymentStatus),
			"totalAmount":     f.TotalAmount.String(),
			"orderDate":       orderDate.UTC().Format(time.RFC3339),
			"orderUpdateDate": updated.UTC().Format(time.RFC3339),
			"paymentId":       f.PaymentID,
			"payerId":         f.PayerID,
			"metadataVersion": f.MetadataVersion,
		},
	}, nil
}
