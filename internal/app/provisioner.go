package app

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/cimillas/orderhook/internal/domain"
	"github.com/cimillas/orderhook/internal/metrics"
)

// DocumentBackend is the storage collaborator. Create calls report
// OutcomeAlreadyExists instead of an error when the resource is present;
// lookups return domain.ErrNotFound.
type DocumentBackend interface {
	GetDatabase(ctx context.Context, dbID string) (string, error)
	GetCollection(ctx context.Context, dbID, collectionID string) (string, error)
	GetAttribute(ctx context.Context, dbID, collectionID, key string) (domain.StringAttribute, error)
	GetIndex(ctx context.Context, dbID, collectionID, key string) (domain.Index, error)
	CreateDatabase(ctx context.Context, dbID, name string) (domain.Outcome, error)
	CreateCollection(ctx context.Context, dbID, collectionID, name string, documentSecurity bool) (domain.Outcome, error)
	CreateStringAttribute(ctx context.Context, dbID, collectionID string, attr domain.StringAttribute) (domain.Outcome, error)
	CreateIndex(ctx context.Context, dbID, collectionID string, idx domain.Index) (domain.Outcome, error)
	CreateDocument(ctx context.Context, dbID, collectionID string, doc domain.Document) (domain.Outcome, error)
	FindDocumentID(ctx context.Context, dbID, collectionID, attrKey, value string) (string, error)
}

const (
	AttrUserID  = "userId"
	AttrOrderID = "orderId"

	attributeSize      = 255
	orderIDIndexKey    = "orderId_unique"
	ordersDatabaseName = "Orders Database"
	ordersCollection   = "Orders Collection"
	defaultStepTimeout = 5 * time.Second
)

// RequiredAttributes are enforced on every EnsureNamespace call.
var RequiredAttributes = []domain.StringAttribute{
	{Key: AttrUserID, Size: attributeSize, Required: true},
	{Key: AttrOrderID, Size: attributeSize, Required: true},
}

// orderIDIndex keys exactly-once writes on the payment reference.
var orderIDIndex = domain.Index{
	Key:        orderIDIndexKey,
	Unique:     true,
	Attributes: []string{AttrOrderID},
}

type Provisioner struct {
	backend DocumentBackend
	timeout time.Duration
	logger  *slog.Logger
}

type ProvisionerOption func(*Provisioner)

// WithStepTimeout bounds every individual backend call.
func WithStepTimeout(d time.Duration) ProvisionerOption {
	return func(p *Provisioner) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithProvisionLogger(l *slog.Logger) ProvisionerOption {
	return func(p *Provisioner) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewProvisioner(backend DocumentBackend, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		backend: backend,
		timeout: defaultStepTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NamespaceExists reports whether the namespace is fully provisioned: the
// database, the collection, every required attribute as declared and the
// unique payment-reference index. Anything missing or different reports
// false so the next EnsureNamespace call repairs or rejects it.
func (p *Provisioner) NamespaceExists(ctx context.Context, dbID, collectionID string) (bool, error) {
	if err := p.lookup(ctx, func(ctx context.Context) error {
		_, err := p.backend.GetDatabase(ctx, dbID)
		return err
	}); err != nil {
		return lookupResult("get database", err)
	}
	if err := p.lookup(ctx, func(ctx context.Context) error {
		_, err := p.backend.GetCollection(ctx, dbID, collectionID)
		return err
	}); err != nil {
		return lookupResult("get collection", err)
	}

	for _, want := range RequiredAttributes {
		var got domain.StringAttribute
		if err := p.lookup(ctx, func(ctx context.Context) (err error) {
			got, err = p.backend.GetAttribute(ctx, dbID, collectionID, want.Key)
			return err
		}); err != nil {
			return lookupResult("get attribute "+want.Key, err)
		}
		if got != want {
			return false, nil
		}
	}

	var idx domain.Index
	if err := p.lookup(ctx, func(ctx context.Context) (err error) {
		idx, err = p.backend.GetIndex(ctx, dbID, collectionID, orderIDIndexKey)
		return err
	}); err != nil {
		return lookupResult("get index "+orderIDIndexKey, err)
	}
	return sameIndex(idx, orderIDIndex), nil
}

func (p *Provisioner) lookup(ctx context.Context, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return fn(stepCtx)
}

func sameIndex(a, b domain.Index) bool {
	return a.Key == b.Key && a.Unique == b.Unique && slices.Equal(a.Attributes, b.Attributes)
}

func lookupResult(step string, err error) (bool, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, &domain.ProvisionError{Step: step, Kind: domain.Classify(err), Cause: err}
}

// EnsureNamespace creates the database, collection, required attributes and
// the payment-reference unique index, in that order. Anything that already
// exists counts as done; any other failure stops the remaining steps. Nothing
// is cached, so every call re-checks the backend.
func (p *Provisioner) EnsureNamespace(ctx context.Context, dbID, collectionID string) error {
	for _, step := range p.plan(dbID, collectionID) {
		outcome, err := p.runStep(ctx, step.run)
		if err != nil {
			kind := domain.Classify(err)
			metrics.ProvisionSteps.WithLabelValues(step.name, "failed").Inc()
			p.logger.ErrorContext(ctx, "provision step failed",
				"db_id", dbID, "collection_id", collectionID, "step", step.name, "error", err)
			return &domain.ProvisionError{Step: step.name, Kind: kind, Cause: err}
		}
		metrics.ProvisionSteps.WithLabelValues(step.name, outcome.String()).Inc()
		p.logger.DebugContext(ctx, "provision step", "step", step.name, "outcome", outcome.String())
	}
	return nil
}

type provisionStep struct {
	name string
	run  func(ctx context.Context) (domain.Outcome, error)
}

func (p *Provisioner) plan(dbID, collectionID string) []provisionStep {
	steps := []provisionStep{
		{"database", func(ctx context.Context) (domain.Outcome, error) {
			return p.backend.CreateDatabase(ctx, dbID, ordersDatabaseName)
		}},
		{"collection", func(ctx context.Context) (domain.Outcome, error) {
			return p.backend.CreateCollection(ctx, dbID, collectionID, ordersCollection, true)
		}},
	}
	for _, attr := range RequiredAttributes {
		attr := attr
		steps = append(steps, provisionStep{"attribute " + attr.Key, func(ctx context.Context) (domain.Outcome, error) {
			return p.backend.CreateStringAttribute(ctx, dbID, collectionID, attr)
		}})
	}
	return append(steps, provisionStep{"index " + orderIDIndexKey, func(ctx context.Context) (domain.Outcome, error) {
		return p.backend.CreateIndex(ctx, dbID, collectionID, orderIDIndex)
	}})
}

func (p *Provisioner) runStep(ctx context.Context, run func(ctx context.Context) (domain.Outcome, error)) (domain.Outcome, error) {
	stepCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	// Timeouts and unclassified errors fall through to
	// domain.ErrBackendUnavailable in Classify.
	outcome, err := run(stepCtx)
	if err != nil {
		return 0, err
	}
	switch outcome {
	case domain.OutcomeCreated, domain.OutcomeAlreadyExists:
		return outcome, nil
	default:
		return 0, errors.New("backend returned no outcome")
	}
}
