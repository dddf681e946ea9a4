package payments

import (
	"crypto/hmac"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/cimillas/orderhook/internal/clock"
	"github.com/cimillas/orderhook/internal/domain"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// SignatureHeader carries the provider's timestamp and signatures.
const SignatureHeader = "Stripe-Signature"

const signingScheme = "v1"

// Verifier authenticates raw webhook bodies against the endpoint secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

type VerifierOption func(*Verifier)

// WithTolerance overrides the accepted clock skew for signed timestamps.
func WithTolerance(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

func WithClock(c clock.Clock) VerifierOption {
	return func(v *Verifier) {
		if c != nil {
			v.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

func NewVerifier(secret string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret:    secret,
		tolerance: webhook.DefaultTolerance,
		clock:     clock.NewSystem(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifiedEvent is a provider event whose body passed signature and
// timestamp checks. Object holds the raw data.object payload.
type VerifiedEvent struct {
	ID       string
	Type     stripe.EventType
	Created  time.Time
	Livemode bool
	Object   json.RawMessage
}

// Verify checks rawBody against the signature header. rawBody must be the
// bytes exactly as received; it is decoded only after the signature matches.
func (v *Verifier) Verify(rawBody []byte, header string) (*VerifiedEvent, error) {
	event, err := v.verify(rawBody, header)
	if err != nil {
		var verr *domain.VerificationError
		if errors.As(err, &verr) {
			v.logger.Warn("webhook verification failed",
				"reason", verr.Kind.Error(),
				"header_len", len(header),
				"body_bytes", len(rawBody),
			)
		}
		return nil, err
	}
	return event, nil
}

func (v *Verifier) verify(rawBody []byte, header string) (*VerifiedEvent, error) {
	parsed, err := parseSignatureHeader(header)
	if err != nil {
		return nil, &domain.VerificationError{Kind: domain.ErrMalformedHeader, Cause: err}
	}
	if parsed.timestampErr != nil {
		return nil, &domain.VerificationError{Kind: domain.ErrBadSignature, Cause: parsed.timestampErr}
	}
	signedAt, signatures := parsed.signedAt, parsed.signatures

	expected := webhook.ComputeSignature(signedAt, rawBody, v.secret)
	matched := false
	for _, sig := range signatures {
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	if !matched {
		return nil, &domain.VerificationError{Kind: domain.ErrBadSignature}
	}

	now := v.clock.Now()
	if now.Sub(signedAt) > v.tolerance || signedAt.Sub(now) > v.tolerance {
		return nil, &domain.VerificationError{
			Kind:  domain.ErrStaleTimestamp,
			Cause: errors.New("signed at " + signedAt.UTC().Format(time.RFC3339)),
		}
	}

	var evt stripe.Event
	if err := json.Unmarshal(rawBody, &evt); err != nil {
		return nil, &domain.VerificationError{Kind: domain.ErrMalformedPayload, Cause: err}
	}
	if evt.ID == "" || evt.Type == "" || evt.Data == nil {
		return nil, &domain.VerificationError{
			Kind:  domain.ErrMalformedPayload,
			Cause: errors.New("event id, type and data are required"),
		}
	}

	return &VerifiedEvent{
		ID:       evt.ID,
		Type:     evt.Type,
		Created:  time.Unix(evt.Created, 0).UTC(),
		Livemode: evt.Livemode,
		Object:   evt.Data.Raw,
	}, nil
}

type signatureHeader struct {
	signedAt   time.Time
	signatures [][]byte
	// timestampErr is set when no single integer timestamp was found. The
	// signatures cannot be bound to a signing time, so they never verify.
	timestampErr error
}

// parseSignatureHeader reads "t=<unix>,v1=<hex>[,v1=<hex>...]". Only an
// empty header or one without any key=value entry is malformed; every other
// defect leaves nothing that can verify. Entries for other schemes (v0 in
// test mode) are skipped unread, as are v1 values that are not lowercase hex.
func parseSignatureHeader(header string) (signatureHeader, error) {
	var h signatureHeader
	if strings.TrimSpace(header) == "" {
		return h, errors.New("header is empty")
	}

	entries, timestamps := 0, 0
	for _, pair := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		entries++
		switch key {
		case "t":
			timestamps++
			unix, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				h.timestampErr = errors.New("timestamp is not an integer")
				continue
			}
			h.signedAt = time.Unix(unix, 0)
		case signingScheme:
			if value != strings.ToLower(value) {
				continue
			}
			sig, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			h.signatures = append(h.signatures, sig)
		}
	}
	if entries == 0 {
		return h, errors.New("header has no key=value entries")
	}
	switch {
	case timestamps == 0:
		h.timestampErr = errors.New("timestamp missing")
	case timestamps > 1:
		h.timestampErr = errors.New("duplicate timestamp")
	}
	return h, nil
}
