package payments

import (
	"context"
	"net/url"

	"github.com/noorcart/noorcart-backend/pkg/db/models"
	"github.com/noorcart/noorcart-backend/pkg/enums"
	pkgerrors "github.com/noorcart/noorcart-backend/pkg/errors"
)

// InitiateResult carries what the client needs to continue the payment:
// hosted flows get a redirect URL, the in-app wallet gets SDK parameters.
type InitiateResult struct {
	RedirectURL string
	SDKParams   map[string]string
	PaymentID   string
}

// Adapter is the one capability set every gateway implements. VerifyReturn
// and VerifyWebhook authenticate inbound payloads; Status queries the gateway
// directly and is the only channel treated as authoritative on conflict.
type Adapter interface {
	Gateway() enums.PaymentGateway
	Initiate(ctx context.Context, session *models.CheckoutSession) (*InitiateResult, error)
	VerifyReturn(ctx context.Context, params url.Values) (*NormalizedOutcome, error)
	VerifyWebhook(ctx context.Context, body []byte) (*NormalizedOutcome, error)
	Status(ctx context.Context, session *models.CheckoutSession) (*NormalizedOutcome, error)
	// TrackIDFromReturn extracts the correlation id without verifying, for
	// the status fallback when verification of a return payload fails.
	TrackIDFromReturn(params url.Values) string
}

// Registry resolves adapters by gateway name.
type Registry struct {
	adapters map[enums.PaymentGateway]Adapter
}

// NewRegistry indexes the provided adapters. Nil entries are skipped so a
// deployment can run with a subset of gateways configured.
func NewRegistry(adapters ...Adapter) *Registry {
	indexed := make(map[enums.PaymentGateway]Adapter, len(adapters))
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		indexed[adapter.Gateway()] = adapter
	}
	return &Registry{adapters: indexed}
}

// Get returns the adapter for the gateway or a configuration error.
func (r *Registry) Get(gateway enums.PaymentGateway) (Adapter, error) {
	if adapter, ok := r.adapters[gateway]; ok {
		return adapter, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeGatewayConfig,
		"no adapter configured for gateway "+gateway.String())
}
