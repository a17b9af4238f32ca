package checkout

import "context"

// PaymentApproved is the provider status that allows a finalize.
const PaymentApproved = "approved"

// PreferenceRequest is the provider-agnostic input for creating a hosted
// payment page. The checkout id travels as the provider's external reference
// and is echoed back on webhooks.
type PreferenceRequest struct {
	CheckoutID  string
	PlanCode    string
	Title       string
	AmountCents int64
	Currency    string
	PayerEmail  string
	NotifyURL   string
	SuccessURL  string
	FailureURL  string
}

// Preference is the provider's answer: an identifier to store on the session
// and the URL the client gets redirected to.
type Preference struct {
	Reference  string
	PaymentURL string
}

// ProviderPayment is the normalized shape of a payment record fetched from
// the provider. CheckoutID is resolved from provider metadata or the echoed
// external reference and may be empty for payments we cannot correlate.
type ProviderPayment struct {
	ID           string
	Status       string
	StatusDetail string
	AmountCents  int64
	Currency     string
	CheckoutID   string
}

// Approved reports whether the provider accepted the payment.
func (p *ProviderPayment) Approved() bool {
	return p != nil && p.Status == PaymentApproved
}

// ProviderGateway is the outbound HTTP surface of a payment provider. Every
// call is read-only with respect to local state.
type ProviderGateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*ProviderPayment, error)
	// SearchLatestByExternalReference returns (nil, nil) when the provider
	// knows no payment for the reference yet.
	SearchLatestByExternalReference(ctx context.Context, ref string) (*ProviderPayment, error)
}
