package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/studymate/checkout/app/models"
	"github.com/studymate/checkout/internal/pkg/checkout"
	"github.com/studymate/checkout/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.mercadopago.com"

const (
	maxAttempts  = 3
	retryBackoff = 500 * time.Millisecond
)

// Client talks to the MercadoPago REST API. It implements
// checkout.ProviderGateway and never touches local state.
type Client struct {
	AccessToken string
	APIBaseURL  string

	HTTPClient *http.Client

	// backoff between retry attempts, overridable in tests.
	Backoff time.Duration
}

var _ checkout.ProviderGateway = (*Client)(nil)

func NewClientFromEnv() *Client {
	return &Client{
		AccessToken: strings.TrimSpace(env.GetEnv("MP_ACCESS_TOKEN", "")),
		APIBaseURL:  strings.TrimRight(env.GetEnv("MP_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		Backoff: retryBackoff,
	}
}

// APIError carries the provider's HTTP status and error detail. It unwraps to
// checkout.ErrProviderUnavailable for transient statuses and to
// checkout.ErrProviderRejected for definite refusals, so callers classify
// with errors.Is and read detail with errors.As.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mercadopago: status=%d detail=%s", e.StatusCode, e.Detail)
}

func (e *APIError) Unwrap() error {
	if isRetryableStatus(e.StatusCode) {
		return checkout.ErrProviderUnavailable
	}
	return checkout.ErrProviderRejected
}

// RateLimited reports whether the provider throttled the request.
func (e *APIError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// Unauthorized reports a credentials problem with the configured token.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func isRetryableStatus(status int) bool {
	return status == http.StatusRequestTimeout ||
		status == http.StatusTooManyRequests ||
		status >= 500
}

type preferenceRequest struct {
	Items             []preferenceItem       `json:"items"`
	ExternalReference string                 `json:"external_reference"`
	NotificationURL   string                 `json:"notification_url,omitempty"`
	Payer             *preferencePayer       `json:"payer,omitempty"`
	BackURLs          *preferenceBackURLs    `json:"back_urls,omitempty"`
	AutoReturn        string                 `json:"auto_return,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

type preferenceItem struct {
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferencePayer struct {
	Email string `json:"email,omitempty"`
}

type preferenceBackURLs struct {
	Success string `json:"success,omitempty"`
	Failure string `json:"failure,omitempty"`
}

type preferenceResponse struct {
	ID        string `json:"id"`
	InitPoint string `json:"init_point"`
}

// CreatePreference registers a hosted payment page for one checkout. The
// checkout id travels as external_reference and in metadata so webhooks and
// reconciliation can correlate the payment back.
func (c *Client) CreatePreference(ctx context.Context, req checkout.PreferenceRequest) (*checkout.Preference, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return nil, errors.New("MP_ACCESS_TOKEN is not configured")
	}

	body := preferenceRequest{
		Items: []preferenceItem{{
			Title:      req.Title,
			Quantity:   1,
			UnitPrice:  centsToAmount(req.AmountCents),
			CurrencyID: req.Currency,
		}},
		ExternalReference: req.CheckoutID,
		NotificationURL:   req.NotifyURL,
		AutoReturn:        "approved",
		Metadata: map[string]interface{}{
			"checkout_id": req.CheckoutID,
			"plan_code":   req.PlanCode,
		},
	}
	if req.PayerEmail != "" {
		body.Payer = &preferencePayer{Email: req.PayerEmail}
	}
	if req.SuccessURL != "" || req.FailureURL != "" {
		body.BackURLs = &preferenceBackURLs{Success: req.SuccessURL, Failure: req.FailureURL}
	}

	var out preferenceResponse
	if err := c.doJSON(ctx, http.MethodPost, "/checkout/preferences", body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, fmt.Errorf("mercadopago preference response missing id")
	}
	return &checkout.Preference{Reference: out.ID, PaymentURL: out.InitPoint}, nil
}

type paymentResponse struct {
	ID                json.Number            `json:"id"`
	Status            string                 `json:"status"`
	StatusDetail      string                 `json:"status_detail"`
	TransactionAmount float64                `json:"transaction_amount"`
	CurrencyID        string                 `json:"currency_id"`
	ExternalReference string                 `json:"external_reference"`
	Metadata          map[string]interface{} `json:"metadata"`
}

// GetPayment fetches one payment by id. This is the trusted read behind
// webhook pushes: the push only tells us what to fetch.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*checkout.ProviderPayment, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errors.New("payment id is required")
	}

	var out paymentResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return toProviderPayment(&out), nil
}

type searchResponse struct {
	Results []paymentResponse `json:"results"`
}

// SearchLatestByExternalReference returns the newest payment the provider
// knows for a checkout reference, or (nil, nil) when none exists yet.
func (c *Client) SearchLatestByExternalReference(ctx context.Context, ref string) (*checkout.ProviderPayment, error) {
	r := strings.TrimSpace(ref)
	if r == "" {
		return nil, errors.New("external reference is required")
	}

	q := url.Values{}
	q.Set("external_reference", r)
	q.Set("sort", "date_created")
	q.Set("criteria", "desc")
	q.Set("limit", "1")

	var out searchResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v1/payments/search?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	return toProviderPayment(&out.Results[0]), nil
}

func toProviderPayment(p *paymentResponse) *checkout.ProviderPayment {
	checkoutID := ""
	if p.Metadata != nil {
		if v, ok := p.Metadata["checkout_id"].(string); ok {
			checkoutID = strings.TrimSpace(v)
		}
	}
	if checkoutID == "" {
		checkoutID = strings.TrimSpace(p.ExternalReference)
	}
	return &checkout.ProviderPayment{
		ID:           p.ID.String(),
		Status:       strings.ToLower(strings.TrimSpace(p.Status)),
		StatusDetail: p.StatusDetail,
		AmountCents:  amountToCents(p.TransactionAmount),
		Currency:     strings.ToUpper(strings.TrimSpace(p.CurrencyID)),
		CheckoutID:   checkoutID,
	}
}

// doJSON performs one API call with the bounded retry policy: transient
// statuses and transport errors are retried with linear backoff, everything
// else surfaces immediately with the provider's detail attached.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return err
		}
	}

	backoff := c.Backoff
	if backoff <= 0 {
		backoff = retryBackoff
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * backoff):
			}
		}

		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out == nil {
				return nil
			}
			return json.Unmarshal(body, out)
		}

		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: extractDetail(body)}
		if !isRetryableStatus(resp.StatusCode) {
			return apiErr
		}
		lastErr = apiErr
	}

	return fmt.Errorf("%w: %s after %d attempts: %v",
		checkout.ErrProviderUnavailable, models.ProviderMercadoPago, maxAttempts, lastErr)
}

func extractDetail(body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	const max = 200
	s := string(body)
	if len(s) > max {
		s = s[:max]
	}
	return s
}

func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}

func amountToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
