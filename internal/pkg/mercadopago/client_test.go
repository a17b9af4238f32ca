package mercadopago

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studymate/checkout/internal/pkg/checkout"
)

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		AccessToken: "TEST-token",
		APIBaseURL:  server.URL,
		HTTPClient:  server.Client(),
		Backoff:     time.Millisecond,
	}
}

func TestCreatePreference(t *testing.T) {
	var got preferenceRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/checkout/preferences", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"pref-abc","init_point":"https://mp.example/init/pref-abc"}`))
	}))
	defer server.Close()

	c := newTestClient(server)
	pref, err := c.CreatePreference(context.Background(), checkout.PreferenceRequest{
		CheckoutID:  "chk_x1",
		PlanCode:    "premium_30",
		Title:       "StudyMate Premium (30 days)",
		AmountCents: 1499,
		Currency:    "ARS",
		PayerEmail:  "payer@example.com",
		NotifyURL:   "https://app.example/webhooks/mercadopago",
		SuccessURL:  "https://app.example/checkout/success",
		FailureURL:  "https://app.example/checkout/failure",
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer TEST-token", auth)
	assert.Equal(t, "pref-abc", pref.Reference)
	assert.Equal(t, "https://mp.example/init/pref-abc", pref.PaymentURL)

	require.Len(t, got.Items, 1)
	assert.Equal(t, 14.99, got.Items[0].UnitPrice)
	assert.Equal(t, 1, got.Items[0].Quantity)
	assert.Equal(t, "ARS", got.Items[0].CurrencyID)
	assert.Equal(t, "chk_x1", got.ExternalReference)
	assert.Equal(t, "chk_x1", got.Metadata["checkout_id"])
	assert.Equal(t, "premium_30", got.Metadata["plan_code"])
	require.NotNil(t, got.Payer)
	assert.Equal(t, "payer@example.com", got.Payer.Email)
	require.NotNil(t, got.BackURLs)
	assert.Equal(t, "https://app.example/checkout/success", got.BackURLs.Success)
	assert.Equal(t, "approved", got.AutoReturn)
}

func TestCreatePreferenceMissingToken(t *testing.T) {
	c := &Client{HTTPClient: http.DefaultClient}
	_, err := c.CreatePreference(context.Background(), checkout.PreferenceRequest{CheckoutID: "chk_x"})
	assert.Error(t, err)
}

func TestGetPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/123", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"id": 123,
			"status": "Approved",
			"status_detail": "accredited",
			"transaction_amount": 14.99,
			"currency_id": "ars",
			"external_reference": "chk_x1",
			"metadata": {"checkout_id": "chk_meta", "plan_code": "premium_30"}
		}`))
	}))
	defer server.Close()

	c := newTestClient(server)
	p, err := c.GetPayment(context.Background(), "123")
	require.NoError(t, err)

	assert.Equal(t, "123", p.ID)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "accredited", p.StatusDetail)
	assert.Equal(t, int64(1499), p.AmountCents)
	assert.Equal(t, "ARS", p.Currency)
	// Metadata wins over the echoed external reference.
	assert.Equal(t, "chk_meta", p.CheckoutID)
	assert.True(t, p.Approved())
}

func TestGetPaymentFallsBackToExternalReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"77","status":"pending","external_reference":"chk_ref"}`))
	}))
	defer server.Close()

	p, err := newTestClient(server).GetPayment(context.Background(), "77")
	require.NoError(t, err)
	assert.Equal(t, "chk_ref", p.CheckoutID)
	assert.False(t, p.Approved())
}

func TestGetPaymentRetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"id":"5","status":"approved"}`))
	}))
	defer server.Close()

	p, err := newTestClient(server).GetPayment(context.Background(), "5")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, p.Approved())
}

func TestGetPaymentExhaustsRetries(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"rate limited"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).GetPayment(context.Background(), "5")
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, checkout.ErrProviderUnavailable)
}

func TestGetPaymentRejectedIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid access token"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server).GetPayment(context.Background(), "5")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, checkout.ErrProviderRejected)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid access token", apiErr.Detail)
	assert.True(t, apiErr.Unauthorized())
	assert.False(t, apiErr.RateLimited())
}

func TestSearchLatestByExternalReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payments/search", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, "chk_x1", q.Get("external_reference"))
		require.Equal(t, "date_created", q.Get("sort"))
		require.Equal(t, "desc", q.Get("criteria"))
		require.Equal(t, "1", q.Get("limit"))
		_, _ = w.Write([]byte(`{"results":[{"id":321,"status":"approved","transaction_amount":39.99,"currency_id":"ARS","external_reference":"chk_x1"}]}`))
	}))
	defer server.Close()

	p, err := newTestClient(server).SearchLatestByExternalReference(context.Background(), "chk_x1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "321", p.ID)
	assert.Equal(t, int64(3999), p.AmountCents)
	assert.Equal(t, "chk_x1", p.CheckoutID)
}

func TestSearchLatestByExternalReferenceEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	p, err := newTestClient(server).SearchLatestByExternalReference(context.Background(), "chk_none")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAmountConversion(t *testing.T) {
	tests := []struct {
		amount float64
		cents  int64
	}{
		{14.99, 1499},
		{0, 0},
		{129.99, 12999},
		{0.01, 1},
		{10, 1000},
		{19.999, 2000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.cents, amountToCents(tt.amount), "amount %v", tt.amount)
	}
	assert.Equal(t, 14.99, centsToAmount(1499))
}

func TestIsRetryableStatus(t *testing.T) {
	assert.True(t, isRetryableStatus(http.StatusRequestTimeout))
	assert.True(t, isRetryableStatus(http.StatusTooManyRequests))
	assert.True(t, isRetryableStatus(http.StatusBadGateway))
	assert.False(t, isRetryableStatus(http.StatusBadRequest))
	assert.False(t, isRetryableStatus(http.StatusNotFound))
	assert.False(t, isRetryableStatus(http.StatusUnauthorized))
}
