package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func signFor(t *testing.T, manifest, secret string) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	secret := "top-secret"
	v1 := signFor(t, "id:123;request-id:req-9;ts:1704908010;", secret)
	header := fmt.Sprintf("ts=1704908010,v1=%s", v1)

	assert.True(t, VerifyWebhookSignature("123", "req-9", header, secret))
	assert.False(t, VerifyWebhookSignature("124", "req-9", header, secret))
	assert.False(t, VerifyWebhookSignature("123", "req-9", header, "wrong-secret"))
	assert.False(t, VerifyWebhookSignature("123", "other-req", header, secret))
}

// Alphanumeric data ids are lowercased before signing.
func TestVerifyWebhookSignatureLowercasesDataID(t *testing.T) {
	secret := "top-secret"
	v1 := signFor(t, "id:abc123;request-id:req-9;ts:1;", secret)
	header := "ts=1,v1=" + v1

	assert.True(t, VerifyWebhookSignature("ABC123", "req-9", header, secret))
}

// Sections without a value are left out of the manifest.
func TestVerifyWebhookSignatureOmitsEmptySections(t *testing.T) {
	secret := "top-secret"

	onlyTS := signFor(t, "ts:42;", secret)
	assert.True(t, VerifyWebhookSignature("", "", "ts=42,v1="+onlyTS, secret))

	noRequestID := signFor(t, "id:5;ts:42;", secret)
	assert.True(t, VerifyWebhookSignature("5", "", "ts=42,v1="+noRequestID, secret))
}

func TestVerifyWebhookSignatureMalformedHeader(t *testing.T) {
	secret := "top-secret"

	assert.False(t, VerifyWebhookSignature("123", "req-9", "", secret))
	assert.False(t, VerifyWebhookSignature("123", "req-9", "ts=1", secret))
	assert.False(t, VerifyWebhookSignature("123", "req-9", "v1=deadbeef", secret))
	assert.False(t, VerifyWebhookSignature("123", "req-9", "ts=1,v1=not-hex", secret))
	assert.False(t, VerifyWebhookSignature("123", "req-9", "ts=1,v1=deadbeef", ""))
}

func TestParseSignatureHeader(t *testing.T) {
	ts, v1 := parseSignatureHeader("ts=1704908010,v1=abcdef")
	assert.Equal(t, "1704908010", ts)
	assert.Equal(t, "abcdef", v1)

	ts, v1 = parseSignatureHeader(" v1 = abc , ts = 9 , extra = x ")
	assert.Equal(t, "9", ts)
	assert.Equal(t, "abc", v1)
}
