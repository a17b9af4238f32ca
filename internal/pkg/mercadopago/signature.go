package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyWebhookSignature checks MercadoPago's x-signature header against the
// configured webhook secret. The provider signs a manifest built from the
// notification's data id, the x-request-id header and the ts value carried
// inside x-signature, with HMAC-SHA256 hex in the v1 field.
func VerifyWebhookSignature(dataID, requestID, signatureHeader, webhookSecret string) bool {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return false
	}

	ts, v1 := parseSignatureHeader(sig)
	if ts == "" || v1 == "" {
		return false
	}
	decodedSig, err := hex.DecodeString(strings.ToLower(v1))
	if err != nil {
		return false
	}

	manifest := signatureManifest(dataID, requestID, ts)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(manifest))
	return hmac.Equal(mac.Sum(nil), decodedSig)
}

// parseSignatureHeader splits "ts=...,v1=..." into its parts. Unknown fields
// are ignored.
func parseSignatureHeader(header string) (ts, v1 string) {
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "ts":
			ts = strings.TrimSpace(value)
		case "v1":
			v1 = strings.TrimSpace(value)
		}
	}
	return ts, v1
}

// signatureManifest assembles the signed template "id:<data.id>;request-id:
// <x-request-id>;ts:<ts>;". Sections whose value is absent are omitted and the
// data id is lowercased, per the provider's documentation.
func signatureManifest(dataID, requestID, ts string) string {
	var b strings.Builder
	if dataID != "" {
		b.WriteString("id:")
		b.WriteString(strings.ToLower(dataID))
		b.WriteString(";")
	}
	if requestID != "" {
		b.WriteString("request-id:")
		b.WriteString(requestID)
		b.WriteString(";")
	}
	if ts != "" {
		b.WriteString("ts:")
		b.WriteString(ts)
		b.WriteString(";")
	}
	return b.String()
}
