package checkout

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"strings"
)

var checkoutIDEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

const checkoutIDPrefix = "chk_"

// NewCheckoutID generates the opaque, client-visible session token. It may
// show up in URLs and logs, so it carries no secret weight on its own.
func NewCheckoutID() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return checkoutIDPrefix + strings.ToLower(checkoutIDEncoding.EncodeToString(b)), nil
}

// NewAuthToken generates the confirmation secret. Independent of the checkout
// id: the id is shareable, the token never is.
func NewAuthToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
