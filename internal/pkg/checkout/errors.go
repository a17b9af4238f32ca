package checkout

import "errors"

// Definite, non-transient outcomes surfaced to the immediate caller. None of
// these are retried automatically.
var (
	ErrInvalidPlan         = errors.New("invalid plan")
	ErrForbidden           = errors.New("forbidden")
	ErrInvalidToken        = errors.New("invalid confirmation token")
	ErrExpired             = errors.New("checkout expired")
	ErrAlreadyProcessed    = errors.New("checkout already processed")
	ErrTransactionReused   = errors.New("transaction already used")
	ErrMissingTxID         = errors.New("transaction id is required")
	ErrCheckoutNotFound    = errors.New("checkout not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
)

// Gateway outcomes. ErrProviderUnavailable is surfaced after the gateway's
// bounded retries are exhausted and means "try again later";
// ErrProviderRejected is a definite provider-side refusal (auth, validation)
// that no retry can fix.
var (
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderRejected    = errors.New("payment provider rejected the request")
)
