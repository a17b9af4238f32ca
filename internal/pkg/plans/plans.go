package plans

import (
	"fmt"
	"strings"
)

// Plan is one purchasable entry of the static catalog: a price in cents and
// the number of premium days an accepted payment grants.
type Plan struct {
	Code         string
	PriceCents   int64
	DurationDays int
}

const (
	PlanFree  = "free"
	PlanTrial = "trial"
)

// TrialDays is the premium window granted by the one-shot account trial.
const TrialDays = 1

// catalog maps purchasable plan codes to price and duration. Free and trial
// are not listed: free is the default state, trial is granted, never bought.
var catalog = map[string]Plan{
	"premium_30":  {Code: "premium_30", PriceCents: 1499, DurationDays: 30},
	"premium_90":  {Code: "premium_90", PriceCents: 3999, DurationDays: 90},
	"premium_365": {Code: "premium_365", PriceCents: 12999, DurationDays: 365},
}

// Resolve returns the catalog entry for a plan code or an error for unknown
// or non-purchasable codes.
func Resolve(code string) (Plan, error) {
	c := Normalize(code)
	p, ok := catalog[c]
	if !ok || p.DurationDays <= 0 {
		return Plan{}, fmt.Errorf("unknown plan code %q", code)
	}
	return p, nil
}

// Normalize lowercases and trims a plan code.
func Normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// IsPurchasable reports whether the code resolves to a catalog entry.
func IsPurchasable(code string) bool {
	_, err := Resolve(code)
	return err == nil
}
