package plans

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		in        string
		wantCents int64
		wantDays  int
		wantErr   bool
	}{
		{in: "premium_30", wantCents: 1499, wantDays: 30},
		{in: "premium_90", wantCents: 3999, wantDays: 90},
		{in: "premium_365", wantCents: 12999, wantDays: 365},
		{in: "  PREMIUM_30 ", wantCents: 1499, wantDays: 30},
		{in: "free", wantErr: true},
		{in: "trial", wantErr: true},
		{in: "gold", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		p, err := Resolve(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("Resolve(%q) expected error, got %+v", tt.in, p)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Resolve(%q) unexpected error: %v", tt.in, err)
		}
		if p.PriceCents != tt.wantCents || p.DurationDays != tt.wantDays {
			t.Fatalf("Resolve(%q) = %+v, want %d cents / %d days", tt.in, p, tt.wantCents, tt.wantDays)
		}
	}
}

func TestIsPurchasable(t *testing.T) {
	if !IsPurchasable("premium_30") {
		t.Fatalf("expected premium_30 to be purchasable")
	}
	if IsPurchasable("free") {
		t.Fatalf("expected free to be non-purchasable")
	}
}
