package presenter

import (
	"testing"
)

func ptr(f float64) *float64 {
	return &f
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		confidence *float64
		want       Tier
	}{
		{ptr(0.76), TierHigh},
		{ptr(0.75), TierMedium},
		{ptr(0.51), TierMedium},
		{ptr(0.5), TierLow},
		{ptr(0), TierLow},
		{ptr(1), TierHigh},
		{nil, TierUnknown},
	}

	for _, tt := range tests {
		if got := TierFor(tt.confidence); got != tt.want {
			c := "nil"
			if tt.confidence != nil {
				c = FormatConfidence(tt.confidence)
			}
			t.Errorf("TierFor(%s) = %s, want %s", c, got, tt.want)
		}
	}
}

func TestFormatConfidence(t *testing.T) {
	if got := FormatConfidence(ptr(0.83)); got != "83.00%" {
		t.Errorf("Expected 83.00%%, got %s", got)
	}
	if got := FormatConfidence(ptr(0.12345)); got != "12.35%" {
		t.Errorf("Expected 12.35%%, got %s", got)
	}
	if got := FormatConfidence(nil); got != Placeholder {
		t.Errorf("Expected placeholder, got %s", got)
	}
}

func TestPresenter_InitialView(t *testing.T) {
	p := New()
	v := p.Current()

	if v.Label != "..." || v.ConfidenceText != "..." {
		t.Errorf("Expected placeholders, got %q %q", v.Label, v.ConfidenceText)
	}
	if v.Tier != TierUnknown {
		t.Errorf("Expected unknown tier, got %s", v.Tier)
	}
	if !v.UpdatedAt.IsZero() {
		t.Error("Expected zero update time before the first prediction")
	}
}

func TestPresenter_Update(t *testing.T) {
	p := New()
	digit := 7
	conf := 0.83
	v := p.Update(Prediction{Digit: &digit, Confidence: &conf})

	if v.Label != "7" || v.Tier != TierHigh || v.ConfidenceText != "83.00%" {
		t.Errorf("Unexpected view %+v", v)
	}

	// The stored prediction must not alias the caller's values
	digit = 1
	conf = 0.1
	if cur := p.Current(); cur.Label != "7" || *cur.Confidence != 0.83 {
		t.Errorf("Presenter state changed through caller pointers: %+v", cur)
	}
}
