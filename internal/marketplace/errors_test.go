package marketplace

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsQuotaExceeded(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed quota error", &QuotaError{Marketplace: "trendyol", StatusCode: 429}, true},
		{"wrapped quota error", fmt.Errorf("push batch: %w", &QuotaError{Marketplace: "n11", StatusCode: 429}), true},
		{"message marker", errors.New("n11: Request limit exceeded for seller"), true},
		{"throttle marker", errors.New("upstream throttling in effect"), true},
		{"plain failure", errors.New("connection refused"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsQuotaExceeded(tc.err); got != tc.want {
				t.Errorf("IsQuotaExceeded(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	err := classifyStatus("trendyol", 429, []byte("slow down"))
	var qe *QuotaError
	if !errors.As(err, &qe) {
		t.Fatalf("429 must classify as QuotaError, got %T", err)
	}

	err = classifyStatus("trendyol", 400, []byte(`{"message":"quota exceeded for plan"}`))
	if !errors.As(err, &qe) {
		t.Errorf("quota marker in body must classify as QuotaError, got %T", err)
	}

	err = classifyStatus("trendyol", 500, []byte("internal error"))
	if errors.As(err, &qe) {
		t.Errorf("plain 500 must not classify as QuotaError")
	}
}
