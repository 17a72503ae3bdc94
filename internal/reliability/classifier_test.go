package reliability

import (
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want Kind
	}{
		{401, KindUnavailable},
		{403, KindUnavailable},
		{429, KindRateLimited},
		{400, KindBadRequest},
		{422, KindBadRequest},
		{0, KindTransient},
		{503, KindTransient},
		{200, KindFatal},
		{404, KindFatal},
	}
	for _, tc := range cases {
		got := ClassifyHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("ClassifyHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestKindRetryable(t *testing.T) {
	if !KindTransient.Retryable() {
		t.Fatalf("KindTransient should be retryable")
	}
	if !KindRateLimited.Retryable() {
		t.Fatalf("KindRateLimited should be retryable")
	}
	if KindUnavailable.Retryable() || KindBadRequest.Retryable() || KindFatal.Retryable() {
		t.Fatalf("unavailable/bad_request/fatal must not be retryable")
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}
