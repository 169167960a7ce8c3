package binance

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestParseBanUntil(t *testing.T) {
	future := time.Now().Add(45 * time.Minute).UnixMilli()
	past := time.Now().Add(-time.Hour).UnixMilli()
	tooFar := time.Now().Add(48 * time.Hour).UnixMilli()

	testCases := []struct {
		name    string
		msg     string
		wantSet bool
	}{
		{
			name:    "standard ban message",
			msg:     fmt.Sprintf("Way too many requests; IP banned until %d. Please use the websocket for live updates.", future),
			wantSet: true,
		},
		{
			name:    "bare message",
			msg:     fmt.Sprintf("banned until %d", future),
			wantSet: true,
		},
		{
			name:    "timestamp in the past",
			msg:     fmt.Sprintf("banned until %d", past),
			wantSet: false,
		},
		{
			name:    "timestamp too far out",
			msg:     fmt.Sprintf("banned until %d", tooFar),
			wantSet: false,
		},
		{
			name:    "no timestamp",
			msg:     "Too many requests; current limit is 2400 per minute",
			wantSet: false,
		},
		{
			name:    "empty message",
			msg:     "",
			wantSet: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseBanUntil(tc.msg)
			if tc.wantSet && got.IsZero() {
				t.Errorf("ParseBanUntil(%q) = zero time, want a timestamp", tc.msg)
			}
			if !tc.wantSet && !got.IsZero() {
				t.Errorf("ParseBanUntil(%q) = %v, want zero time", tc.msg, got)
			}
			if tc.wantSet && !got.IsZero() && got.UnixMilli() != future {
				t.Errorf("ParseBanUntil(%q) = %d, want %d", tc.msg, got.UnixMilli(), future)
			}
		})
	}
}

func TestAPIErrorIsBan(t *testing.T) {
	testCases := []struct {
		name string
		err  APIError
		want bool
	}{
		{"code -1003", APIError{Code: -1003, HTTPStatus: http.StatusBadRequest}, true},
		{"http 429", APIError{Code: -1000, HTTPStatus: http.StatusTooManyRequests}, true},
		{"http 418", APIError{Code: -1000, HTTPStatus: http.StatusTeapot}, true},
		{"plain domain error", APIError{Code: -2021, HTTPStatus: http.StatusBadRequest}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.IsBan(); got != tc.want {
				t.Errorf("IsBan() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestErrorClassifiers(t *testing.T) {
	wrap := func(err error) error { return fmt.Errorf("cancelling order: %w", err) }

	if !IsOrderGone(wrap(&APIError{Code: -2011})) {
		t.Error("IsOrderGone should see -2011 through wrapping")
	}
	if !IsOrderGone(&APIError{Code: -2013}) {
		t.Error("IsOrderGone should accept -2013")
	}
	if IsOrderGone(&APIError{Code: -2021}) {
		t.Error("IsOrderGone should reject other codes")
	}
	if IsOrderGone(errors.New("plain error")) {
		t.Error("IsOrderGone should reject non-API errors")
	}

	if !IsMarginUnchanged(wrap(&APIError{Code: -4046})) {
		t.Error("IsMarginUnchanged should see -4046 through wrapping")
	}
	if IsMarginUnchanged(&APIError{Code: -4047}) {
		t.Error("IsMarginUnchanged should reject other codes")
	}

	banErr := &BanError{Until: time.Now().Add(time.Minute)}
	if !IsBanned(wrap(banErr)) {
		t.Error("IsBanned should see BanError through wrapping")
	}
	if !IsBanned(&APIError{Code: -1003}) {
		t.Error("IsBanned should accept a raw -1003 APIError")
	}
	if IsBanned(errors.New("plain error")) {
		t.Error("IsBanned should reject non-ban errors")
	}
}

func TestParseAPIError(t *testing.T) {
	apiErr := parseAPIError(400, []byte(`{"code":-2021,"msg":"Order would immediately trigger."}`))
	if apiErr.Code != -2021 {
		t.Errorf("Code = %d, want -2021", apiErr.Code)
	}
	if apiErr.Message != "Order would immediately trigger." {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if apiErr.HTTPStatus != 400 {
		t.Errorf("HTTPStatus = %d, want 400", apiErr.HTTPStatus)
	}

	raw := parseAPIError(502, []byte("Bad Gateway\n"))
	if raw.Code != 0 || raw.Message != "Bad Gateway" {
		t.Errorf("fallback parse = %+v, want raw body as message", raw)
	}
}
