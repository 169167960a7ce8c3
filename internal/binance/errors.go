package binance

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const banErrorCode = -1003

// Exchange codes for conditions callers deliberately tolerate.
const (
	codeCancelRejected     = -2011 // order already gone when cancelling
	codeUnknownOrder       = -2013 // order does not exist
	codeNoNeedChangeMargin = -4046 // margin type already set
)

// APIError is a domain error decoded from an exchange error body,
// e.g. {"code":-2021,"msg":"Order would immediately trigger."}.
type APIError struct {
	Code       int64  `json:"code"`
	Message    string `json:"msg"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: code=%d msg=%q (http %d)", e.Code, e.Message, e.HTTPStatus)
}

// IsBan reports whether this error is a rate-limit ban response
// (-1003, HTTP 429 or HTTP 418).
func (e *APIError) IsBan() bool {
	return e.Code == banErrorCode ||
		e.HTTPStatus == http.StatusTooManyRequests ||
		e.HTTPStatus == http.StatusTeapot
}

// BanError short-circuits every REST call while the client's ban clock
// is in the future.
type BanError struct {
	Until time.Time
}

func (e *BanError) Error() string {
	return fmt.Sprintf("binance: banned until %s (%.0fs remaining)",
		e.Until.UTC().Format(time.RFC3339), time.Until(e.Until).Seconds())
}

// IsBanned reports whether err is a live ban short-circuit or a fresh
// ban response from the exchange.
func IsBanned(err error) bool {
	var banErr *BanError
	if errors.As(err, &banErr) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsBan()
}

// IsOrderGone reports whether err says the order no longer exists on
// the exchange (already filled, cancelled or expired).
func IsOrderGone(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == codeCancelRejected || apiErr.Code == codeUnknownOrder
	}
	return false
}

// IsMarginUnchanged reports the benign "No need to change margin type"
// rejection.
func IsMarginUnchanged(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeNoNeedChangeMargin
}

// parseAPIError decodes an error body, falling back to the raw body
// when the JSON shape is unexpected.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{HTTPStatus: status}
	if err := json.Unmarshal(body, apiErr); err != nil || (apiErr.Code == 0 && apiErr.Message == "") {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// ParseBanUntil extracts the millisecond release timestamp from a ban
// message ("... banned until 1766824120342."). Returns the zero time
// when the message carries no timestamp or the value is implausible
// (in the past or more than 24h out).
func ParseBanUntil(msg string) time.Time {
	idx := strings.Index(msg, "banned until")
	if idx < 0 {
		return time.Time{}
	}
	var until int64
	if _, err := fmt.Sscanf(msg[idx:], "banned until %d", &until); err != nil {
		return time.Time{}
	}
	now := time.Now()
	if until <= now.UnixMilli() || until >= now.Add(24*time.Hour).UnixMilli() {
		return time.Time{}
	}
	return time.UnixMilli(until)
}
