package marketplace

import (
	"errors"
	"fmt"
	"strings"
)

// QuotaError signals that the marketplace rejected a call because the
// caller exceeded its request allowance. It is the only error class the
// reconciliation engine retries.
type QuotaError struct {
	Marketplace string
	StatusCode  int
	Body        string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s: request quota exceeded (status %d)", e.Marketplace, e.StatusCode)
}

// quotaMarkers are body fragments marketplaces use to signal throttling when
// the status code alone is ambiguous.
var quotaMarkers = []string{
	"too many requests",
	"request limit",
	"quota",
	"throttl",
}

// IsQuotaExceeded reports whether err represents quota exhaustion, either as
// a typed QuotaError or by a quota marker in the error text.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}

	var qe *QuotaError
	if errors.As(err, &qe) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// classifyStatus converts an HTTP response into the adapter error taxonomy.
func classifyStatus(tag string, statusCode int, body []byte) error {
	if statusCode == 429 {
		return &QuotaError{Marketplace: tag, StatusCode: statusCode, Body: string(body)}
	}

	lower := strings.ToLower(string(body))
	for _, marker := range quotaMarkers {
		if strings.Contains(lower, marker) {
			return &QuotaError{Marketplace: tag, StatusCode: statusCode, Body: string(body)}
		}
	}

	return fmt.Errorf("%s: unexpected status %d: %s", tag, statusCode, truncate(string(body), 200))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
