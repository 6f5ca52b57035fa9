package errors

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ClassifyHTTP maps a provider HTTP response into the closed taxonomy.
//
// 401 and 403 become auth_failed, 429 becomes rate_limited with the
// Retry-After hint when the provider sent one, and everything else becomes
// generic_api_error carrying the raw body for diagnostics. The classifier
// never retries; it only names the failure.
func ClassifyHTTP(statusCode int, body string, header http.Header) *Error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return New(ErrTypeAuthFailed, "provider rejected credentials").
			WithDetail("status", statusCode).
			WithDetail("body", truncateBody(body))

	case statusCode == http.StatusTooManyRequests:
		err := New(ErrTypeRateLimited, "provider rate limit exceeded").
			WithDetail("status", statusCode)
		if hint := retryAfterSeconds(header); hint > 0 {
			err = err.WithRetryAfter(hint)
		}
		return err

	default:
		return Newf(ErrTypeGenericAPI, "provider returned status %d", statusCode).
			WithDetail("status", statusCode).
			WithDetail("body", truncateBody(body))
	}
}

// retryAfterSeconds parses a Retry-After header, accepting both the
// delta-seconds and HTTP-date forms.
func retryAfterSeconds(header http.Header) int {
	if header == nil {
		return 0
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return secs
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return int(d.Seconds() + 0.5)
		}
	}
	return 0
}

// truncateBody bounds the diagnostic payload carried in error details
func truncateBody(body string) string {
	const limit = 512
	body = strings.TrimSpace(body)
	if len(body) > limit {
		return body[:limit]
	}
	return body
}
