package github

import "net/http"

// outcome is the single classification of an API response that the retry and
// rotation logic dispatches on, derived once per response so that no status
// codes leak into the control flow.
type outcome int

const (
	outcomeOK outcome = iota
	outcomeQuotaExhausted
	outcomeRetryableServer
	outcomeNonRetryable
)

// classify derives the outcome of a response. GitHub signals primary quota
// exhaustion with 403 plus a zeroed remaining header, and secondary limits
// with 429; a 403 with quota left is an ordinary forbidden.
func classify(resp *http.Response) outcome {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return outcomeOK
	case resp.StatusCode == http.StatusTooManyRequests:
		return outcomeQuotaExhausted
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get(headerRateRemaining) == "0" {
			return outcomeQuotaExhausted
		}
		return outcomeNonRetryable
	case resp.StatusCode == http.StatusInternalServerError,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return outcomeRetryableServer
	default:
		return outcomeNonRetryable
	}
}
