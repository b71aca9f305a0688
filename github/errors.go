package github

import "fmt"

// Common errors
var (
	ErrNotFound          = fmt.Errorf("resource not found")
	ErrRequestFailed     = fmt.Errorf("request failed")
	ErrQuotaExhausted    = fmt.Errorf("quota exhausted on all credentials")
	ErrRetriesExhausted  = fmt.Errorf("retries exhausted")
	ErrMalformedResponse = fmt.Errorf("malformed response")
)
