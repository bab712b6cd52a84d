package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type attemptClass int

const (
	attemptSuccess attemptClass = iota
	attemptRetryable
	attemptPermanent
)

func (c attemptClass) String() string {
	switch c {
	case attemptSuccess:
		return "success"
	case attemptPermanent:
		return "permanent"
	default:
		return "retryable"
	}
}

// classifyAttempt maps the result of a single POST onto the retry policy.
// Signing failures are permanent. Transport failures (network, DNS,
// timeout, open breaker) are retryable,
// as are 5xx, 408, 429 and unfollowed 1xx/3xx responses. Remaining 4xx
// responses are permanent.
func classifyAttempt(resp OutboundResponse, err error) attemptClass {
	if err != nil {
		var permanent *permanentSendError
		if errors.As(err, &permanent) {
			return attemptPermanent
		}
		return attemptRetryable
	}
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return attemptSuccess
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return attemptRetryable
	case code >= 400 && code < 500:
		return attemptPermanent
	default:
		return attemptRetryable
	}
}

func describeAttemptFailure(resp OutboundResponse, err error) string {
	if err != nil {
		return err.Error()
	}
	snippet := strings.TrimSpace(string(resp.Body))
	if snippet == "" {
		return fmt.Sprintf("http %d", resp.StatusCode)
	}
	return fmt.Sprintf("http %d: %s", resp.StatusCode, snippet)
}
