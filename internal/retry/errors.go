package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"syscall"
)

// Kind classifies an error for retry decisions. The sync engine and the
// default predicate switch on this closed set instead of matching message
// text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindRateLimited
	KindServer
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// HTTPError is returned for any non-2xx response. The status and a prefix of
// the response body are embedded so callers can classify without re-reading.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// TimeoutError is returned when an operation exceeds its deadline budget.
type TimeoutError struct {
	Budget string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Budget)
}

// Classify maps an error to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var te *TimeoutError
	if errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var he *HTTPError
	if errors.As(err, &he) {
		switch {
		case he.Status == 429:
			return KindRateLimited
		case he.Status >= 500:
			return KindServer
		case he.Status >= 400:
			return KindClient
		}
		return KindUnknown
	}

	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return KindNetwork
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return KindNetwork
	}

	return KindUnknown
}

// Retryable is the default retry predicate: transient kinds only. Server
// errors are retried only for the gateway statuses (502/503/504); a plain 500
// is assumed to reproduce.
func Retryable(err error, attempt int) bool {
	switch Classify(err) {
	case KindNetwork, KindTimeout, KindRateLimited:
		return true
	case KindServer:
		var he *HTTPError
		if errors.As(err, &he) {
			return he.Status >= 502 && he.Status <= 504
		}
		return false
	default:
		return false
	}
}
