package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// Class is the outcome of classifying a failed attempt.
type Class int

const (
	ClassTerminal Class = iota
	ClassCanceled
	ClassNetwork
	ClassRateLimited
	ClassServer
)

func (c Class) String() string {
	switch c {
	case ClassTerminal:
		return "terminal"
	case ClassCanceled:
		return "canceled"
	case ClassNetwork:
		return "network"
	case ClassRateLimited:
		return "rate_limited"
	case ClassServer:
		return "server"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this class are transient.
func (c Class) Retryable() bool {
	switch c {
	case ClassNetwork, ClassRateLimited, ClassServer:
		return true
	default:
		return false
	}
}

// StatusError is returned for an HTTP response outside the 2xx range.
type StatusError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("unexpected status %d (%s)", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("%s: unexpected status %d (%s)", e.Source, e.StatusCode, http.StatusText(e.StatusCode))
}

// Status returns the HTTP status code carried by the error.
func (e *StatusError) Status() int {
	return e.StatusCode
}

type statusCoder interface {
	Status() int
}

var transientErrnos = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
	syscall.EPIPE,
}

var transientTokens = []string{
	"etimedout",
	"econnreset",
	"econnrefused",
	"epipe",
	"connection reset",
	"connection refused",
	"socket hang up",
	"timed out",
	"timeout",
}

// Classify maps an error onto a Class. Status codes win over transport
// details: 429 is rate limited, any 5xx is a server error and every other
// status is terminal.
func Classify(err error) Class {
	if err == nil {
		return ClassTerminal
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return classifyStatus(sc.Status())
	}

	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassNetwork
	}

	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return ClassNetwork
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, token := range transientTokens {
		if strings.Contains(msg, token) {
			return ClassNetwork
		}
	}

	return ClassTerminal
}

func classifyStatus(code int) Class {
	switch {
	case code == http.StatusTooManyRequests:
		return ClassRateLimited
	case code >= 500 && code <= 599:
		return ClassServer
	default:
		return ClassTerminal
	}
}

// IsRetryable is the default Classifier.
func IsRetryable(err error) bool {
	return Classify(err).Retryable()
}
