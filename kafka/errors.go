package kafka

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	kafkago "github.com/segmentio/kafka-go"

	apperrors "github.com/kbukum/stepflow/errors"
)

type errClass int

const (
	classUnknown errClass = iota
	classConnection
	classTransient
	classPermanent
)

// Error text seen when the cause has been flattened to a string.
var textClasses = []struct {
	class errClass
	words []string
}{
	{classPermanent, []string{"message too large", "invalid topic", "unknown topic", "authorization failed"}},
	{classConnection, []string{"connection refused", "connection reset", "broken pipe", "no route to host", "network is unreachable", "dial tcp", "i/o timeout"}},
	{classTransient, []string{"temporary", "timed out", "not available", "not enough replicas"}},
}

func classify(err error) errClass {
	if err == nil {
		return classUnknown
	}
	var we kafkago.WriteErrors
	if errors.As(err, &we) {
		worst := classUnknown
		for _, e := range we {
			if c := classify(e); c > worst {
				worst = c
			}
		}
		return worst
	}
	var ke kafkago.Error
	if errors.As(err, &ke) {
		if ke.Temporary() {
			return classTransient
		}
		return classPermanent
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrUnexpectedEOF) {
		return classConnection
	}
	var op *net.OpError
	if errors.As(err, &op) {
		return classConnection
	}

	msg := strings.ToLower(err.Error())
	for _, tc := range textClasses {
		for _, w := range tc.words {
			if strings.Contains(msg, w) {
				return tc.class
			}
		}
	}
	return classUnknown
}

// IsConnectionError reports a failure to reach the brokers.
func IsConnectionError(err error) bool { return classify(err) == classConnection }

// IsRetryableError reports whether writing the same events again may succeed.
func IsRetryableError(err error) bool {
	c := classify(err)
	return c == classConnection || c == classTransient
}

// FromKafka converts a write error on topic to an AppError.
func FromKafka(err error, topic string) *apperrors.AppError {
	switch classify(err) {
	case classConnection:
		return apperrors.ConnectionFailed("kafka").WithDetail("topic", topic).WithCause(err)
	case classTransient:
		return apperrors.ExternalServiceError("kafka", err).WithDetail("topic", topic)
	case classPermanent:
		return apperrors.InvalidInput("event", "rejected by broker").WithDetail("topic", topic).WithCause(err)
	}
	if err == nil {
		return nil
	}
	return apperrors.Internal(err)
}
