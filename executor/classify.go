package executor

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-market-trends/trends"
)

// Classifier maps an upstream error to an ErrorKind. Returning KindNone means
// the classifier has no opinion and the next one in a Chain is asked.
type Classifier interface {
	Classify(err error) trends.ErrorKind
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) trends.ErrorKind

// Classify implements Classifier.
func (f ClassifierFunc) Classify(err error) trends.ErrorKind {
	return f(err)
}

// Chain asks each classifier in order and returns the first kind that is not
// KindNone. Errors nobody recognises are KindQueryFailed.
func Chain(classifiers ...Classifier) Classifier {
	return ClassifierFunc(func(err error) trends.ErrorKind {
		for _, c := range classifiers {
			if c == nil {
				continue
			}
			if kind := c.Classify(err); kind != trends.KindNone {
				return kind
			}
		}
		return trends.KindQueryFailed
	})
}

var (
	connectionResetPatterns = []string{
		"connection reset",
		"broken pipe",
		"connection refused",
		"connection closed",
		"server closed the connection",
		"bad connection",
		"unexpected eof",
		"database is closed",
		"unreachable",
		"no route to host",
	}
	timeoutPatterns = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
	}
	poolExhaustedPatterns = []string{
		"too many connections",
		"too many clients",
		"remaining connection slots",
		"pool exhausted",
		"connection pool",
	}
)

// DefaultClassifier recognises context, network and syscall errors, go-errors
// categories and the usual driver messages. Anything else is KindQueryFailed.
func DefaultClassifier() Classifier {
	return Chain(ClassifierFunc(classify))
}

func classify(err error) trends.ErrorKind {
	if err == nil {
		return trends.KindNone
	}

	var te *trends.Error
	if errors.As(err, &te) && te.Kind != trends.KindNone {
		return te.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return trends.KindTimeout
	case errors.Is(err, sql.ErrNoRows):
		return trends.KindNotFound
	case errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH):
		return trends.KindConnectionReset
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return trends.KindTimeout
	}

	switch {
	case goerrors.IsCategory(err, goerrors.CategoryValidation),
		goerrors.IsCategory(err, goerrors.CategoryBadInput):
		return trends.KindInvalidParameters
	case goerrors.IsCategory(err, goerrors.CategoryNotFound):
		return trends.KindNotFound
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, poolExhaustedPatterns):
		return trends.KindPoolExhausted
	case containsAny(msg, connectionResetPatterns):
		return trends.KindConnectionReset
	case containsAny(msg, timeoutPatterns):
		return trends.KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return trends.KindConnectionReset
	}

	return trends.KindNone
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
