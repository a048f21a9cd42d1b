package executor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"testing"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-market-trends/trends"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "network stalled" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

var _ net.Error = timeoutNetError{}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want trends.ErrorKind
	}{
		{"deadline", fmt.Errorf("query: %w", context.DeadlineExceeded), trends.KindTimeout},
		{"net timeout", timeoutNetError{}, trends.KindTimeout},
		{"timeout message", errors.New("i/o timeout"), trends.KindTimeout},
		{"econnreset", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, trends.KindConnectionReset},
		{"eof", fmt.Errorf("reading row: %w", io.EOF), trends.KindConnectionReset},
		{"conn done", sql.ErrConnDone, trends.KindConnectionReset},
		{"reset message", errors.New("connection reset by peer"), trends.KindConnectionReset},
		{"server unreachable", errors.New("server unreachable"), trends.KindConnectionReset},
		{"no route message", errors.New("dial tcp 10.0.0.7:5432: connect: no route to host"), trends.KindConnectionReset},
		{"network unreachable message", errors.New("dial tcp 10.0.0.7:5432: connect: network is unreachable"), trends.KindConnectionReset},
		{"ehostunreach", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.EHOSTUNREACH}, trends.KindConnectionReset},
		{"enetunreach", fmt.Errorf("connect: %w", syscall.ENETUNREACH), trends.KindConnectionReset},
		{"closed pool", errors.New("sql: database is closed"), trends.KindConnectionReset},
		{"pool message", errors.New("pq: sorry, too many clients already"), trends.KindPoolExhausted},
		{"no rows", sql.ErrNoRows, trends.KindNotFound},
		{"not found category", goerrors.New("market missing", goerrors.CategoryNotFound), trends.KindNotFound},
		{"validation category", goerrors.New("bad years", goerrors.CategoryValidation), trends.KindInvalidParameters},
		{"typed error", trends.NewError(trends.KindPoolExhausted, "acquire", errors.New("busy")), trends.KindPoolExhausted},
		{"unknown", errors.New("division by zero"), trends.KindQueryFailed},
	}

	c := DefaultClassifier()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestChain_FirstOpinionWins(t *testing.T) {
	upstream := ClassifierFunc(func(err error) trends.ErrorKind {
		if err.Error() == "database is locked" {
			return trends.KindPoolExhausted
		}
		return trends.KindNone
	})

	c := Chain(upstream, nil, ClassifierFunc(classify))

	if got := c.Classify(errors.New("database is locked")); got != trends.KindPoolExhausted {
		t.Errorf("expected upstream classifier to win, got %q", got)
	}
	if got := c.Classify(errors.New("i/o timeout")); got != trends.KindTimeout {
		t.Errorf("expected fallback to default, got %q", got)
	}
	if got := c.Classify(errors.New("mystery")); got != trends.KindQueryFailed {
		t.Errorf("expected query failure for unknown errors, got %q", got)
	}
}
