package listings

import (
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/goliatone/go-market-trends/executor"
	"github.com/goliatone/go-market-trends/trends"
)

// Classifier recognises Postgres and SQLite driver errors. Chain it in front
// of executor.DefaultClassifier.
func Classifier() executor.Classifier {
	return executor.ClassifierFunc(classifyDriverError)
}

// NewClassifier returns Classifier chained with the default classifier.
func NewClassifier() executor.Classifier {
	return executor.Chain(Classifier(), executor.DefaultClassifier())
}

func classifyDriverError(err error) trends.ErrorKind {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifyPostgres(pqErr)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return classifySQLite(liteErr)
	}
	return trends.KindNone
}

func classifyPostgres(err *pq.Error) trends.ErrorKind {
	switch err.Code {
	case "53300": // too_many_connections
		return trends.KindPoolExhausted
	case "57014": // query_canceled
		return trends.KindTimeout
	}

	switch err.Code.Class() {
	case "08", "57": // connection exception, operator intervention
		return trends.KindConnectionReset
	case "53": // insufficient resources
		return trends.KindPoolExhausted
	case "22": // data exception
		return trends.KindInvalidParameters
	case "42": // syntax error or access rule violation
		return trends.KindQueryFailed
	}
	return trends.KindNone
}

func classifySQLite(err sqlite3.Error) trends.ErrorKind {
	switch err.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return trends.KindPoolExhausted
	case sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
		return trends.KindConnectionReset
	case sqlite3.ErrInterrupt:
		return trends.KindTimeout
	case sqlite3.ErrError, sqlite3.ErrMismatch, sqlite3.ErrRange:
		return trends.KindQueryFailed
	}
	return trends.KindNone
}
