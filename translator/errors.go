package translator

import (
	"context"
	"errors"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.appointy.com/capi/jerrors"
	"google.golang.org/grpc/codes"
)

// classify wraps a database error in a TranslationError carrying its
// diagnostics.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var te *jerrors.TranslationError
	if errors.As(err, &te) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &jerrors.TranslationError{
			Err:     err,
			Code:    postgresCode(pqErr.Code),
			Detail:  pqErr.Detail,
			Hint:    pqErr.Hint,
			ErrCode: string(pqErr.Code),
		}
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return &jerrors.TranslationError{Err: err, Code: sqliteCode(liteErr)}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &jerrors.TranslationError{Err: err, Code: codes.DeadlineExceeded}
	case errors.Is(err, context.Canceled):
		return &jerrors.TranslationError{Err: err, Code: codes.Canceled}
	}
	return &jerrors.TranslationError{Err: err, Code: codes.Internal}
}

func postgresCode(code pq.ErrorCode) codes.Code {
	switch code {
	case "23505":
		return codes.AlreadyExists
	case "23503":
		return codes.FailedPrecondition
	case "23502", "23514":
		return codes.InvalidArgument
	case "42501":
		return codes.PermissionDenied
	case "40001", "40P01":
		return codes.Aborted
	case "57014":
		return codes.DeadlineExceeded
	}
	if code.Class() == "22" {
		return codes.InvalidArgument
	}
	return codes.Internal
}

func sqliteCode(err sqlite3.Error) codes.Code {
	switch err.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return codes.AlreadyExists
	case sqlite3.ErrConstraintForeignKey:
		return codes.FailedPrecondition
	case sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintCheck:
		return codes.InvalidArgument
	}
	switch err.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return codes.Unavailable
	case sqlite3.ErrConstraint:
		return codes.FailedPrecondition
	}
	return codes.Internal
}
