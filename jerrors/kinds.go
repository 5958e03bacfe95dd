package jerrors

import (
	"fmt"

	"google.golang.org/grpc/codes"
)

// ReflectionError is returned when a database schema cannot be reflected,
// either because the connection failed or the schema does not exist.
type ReflectionError struct {
	Schema string
	Err    error
}

func (e *ReflectionError) Error() string {
	return fmt.Sprintf("reflect schema %q: %v", e.Schema, e.Err)
}

func (e *ReflectionError) Unwrap() error        { return e.Err }
func (e *ReflectionError) Kind() string         { return "ReflectionError" }
func (e *ReflectionError) GRPCCode() codes.Code { return codes.FailedPrecondition }

// HookConflictError is returned when an extension adds a field that already
// exists on its type.
type HookConflictError struct {
	Hook  string
	Type  string
	Field string
}

func (e *HookConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("extension %q: type %s already exists", e.Hook, e.Type)
	}
	return fmt.Sprintf("extension %q: field %s.%s already exists", e.Hook, e.Type, e.Field)
}

func (e *HookConflictError) Kind() string         { return "HookConflictError" }
func (e *HookConflictError) GRPCCode() codes.Code { return codes.AlreadyExists }

// TranslationError wraps a failure while turning a query into store
// operations. Detail, Hint and ErrCode carry database diagnostics.
type TranslationError struct {
	Err     error
	Code    codes.Code
	Detail  string
	Hint    string
	ErrCode string
}

func (e *TranslationError) Error() string {
	return e.Err.Error()
}

func (e *TranslationError) Unwrap() error { return e.Err }
func (e *TranslationError) Kind() string  { return "TranslationError" }

func (e *TranslationError) GRPCCode() codes.Code {
	if e.Code == codes.OK {
		return codes.Internal
	}
	return e.Code
}

func (e *TranslationError) Diagnostics() (string, string, string) {
	return e.Detail, e.Hint, e.ErrCode
}

// InvalidInput returns a TranslationError for a malformed argument.
func InvalidInput(format string, args ...interface{}) error {
	return &TranslationError{Err: fmt.Errorf(format, args...), Code: codes.InvalidArgument}
}

// AccessDeniedError is returned for a field the caller's role may not read.
type AccessDeniedError struct {
	Type  string
	Field string
	Role  string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("permission denied for %s.%s", e.Type, e.Field)
}

func (e *AccessDeniedError) Kind() string         { return "AccessDenied" }
func (e *AccessDeniedError) GRPCCode() codes.Code { return codes.PermissionDenied }

// InvalidSubscriptionArgsError rejects a subscription before it starts
// listening.
type InvalidSubscriptionArgsError struct {
	Field  string
	Reason string
}

func (e *InvalidSubscriptionArgsError) Error() string {
	return fmt.Sprintf("subscription %s: %s", e.Field, e.Reason)
}

func (e *InvalidSubscriptionArgsError) Kind() string         { return "InvalidSubscriptionArgs" }
func (e *InvalidSubscriptionArgsError) GRPCCode() codes.Code { return codes.InvalidArgument }

// JobExecutionError is recorded when a task handler fails.
type JobExecutionError struct {
	JobID   string
	Task    string
	Attempt int
	Err     error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("job %s (%s) attempt %d: %v", e.JobID, e.Task, e.Attempt, e.Err)
}

func (e *JobExecutionError) Unwrap() error        { return e.Err }
func (e *JobExecutionError) Kind() string         { return "JobExecutionError" }
func (e *JobExecutionError) GRPCCode() codes.Code { return codes.Aborted }
