package jerrors

import (
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error is the representation of an error in a graphql response.
type Error struct {
	Message    string     `json:"message"`
	Extensions *Extension `json:"extensions"`
	Paths      []string   `json:"paths"`
}

// Extension carries the machine readable part of an Error.
type Extension struct {
	Code    string `json:"code"`
	Kind    string `json:"kind,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Hint    string `json:"hint,omitempty"`
	ErrCode string `json:"errcode,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// Verbosity selects which database diagnostics are copied into the response.
type Verbosity struct {
	Detail  bool
	Hint    bool
	ErrCode bool
}

// ParseVerbosity parses a comma separated list such as "hint,detail,errcode".
func ParseVerbosity(s string) Verbosity {
	var v Verbosity
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(strings.ToLower(part)) {
		case "detail":
			v.Detail = true
		case "hint":
			v.Hint = true
		case "errcode":
			v.ErrCode = true
		}
	}
	return v
}

// ConvertError converts an error into its response form without database
// diagnostics.
func ConvertError(err error) *Error {
	return Verbosity{}.Convert(err)
}

// Convert converts an error into its response form. Path information added by
// NestPathError is flattened into Paths.
func (v Verbosity) Convert(err error) *Error {
	paths := []string{}
	var pe *pathError
	if errors.As(err, &pe) {
		paths = pe.path()
		err = pe.root()
	}

	var e *Error
	if errors.As(err, &e) {
		if len(paths) == 0 {
			return e
		}
		copied := *e
		copied.Paths = paths
		return &copied
	}

	ext := &Extension{Code: CodeOf(err).String()}
	var k kinded
	if errors.As(err, &k) {
		ext.Kind = k.Kind()
	}
	var d diagnosed
	if errors.As(err, &d) {
		detail, hint, code := d.Diagnostics()
		if v.Detail {
			ext.Detail = detail
		}
		if v.Hint {
			ext.Hint = hint
		}
		if v.ErrCode {
			ext.ErrCode = code
		}
	}

	message := err.Error()
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		message = st.Message()
	}

	return &Error{
		Message:    message,
		Extensions: ext,
		Paths:      paths,
	}
}

// ConvertAll converts err into the errors of a response. Errors joining
// several errors, such as the field errors of one execution, are converted
// one by one.
func (v Verbosity) ConvertAll(err error) []*Error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*Error
		for _, e := range joined.Unwrap() {
			out = append(out, v.ConvertAll(e)...)
		}
		return out
	}
	return []*Error{v.Convert(err)}
}

// CodeOf returns the grpc code of an error. Errors of this package carry their
// own code, grpc status errors keep theirs and everything else is Unknown.
func CodeOf(err error) codes.Code {
	var c coder
	if errors.As(err, &c) {
		return c.GRPCCode()
	}
	if st, ok := status.FromError(err); ok {
		return st.Code()
	}
	return codes.Unknown
}

type coder interface {
	GRPCCode() codes.Code
}

type kinded interface {
	Kind() string
}

type diagnosed interface {
	Diagnostics() (detail, hint, errcode string)
}

// pathError records the response path at which an error occurred.
type pathError struct {
	inner error
	key   string
}

func (pe *pathError) Error() string {
	return strings.Join(pe.path(), ".") + ": " + pe.root().Error()
}

func (pe *pathError) Unwrap() error {
	return pe.inner
}

func (pe *pathError) path() []string {
	path := []string{pe.key}
	var inner *pathError
	if errors.As(pe.inner, &inner) {
		path = append(path, inner.path()...)
	}
	return path
}

func (pe *pathError) root() error {
	var inner *pathError
	if errors.As(pe.inner, &inner) {
		return inner.root()
	}
	return pe.inner
}

// NestPathError prefixes the path of err with key.
func NestPathError(key string, err error) error {
	if err == nil {
		return nil
	}
	return &pathError{inner: err, key: key}
}
