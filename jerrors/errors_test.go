package jerrors_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/jerrors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestConvertPlainError(t *testing.T) {
	out, err := json.Marshal(jerrors.ConvertError(errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"boom","extensions":{"code":"Unknown"},"paths":[]}`, string(out))
}

func TestConvertKeepsPath(t *testing.T) {
	inner := &jerrors.AccessDeniedError{Type: "Boat", Field: "secret", Role: "capi_anon"}
	err := jerrors.NestPathError("boats", jerrors.NestPathError("0", jerrors.NestPathError("secret", inner)))

	e := jerrors.ConvertError(err)
	assert.Equal(t, []string{"boats", "0", "secret"}, e.Paths)
	assert.Equal(t, "PermissionDenied", e.Extensions.Code)
	assert.Equal(t, "AccessDenied", e.Extensions.Kind)
	assert.Equal(t, "permission denied for Boat.secret", e.Message)
}

func TestConvertGRPCStatus(t *testing.T) {
	e := jerrors.ConvertError(status.Error(codes.NotFound, "no such boat"))
	assert.Equal(t, "NotFound", e.Extensions.Code)
	assert.Equal(t, "no such boat", e.Message)
}

func TestVerbosity(t *testing.T) {
	err := fmt.Errorf("insert: %w", &jerrors.TranslationError{
		Err:     errors.New(`duplicate key value violates unique constraint "users_email_key"`),
		Detail:  "Key (email)=(a@b.c) already exists.",
		Hint:    "pick another email",
		ErrCode: "23505",
	})

	quiet := jerrors.ConvertError(err)
	assert.Empty(t, quiet.Extensions.Detail)
	assert.Empty(t, quiet.Extensions.ErrCode)
	assert.Equal(t, "Internal", quiet.Extensions.Code)

	loud := jerrors.ParseVerbosity("hint, detail,errcode").Convert(err)
	assert.Equal(t, "Key (email)=(a@b.c) already exists.", loud.Extensions.Detail)
	assert.Equal(t, "pick another email", loud.Extensions.Hint)
	assert.Equal(t, "23505", loud.Extensions.ErrCode)

	detailOnly := jerrors.ParseVerbosity("detail").Convert(err)
	assert.Empty(t, detailOnly.Extensions.Hint)
	assert.NotEmpty(t, detailOnly.Extensions.Detail)
}

func TestKindsUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	var re *jerrors.ReflectionError
	err := fmt.Errorf("startup: %w", &jerrors.ReflectionError{Schema: "app_public", Err: cause})
	require.True(t, errors.As(err, &re))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, codes.FailedPrecondition, jerrors.CodeOf(err))

	jobErr := &jerrors.JobExecutionError{JobID: "1", Task: "send", Attempt: 2, Err: cause}
	assert.ErrorIs(t, jobErr, cause)
	assert.Equal(t, codes.Aborted, jerrors.CodeOf(jobErr))
}

func TestConvertAllFlattensJoinedErrors(t *testing.T) {
	err := errors.Join(
		jerrors.NestPathError("boat", &jerrors.AccessDeniedError{Type: "Boat", Field: "name"}),
		errors.New("boom"),
	)
	out := jerrors.Verbosity{}.ConvertAll(err)
	require.Len(t, out, 2)
	assert.Equal(t, []string{"boat"}, out[0].Paths)
	assert.Equal(t, "Unknown", out[1].Extensions.Code)

	assert.Nil(t, jerrors.Verbosity{}.ConvertAll(nil))
}
