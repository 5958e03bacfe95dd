package capi_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.appointy.com/capi"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemabuilder"
	"go.appointy.com/capi/schemagraph"
)

// schemaExecutor runs operations against a plain schema and remembers the
// last caller.
type schemaExecutor struct {
	schema *graphql.Schema
	caller schemagraph.AccessContext
}

func (e *schemaExecutor) Execute(ctx context.Context, query *graphql.Query, ac schemagraph.AccessContext) (interface{}, error) {
	e.caller = ac
	root := e.schema.Query
	if query.Kind == "mutation" {
		root = e.schema.Mutation
	}
	if err := graphql.ValidateQuery(ctx, root, query.SelectionSet); err != nil {
		return nil, err
	}
	ex := graphql.Executor{}
	return ex.Execute(ctx, root, nil, query)
}

func newExecutor() *schemaExecutor {
	schema := schemabuilder.NewSchema()

	query := schema.Query()
	query.FieldFunc("mirror", func(args struct{ Value int64 }) int64 {
		return args.Value * -1
	})
	query.FieldFunc("sunk", func() (*string, error) {
		return nil, errors.New("sunk")
	})
	query.FieldFunc("denied", func() (*string, error) {
		return nil, &jerrors.AccessDeniedError{Type: "Boat", Field: "length"}
	})
	return &schemaExecutor{schema: schema.MustBuild()}
}

func testHTTPRequest(req *http.Request, opts ...capi.HandlerOption) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	handler := capi.HTTPHandler(newExecutor(), opts...)

	handler.ServeHTTP(rr, req)
	return rr
}

func post(t *testing.T, body string, opts ...capi.HandlerOption) *httptest.ResponseRecorder {
	t.Helper()
	req, err := http.NewRequest("POST", "/graphql", strings.NewReader(body))
	require.NoError(t, err)
	return testHTTPRequest(req, opts...)
}

func TestHTTPPlaygroundOnGet(t *testing.T) {
	req, err := http.NewRequest("GET", "/graphql", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := testHTTPRequest(req, capi.WithPlayground(true))

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 for playground UI, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("expected text/html, got %s", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "<title>capi</title>") {
		t.Errorf("expected playground HTML, got: %s", body)
	}
	if !strings.Contains(body, `var endpoint = "/graphql";`) {
		t.Errorf("expected /graphql endpoint config in HTML")
	}
}

func TestHTTPGetWithoutPlayground(t *testing.T) {
	req, err := http.NewRequest("GET", "/graphql", nil)
	require.NoError(t, err)

	rr := testHTTPRequest(req)
	if diff := pretty.Compare(rr.Body.String(), `{"data":null,"errors":[{"message":"request must be a POST","extensions":{"code":"Unknown"},"paths":[]}]}`); diff != "" {
		t.Errorf("expected response to match, but received %s", diff)
	}
}

func TestHTTPParseQuery(t *testing.T) {
	req, err := http.NewRequest("POST", "/graphql", nil)
	if err != nil {
		t.Fatal(err)
	}

	rr := testHTTPRequest(req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, but received %d", rr.Code)
	}
	if diff := pretty.Compare(rr.Body.String(), `{"data":null,"errors":[{"message":"request must include a query","extensions":{"code":"Unknown"},"paths":[]}]}`); diff != "" {
		t.Errorf("expected response to match, but received %s", diff)
	}
}

func TestHTTPMustHaveQuery(t *testing.T) {
	rr := post(t, `{"query":""}`)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, but received %d", rr.Code)
	}
	if diff := pretty.Compare(rr.Body.String(), `{"data":null,"errors":[{"message":"must have a single query","extensions":{"code":"Unknown"},"paths":[]}]}`); diff != "" {
		t.Errorf("expected response to match, but received %s", diff)
	}
}

func TestHTTPSuccess(t *testing.T) {
	rr := post(t, `{"query": "query TestQuery($value: int64) { mirror(value: $value) }", "variables": { "value": 1 }}`)

	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, but received %d", rr.Code)
	}
	if diff := pretty.Compare(rr.Body.String(), "{\"data\":{\"mirror\":-1},\"errors\":null}"); diff != "" {
		t.Errorf("expected response to match, but received %s", diff)
	}
}

func TestHTTPContentType(t *testing.T) {
	rr := post(t, `{"query": "{ mirror(value: 1) }"}`)

	if diff := pretty.Compare(rr.Header().Get("Content-Type"), "application/json"); diff != "" {
		t.Errorf("expected response to match, but received %s", diff)
	}
}

func TestHTTPOperationName(t *testing.T) {
	rr := post(t, `{"query": "query A { a: mirror(value: 1) } query B { b: mirror(value: 2) }", "operationName": "B"}`)
	assert.Equal(t, `{"data":{"b":-2},"errors":null}`, rr.Body.String())
}

func TestHTTPBatch(t *testing.T) {
	rr := post(t, `[{"query": "{ mirror(value: 1) }"}, {"query": ""}, {"query": "{ mirror(value: 3) }"}]`)

	want := `[{"data":{"mirror":-1},"errors":null},` +
		`{"data":null,"errors":[{"message":"must have a single query","extensions":{"code":"Unknown"},"paths":[]}]},` +
		`{"data":{"mirror":-3},"errors":null}]`
	if diff := pretty.Compare(rr.Body.String(), want); diff != "" {
		t.Errorf("unexpected batch response: %s", diff)
	}
}

func TestHTTPBatchLimit(t *testing.T) {
	rr := post(t, `[{"query": "{ mirror(value: 1) }"}, {"query": "{ mirror(value: 2) }"}, {"query": "{ mirror(value: 3) }"}]`,
		capi.WithMaxBatch(2))
	want := `{"data":null,"errors":[{"message":"batch of 3 operations exceeds 2","extensions":{"code":"InvalidArgument","kind":"TranslationError"},"paths":[]}]}`
	if diff := pretty.Compare(rr.Body.String(), want); diff != "" {
		t.Errorf("unexpected response: %s", diff)
	}

	rr = post(t, `[{"query": "{ mirror(value: 1) }"}, {"query": "{ mirror(value: 2) }"}]`, capi.WithMaxBatch(2))
	assert.Equal(t, `[{"data":{"mirror":-1},"errors":null},{"data":{"mirror":-2},"errors":null}]`, rr.Body.String())
}

func TestHTTPBodyLimit(t *testing.T) {
	body := `{"query": "{ mirror(value: 1) }", "operationName": "` + strings.Repeat("x", 128) + `"}`
	rr := post(t, body, capi.WithMaxBodyBytes(64))
	want := `{"data":null,"errors":[{"message":"request body exceeds 64 bytes","extensions":{"code":"InvalidArgument","kind":"TranslationError"},"paths":[]}]}`
	if diff := pretty.Compare(rr.Body.String(), want); diff != "" {
		t.Errorf("unexpected response: %s", diff)
	}
}

func TestHTTPPartialErrors(t *testing.T) {
	rr := post(t, `{"query": "{ mirror(value: 1) denied }"}`)
	want := `{"data":{"denied":null,"mirror":-1},"errors":[` +
		`{"message":"permission denied for Boat.length","extensions":{"code":"PermissionDenied","kind":"AccessDenied"},"paths":["denied"]}]}`
	if diff := pretty.Compare(rr.Body.String(), want); diff != "" {
		t.Errorf("unexpected response: %s", diff)
	}

	rr = post(t, `{"query": "{ sunk }"}`)
	assert.Equal(t, `{"data":{"sunk":null},"errors":[{"message":"sunk","extensions":{"code":"Unknown"},"paths":["sunk"]}]}`, rr.Body.String())
}

func TestHTTPRejectsSubscriptions(t *testing.T) {
	rr := post(t, `{"query": "subscription { mirror(value: 1) }"}`)
	assert.Contains(t, rr.Body.String(), `"data":null`)
	assert.Contains(t, rr.Body.String(), "subscriptions are served over WebSocket")
	assert.Contains(t, rr.Body.String(), `"code":"InvalidArgument"`)
}

func TestHTTPPassesCaller(t *testing.T) {
	exec := newExecutor()
	h := capi.HTTPHandler(exec)

	ac := schemagraph.AccessContext{Role: "capi_user", Claims: map[string]interface{}{"user_id": "u1"}}
	req := httptest.NewRequest("POST", "/graphql", strings.NewReader(`{"query": "{ mirror(value: 1) }"}`))
	req = req.WithContext(schemagraph.WithAccess(req.Context(), ac))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, ac, exec.caller)
}

func TestHTTPMiddlewares(t *testing.T) {
	var order []string
	trace := func(name string) capi.MiddlewareFunc {
		return func(next capi.HandlerFunc) capi.HandlerFunc {
			return func(ctx context.Context, query *graphql.Query) (interface{}, error) {
				order = append(order, name)
				assert.Equal(t, map[string]interface{}{"value": float64(4)}, capi.ExtractVariables(ctx))
				return next(ctx, query)
			}
		}
	}

	rr := post(t, `{"query": "query($value: int64) { mirror(value: $value) }", "variables": {"value": 4}}`,
		capi.WithMiddlewares(trace("outer"), trace("inner")))
	assert.Equal(t, `{"data":{"mirror":-4},"errors":null}`, rr.Body.String())
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestHTTPCORS(t *testing.T) {
	req, err := http.NewRequest("OPTIONS", "/graphql", nil)
	require.NoError(t, err)

	rr := testHTTPRequest(req, capi.WithCORS(true))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	rr = post(t, `{"query": "{ mirror(value: 1) }"}`)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
