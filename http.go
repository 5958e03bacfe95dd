// Package capi serves a GraphQL API reflected from a relational schema.
package capi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/metrics"
	"go.appointy.com/capi/schemagraph"
)

// Executor runs one parsed operation for a caller.
type Executor interface {
	Execute(ctx context.Context, query *graphql.Query, ac schemagraph.AccessContext) (interface{}, error)
}

// HandlerFunc executes a query. Middlewares wrap it.
type HandlerFunc func(ctx context.Context, query *graphql.Query) (interface{}, error)

// MiddlewareFunc wraps the execution of every operation of a request.
type MiddlewareFunc func(next HandlerFunc) HandlerFunc

type HandlerOption func(*handlerOptions)

// Request limits used unless overridden.
const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultMaxBatch     = 50
)

type handlerOptions struct {
	Middlewares []MiddlewareFunc
	Verbosity   jerrors.Verbosity
	Playground  bool
	CORS        bool
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	MaxBody     int64
	MaxBatch    int
}

// WithMiddlewares adds middlewares. The first one runs outermost.
func WithMiddlewares(m ...MiddlewareFunc) HandlerOption {
	return func(o *handlerOptions) { o.Middlewares = append(o.Middlewares, m...) }
}

// WithVerbosity selects the database diagnostics copied into errors.
func WithVerbosity(v jerrors.Verbosity) HandlerOption {
	return func(o *handlerOptions) { o.Verbosity = v }
}

// WithPlayground serves GraphiQL on GET requests.
func WithPlayground(enabled bool) HandlerOption {
	return func(o *handlerOptions) { o.Playground = enabled }
}

// WithCORS allows cross origin requests from any origin.
func WithCORS(enabled bool) HandlerOption {
	return func(o *handlerOptions) { o.CORS = enabled }
}

func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(o *handlerOptions) { o.Logger = logger }
}

func WithHandlerMetrics(m *metrics.Metrics) HandlerOption {
	return func(o *handlerOptions) { o.Metrics = m }
}

// WithMaxBodyBytes bounds the size of a request body.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(o *handlerOptions) {
		if n > 0 {
			o.MaxBody = n
		}
	}
}

// WithMaxBatch bounds the number of operations of a batch request.
func WithMaxBatch(n int) HandlerOption {
	return func(o *handlerOptions) {
		if n > 0 {
			o.MaxBatch = n
		}
	}
}

// HTTPHandler implements the handler required for executing the graphql
// queries and mutations. The caller is read from the request context, see
// schemagraph.WithAccess.
func HTTPHandler(exec Executor, opts ...HandlerOption) http.Handler {
	o := handlerOptions{Logger: slog.Default(), MaxBody: DefaultMaxBodyBytes, MaxBatch: DefaultMaxBatch}
	for _, opt := range opts {
		opt(&o)
	}

	h := &httpHandler{executor: exec, opts: o}
	prev := h.execute
	for i := range o.Middlewares {
		prev = o.Middlewares[len(o.Middlewares)-1-i](prev)
	}
	h.exec = prev
	if o.Playground {
		h.playground = PlaygroundHandler("capi", "/graphql")
	}
	return h
}

type httpHandler struct {
	executor   Executor
	opts       handlerOptions
	exec       HandlerFunc
	playground http.Handler
}

type httpPostBody struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

type httpResponse struct {
	Data   interface{}      `json:"data"`
	Errors []*jerrors.Error `json:"errors"`
}

func (h *httpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.opts.CORS {
		header := w.Header()
		header.Set("Access-Control-Allow-Origin", "*")
		header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}

	writeResponse := func(value interface{}) {
		responseJSON, err := json.Marshal(value)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		_, _ = w.Write(responseJSON)
	}
	fail := func(err error) {
		writeResponse(httpResponse{Errors: h.opts.Verbosity.ConvertAll(err)})
	}

	if r.Method == http.MethodGet && h.playground != nil {
		h.playground.ServeHTTP(w, r)
		return
	}
	if r.Method != http.MethodPost {
		fail(errors.New("request must be a POST"))
		return
	}
	if r.Body == nil {
		fail(errors.New("request must include a query"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = jerrors.InvalidInput("request body exceeds %d bytes", tooLarge.Limit)
		}
		fail(err)
		return
	}

	// A JSON array is a batch of operations answered by an array.
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		var batch []httpPostBody
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			fail(err)
			return
		}
		if len(batch) > h.opts.MaxBatch {
			fail(jerrors.InvalidInput("batch of %d operations exceeds %d", len(batch), h.opts.MaxBatch))
			return
		}
		out := make([]httpResponse, len(batch))
		for i, params := range batch {
			out[i] = h.run(r.Context(), params)
		}
		writeResponse(out)
		return
	}

	var params httpPostBody
	if err := json.Unmarshal(body, &params); err != nil {
		fail(err)
		return
	}
	writeResponse(h.run(r.Context(), params))
}

func (h *httpHandler) run(ctx context.Context, params httpPostBody) httpResponse {
	start := time.Now()
	query, err := graphql.ParseOperation(params.Query, params.Variables, params.OperationName)
	if err != nil {
		return httpResponse{Errors: h.opts.Verbosity.ConvertAll(err)}
	}
	if query.Kind == "subscription" {
		return httpResponse{Errors: h.opts.Verbosity.ConvertAll(jerrors.InvalidInput("subscriptions are served over WebSocket"))}
	}

	ctx = addVariables(ctx, params.Variables)
	output, err := h.exec(ctx, query)
	h.opts.Metrics.ObserveRequest(query.Kind, err, time.Since(start))
	if err == nil {
		return httpResponse{Data: output}
	}

	h.opts.Logger.Debug("operation failed", "kind", query.Kind, "operation", params.OperationName, "error", err)
	var partial graphql.ResolveErrors
	if !errors.As(err, &partial) {
		output = nil
	}
	return httpResponse{Data: output, Errors: h.opts.Verbosity.ConvertAll(err)}
}

func (h *httpHandler) execute(ctx context.Context, query *graphql.Query) (interface{}, error) {
	return h.executor.Execute(ctx, query, schemagraph.AccessFrom(ctx))
}

type graphqlVariableKeyType int

const graphqlVariableKey graphqlVariableKeyType = 0

// ExtractVariables is used to returns the variables received as part of the graphql request.
// This is intended to be used from within the middlewares.
func ExtractVariables(ctx context.Context) map[string]interface{} {
	if v := ctx.Value(graphqlVariableKey); v != nil {
		return v.(map[string]interface{})
	}

	return nil
}

func addVariables(ctx context.Context, v map[string]interface{}) context.Context {
	return context.WithValue(ctx, graphqlVariableKey, v)
}

// playgroundHTML loads GraphiQL from a CDN and points it at the endpoint.
// Subscriptions are not wired into the page.
const playgroundHTML = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8" />
    <title>%s</title>
    <style>
        body {
            height: 100%%;
            margin: 0;
            overflow: hidden;
        }
        #graphiql {
            height: 100vh;
        }
    </style>
    <link rel="stylesheet" href="https://unpkg.com/graphiql@1.4.0/graphiql.min.css" />
    <script src="https://unpkg.com/react@16.14.0/umd/react.production.min.js"></script>
    <script src="https://unpkg.com/react-dom@16.14.0/umd/react-dom.production.min.js"></script>
    <script src="https://unpkg.com/graphiql@1.4.0/graphiql.min.js"></script>
</head>
<body>
    <div id="graphiql">Loading...</div>
    <script>
      var endpoint = %q;
      function graphQLFetcher(graphQLParams) {
        var headers = {
          Accept: 'application/json',
          'Content-Type': 'application/json',
        };
        var token = window.localStorage.getItem('capi:token');
        if (token) {
          headers.Authorization = 'Bearer ' + token;
        }
        return fetch(endpoint, {
          method: 'post',
          headers: headers,
          body: JSON.stringify(graphQLParams),
          credentials: 'omit',
        }).then(function (response) {
          return response.json().catch(function () {
            return response.text();
          });
        });
      }

      ReactDOM.render(
        React.createElement(GraphiQL, {
          fetcher: graphQLFetcher,
        }),
        document.getElementById('graphiql'),
      );
    </script>
</body>
</html>`

// PlaygroundHandler returns an HTTP handler that serves an interactive
// GraphiQL playground posting to graphqlEndpoint. A JWT stored under the
// "capi:token" key of the browser's local storage is sent as bearer token.
func PlaygroundHandler(title, graphqlEndpoint string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.Method == http.MethodHead {
			return
		}
		_, _ = fmt.Fprintf(w, playgroundHTML, title, graphqlEndpoint)
	})
}
