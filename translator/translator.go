// Package translator executes GraphQL queries against a reflected graph by
// turning every field into batched SQL statements.
package translator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/metrics"
	"go.appointy.com/capi/schemagraph"
	"google.golang.org/grpc/codes"
)

const (
	// DefaultTimeout bounds every statement.
	DefaultTimeout = 5 * time.Second
	// DefaultChunkSize is the most keys loaded by one relation statement.
	DefaultChunkSize = 1000
)

// Translator is the row source of a graph. It is safe for concurrent use.
type Translator struct {
	db          *sql.DB
	dialect     Dialect
	timeout     time.Duration
	chunkSize   int
	sessionRole bool
	logger      *slog.Logger
	metrics     *metrics.Metrics

	roundTrips atomic.Int64
	statements sync.Map
}

// Option configures a Translator.
type Option func(*Translator)

// WithTimeout bounds every statement by d.
func WithTimeout(d time.Duration) Option {
	return func(t *Translator) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithChunkSize limits the number of keys per relation statement.
func WithChunkSize(n int) Option {
	return func(t *Translator) {
		if n > 0 {
			t.chunkSize = n
		}
	}
}

// WithSessionRole runs each Postgres request in a transaction that assumes
// the role and claims of the caller, so row level security of the database
// applies as well.
func WithSessionRole(enabled bool) Option {
	return func(t *Translator) {
		t.sessionRole = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Translator) {
		t.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Translator) {
		t.metrics = m
	}
}

// New returns a translator issuing statements on db.
func New(db *sql.DB, dialect Dialect, opts ...Option) *Translator {
	t := &Translator{
		db:        db,
		dialect:   dialect,
		timeout:   DefaultTimeout,
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RoundTrips returns the number of statements issued so far.
func (t *Translator) RoundTrips() int64 {
	return t.roundTrips.Load()
}

// Translate validates query against g and executes it for ac.
func (t *Translator) Translate(ctx context.Context, g *schemagraph.Graph, query *graphql.Query, ac schemagraph.AccessContext) (interface{}, error) {
	return t.Execute(ctx, g, query, ac, nil)
}

// Execute is Translate with a root source, used to resolve subscription
// events.
func (t *Translator) Execute(ctx context.Context, g *schemagraph.Graph, query *graphql.Query, ac schemagraph.AccessContext, source interface{}) (interface{}, error) {
	root := g.Root(query.Kind)
	if obj, ok := root.(*graphql.Object); !ok || len(obj.Fields) == 0 {
		return nil, jerrors.InvalidInput("%s operations are not supported", query.Kind)
	}

	ctx = schemagraph.WithAccess(schemagraph.WithGraph(ctx, g), ac)
	if err := graphql.ValidateQuery(ctx, root, query.SelectionSet); err != nil {
		return nil, invalid(err)
	}

	if !t.sessionRole || t.dialect.Name() != "postgres" {
		e := graphql.Executor{}
		return e.Execute(ctx, root, source, query)
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, classify(err)
	}
	defer tx.Rollback() //nolint:errcheck
	ctx = context.WithValue(ctx, txKey{}, tx)
	if err := t.assume(ctx, ac); err != nil {
		return nil, err
	}

	e := graphql.Executor{}
	data, err := e.Execute(ctx, root, source, query)
	var partial graphql.ResolveErrors
	if err != nil && !errors.As(err, &partial) {
		return data, err
	}
	if cerr := tx.Commit(); cerr != nil {
		return nil, classify(cerr)
	}
	return data, err
}

// invalid marks errors of query validation as bad input.
func invalid(err error) error {
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return err
	}
	return &jerrors.TranslationError{Err: err, Code: codes.InvalidArgument}
}

type txKey struct{}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (t *Translator) querier(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return t.db
}

// assume sets the role and jwt.claims.* settings of the transaction in ctx.
func (t *Translator) assume(ctx context.Context, ac schemagraph.AccessContext) error {
	var calls []string
	var args []interface{}
	set := func(name string, value interface{}) {
		args = append(args, name, value)
		calls = append(calls, fmt.Sprintf("set_config(%s, %s, true)",
			t.dialect.Placeholder(len(args)-1), t.dialect.Placeholder(len(args))))
	}
	if ac.Role != "" {
		set("role", ac.Role)
	}
	names := make([]string, 0, len(ac.Claims))
	for name := range ac.Claims {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		set("jwt.claims."+name, schemagraph.FormatClaim(ac.Claims[name]))
	}
	if len(calls) == 0 {
		return nil
	}
	_, err := t.query(ctx, "SELECT "+strings.Join(calls, ", "), args)
	return err
}

func (t *Translator) schema(ctx context.Context) (string, error) {
	g := schemagraph.GraphFrom(ctx)
	if g == nil {
		return "", errors.New("no graph in context")
	}
	return g.Schema, nil
}

// query runs one statement and returns its rows keyed by column.
func (t *Translator) query(ctx context.Context, text string, args []interface{}) ([]schemagraph.Row, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	t.roundTrips.Add(1)
	t.metrics.RoundTrip()
	t.logger.DebugContext(ctx, "statement", "sql", text, "args", len(args))

	rows, err := t.querier(ctx).QueryContext(ctx, text, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}
	var out []schemagraph.Row
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err)
		}
		row := make(schemagraph.Row, len(columns))
		for i, col := range columns {
			if col == rowNumber {
				continue
			}
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func normalize(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// cached returns the statement text stored under key, building it once.
func (t *Translator) cached(key string, build func() string) string {
	if text, ok := t.statements.Load(key); ok {
		return text.(string)
	}
	text := build()
	t.statements.Store(key, text)
	return text
}
