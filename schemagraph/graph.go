// Package schemagraph turns a database catalog into an executable GraphQL
// schema and holds the graph currently being served.
package schemagraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/subscription/topic"
)

// Row is one database row keyed by column name.
type Row map[string]interface{}

// AccessContext identifies the caller a query runs for.
type AccessContext struct {
	Role   string
	Claims map[string]interface{}
}

// Claim returns a claim of the caller as a string.
func (ac AccessContext) Claim(name string) (string, bool) {
	v, ok := ac.Claims[name]
	if !ok || v == nil {
		return "", false
	}
	return FormatClaim(v), true
}

// FormatClaim formats a decoded JSON claim value. Numbers never use
// exponents and objects are written as JSON.
func FormatClaim(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

// AccessPredicate decides whether a caller may see a row. It must not keep
// state between calls.
type AccessPredicate func(ac AccessContext, row Row) bool

// RelationKind tells which side of a foreign key a relation starts from.
type RelationKind int

const (
	// ManyToOne follows a foreign key to the referenced row.
	ManyToOne RelationKind = iota
	// OneToMany lists the rows referencing the source row.
	OneToMany
)

func (k RelationKind) String() string {
	if k == ManyToOne {
		return "ManyToOne"
	}
	return "OneToMany"
}

// Relation links rows of Source to rows of Target whose TargetColumns equal
// the SourceColumns of the source row.
type Relation struct {
	Name          string
	Kind          RelationKind
	Constraint    string
	Source        string
	Target        string
	SourceColumns []string
	TargetColumns []string
}

// FieldDescriptor describes a field backed by a column.
type FieldDescriptor struct {
	Name        string
	Column      string
	Scalar      string
	Nullable    bool
	HasDefault  bool
	Description string
	// Roles limits who may read the field. Empty means everyone.
	Roles []string

	// Field is the compiled field. Its resolver reads Column unless an
	// extension replaced it.
	Field *graphql.Field
}

// Allows reports whether role may read the field.
func (f *FieldDescriptor) Allows(role string) bool {
	if len(f.Roles) == 0 {
		return true
	}
	for _, r := range f.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TypeDescriptor describes the object type generated for a table.
type TypeDescriptor struct {
	Name        string
	Plural      string
	Table       string
	Description string
	Fields      []*FieldDescriptor
	PrimaryKey  []string
	Relations   []*Relation
	Access      AccessPredicate

	Object     *graphql.Object
	orderTerms map[string][]OrderTerm
}

// Field returns the field with the given GraphQL name or nil.
func (td *TypeDescriptor) Field(name string) *FieldDescriptor {
	for _, f := range td.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// FieldByColumn returns the field backed by column or nil.
func (td *TypeDescriptor) FieldByColumn(column string) *FieldDescriptor {
	for _, f := range td.Fields {
		if f.Column == column {
			return f
		}
	}
	return nil
}

// Columns lists the backing columns in field order.
func (td *TypeDescriptor) Columns() []string {
	out := make([]string, len(td.Fields))
	for i, f := range td.Fields {
		out[i] = f.Column
	}
	return out
}

// Visible applies the access predicate of the type to row.
func (td *TypeDescriptor) Visible(ac AccessContext, row Row) bool {
	return td.Access == nil || td.Access(ac, row)
}

// FunctionArg is an argument of a database function.
type FunctionArg struct {
	Name      string
	FieldName string
	Scalar    string
}

// FunctionDescriptor describes a database function exposed as a field.
type FunctionDescriptor struct {
	Name        string
	FieldName   string
	Description string
	Args        []*FunctionArg
	// ReturnType names the object type for functions returning table rows.
	// Otherwise ReturnScalar is set.
	ReturnType   string
	ReturnScalar string
	ReturnsSet   bool
	Mutation     bool
}

// TopicFunc derives the topic of a subscription from its parsed arguments.
type TopicFunc func(args interface{}, ac AccessContext) (topic.Topic, error)

// Graph is a reflected schema together with its executable form. A graph is
// never modified once it is served; extensions work on a Clone.
type Graph struct {
	Schema     string
	Dialect    string
	Types      map[string]*TypeDescriptor
	Functions  []*FunctionDescriptor
	Topics     map[string]TopicFunc
	Executable *graphql.Schema

	named map[string]graphql.Type
}

// Type returns the descriptor of a reflected type.
func (g *Graph) Type(name string) (*TypeDescriptor, bool) {
	td, ok := g.Types[name]
	return td, ok
}

// TypeNames lists the reflected types in sorted order.
func (g *Graph) TypeNames() []string {
	names := make([]string, 0, len(g.Types))
	for name := range g.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Root returns the root type for an operation kind.
func (g *Graph) Root(kind string) graphql.Type {
	switch kind {
	case "mutation":
		return g.Executable.Mutation
	case "subscription":
		return g.Executable.Subscription
	default:
		return g.Executable.Query
	}
}

// NamedType looks up any type reachable from the roots by name.
func (g *Graph) NamedType(name string) (graphql.Type, bool) {
	t, ok := g.named[name]
	return t, ok
}

// NamedTypes lists the names of all types reachable from the roots, sorted.
func (g *Graph) NamedTypes() []string {
	names := make([]string, 0, len(g.named))
	for name := range g.named {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Object looks up an object type by name.
func (g *Graph) Object(name string) (*graphql.Object, bool) {
	obj, ok := g.named[name].(*graphql.Object)
	return obj, ok
}

// AddType registers a named type so later lookups and fields can refer to
// it.
func (g *Graph) AddType(t graphql.Type) error {
	name := t.String()
	if existing, ok := g.named[name]; ok && existing != t {
		return &jerrors.HookConflictError{Type: name}
	}
	g.collect(t)
	return nil
}

// AddField adds a field to an object type. Fields are never replaced.
func (g *Graph) AddField(typeName, fieldName string, f *graphql.Field) error {
	obj, ok := g.Object(typeName)
	if !ok {
		return fmt.Errorf("unknown object type %s", typeName)
	}
	if _, ok := obj.Fields[fieldName]; ok {
		return &jerrors.HookConflictError{Type: typeName, Field: fieldName}
	}
	obj.Fields[fieldName] = f
	g.collect(f.Type)
	for _, arg := range f.Args {
		g.collect(arg)
	}
	return nil
}

func (g *Graph) index() {
	g.named = make(map[string]graphql.Type)
	g.collect(g.Executable.Query)
	g.collect(g.Executable.Mutation)
	g.collect(g.Executable.Subscription)
}

func (g *Graph) collect(t graphql.Type) {
	switch t := t.(type) {
	case nil:
	case *graphql.NonNull:
		g.collect(t.Type)
	case *graphql.List:
		g.collect(t.Type)
	case *graphql.Object:
		if _, ok := g.named[t.Name]; ok {
			return
		}
		g.named[t.Name] = t
		for _, f := range t.Fields {
			g.collect(f.Type)
			for _, arg := range f.Args {
				g.collect(arg)
			}
		}
	case *graphql.InputObject:
		if _, ok := g.named[t.Name]; ok {
			return
		}
		g.named[t.Name] = t
		for _, f := range t.InputFields {
			g.collect(f)
		}
	default:
		if _, ok := g.named[t.String()]; !ok {
			g.named[t.String()] = t
		}
	}
}

// Clone returns a deep copy of the graph whose objects and descriptors can be
// changed without affecting g. Input types and relations are shared.
func (g *Graph) Clone() *Graph {
	c := &cloner{objects: make(map[*graphql.Object]*graphql.Object)}
	out := &Graph{
		Schema:    g.Schema,
		Dialect:   g.Dialect,
		Types:     make(map[string]*TypeDescriptor, len(g.Types)),
		Functions: append([]*FunctionDescriptor(nil), g.Functions...),
		Topics:    make(map[string]TopicFunc, len(g.Topics)),
		Executable: &graphql.Schema{
			Query:        c.typ(g.Executable.Query),
			Mutation:     c.typ(g.Executable.Mutation),
			Subscription: c.typ(g.Executable.Subscription),
		},
	}
	for name, fn := range g.Topics {
		out.Topics[name] = fn
	}
	for name, td := range g.Types {
		copied := *td
		copied.Object = c.object(td.Object)
		copied.Fields = make([]*FieldDescriptor, len(td.Fields))
		for i, f := range td.Fields {
			fc := *f
			fc.Roles = append([]string(nil), f.Roles...)
			fc.Field = copied.Object.Fields[f.Name]
			copied.Fields[i] = &fc
		}
		copied.Relations = append([]*Relation(nil), td.Relations...)
		out.Types[name] = &copied
	}
	out.index()
	// Types only reachable through AddType.
	for _, t := range g.named {
		out.collect(c.typ(t))
	}
	return out
}

type cloner struct {
	objects map[*graphql.Object]*graphql.Object
}

func (c *cloner) typ(t graphql.Type) graphql.Type {
	switch t := t.(type) {
	case *graphql.Object:
		return c.object(t)
	case *graphql.List:
		return &graphql.List{Type: c.typ(t.Type)}
	case *graphql.NonNull:
		return &graphql.NonNull{Type: c.typ(t.Type)}
	default:
		return t
	}
}

func (c *cloner) object(o *graphql.Object) *graphql.Object {
	if o == nil {
		return nil
	}
	if copied, ok := c.objects[o]; ok {
		return copied
	}
	copied := &graphql.Object{
		Name:        o.Name,
		Description: o.Description,
		Fields:      make(map[string]*graphql.Field, len(o.Fields)),
	}
	c.objects[o] = copied
	for name, f := range o.Fields {
		fc := *f
		fc.Type = c.typ(f.Type)
		copied.Fields[name] = &fc
		if o.KeyField == f {
			copied.KeyField = &fc
		}
	}
	return copied
}

type graphKey struct{}
type accessKey struct{}

// WithGraph stores the graph a request runs against in ctx.
func WithGraph(ctx context.Context, g *Graph) context.Context {
	return context.WithValue(ctx, graphKey{}, g)
}

// GraphFrom returns the graph stored by WithGraph or nil.
func GraphFrom(ctx context.Context) *Graph {
	g, _ := ctx.Value(graphKey{}).(*Graph)
	return g
}

// WithAccess stores the caller of a request in ctx.
func WithAccess(ctx context.Context, ac AccessContext) context.Context {
	return context.WithValue(ctx, accessKey{}, ac)
}

// AccessFrom returns the caller stored by WithAccess.
func AccessFrom(ctx context.Context) AccessContext {
	ac, _ := ctx.Value(accessKey{}).(AccessContext)
	return ac
}

var errNoGraph = errors.New("no graph in context")

// TypeFrom looks up a reflected type in the graph of ctx.
func TypeFrom(ctx context.Context, name string) (*TypeDescriptor, error) {
	g := GraphFrom(ctx)
	if g == nil {
		return nil, errNoGraph
	}
	td, ok := g.Types[name]
	if !ok {
		return nil, fmt.Errorf("unknown type %s", name)
	}
	return td, nil
}
