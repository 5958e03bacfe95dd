package schemagraph

import (
	"context"
	"fmt"

	"github.com/iancoleman/strcase"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
)

type compiler struct {
	g       *Graph
	src     RowSource
	scalars map[string]*graphql.Scalar
	filters map[string]*graphql.InputObject
	args    map[string]map[string]graphql.Type
	parsers map[string]func(interface{}) (interface{}, error)

	query, mutation, subscription *graphql.Object
}

func newCompiler(g *Graph, src RowSource) *compiler {
	return &compiler{
		g:            g,
		src:          src,
		scalars:      newScalars(),
		filters:      make(map[string]*graphql.InputObject),
		args:         make(map[string]map[string]graphql.Type),
		parsers:      make(map[string]func(interface{}) (interface{}, error)),
		query:        &graphql.Object{Name: "Query", Description: "The root query type.", Fields: make(map[string]*graphql.Field)},
		mutation:     &graphql.Object{Name: "Mutation", Description: "The root mutation type.", Fields: make(map[string]*graphql.Field)},
		subscription: &graphql.Object{Name: "Subscription", Description: "The root subscription type.", Fields: make(map[string]*graphql.Field)},
	}
}

func (c *compiler) compile() error {
	names := c.g.TypeNames()
	for _, name := range names {
		td := c.g.Types[name]
		td.Object = &graphql.Object{
			Name:        td.Name,
			Description: td.Description,
			Fields:      make(map[string]*graphql.Field),
		}
	}
	for _, name := range names {
		c.objectFields(c.g.Types[name])
	}
	for _, name := range names {
		if err := c.rootFields(c.g.Types[name]); err != nil {
			return err
		}
	}
	for _, fn := range c.g.Functions {
		if err := c.functionField(fn); err != nil {
			return err
		}
	}

	c.g.Executable = &graphql.Schema{
		Query:        c.query,
		Mutation:     c.mutation,
		Subscription: c.subscription,
	}
	c.g.index()
	return nil
}

func nonNullList(t graphql.Type) graphql.Type {
	return &graphql.NonNull{Type: &graphql.List{Type: &graphql.NonNull{Type: t}}}
}

func (c *compiler) objectFields(td *TypeDescriptor) {
	for _, fd := range td.Fields {
		var typ graphql.Type = c.scalars[fd.Scalar]
		// Restricted fields turn into null when denied.
		if !fd.Nullable && len(fd.Roles) == 0 {
			typ = &graphql.NonNull{Type: typ}
		}
		fd.Field = &graphql.Field{
			Type:        typ,
			Description: fd.Description,
			Resolve:     columnResolver(td.Name, fd.Name, fd.Column, fd.Roles),
		}
		td.Object.Fields[fd.Name] = fd.Field
	}

	for _, rel := range td.Relations {
		target := c.g.Types[rel.Target]
		f := &graphql.Field{Batch: relationResolver(c.src, rel)}
		if rel.Kind == ManyToOne {
			f.Type = target.Object
			f.Description = fmt.Sprintf("Reads a single `%s` that is related to this `%s`.", target.Name, td.Name)
		} else {
			f.Type = nonNullList(target.Object)
			f.Description = fmt.Sprintf("Reads and enables pagination through a set of `%s`.", target.Name)
			c.listArgs(f, target)
		}
		td.Object.Fields[rel.Name] = f
	}
}

func columnResolver(typeName, name, column string, roles []string) graphql.Resolver {
	fd := &FieldDescriptor{Roles: roles}
	return func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
		if ac := AccessFrom(ctx); !fd.Allows(ac.Role) {
			return nil, &jerrors.AccessDeniedError{Type: typeName, Field: name, Role: ac.Role}
		}
		row, ok := source.(Row)
		if !ok {
			return nil, fmt.Errorf("%s.%s: unexpected source %T", typeName, name, source)
		}
		return row[column], nil
	}
}

func relationResolver(src RowSource, rel *Relation) graphql.BatchResolver {
	return func(ctx context.Context, sources []interface{}, args interface{}, selectionSet *graphql.SelectionSet) ([]interface{}, error) {
		target, err := TypeFrom(ctx, rel.Target)
		if err != nil {
			return nil, err
		}
		parents := make([]Row, len(sources))
		for i, source := range sources {
			row, ok := source.(Row)
			if !ok {
				return nil, fmt.Errorf("%s.%s: unexpected source %T", rel.Source, rel.Name, source)
			}
			parents[i] = row
		}
		q, _ := args.(*ListQuery)

		groups, err := src.Related(ctx, rel, target, parents, q)
		if err != nil {
			return nil, err
		}

		out := make([]interface{}, len(sources))
		for i, rows := range groups {
			switch {
			case rel.Kind == OneToMany:
				out[i] = rows
			case len(rows) > 0:
				out[i] = rows[0]
			}
		}
		return out, nil
	}
}

// listArgs adds the first, offset, orderBy, condition and filter arguments of
// a list of td to f.
func (c *compiler) listArgs(f *graphql.Field, td *TypeDescriptor) {
	if _, ok := c.args[td.Name]; !ok {
		c.buildListArgs(td)
	}
	f.Args = c.args[td.Name]
	f.ParseArguments = c.parsers[td.Name]
}

func (c *compiler) buildListArgs(td *TypeDescriptor) {
	filterable := make(map[string]*FieldDescriptor)
	for _, fd := range td.Fields {
		if len(fd.Roles) == 0 {
			filterable[fd.Name] = fd
		}
	}

	order := &graphql.Enum{
		Type:        strcase.ToCamel(td.Plural) + "OrderBy",
		Description: fmt.Sprintf("Methods to use when ordering `%s`.", td.Name),
		Values:      []string{"NATURAL"},
	}
	td.orderTerms = map[string][]OrderTerm{"NATURAL": nil}
	if len(td.PrimaryKey) > 0 {
		var asc, desc []OrderTerm
		for _, col := range td.PrimaryKey {
			asc = append(asc, OrderTerm{Column: col})
			desc = append(desc, OrderTerm{Column: col, Desc: true})
		}
		order.Values = append(order.Values, "PRIMARY_KEY_ASC", "PRIMARY_KEY_DESC")
		td.orderTerms["PRIMARY_KEY_ASC"] = asc
		td.orderTerms["PRIMARY_KEY_DESC"] = desc
	}

	condition := &graphql.InputObject{
		Name:        td.Name + "Condition",
		Description: fmt.Sprintf("A condition to be used against `%s` object types. All fields are tested for equality.", td.Name),
		InputFields: make(map[string]graphql.Type),
	}
	filter := &graphql.InputObject{
		Name:        td.Name + "Filter",
		Description: fmt.Sprintf("A filter to be used against `%s` object types.", td.Name),
		InputFields: make(map[string]graphql.Type),
	}
	for _, fd := range td.Fields {
		if _, ok := filterable[fd.Name]; !ok {
			continue
		}
		value := orderValue(fd.Name)
		order.Values = append(order.Values, value+"_ASC", value+"_DESC")
		td.orderTerms[value+"_ASC"] = []OrderTerm{{Column: fd.Column}}
		td.orderTerms[value+"_DESC"] = []OrderTerm{{Column: fd.Column, Desc: true}}

		condition.InputFields[fd.Name] = c.scalars[fd.Scalar]
		filter.InputFields[fd.Name] = c.scalarFilter(fd.Scalar)
	}
	filter.InputFields["and"] = &graphql.List{Type: &graphql.NonNull{Type: filter}}
	filter.InputFields["or"] = &graphql.List{Type: &graphql.NonNull{Type: filter}}
	filter.InputFields["not"] = filter

	c.args[td.Name] = map[string]graphql.Type{
		"first":     c.scalars[Int],
		"offset":    c.scalars[Int],
		"orderBy":   &graphql.List{Type: &graphql.NonNull{Type: order}},
		"condition": condition,
		"filter":    filter,
	}
	c.parsers[td.Name] = listParser(td.Name, td.orderTerms, filterable, td.PrimaryKey)
}

// scalarFilter returns the comparison input object of a scalar, such as
// StringFilter.
func (c *compiler) scalarFilter(scalar string) *graphql.InputObject {
	if f, ok := c.filters[scalar]; ok {
		return f
	}
	typ := c.scalars[scalar]
	f := &graphql.InputObject{
		Name:        scalar + "Filter",
		Description: fmt.Sprintf("A filter to be used against %s fields.", scalar),
		InputFields: map[string]graphql.Type{
			string(OpEqual):    typ,
			string(OpNotEqual): typ,
			string(OpIn):       &graphql.List{Type: &graphql.NonNull{Type: typ}},
			string(OpIsNull):   c.scalars[Boolean],
		},
	}
	if scalar != Boolean && scalar != JSON {
		for _, op := range []Op{OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual} {
			f.InputFields[string(op)] = typ
		}
	}
	if scalar == String {
		f.InputFields[string(OpLike)] = typ
		f.InputFields[string(OpIncludesInsensitive)] = typ
	}
	c.filters[scalar] = f
	return f
}

type connection struct {
	typeName string
	query    *ListQuery
}

func addField(obj *graphql.Object, name string, f *graphql.Field) error {
	if _, ok := obj.Fields[name]; ok {
		return fmt.Errorf("field %s defined twice on %s", name, obj.Name)
	}
	obj.Fields[name] = f
	return nil
}

func (c *compiler) rootFields(td *TypeDescriptor) error {
	src, name := c.src, td.Name

	conn := &graphql.Object{
		Name:        strcase.ToCamel(td.Plural) + "Connection",
		Description: fmt.Sprintf("A list of `%s` values.", td.Name),
		Fields: map[string]*graphql.Field{
			"nodes": {
				Type:        nonNullList(td.Object),
				Description: fmt.Sprintf("A list of `%s` objects.", td.Name),
				Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
					conn := source.(*connection)
					td, err := TypeFrom(ctx, conn.typeName)
					if err != nil {
						return nil, err
					}
					return src.List(ctx, td, conn.query)
				},
			},
			"totalCount": {
				Type:        &graphql.NonNull{Type: c.scalars[Int]},
				Description: fmt.Sprintf("The count of *all* `%s` you could get from the connection.", td.Name),
				Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
					conn := source.(*connection)
					td, err := TypeFrom(ctx, conn.typeName)
					if err != nil {
						return nil, err
					}
					return src.Count(ctx, td, conn.query)
				},
			},
		},
	}
	list := &graphql.Field{
		Type:        conn,
		Description: fmt.Sprintf("Reads and enables pagination through a set of `%s`.", td.Name),
		Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
			q, _ := args.(*ListQuery)
			return &connection{typeName: name, query: q}, nil
		},
	}
	c.listArgs(list, td)
	if err := addField(c.query, td.Plural, list); err != nil {
		return err
	}

	if len(td.PrimaryKey) == 0 {
		return nil
	}

	keyArgs := func() map[string]graphql.Type {
		args := make(map[string]graphql.Type)
		for _, col := range td.PrimaryKey {
			fd := td.FieldByColumn(col)
			args[fd.Name] = &graphql.NonNull{Type: c.scalars[fd.Scalar]}
		}
		return args
	}

	lookup := &graphql.Field{
		Type:           td.Object,
		Description:    fmt.Sprintf("Reads a single `%s` by its primary key.", td.Name),
		Args:           keyArgs(),
		ParseArguments: mutationParser(td, true, "", false),
		Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
			td, err := TypeFrom(ctx, name)
			if err != nil {
				return nil, err
			}
			return rowOrNil(src.Lookup(ctx, td, args.(*mutationArgs).Key))
		},
	}
	if err := addField(c.query, singularField(td.Name), lookup); err != nil {
		return err
	}

	input := &graphql.InputObject{
		Name:        td.Name + "Input",
		Description: fmt.Sprintf("An input for mutations affecting `%s`.", td.Name),
		InputFields: make(map[string]graphql.Type),
	}
	patch := &graphql.InputObject{
		Name:        td.Name + "Patch",
		Description: fmt.Sprintf("Represents an update to a `%s`. Fields that are set will be updated.", td.Name),
		InputFields: make(map[string]graphql.Type),
	}
	for _, fd := range td.Fields {
		var typ graphql.Type = c.scalars[fd.Scalar]
		patch.InputFields[fd.Name] = typ
		if !fd.Nullable && !fd.HasDefault {
			typ = &graphql.NonNull{Type: typ}
		}
		input.InputFields[fd.Name] = typ
	}

	create := &graphql.Field{
		Type:           td.Object,
		Description:    fmt.Sprintf("Creates a single `%s`.", td.Name),
		Args:           map[string]graphql.Type{"input": &graphql.NonNull{Type: input}},
		ParseArguments: mutationParser(td, false, "input", true),
		Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
			td, err := TypeFrom(ctx, name)
			if err != nil {
				return nil, err
			}
			m := args.(*mutationArgs)
			if err := checkWrite(ctx, td, m.Values); err != nil {
				return nil, err
			}
			return rowOrNil(src.Insert(ctx, td, m.Values))
		},
	}

	updateArgs := keyArgs()
	updateArgs["patch"] = &graphql.NonNull{Type: patch}
	update := &graphql.Field{
		Type:           td.Object,
		Description:    fmt.Sprintf("Updates a single `%s` using its primary key and a patch.", td.Name),
		Args:           updateArgs,
		ParseArguments: mutationParser(td, true, "patch", false),
		Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
			td, err := TypeFrom(ctx, name)
			if err != nil {
				return nil, err
			}
			m := args.(*mutationArgs)
			if err := checkWrite(ctx, td, m.Values); err != nil {
				return nil, err
			}
			return rowOrNil(src.Update(ctx, td, m.Key, m.Values))
		},
	}

	del := &graphql.Field{
		Type:           td.Object,
		Description:    fmt.Sprintf("Deletes a single `%s` using its primary key.", td.Name),
		Args:           keyArgs(),
		ParseArguments: mutationParser(td, true, "", false),
		Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
			td, err := TypeFrom(ctx, name)
			if err != nil {
				return nil, err
			}
			return rowOrNil(src.Delete(ctx, td, args.(*mutationArgs).Key))
		},
	}

	for field, f := range map[string]*graphql.Field{
		"create" + td.Name: create,
		"update" + td.Name: update,
		"delete" + td.Name: del,
	} {
		if err := addField(c.mutation, field, f); err != nil {
			return err
		}
	}
	return nil
}

// checkWrite rejects writes to fields the caller may not read.
func checkWrite(ctx context.Context, td *TypeDescriptor, values []Assignment) error {
	ac := AccessFrom(ctx)
	for _, v := range values {
		if fd := td.FieldByColumn(v.Column); fd != nil && !fd.Allows(ac.Role) {
			return &jerrors.AccessDeniedError{Type: td.Name, Field: fd.Name, Role: ac.Role}
		}
	}
	return nil
}

func rowOrNil(row Row, err error) (interface{}, error) {
	if err != nil || row == nil {
		return nil, err
	}
	return row, nil
}

func (c *compiler) functionField(fn *FunctionDescriptor) error {
	var ret graphql.Type
	if fn.ReturnType != "" {
		ret = c.g.Types[fn.ReturnType].Object
		if fn.ReturnsSet {
			ret = nonNullList(ret)
		}
	} else {
		ret = c.scalars[fn.ReturnScalar]
		if fn.ReturnsSet {
			ret = &graphql.NonNull{Type: &graphql.List{Type: ret}}
		}
	}

	args := make(map[string]graphql.Type)
	for _, arg := range fn.Args {
		args[arg.FieldName] = c.scalars[arg.Scalar]
	}

	src := c.src
	f := &graphql.Field{
		Type:           ret,
		Description:    fn.Description,
		Args:           args,
		ParseArguments: functionParser(fn),
		Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
			rows, err := src.Call(ctx, fn, args.([]interface{}))
			if err != nil {
				return nil, err
			}
			return shapeResult(fn, rows), nil
		},
	}

	if !fn.Mutation {
		return addField(c.query, fn.FieldName, f)
	}
	input := &graphql.InputObject{
		Name:        strcase.ToCamel(fn.FieldName) + "Input",
		Description: fmt.Sprintf("All input for the `%s` mutation.", fn.FieldName),
		InputFields: args,
	}
	f.Args = map[string]graphql.Type{"input": &graphql.NonNull{Type: input}}
	return addField(c.mutation, fn.FieldName, f)
}

func shapeResult(fn *FunctionDescriptor, rows []Row) interface{} {
	if fn.ReturnType != "" {
		if fn.ReturnsSet {
			return rows
		}
		if len(rows) == 0 {
			return nil
		}
		return rows[0]
	}
	if fn.ReturnsSet {
		values := make([]interface{}, len(rows))
		for i, row := range rows {
			values[i] = row["value"]
		}
		return values
	}
	if len(rows) == 0 {
		return nil
	}
	return rows[0]["value"]
}
