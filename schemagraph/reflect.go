package schemagraph

import (
	"context"
	"fmt"

	"github.com/iancoleman/strcase"
	"go.appointy.com/capi/catalog"
	"go.appointy.com/capi/jerrors"
)

type options struct {
	tags *Tags
}

// Option configures Reflect.
type Option func(*options)

// WithTags applies smart tags to the reflected surface.
func WithTags(tags *Tags) Option {
	return func(o *options) {
		o.tags = tags
	}
}

// Reflect reads schema from cat and builds its graph. Resolvers of the graph
// load rows through src. Tables, columns, relations and functions are
// processed in sorted order so reflecting an unchanged catalog twice yields
// the same graph.
func Reflect(ctx context.Context, cat catalog.Catalog, schema string, src RowSource, opts ...Option) (*Graph, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	snap, err := cat.Snapshot(ctx, schema)
	if err != nil {
		return nil, &jerrors.ReflectionError{Schema: schema, Err: err}
	}

	g, err := build(snap, cat.Dialect(), src, o.tags)
	if err != nil {
		return nil, &jerrors.ReflectionError{Schema: schema, Err: err}
	}
	return g, nil
}

func build(snap *catalog.Snapshot, dialect string, src RowSource, tags *Tags) (*Graph, error) {
	g := &Graph{
		Schema:  snap.Schema,
		Dialect: dialect,
		Types:   make(map[string]*TypeDescriptor),
		Topics:  make(map[string]TopicFunc),
	}

	byTable, err := describeTables(g, snap, tags)
	if err != nil {
		return nil, err
	}
	if err := describeRelations(snap, byTable); err != nil {
		return nil, err
	}
	describeFunctions(g, snap, byTable)

	c := newCompiler(g, src)
	if err := c.compile(); err != nil {
		return nil, err
	}
	return g, nil
}

func describeTables(g *Graph, snap *catalog.Snapshot, tags *Tags) (map[string]*TypeDescriptor, error) {
	byTable := make(map[string]*TypeDescriptor)
	for _, t := range snap.Tables {
		tt := tags.table(t.Name)
		if tt.Omit {
			continue
		}

		name := tt.Name
		if name == "" {
			name = typeName(t.Name)
		}
		if other, ok := g.Types[name]; ok {
			return nil, fmt.Errorf("tables %s and %s both map to type %s", other.Table, t.Name, name)
		}

		td := &TypeDescriptor{
			Name:        name,
			Plural:      pluralField(name),
			Table:       t.Name,
			Description: firstNonEmpty(tt.Description, t.Comment),
		}
		for _, col := range t.Columns {
			ct := tt.column(col.Name)
			if ct.Omit {
				continue
			}
			fd := &FieldDescriptor{
				Name:        firstNonEmpty(ct.Name, fieldName(col.Name)),
				Column:      col.Name,
				Scalar:      scalarFor(col.Type),
				Nullable:    !col.NotNull,
				HasDefault:  col.HasDefault,
				Description: firstNonEmpty(ct.Description, col.Comment),
				Roles:       ct.Roles,
			}
			if td.Field(fd.Name) != nil {
				return nil, fmt.Errorf("two columns of %s map to field %s", t.Name, fd.Name)
			}
			td.Fields = append(td.Fields, fd)
		}

		pk := true
		for _, col := range t.PrimaryKey {
			if td.FieldByColumn(col) == nil {
				pk = false
			}
		}
		if pk {
			td.PrimaryKey = t.PrimaryKey
		}

		if tt.Owner != nil {
			if t.Column(tt.Owner.Column) == nil {
				return nil, fmt.Errorf("owner column %s of %s does not exist", tt.Owner.Column, t.Name)
			}
			td.Access = tt.Owner.predicate()
		}

		g.Types[name] = td
		byTable[t.Name] = td
	}
	return byTable, nil
}

func describeRelations(snap *catalog.Snapshot, byTable map[string]*TypeDescriptor) error {
	for _, t := range snap.Tables {
		source, ok := byTable[t.Name]
		if !ok {
			continue
		}

		perTarget := make(map[string]int)
		for _, fk := range t.ForeignKeys {
			perTarget[fk.ForeignTable]++
		}

		for _, fk := range t.ForeignKeys {
			target, ok := byTable[fk.ForeignTable]
			if !ok || !hasColumns(source, fk.Columns) || !hasColumns(target, fk.ForeignColumns) {
				continue
			}

			forward := &Relation{
				Name:          forwardRelationName(fk.Columns, target.Name),
				Kind:          ManyToOne,
				Constraint:    fk.Name,
				Source:        source.Name,
				Target:        target.Name,
				SourceColumns: fk.Columns,
				TargetColumns: fk.ForeignColumns,
			}
			if source.hasName(forward.Name) {
				forward.Name = singularField(target.Name) + byColumns(fk.Columns)
			}
			if source.hasName(forward.Name) {
				return fmt.Errorf("relation %s.%s conflicts with an existing field", source.Name, forward.Name)
			}
			source.Relations = append(source.Relations, forward)

			backward := &Relation{
				Name:          backwardRelationName(source.Name, fk.Columns, perTarget[fk.ForeignTable] > 1),
				Kind:          OneToMany,
				Constraint:    fk.Name,
				Source:        target.Name,
				Target:        source.Name,
				SourceColumns: fk.ForeignColumns,
				TargetColumns: fk.Columns,
			}
			if target.hasName(backward.Name) {
				backward.Name = backwardRelationName(source.Name, fk.Columns, true)
			}
			if target.hasName(backward.Name) {
				return fmt.Errorf("relation %s.%s conflicts with an existing field", target.Name, backward.Name)
			}
			target.Relations = append(target.Relations, backward)
		}
	}
	return nil
}

func describeFunctions(g *Graph, snap *catalog.Snapshot, byTable map[string]*TypeDescriptor) {
	for _, fn := range snap.Functions {
		fd := &FunctionDescriptor{
			Name:        fn.Name,
			FieldName:   strcase.ToLowerCamel(fn.Name),
			Description: fn.Comment,
			ReturnsSet:  fn.ReturnsSet,
			Mutation:    fn.Volatility == catalog.Volatile,
		}
		if fn.ReturnsTable {
			td, ok := byTable[fn.ReturnType]
			if !ok {
				continue
			}
			fd.ReturnType = td.Name
		} else {
			fd.ReturnScalar = scalarFor(fn.ReturnType)
		}
		for _, arg := range fn.Args {
			fd.Args = append(fd.Args, &FunctionArg{
				Name:      arg.Name,
				FieldName: fieldName(arg.Name),
				Scalar:    scalarFor(arg.Type),
			})
		}
		g.Functions = append(g.Functions, fd)
	}
}

func (td *TypeDescriptor) hasName(name string) bool {
	if td.Field(name) != nil {
		return true
	}
	for _, rel := range td.Relations {
		if rel.Name == name {
			return true
		}
	}
	return false
}

func hasColumns(td *TypeDescriptor, columns []string) bool {
	for _, col := range columns {
		if td.FieldByColumn(col) == nil {
			return false
		}
	}
	return len(columns) > 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
