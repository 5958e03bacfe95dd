package extension

import (
	"context"
	"fmt"
	"sort"

	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemabuilder"
	"go.appointy.com/capi/schemagraph"
)

// Schema returns a hook grafting the root fields built with schemabuilder onto
// the graph.
func Schema(name string, build func(s *schemabuilder.Schema)) Hook {
	return Func(name, func(g *schemagraph.Graph) error {
		s := schemabuilder.NewSchema()
		build(s)
		built, err := s.Build()
		if err != nil {
			return err
		}

		for _, root := range []struct {
			name string
			typ  graphql.Type
		}{
			{"Query", built.Query},
			{"Mutation", built.Mutation},
			{"Subscription", built.Subscription},
		} {
			obj, ok := unwrap(root.typ).(*graphql.Object)
			if !ok {
				continue
			}
			for _, fieldName := range sortedFields(obj) {
				f := obj.Fields[fieldName]
				if err := checkNamed(g, f); err != nil {
					return err
				}
				if err := g.AddField(root.name, fieldName, f); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Field returns a hook adding f to the object type typeName.
func Field(name, typeName, fieldName string, f *graphql.Field) Hook {
	return Func(name, func(g *schemagraph.Graph) error {
		if err := checkNamed(g, f); err != nil {
			return err
		}
		return g.AddField(typeName, fieldName, f)
	})
}

// Wrapper changes an existing field. Args rewrites the raw arguments before
// the field parses them; Resolve wraps its resolver. Either may be nil.
type Wrapper struct {
	Args    func(args map[string]interface{}) (map[string]interface{}, error)
	Resolve func(next graphql.Resolver) graphql.Resolver
}

// Wrap returns a hook wrapping the field typeName.fieldName.
func Wrap(name, typeName, fieldName string, w Wrapper) Hook {
	return Func(name, func(g *schemagraph.Graph) error {
		obj, ok := g.Object(typeName)
		if !ok {
			return fmt.Errorf("unknown object type %s", typeName)
		}
		f, ok := obj.Fields[fieldName]
		if !ok {
			return fmt.Errorf("unknown field %s.%s", typeName, fieldName)
		}

		if w.Args != nil {
			parse := f.ParseArguments
			rewrite := w.Args
			f.ParseArguments = func(raw interface{}) (interface{}, error) {
				args, ok := raw.(map[string]interface{})
				if !ok && raw != nil {
					return nil, jerrors.InvalidInput("%s.%s: expected arguments object", typeName, fieldName)
				}
				rewritten, err := rewrite(args)
				if err != nil {
					return nil, err
				}
				if parse == nil {
					return rewritten, nil
				}
				return parse(rewritten)
			}
		}
		if w.Resolve != nil {
			if f.Resolve == nil {
				return fmt.Errorf("field %s.%s is batched and cannot be wrapped", typeName, fieldName)
			}
			f.Resolve = w.Resolve(f.Resolve)
		}
		return nil
	})
}

// Access returns a hook restricting the rows of a reflected type to those
// pred accepts. An existing predicate must hold as well.
func Access(name, typeName string, pred schemagraph.AccessPredicate) Hook {
	return Func(name, func(g *schemagraph.Graph) error {
		td, ok := g.Type(typeName)
		if !ok {
			return fmt.Errorf("unknown type %s", typeName)
		}
		if prev := td.Access; prev != nil {
			td.Access = func(ac schemagraph.AccessContext, row schemagraph.Row) bool {
				return prev(ac, row) && pred(ac, row)
			}
			return nil
		}
		td.Access = pred
		return nil
	})
}

// Resolve returns a resolver ignoring its source and selections.
func Resolve(fn func(ctx context.Context, args interface{}) (interface{}, error)) graphql.Resolver {
	return func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
		return fn(ctx, args)
	}
}

func unwrap(t graphql.Type) graphql.Type {
	for {
		switch inner := t.(type) {
		case *graphql.NonNull:
			t = inner.Type
		case *graphql.List:
			t = inner.Type
		default:
			return t
		}
	}
}

func sortedFields(obj *graphql.Object) []string {
	names := make([]string, 0, len(obj.Fields))
	for name := range obj.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// checkNamed rejects fields whose object types reuse the name of another
// type of g.
func checkNamed(g *schemagraph.Graph, f *graphql.Field) error {
	types := []graphql.Type{f.Type}
	for _, arg := range f.Args {
		types = append(types, arg)
	}
	for _, t := range types {
		switch named := unwrap(t).(type) {
		case *graphql.Object, *graphql.InputObject, *graphql.Enum:
			if existing, ok := g.NamedType(named.String()); ok && existing != named {
				return &jerrors.HookConflictError{Type: named.String()}
			}
		}
	}
	return nil
}
