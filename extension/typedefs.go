package extension

import (
	"context"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
	"go.appointy.com/capi/subscription/topic"
)

// Resolvers maps a type name and a field name to the resolver of the field.
type Resolvers map[string]map[string]graphql.Resolver

// Topics maps subscription fields to the function deriving their topic.
type Topics map[string]schemagraph.TopicFunc

// TypeDefs returns a hook adding the types and fields of an SDL document:
//
//	type BoatSubscriptionPayload { boat: Boat  event: String }
//	extend type Subscription { newBoatCreated(userId: UUID!): BoatSubscriptionPayload }
//
// Fields without a resolver read the key of their name from a map source, or
// the event and subject of a subscription event. Every field added to
// Subscription needs a topic.
func TypeDefs(name, sdl string, resolvers Resolvers, topics Topics) Hook {
	return Func(name, func(g *schemagraph.Graph) error {
		doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: sdl})
		if err != nil {
			return fmt.Errorf("parse type definitions: %w", err)
		}
		b := &sdlBuilder{g: g, resolvers: resolvers, topics: topics, defined: make(map[string]graphql.Type)}
		return b.build(doc)
	})
}

type sdlBuilder struct {
	g         *schemagraph.Graph
	resolvers Resolvers
	topics    Topics
	defined   map[string]graphql.Type
}

var builtinScalars = map[string]bool{"String": true, "Int": true, "Float": true, "Boolean": true, "ID": true}

func (b *sdlBuilder) build(doc *ast.SchemaDocument) error {
	for _, def := range doc.Definitions {
		if _, ok := b.g.NamedType(def.Name); ok || b.defined[def.Name] != nil {
			return &jerrors.HookConflictError{Type: def.Name}
		}
		switch def.Kind {
		case ast.Object:
			b.defined[def.Name] = &graphql.Object{Name: def.Name, Description: def.Description, Fields: make(map[string]*graphql.Field)}
		case ast.InputObject:
			b.defined[def.Name] = &graphql.InputObject{Name: def.Name, Description: def.Description, InputFields: make(map[string]graphql.Type)}
		case ast.Enum:
			enum := &graphql.Enum{Type: def.Name, Description: def.Description}
			for _, v := range def.EnumValues {
				enum.Values = append(enum.Values, v.Name)
			}
			b.defined[def.Name] = enum
		case ast.Scalar:
			b.defined[def.Name] = &graphql.Scalar{Type: def.Name, Description: def.Description, Unwrapper: passthrough}
		default:
			return fmt.Errorf("%s: %s definitions are not supported", def.Name, def.Kind)
		}
	}

	for _, def := range doc.Definitions {
		switch t := b.defined[def.Name].(type) {
		case *graphql.Object:
			for _, fd := range def.Fields {
				f, err := b.field(def.Name, fd)
				if err != nil {
					return err
				}
				t.Fields[fd.Name] = f
			}
		case *graphql.InputObject:
			for _, fd := range def.Fields {
				typ, err := b.typ(fd.Type)
				if err != nil {
					return fmt.Errorf("%s.%s: %w", def.Name, fd.Name, err)
				}
				t.InputFields[fd.Name] = typ
			}
		}
	}
	for _, def := range doc.Definitions {
		if err := b.g.AddType(b.defined[def.Name]); err != nil {
			return err
		}
	}

	for _, ext := range doc.Extensions {
		if ext.Kind != ast.Object {
			return fmt.Errorf("extend %s: only object types can be extended", ext.Name)
		}
		for _, fd := range ext.Fields {
			f, err := b.field(ext.Name, fd)
			if err != nil {
				return err
			}
			if err := b.g.AddField(ext.Name, fd.Name, f); err != nil {
				return err
			}
			if ext.Name == "Subscription" {
				b.g.Topics[fd.Name] = b.topics[fd.Name]
			}
		}
	}
	return nil
}

func (b *sdlBuilder) field(typeName string, fd *ast.FieldDefinition) (*graphql.Field, error) {
	typ, err := b.typ(fd.Type)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", typeName, fd.Name, err)
	}
	f := &graphql.Field{Type: typ, Description: fd.Description}
	if len(fd.Arguments) > 0 {
		f.Args = make(map[string]graphql.Type, len(fd.Arguments))
		for _, arg := range fd.Arguments {
			if f.Args[arg.Name], err = b.typ(arg.Type); err != nil {
				return nil, fmt.Errorf("%s.%s(%s): %w", typeName, fd.Name, arg.Name, err)
			}
		}
	}
	if len(f.Args) > 0 {
		f.ParseArguments = argsParser(typeName, fd.Name, f.Args)
	}
	if reason := fd.Directives.ForName("deprecated"); reason != nil {
		f.IsDeprecated = true
		if arg := reason.Arguments.ForName("reason"); arg != nil {
			text := arg.Value.Raw
			f.DeprecationReason = &text
		}
	}

	if typeName == "Subscription" {
		if b.topics[fd.Name] == nil {
			return nil, fmt.Errorf("subscription %s has no topic", fd.Name)
		}
		f.Resolve = eventResolver
	} else {
		f.Resolve = sourceResolver(fd.Name)
	}
	if r := b.resolvers[typeName][fd.Name]; r != nil {
		f.Resolve = r
	}
	return f, nil
}

func (b *sdlBuilder) typ(t *ast.Type) (graphql.Type, error) {
	var out graphql.Type
	if t.Elem != nil {
		elem, err := b.typ(t.Elem)
		if err != nil {
			return nil, err
		}
		out = &graphql.List{Type: elem}
	} else {
		named, err := b.named(t.NamedType)
		if err != nil {
			return nil, err
		}
		out = named
	}
	if t.NonNull {
		out = &graphql.NonNull{Type: out}
	}
	return out, nil
}

func (b *sdlBuilder) named(name string) (graphql.Type, error) {
	if t, ok := b.defined[name]; ok {
		return t, nil
	}
	if t, ok := b.g.NamedType(name); ok {
		return t, nil
	}
	if builtinScalars[name] {
		return &graphql.Scalar{Type: name, Unwrapper: passthrough}, nil
	}
	return nil, fmt.Errorf("unknown type %s", name)
}

// argsParser checks the argument names of a field and the presence of its
// non-null arguments. Values are passed on as a map.
func argsParser(typeName, fieldName string, args map[string]graphql.Type) func(interface{}) (interface{}, error) {
	fail := func(format string, a ...interface{}) error {
		if typeName == "Subscription" {
			return &jerrors.InvalidSubscriptionArgsError{Field: fieldName, Reason: fmt.Sprintf(format, a...)}
		}
		return jerrors.InvalidInput(format, a...)
	}
	return func(raw interface{}) (interface{}, error) {
		values, ok := raw.(map[string]interface{})
		if !ok && raw != nil {
			return nil, fail("expected arguments object")
		}
		for name := range values {
			if _, ok := args[name]; !ok {
				return nil, fail("unknown argument %s", name)
			}
		}
		for name, typ := range args {
			if _, required := typ.(*graphql.NonNull); required && values[name] == nil {
				return nil, fail("missing required argument %s", name)
			}
		}
		if values == nil {
			values = map[string]interface{}{}
		}
		return values, nil
	}
}

func passthrough(v interface{}) (interface{}, error) {
	return v, nil
}

// eventResolver returns the event a subscription is executed for.
func eventResolver(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
	ev, ok := source.(topic.Event)
	if !ok {
		return nil, fmt.Errorf("subscription resolved without an event")
	}
	return ev, nil
}

func sourceResolver(name string) graphql.Resolver {
	return func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
		switch s := source.(type) {
		case map[string]interface{}:
			return s[name], nil
		case topic.Event:
			switch name {
			case "event":
				return s.Event, nil
			case "subject":
				return s.Subject, nil
			case "topic":
				return s.Topic.String(), nil
			}
		}
		return nil, fmt.Errorf("no resolver for field %s", name)
	}
}
