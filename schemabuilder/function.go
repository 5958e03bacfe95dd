package schemabuilder

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.appointy.com/capi/graphql"
)

// buildFunction takes the reflect type of an object and a method attached to
// that object to build a GraphQL Field that can be resolved in the GraphQL
// graph.
func (sb *schemaBuilder) buildFunction(typ reflect.Type, m *method) (*graphql.Field, error) {
	fun := reflect.ValueOf(m.Fn)
	if fun.Kind() != reflect.Func {
		return nil, errors.New("fun must be func")
	}
	funcType := fun.Type()

	in := make([]reflect.Type, 0, funcType.NumIn())
	for i := 0; i < funcType.NumIn(); i++ {
		in = append(in, funcType.In(i))
	}

	var hasContext, hasSource, sourcePtr, hasArgs, hasSelectionSet bool
	var parser *argParser
	var argType graphql.Type

	if len(in) > 0 && in[0] == contextType {
		hasContext = true
		in = in[1:]
	}

	if len(in) > 0 && (in[0] == typ || in[0] == reflect.PtrTo(typ)) {
		hasSource = true
		sourcePtr = in[0].Kind() == reflect.Ptr
		in = in[1:]
	}

	if len(in) > 0 && in[0] != selectionSetType {
		var err error
		if parser, argType, err = sb.makeInputObjectParser(in[0]); err != nil {
			return nil, fmt.Errorf("attempted to parse %s as arguments struct, but failed: %s", in[0].Name(), err.Error())
		}
		hasArgs = true
		in = in[1:]
	}

	if len(in) > 0 && in[0] == selectionSetType {
		hasSelectionSet = true
		in = in[1:]
	}

	if len(in) > 0 {
		return nil, fmt.Errorf("%s is not a valid argument type", in[0])
	}

	out := make([]reflect.Type, 0, funcType.NumOut())
	for i := 0; i < funcType.NumOut(); i++ {
		out = append(out, funcType.Out(i))
	}

	var hasRet, hasError bool
	var retType graphql.Type
	if len(out) > 0 && out[0] != errType {
		var err error
		if retType, err = sb.getType(out[0]); err != nil {
			return nil, err
		}
		hasRet = true
		out = out[1:]
	}

	if len(out) > 0 && out[0] == errType {
		hasError = true
		out = out[1:]
	}

	if len(out) > 0 {
		return nil, errors.New("extra return values")
	}

	if !hasRet {
		return nil, errors.New("function should return a value")
	}

	field := &graphql.Field{
		Type:        retType,
		Description: m.Description,
		Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
			in := make([]reflect.Value, 0, funcType.NumIn())
			if hasContext {
				in = append(in, reflect.ValueOf(ctx))
			}
			if hasSource {
				in = append(in, sourceValue(source, typ, sourcePtr))
			}
			if hasArgs {
				in = append(in, reflect.ValueOf(args))
			}
			if hasSelectionSet {
				in = append(in, reflect.ValueOf(selectionSet))
			}

			out := fun.Call(in)

			var result interface{}
			if hasRet {
				result = out[0].Interface()
				out = out[1:]
			}
			if hasError {
				if err := out[0]; !err.IsNil() {
					return nil, err.Interface().(error)
				}
			}
			return result, nil
		},
	}

	if hasArgs {
		field.Args = argType.(*graphql.InputObject).InputFields
		field.ParseArguments = func(json interface{}) (interface{}, error) {
			args := reflect.New(parser.Type).Elem()
			if err := parser.FromJSON(json, args); err != nil {
				return nil, err
			}
			return args.Interface(), nil
		}
	}

	return field, nil
}

// sourceValue converts the executor's source into the receiver the function
// expects, taking or dropping a pointer as needed.
func sourceValue(source interface{}, typ reflect.Type, ptr bool) reflect.Value {
	if source == nil {
		if ptr {
			return reflect.Zero(reflect.PtrTo(typ))
		}
		return reflect.Zero(typ)
	}

	value := reflect.ValueOf(source)
	if value.Type() == typ {
		if !ptr {
			return value
		}
		copied := reflect.New(typ)
		copied.Elem().Set(value)
		return copied
	}

	if value.Kind() == reflect.Ptr && value.Type().Elem() == typ {
		if ptr {
			return value
		}
		if value.IsNil() {
			return reflect.Zero(typ)
		}
		return value.Elem()
	}

	// Root objects are executed with a placeholder source.
	if ptr {
		return reflect.New(typ)
	}
	return reflect.Zero(typ)
}
