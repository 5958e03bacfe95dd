package schemabuilder

import (
	"errors"
	"fmt"
	"reflect"
	"sort"

	"go.appointy.com/capi/graphql"
)

// makeInputObjectParser constructs an argParser for the passed in args struct i.e. the input struct which contains all the objects to be given as input. For eg:
// obj.FieldFunc("name", func(ctx context.Context, args struct{
// 	A createObjectRequest
// }{}))
func (sb *schemaBuilder) makeInputObjectParser(typ reflect.Type) (*argParser, graphql.Type, error) {
	if typ.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("expected struct but received type %s", typ.Name())
	}

	argType, fields, err := sb.generateArgParser(typ)
	if err != nil {
		return nil, nil, err
	}

	oneOf := argType.OneOf

	return &argParser{
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asMap, ok := value.(map[string]interface{})
			if !ok {
				return errors.New("not an object")
			}

			if oneOf {
				if err := validateOneOfInput(argType.Name, asMap); err != nil {
					return err
				}
			}

			for name := range asMap {
				if _, ok := fields[name]; !ok {
					return fmt.Errorf("unknown arg %s", name)
				}
			}

			for _, name := range sortedArgNames(fields) {
				field := fields[name]
				fieldDest := dest.FieldByIndex(field.field.Index)
				if err := field.parser.FromJSON(asMap[name], fieldDest); err != nil {
					return fmt.Errorf("%s: %s", name, err)
				}
			}
			return nil
		},
		Type: typ,
	}, argType, nil
}

// generateArgParser generates the parser for each field of args struct
func (sb *schemaBuilder) generateArgParser(typ reflect.Type) (*graphql.InputObject, map[string]argField, error) {
	if cached, ok := sb.typeCache[typ]; ok {
		return cached.argType, cached.fields, nil
	}

	fields := make(map[string]argField)
	argType := &graphql.InputObject{
		Name:              typ.Name(),
		InputFields:       make(map[string]graphql.Type),
		FieldDeprecations: make(map[string]string),
		OneOf:             hasOneOfMarkerEmbedded(typ),
	}

	// Cache type information ahead of time to catch self-reference
	sb.typeCache[typ] = cachedType{argType: argType, fields: fields}

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.Anonymous && field.Type == oneOfInputType {
			continue
		}
		if field.Anonymous {
			return nil, nil, fmt.Errorf("bad arg type %s: anonymous fields not supported", typ)
		}

		fieldInfo, err := parseGraphQLFieldInfo(field)
		if err != nil {
			return nil, nil, fmt.Errorf("bad type %s: %s", typ, err.Error())
		}
		if fieldInfo.Skipped {
			continue
		}

		if _, ok := fields[fieldInfo.Name]; ok {
			return nil, nil, fmt.Errorf("bad arg type %s: duplicate field %s", typ, fieldInfo.Name)
		}

		parser, fieldArgTyp, err := sb.generateObjectParser(field.Type)
		if err != nil {
			return nil, nil, err
		}
		if fieldInfo.OptionalInputField {
			parser = optionalParser(parser)
			fieldArgTyp = nullable(fieldArgTyp)
		}

		fields[fieldInfo.Name] = argField{
			field:             field,
			parser:            parser,
			DeprecationReason: fieldInfo.DeprecationReason,
		}
		argType.InputFields[fieldInfo.Name] = fieldArgTyp
		if fieldInfo.DeprecationReason != "" {
			argType.FieldDeprecations[fieldInfo.Name] = fieldInfo.DeprecationReason
		}
	}

	return argType, fields, nil
}

// optionalParser leaves the destination at its zero value when no value was
// given.
func optionalParser(inner *argParser) *argParser {
	return &argParser{
		FromJSON: func(value interface{}, dest reflect.Value) error {
			if value == nil {
				return nil
			}
			return inner.FromJSON(value, dest)
		},
		Type: inner.Type,
	}
}

// generateObjectParser generates the parser the object in args struct
func (sb *schemaBuilder) generateObjectParser(typ reflect.Type) (*argParser, graphql.Type, error) {
	if typ.Kind() == reflect.Ptr {
		parser, argType, err := sb.generateObjectParserInner(typ.Elem())
		if err != nil {
			return nil, nil, err
		}
		return wrapPtrParser(parser), nullable(argType), nil
	}

	return sb.generateObjectParserInner(typ)
}

// generateObjectParserInner generates the parser without having to worry about pointer.
// It creates parser using the registered fields and maps the value from http request into them.
func (sb *schemaBuilder) generateObjectParserInner(typ reflect.Type) (*argParser, graphql.Type, error) {
	if sb.enumMappings[typ] != nil {
		parser, argType := sb.getEnumArgParser(typ)
		return parser, argType, nil
	}

	if isScalarType(typ) || typ.Kind() != reflect.Struct && typ.Kind() != reflect.Slice {
		return sb.getInputFieldParser(typ)
	}

	if typ.Kind() == reflect.Slice {
		return sb.generateSliceParser(typ)
	}

	obj, ok := sb.inputObjects[typ]
	if !ok {
		return nil, nil, fmt.Errorf("%s not registered as input object", typ.Name())
	}

	if cached, ok := sb.typeCache[typ]; ok && cached.input {
		return sb.lazyInputParser(typ), &graphql.NonNull{Type: cached.argType}, nil
	}

	fields := make(map[string]argField)
	argType := &graphql.InputObject{
		Name:              obj.Name,
		Description:       obj.Description,
		InputFields:       make(map[string]graphql.Type),
		FieldDeprecations: make(map[string]string),
		OneOf:             hasOneOfMarkerEmbedded(typ),
	}
	sb.typeCache[typ] = cachedType{argType: argType, fields: fields, input: true}

	// Deprecations are declared on the struct tags of the registered type.
	for i := 0; i < typ.NumField(); i++ {
		fieldInfo, _ := parseGraphQLFieldInfo(typ.Field(i))
		if !fieldInfo.Skipped && fieldInfo.DeprecationReason != "" {
			argType.FieldDeprecations[fieldInfo.Name] = fieldInfo.DeprecationReason
		}
	}

	for name, function := range obj.Fields {
		sourceTyp := reflect.TypeOf(function).In(1)

		parser, fieldArgTyp, err := sb.getInputFieldParser(sourceTyp)
		if err != nil {
			return nil, nil, err
		}

		fields[name] = argField{
			field:  reflect.StructField{Name: name},
			parser: parser,
		}
		argType.InputFields[name] = fieldArgTyp
	}

	oneOf := argType.OneOf

	parser := &argParser{
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asMap, ok := value.(map[string]interface{})
			if !ok {
				return errors.New("not an object")
			}

			if oneOf {
				if err := validateOneOfInput(argType.Name, asMap); err != nil {
					return err
				}
			}

			for name := range asMap {
				if _, ok := fields[name]; !ok {
					return fmt.Errorf("unknown field %s on %s", name, argType.Name)
				}
			}

			target := reflect.New(typ)
			for _, name := range sortedArgNames(fields) {
				value, exists := asMap[name]
				if !exists {
					continue
				}
				function := obj.Fields[name]
				source := reflect.New(reflect.TypeOf(function).In(1)).Elem()

				if err := fields[name].parser.FromJSON(value, source); err != nil {
					return fmt.Errorf("%s: %s", name, err)
				}

				output := reflect.ValueOf(function).Call([]reflect.Value{target, source})
				if len(output) > 0 && !output[0].IsNil() {
					return output[0].Interface().(error)
				}
			}

			dest.Set(target.Elem())
			return nil
		},
		Type: typ,
	}
	sb.typeCache[typ] = cachedType{argType: argType, fields: fields, input: true, inputParser: parser}

	return parser, &graphql.NonNull{Type: argType}, nil
}

// lazyInputParser looks the parser of a registered input object up when it
// runs, so an input object may reference itself.
func (sb *schemaBuilder) lazyInputParser(typ reflect.Type) *argParser {
	return &argParser{
		FromJSON: func(value interface{}, dest reflect.Value) error {
			return sb.typeCache[typ].inputParser.FromJSON(value, dest)
		},
		Type: typ,
	}
}

func (sb *schemaBuilder) getInputFieldParser(typ reflect.Type) (*argParser, graphql.Type, error) {
	if sb.enumMappings[typ] != nil {
		parser, argType := sb.getEnumArgParser(typ)
		return parser, argType, nil
	}

	if parser, argType, ok := getScalarArgParser(typ); ok {
		return parser, argType, nil
	}

	switch typ.Kind() {
	case reflect.Struct:
		parser, argType, err := sb.generateObjectParser(typ)
		if err != nil {
			return nil, nil, err
		}
		if nullable(argType).(*graphql.InputObject).Name == "" {
			return nil, nil, fmt.Errorf("bad type %s: should have a name", typ)
		}
		return parser, argType, nil
	case reflect.Slice:
		return sb.generateSliceParser(typ)
	case reflect.Ptr:
		parser, argType, err := sb.getInputFieldParser(typ.Elem())
		if err != nil {
			return nil, nil, err
		}
		return wrapPtrParser(parser), nullable(argType), nil
	default:
		return nil, nil, fmt.Errorf("bad arg type %s: should be struct, scalar, pointer, or a slice", typ)
	}
}

// generateSliceParser generates the parser for a slice input by generating the parser for underlying object and using it to fill the values in list
func (sb *schemaBuilder) generateSliceParser(typ reflect.Type) (*argParser, graphql.Type, error) {
	inner, argType, err := sb.generateObjectParser(typ.Elem())
	if err != nil {
		return nil, nil, err
	}

	return &argParser{
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asSlice, ok := value.([]interface{})
			if !ok {
				return errors.New("not a list")
			}

			sourceSlice := reflect.MakeSlice(typ, len(asSlice), len(asSlice))
			for i, value := range asSlice {
				if err := inner.FromJSON(value, sourceSlice.Index(i)); err != nil {
					return err
				}
			}

			dest.Set(sourceSlice)
			return nil
		},
		Type: typ,
	}, &graphql.NonNull{Type: &graphql.List{Type: argType}}, nil
}

// hasOneOfMarkerEmbedded determines if a struct has an embedded
// schemabuilder.OneOfInput.
func hasOneOfMarkerEmbedded(typ reflect.Type) bool {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if field.Anonymous && field.Type == oneOfInputType {
			return true
		}
	}
	return false
}

func sortedArgNames(fields map[string]argField) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
