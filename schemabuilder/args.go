package schemabuilder

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"go.appointy.com/capi/graphql"
)

// argParser is a struct that holds information for how to deserialize a JSON
// input into a particular go variable.
type argParser struct {
	FromJSON func(interface{}, reflect.Value) error
	Type     reflect.Type
}

// argField is a representation of a field of an input struct with its parser.
type argField struct {
	field             reflect.StructField
	parser            *argParser
	DeprecationReason string
}

// cachedType remembers the argument types already generated so that self
// referencing inputs terminate.
type cachedType struct {
	argType *graphql.InputObject
	fields  map[string]argField

	// input marks registered input objects, whose parser is set once built.
	input       bool
	inputParser *argParser
}

func parseInteger(value interface{}, dest reflect.Value) error {
	asFloat, ok := value.(float64)
	if !ok {
		return errors.New("not a number")
	}
	if asFloat != math.Trunc(asFloat) {
		return errors.New("not an integer")
	}
	dest.Set(reflect.ValueOf(asFloat).Convert(dest.Type()))
	return nil
}

func parseFloat(value interface{}, dest reflect.Value) error {
	asFloat, ok := value.(float64)
	if !ok {
		return errors.New("not a number")
	}
	dest.Set(reflect.ValueOf(asFloat).Convert(dest.Type()))
	return nil
}

func parseTime(value interface{}) (time.Time, error) {
	asString, ok := value.(string)
	if !ok {
		return time.Time{}, errors.New("not a string")
	}
	return time.Parse(time.RFC3339, asString)
}

// scalarArgParsers are the parsers of the built-in scalars. RegisterScalar adds
// to them.
var scalarArgParsers = map[reflect.Type]*argParser{
	reflect.TypeOf(bool(false)): {
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asBool, ok := value.(bool)
			if !ok {
				return errors.New("not a bool")
			}
			dest.Set(reflect.ValueOf(asBool).Convert(dest.Type()))
			return nil
		},
	},
	reflect.TypeOf(float64(0)): {FromJSON: parseFloat},
	reflect.TypeOf(float32(0)): {FromJSON: parseFloat},
	reflect.TypeOf(int64(0)):   {FromJSON: parseInteger},
	reflect.TypeOf(int32(0)):   {FromJSON: parseInteger},
	reflect.TypeOf(int16(0)):   {FromJSON: parseInteger},
	reflect.TypeOf(int8(0)):    {FromJSON: parseInteger},
	reflect.TypeOf(int(0)):     {FromJSON: parseInteger},
	reflect.TypeOf(uint64(0)):  {FromJSON: parseInteger},
	reflect.TypeOf(uint32(0)):  {FromJSON: parseInteger},
	reflect.TypeOf(uint16(0)):  {FromJSON: parseInteger},
	reflect.TypeOf(uint8(0)):   {FromJSON: parseInteger},
	reflect.TypeOf(uint(0)):    {FromJSON: parseInteger},
	reflect.TypeOf(string("")): {
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asString, ok := value.(string)
			if !ok {
				return errors.New("not a string")
			}
			dest.Set(reflect.ValueOf(asString).Convert(dest.Type()))
			return nil
		},
	},
	reflect.TypeOf(ID{}): {
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asString, ok := value.(string)
			if !ok {
				return errors.New("not a string")
			}
			dest.Field(0).SetString(asString)
			return nil
		},
	},
	reflect.TypeOf(time.Time{}): {
		FromJSON: func(value interface{}, dest reflect.Value) error {
			t, err := parseTime(value)
			if err != nil {
				return err
			}
			dest.Set(reflect.ValueOf(t))
			return nil
		},
	},
	reflect.TypeOf(Timestamp{}): {
		FromJSON: func(value interface{}, dest reflect.Value) error {
			t, err := parseTime(value)
			if err != nil {
				return err
			}
			dest.FieldByName("Seconds").SetInt(t.Unix())
			dest.FieldByName("Nanos").SetInt(int64(t.Nanosecond()))
			return nil
		},
	},
	reflect.TypeOf(Duration{}): {
		FromJSON: func(value interface{}, dest reflect.Value) error {
			seconds, ok := value.(float64)
			if !ok {
				return errors.New("not a number")
			}
			dest.FieldByName("Seconds").SetInt(int64(seconds))
			return nil
		},
	},
	reflect.TypeOf(Map{}): {
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asString, ok := value.(string)
			if !ok {
				return errors.New("not a string")
			}
			dest.Field(0).SetString(asString)
			return nil
		},
	},
	reflect.TypeOf(Bytes{}): {
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asString, ok := value.(string)
			if !ok {
				return errors.New("not a string")
			}
			data, err := base64.StdEncoding.DecodeString(asString)
			if err != nil {
				return err
			}
			dest.Field(0).SetBytes(data)
			return nil
		},
	},
}

// getScalarArgParser returns the parser and the non-null GraphQL type for a
// scalar or scalar alias.
func getScalarArgParser(typ reflect.Type) (*argParser, graphql.Type, bool) {
	for match, parser := range scalarArgParsers {
		if !typesIdenticalOrScalarAliases(match, typ) {
			continue
		}
		name, ok := getScalar(typ)
		if !ok {
			panic(fmt.Sprintf("%s has an argument parser but is not a scalar", typ))
		}
		return &argParser{FromJSON: parser.FromJSON, Type: typ},
			&graphql.NonNull{Type: &graphql.Scalar{Type: name, SpecifiedByURL: getScalarSpecifiedByURL(typ)}}, true
	}
	return nil, nil, false
}

// wrapPtrParser wraps an ArgParser with a helper that will convert the parsed
// type into a pointer type. A nil input yields a nil pointer.
func wrapPtrParser(inner *argParser) *argParser {
	return &argParser{
		FromJSON: func(value interface{}, dest reflect.Value) error {
			if value == nil {
				// optional value
				dest.Set(reflect.Zero(dest.Type()))
				return nil
			}

			ptr := reflect.New(inner.Type)
			if err := inner.FromJSON(value, ptr.Elem()); err != nil {
				return err
			}
			dest.Set(ptr)
			return nil
		},
		Type: reflect.PtrTo(inner.Type),
	}
}

// nullable strips the outer NonNull of an argument type.
func nullable(typ graphql.Type) graphql.Type {
	if nonNull, ok := typ.(*graphql.NonNull); ok {
		return nonNull.Type
	}
	return typ
}

// getEnumArgParser creates an arg parser for an enum type, accepting the enum
// value names.
func (sb *schemaBuilder) getEnumArgParser(typ reflect.Type) (*argParser, graphql.Type) {
	enum, _ := sb.getEnum(typ)
	mapping := sb.enumMappings[typ]

	return &argParser{
		FromJSON: func(value interface{}, dest reflect.Value) error {
			asString, ok := value.(string)
			if !ok {
				return errors.New("not a string")
			}
			val, ok := mapping.Map[asString]
			if !ok {
				return fmt.Errorf("unknown %s value %s", enum.Type, asString)
			}
			dest.Set(reflect.ValueOf(val).Convert(dest.Type()))
			return nil
		},
		Type: typ,
	}, &graphql.NonNull{Type: enum}
}

// validateOneOfInput checks that exactly one field of a oneOf input object is
// set and non-null.
func validateOneOfInput(name string, asMap map[string]interface{}) error {
	set := 0
	for _, value := range asMap {
		if value != nil {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one field of %s must be non-null, got %d", name, set)
	}
	return nil
}
