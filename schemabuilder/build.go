package schemabuilder

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"go.appointy.com/capi/graphql"
)

// schemaBuilder is a struct for holding all the graph information for types as
// we build out graphql types for our graphql schema. Resolved graphQL "types"
// are stored in the type map which we can use to see sections of the graph.
type schemaBuilder struct {
	types        map[reflect.Type]graphql.Type
	objects      map[reflect.Type]*Object
	enumMappings map[reflect.Type]*EnumMapping
	typeCache    map[reflect.Type]cachedType // typeCache maps Go types to GraphQL datatypes
	inputObjects map[reflect.Type]*InputObject
}

// scalars maps Go types to the names of the GraphQL scalars they are exposed as.
var scalars = map[reflect.Type]string{
	reflect.TypeOf(bool(false)): "Boolean",
	reflect.TypeOf(int(0)):      "Int",
	reflect.TypeOf(int8(0)):     "Int",
	reflect.TypeOf(int16(0)):    "Int",
	reflect.TypeOf(int32(0)):    "Int",
	reflect.TypeOf(int64(0)):    "Int",
	reflect.TypeOf(uint(0)):     "Int",
	reflect.TypeOf(uint8(0)):    "Int",
	reflect.TypeOf(uint16(0)):   "Int",
	reflect.TypeOf(uint32(0)):   "Int",
	reflect.TypeOf(uint64(0)):   "Int",
	reflect.TypeOf(float32(0)):  "Float",
	reflect.TypeOf(float64(0)):  "Float",
	reflect.TypeOf(string("")):  "String",
	reflect.TypeOf(ID{}):        "ID",
	reflect.TypeOf(time.Time{}): "Datetime",
	reflect.TypeOf(Timestamp{}): "Timestamp",
	reflect.TypeOf(Map{}):       "Map",
	reflect.TypeOf(Duration{}):  "Duration",
	reflect.TypeOf(Bytes{}):     "Bytes",
}

// getType is the "core" function of the GraphQL schema builder. It takes in a
// reflect type and builds the appropriate graphQL "type". This includes going
// through struct fields and attached object methods to generate the entire
// graphql graph of possible queries. This function will be called recursively
// for types as we go through the graph.
func (sb *schemaBuilder) getType(nodeType reflect.Type) (graphql.Type, error) {
	// Support scalars and optional scalars. Scalars have precedence over
	// structs to have eg. time.Time function as a scalar.
	if enum, ok := sb.getEnum(nodeType); ok {
		return &graphql.NonNull{Type: enum}, nil
	}

	if typ, ok := getScalar(nodeType); ok {
		return &graphql.NonNull{Type: &graphql.Scalar{
			Type:           typ,
			SpecifiedByURL: getScalarSpecifiedByURL(nodeType),
			Unwrapper:      scalarUnwrappers[nodeType],
		}}, nil
	}

	if nodeType.Kind() == reflect.Ptr {
		inner, err := sb.getType(nodeType.Elem())
		if err != nil {
			return nil, err
		}
		if nonNull, ok := inner.(*graphql.NonNull); ok {
			return nonNull.Type, nil
		}
		return inner, nil
	}

	switch nodeType.Kind() {
	case reflect.Struct:
		if err := sb.buildStruct(nodeType); err != nil {
			return nil, err
		}
		return &graphql.NonNull{Type: sb.types[nodeType]}, nil

	case reflect.Slice:
		elementType, err := sb.getType(nodeType.Elem())
		if err != nil {
			return nil, err
		}
		return &graphql.NonNull{Type: &graphql.List{Type: elementType}}, nil

	default:
		return nil, fmt.Errorf("bad type %s: should be a scalar, slice, or struct type", nodeType)
	}
}

// getEnum returns the graphql.Enum for a registered enum type, building it once.
func (sb *schemaBuilder) getEnum(typ reflect.Type) (*graphql.Enum, bool) {
	mapping, ok := sb.enumMappings[typ]
	if !ok {
		return nil, false
	}
	if built, ok := sb.types[typ]; ok {
		return built.(*graphql.Enum), true
	}

	values := make([]string, 0, len(mapping.Map))
	for name := range mapping.Map {
		values = append(values, name)
	}
	sort.Strings(values)

	enum := &graphql.Enum{
		Type:        typ.Name(),
		Description: mapping.Description,
		Values:      values,
		ReverseMap:  mapping.ReverseMap,
	}
	sb.types[typ] = enum
	return enum, true
}

// getScalar grabs the appropriate scalar graphql field type name for the
// passed in variable reflect type.
func getScalar(typ reflect.Type) (string, bool) {
	for match, name := range scalars {
		if typesIdenticalOrScalarAliases(match, typ) {
			return name, true
		}
	}
	return "", false
}
