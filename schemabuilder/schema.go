package schemabuilder

import (
	"fmt"
	"reflect"

	"go.appointy.com/capi/graphql"
)

// Schema is a struct that can be used to build out a GraphQL schema. Functions
// can be registered against the "Mutation", "Query" and "Subscription" objects
// in order to build out a full GraphQL schema.
type Schema struct {
	objects      map[string]*Object
	enumTypes    map[reflect.Type]*EnumMapping
	inputObjects map[string]*InputObject
}

// NewSchema creates a new schema.
func NewSchema() *Schema {
	schema := &Schema{
		objects:      make(map[string]*Object),
		enumTypes:    make(map[reflect.Type]*EnumMapping),
		inputObjects: make(map[string]*InputObject),
	}

	return schema
}

type query struct{}
type mutation struct{}
type subscription struct{}

// Enum registers an enumType in the schema. The val should be any arbitrary
// value of the enumType to be used for reflection, and the enumMap should be
// the corresponding map of the enums.
//
// For example a enum could be declared as follows:
//   type enumType int32
//   const (
//	  one   enumType = 1
//	  two   enumType = 2
//	  three enumType = 3
//   )
//
// Then the Enum can be registered as:
//   s.Enum(enumType(1), map[string]interface{}{
//     "one":   enumType(1),
//     "two":   enumType(2),
//     "three": enumType(3),
//   })
func (s *Schema) Enum(val interface{}, enumMap interface{}, description ...string) {
	typ := reflect.TypeOf(val)
	if len(description) > 1 {
		panic("at most one description allowed for Enum")
	}
	desc := ""
	if len(description) == 1 {
		desc = description[0]
	}

	eMap, rMap := getEnumMap(enumMap, typ)
	s.enumTypes[typ] = &EnumMapping{Map: eMap, ReverseMap: rMap, Description: desc}
}

func getEnumMap(enumMap interface{}, typ reflect.Type) (map[string]interface{}, map[interface{}]string) {
	rMap := make(map[interface{}]string)
	eMap := make(map[string]interface{})
	v := reflect.ValueOf(enumMap)
	if v.Kind() != reflect.Map {
		panic("enum map must be a map")
	}

	for _, key := range v.MapKeys() {
		if key.Kind() != reflect.String {
			panic("keys are not strings")
		}
		val := v.MapIndex(key).Interface()
		if reflect.TypeOf(val).Kind() != typ.Kind() {
			panic("types are not equal")
		}
		eMap[key.String()] = reflect.ValueOf(val).Convert(typ).Interface()
	}

	for key, val := range eMap {
		rMap[val] = key
	}
	return eMap, rMap
}

// Object registers a struct as a GraphQL Object in our Schema. We'll read the
// fields of the struct to determine it's basic "Fields" and we'll return an
// Object struct that we can use to register custom relationships and fields on
// the object.
func (s *Schema) Object(name string, typ interface{}, description ...string) *Object {
	if object, ok := s.objects[name]; ok {
		if reflect.TypeOf(object.Type) != reflect.TypeOf(typ) {
			panic(fmt.Sprintf("re-registered object with different type %s", name))
		}
		return object
	}
	if len(description) > 1 {
		panic("at most one description allowed for Object")
	}

	object := &Object{
		Name: name,
		Type: typ,
	}
	if len(description) == 1 {
		object.Description = description[0]
	}
	s.objects[name] = object

	return object
}

// InputObject registers a struct as inout object which can be passed as an
// argument to a Query or Mutation. We'll read through the fields of the struct
// and create argument parsers to fill the data from graphQL JSON input into the
// go struct.
func (s *Schema) InputObject(name string, typ interface{}, description ...string) *InputObject {
	if inputObject, ok := s.inputObjects[name]; ok {
		if reflect.TypeOf(inputObject.Type) != reflect.TypeOf(typ) {
			panic(fmt.Sprintf("re-registered input object with different type %s", name))
		}
		return inputObject
	}
	if len(description) > 1 {
		panic("at most one description allowed for InputObject")
	}

	inputObject := &InputObject{
		Name:   name,
		Type:   typ,
		Fields: make(map[string]interface{}),
	}
	if len(description) == 1 {
		inputObject.Description = description[0]
	}
	s.inputObjects[name] = inputObject

	return inputObject
}

// Query returns an Object struct that we can use to register all the top
// level graphql query functions we'd like to expose.
func (s *Schema) Query() *Object {
	return s.Object("Query", query{})
}

// Mutation returns an Object struct that we can use to register all the top
// level graphql mutations functions we'd like to expose.
func (s *Schema) Mutation() *Object {
	return s.Object("Mutation", mutation{})
}

// Subscription returns an Object struct that we can use to register all the
// top level graphql subscription functions we'd like to expose.
func (s *Schema) Subscription() *Object {
	return s.Object("Subscription", subscription{})
}

// Build takes the schema we have built on our Query, Mutation and Subscription
// starting points and builds a full graphql.Schema we can use to execute and
// run queries. Essentially we read through all the methods we've attached to
// our Query, Mutation and Subscription Objects and ensure that those functions
// are returning other Objects that we can resolve in our GraphQL graph.
func (s *Schema) Build() (*graphql.Schema, error) {
	sb := &schemaBuilder{
		types:        make(map[reflect.Type]graphql.Type),
		objects:      make(map[reflect.Type]*Object),
		enumMappings: s.enumTypes,
		typeCache:    make(map[reflect.Type]cachedType),
		inputObjects: make(map[reflect.Type]*InputObject),
	}

	for _, object := range s.objects {
		typ := reflect.TypeOf(object.Type)
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
		if typ.Kind() != reflect.Struct {
			return nil, fmt.Errorf("object.Type should be a struct, not %s", typ.String())
		}

		if _, ok := sb.objects[typ]; ok {
			return nil, fmt.Errorf("duplicate object for %s", typ.String())
		}

		sb.objects[typ] = object
	}

	for _, inputObject := range s.inputObjects {
		typ := reflect.TypeOf(inputObject.Type)
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
		if typ.Kind() != reflect.Struct {
			return nil, fmt.Errorf("inputObject.Type should be a struct, not %s", typ.String())
		}

		if _, ok := sb.inputObjects[typ]; ok {
			return nil, fmt.Errorf("duplicate input object for %s", typ.String())
		}

		sb.inputObjects[typ] = inputObject
	}

	queryTyp, err := sb.getType(reflect.TypeOf(&query{}))
	if err != nil {
		return nil, err
	}

	mutationTyp, err := sb.getType(reflect.TypeOf(&mutation{}))
	if err != nil {
		return nil, err
	}

	subscriptionTyp, err := sb.getType(reflect.TypeOf(&subscription{}))
	if err != nil {
		return nil, err
	}

	return &graphql.Schema{
		Query:        queryTyp,
		Mutation:     mutationTyp,
		Subscription: subscriptionTyp,
	}, nil
}

// MustBuild builds a schema and panics if an error occurs.
func (s *Schema) MustBuild() *graphql.Schema {
	built, err := s.Build()
	if err != nil {
		panic(err)
	}
	return built
}
