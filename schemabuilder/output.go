package schemabuilder

import (
	"fmt"
	"reflect"
	"sort"

	"go.appointy.com/capi/graphql"
)

var rootObjectNames = map[reflect.Type]string{
	reflect.TypeOf(query{}):        "Query",
	reflect.TypeOf(mutation{}):     "Mutation",
	reflect.TypeOf(subscription{}): "Subscription",
}

// buildStruct is a function for building the graphql.Type for a passed in
// struct type. Only the fields registered with FieldFunc are exposed; the
// struct's own fields are read through those functions.
func (sb *schemaBuilder) buildStruct(typ reflect.Type) error {
	if _, ok := sb.types[typ]; ok {
		return nil
	}

	var name, description, key string
	var methods Methods
	if object, ok := sb.objects[typ]; ok {
		name = object.Name
		description = object.Description
		methods = object.Methods
		key = object.key
	} else if rootName, ok := rootObjectNames[typ]; ok {
		name = rootName
	} else {
		return fmt.Errorf("%s not registered as object", typ)
	}

	object := &graphql.Object{
		Name:        name,
		Description: description,
		Fields:      make(map[string]*graphql.Field),
	}
	// Register before building the fields so that self references resolve.
	sb.types[typ] = object

	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		built, err := sb.buildFunction(typ, methods[name])
		if err != nil {
			return fmt.Errorf("bad method %s on type %s: %s", name, typ, err)
		}
		object.Fields[name] = built
	}

	if key != "" {
		keyField, ok := object.Fields[key]
		if !ok {
			return fmt.Errorf("key field %s does not exist on %s", key, name)
		}
		object.KeyField = keyField
	}

	return nil
}
