package introspection

import (
	"context"
	"encoding/json"
	"sort"

	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/schemabuilder"
)

type introspection struct {
	types        map[string]graphql.Type
	query        graphql.Type
	mutation     graphql.Type
	subscription graphql.Type
}

type DirectiveLocation string

const (
	QUERY                  DirectiveLocation = "QUERY"
	MUTATION               DirectiveLocation = "MUTATION"
	FIELD                  DirectiveLocation = "FIELD"
	FRAGMENT_DEFINITION    DirectiveLocation = "FRAGMENT_DEFINITION"
	FRAGMENT_SPREAD        DirectiveLocation = "FRAGMENT_SPREAD"
	INLINE_FRAGMENT        DirectiveLocation = "INLINE_FRAGMENT"
	SUBSCRIPTION           DirectiveLocation = "SUBSCRIPTION"
	SCALAR_LOCATION        DirectiveLocation = "SCALAR"
	ARGUMENT_DEFINITION    DirectiveLocation = "ARGUMENT_DEFINITION"
	INPUT_FIELD_DEFINITION DirectiveLocation = "INPUT_FIELD_DEFINITION"
	FIELD_DEFINITION       DirectiveLocation = "FIELD_DEFINITION"
	INPUT_OBJECT_LOCATION  DirectiveLocation = "INPUT_OBJECT"
)

type TypeKind string

const (
	SCALAR       TypeKind = "SCALAR"
	OBJECT       TypeKind = "OBJECT"
	ENUM         TypeKind = "ENUM"
	INPUT_OBJECT TypeKind = "INPUT_OBJECT"
	LIST         TypeKind = "LIST"
	NON_NULL     TypeKind = "NON_NULL"
)

type InputValue struct {
	Name              string
	Description       string
	Type              Type
	DefaultValue      *string
	IsDeprecated      bool
	DeprecationReason *string `json:"deprecationReason,omitempty"`
}

func (s *introspection) registerInputValue(schema *schemabuilder.Schema) {
	obj := schema.Object("__InputValue", InputValue{})
	obj.FieldFunc("name", func(in InputValue) string {
		return in.Name
	})
	obj.FieldFunc("description", func(in InputValue) string {
		return in.Description
	})
	obj.FieldFunc("type", func(in InputValue) Type {
		return in.Type
	})
	obj.FieldFunc("defaultValue", func(in InputValue) *string {
		return in.DefaultValue
	})
	obj.FieldFunc("isDeprecated", func(in InputValue) bool {
		return in.IsDeprecated
	})
	obj.FieldFunc("deprecationReason", func(in InputValue) *string {
		return in.DeprecationReason
	})
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason *string
}

func (s *introspection) registerEnumValue(schema *schemabuilder.Schema) {
	obj := schema.Object("__EnumValue", EnumValue{})
	obj.FieldFunc("name", func(in EnumValue) string {
		return in.Name
	})
	obj.FieldFunc("description", func(in EnumValue) string {
		return in.Description
	})
	obj.FieldFunc("isDeprecated", func(in EnumValue) bool {
		return in.IsDeprecated
	})
	obj.FieldFunc("deprecationReason", func(in EnumValue) *string {
		return in.DeprecationReason
	})
}

type Directive struct {
	Name        string
	Description string
	Locations   []DirectiveLocation
	Args        []InputValue
}

func (s *introspection) registerDirective(schema *schemabuilder.Schema) {
	obj := schema.Object("__Directive", Directive{})
	obj.FieldFunc("name", func(in Directive) string {
		return in.Name
	})
	obj.FieldFunc("description", func(in Directive) string {
		return in.Description
	})
	obj.FieldFunc("locations", func(in Directive) []DirectiveLocation {
		return in.Locations
	})
	obj.FieldFunc("args", func(in Directive) []InputValue {
		return in.Args
	})

	locations := make(map[string]interface{})
	for _, location := range []DirectiveLocation{
		QUERY, MUTATION, FIELD, FRAGMENT_DEFINITION, FRAGMENT_SPREAD, INLINE_FRAGMENT, SUBSCRIPTION,
		SCALAR_LOCATION, ARGUMENT_DEFINITION, INPUT_FIELD_DEFINITION, FIELD_DEFINITION, INPUT_OBJECT_LOCATION,
	} {
		locations[string(location)] = location
	}
	schema.Enum(QUERY, locations)
}

type Schema struct {
	Types            []Type
	QueryType        *Type
	MutationType     *Type
	SubscriptionType *Type
	Directives       []Directive
}

func (s *introspection) registerSchema(schema *schemabuilder.Schema) {
	obj := schema.Object("__Schema", Schema{})
	obj.FieldFunc("types", func(in Schema) []Type {
		return in.Types
	})
	obj.FieldFunc("queryType", func(in Schema) *Type {
		return in.QueryType
	})
	obj.FieldFunc("mutationType", func(in Schema) *Type {
		return in.MutationType
	})
	obj.FieldFunc("subscriptionType", func(in Schema) *Type {
		return in.SubscriptionType
	})
	obj.FieldFunc("directives", func(in Schema) []Directive {
		return in.Directives
	})
}

type Type struct {
	Inner graphql.Type `json:"-"`
}

// directives returns the type-system directives applied to the type.
func (t Type) directives() []Directive {
	if inner, ok := t.Inner.(*graphql.InputObject); ok && inner.OneOf {
		return []Directive{oneOfDirective}
	}
	return nil
}

func (s *introspection) registerType(schema *schemabuilder.Schema) {
	object := schema.Object("__Type", Type{})
	object.FieldFunc("kind", func(t Type) TypeKind {
		switch t.Inner.(type) {
		case *graphql.Object:
			return OBJECT
		case *graphql.Scalar:
			return SCALAR
		case *graphql.Enum:
			return ENUM
		case *graphql.List:
			return LIST
		case *graphql.InputObject:
			return INPUT_OBJECT
		case *graphql.NonNull:
			return NON_NULL
		default:
			return ""
		}
	})

	object.FieldFunc("name", func(t Type) *string {
		var name string
		switch t := t.Inner.(type) {
		case *graphql.Object:
			name = t.Name
		case *graphql.Scalar:
			name = t.Type
		case *graphql.Enum:
			name = t.Type
		case *graphql.InputObject:
			name = t.Name
		default:
			return nil
		}
		return &name
	})

	object.FieldFunc("description", func(t Type) string {
		switch t := t.Inner.(type) {
		case *graphql.Object:
			return t.Description
		case *graphql.Scalar:
			return t.Description
		case *graphql.InputObject:
			return t.Description
		case *graphql.Enum:
			return t.Description
		default:
			return ""
		}
	})

	object.FieldFunc("directives", func(t Type) []Directive {
		return t.directives()
	})

	object.FieldFunc("interfaces", func(t Type) []Type {
		if _, ok := t.Inner.(*graphql.Object); ok {
			return []Type{}
		}
		return nil
	})

	object.FieldFunc("possibleTypes", func(t Type) []Type {
		return nil
	})

	object.FieldFunc("inputFields", func(t Type) []InputValue {
		inner, ok := t.Inner.(*graphql.InputObject)
		if !ok {
			return nil
		}

		fields := make([]InputValue, 0, len(inner.InputFields))
		for name, f := range inner.InputFields {
			value := InputValue{
				Name: name,
				Type: Type{Inner: f},
			}
			if reason, ok := inner.FieldDeprecations[name]; ok && reason != "" {
				value.IsDeprecated = true
				value.DeprecationReason = &reason
			}
			fields = append(fields, value)
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
		return fields
	})

	object.FieldFunc("fields", func(t Type, args struct {
		IncludeDeprecated *bool
	}) []field {
		inner, ok := t.Inner.(*graphql.Object)
		if !ok {
			return nil
		}

		fields := make([]field, 0, len(inner.Fields))
		for name, f := range inner.Fields {
			if f.IsDeprecated && (args.IncludeDeprecated == nil || !*args.IncludeDeprecated) {
				continue
			}

			inputs := make([]InputValue, 0, len(f.Args))
			for name, a := range f.Args {
				inputs = append(inputs, InputValue{
					Name: name,
					Type: Type{Inner: a},
				})
			}
			sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })

			fields = append(fields, field{
				Name:              name,
				Description:       f.Description,
				Type:              Type{Inner: f.Type},
				Args:              inputs,
				IsDeprecated:      f.IsDeprecated,
				DeprecationReason: f.DeprecationReason,
			})
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
		return fields
	})

	object.FieldFunc("ofType", func(t Type) *Type {
		switch t := t.Inner.(type) {
		case *graphql.List:
			return &Type{Inner: t.Type}
		case *graphql.NonNull:
			return &Type{Inner: t.Type}
		default:
			return nil
		}
	})

	object.FieldFunc("enumValues", func(t Type, args struct {
		IncludeDeprecated *bool
	}) []EnumValue {
		inner, ok := t.Inner.(*graphql.Enum)
		if !ok {
			return nil
		}

		values := make([]EnumValue, 0, len(inner.Values))
		for _, name := range inner.Values {
			values = append(values, EnumValue{Name: name})
		}
		sort.Slice(values, func(i, j int) bool { return values[i].Name < values[j].Name })
		return values
	})

	object.FieldFunc("specifiedByURL", func(t Type) *string {
		if scalar, ok := t.Inner.(*graphql.Scalar); ok && scalar.SpecifiedByURL != "" {
			return &scalar.SpecifiedByURL
		}
		return nil
	})
}

type field struct {
	Name              string
	Description       string
	Args              []InputValue
	Type              Type
	IsDeprecated      bool
	DeprecationReason *string `json:"deprecationReason,omitempty"`
}

func (s *introspection) registerField(schema *schemabuilder.Schema) {
	obj := schema.Object("__Field", field{})
	obj.FieldFunc("name", func(in field) string {
		return in.Name
	})
	obj.FieldFunc("description", func(in field) string {
		return in.Description
	})
	obj.FieldFunc("type", func(in field) Type {
		return in.Type
	})
	obj.FieldFunc("args", func(in field) []InputValue {
		return in.Args
	})
	obj.FieldFunc("isDeprecated", func(in field) bool {
		return in.IsDeprecated
	})
	obj.FieldFunc("deprecationReason", func(in field) *string {
		return in.DeprecationReason
	})
}

func collectTypes(typ graphql.Type, types map[string]graphql.Type) {
	switch typ := typ.(type) {
	case *graphql.Object:
		if _, ok := types[typ.Name]; ok {
			return
		}
		types[typ.Name] = typ

		for _, field := range typ.Fields {
			collectTypes(field.Type, types)

			for _, arg := range field.Args {
				collectTypes(arg, types)
			}
		}

	case *graphql.List:
		collectTypes(typ.Type, types)

	case *graphql.Scalar:
		if _, ok := types[typ.Type]; ok {
			return
		}
		types[typ.Type] = typ

	case *graphql.Enum:
		if _, ok := types[typ.Type]; ok {
			return
		}
		types[typ.Type] = typ

	case *graphql.InputObject:
		if _, ok := types[typ.Name]; ok {
			return
		}
		types[typ.Name] = typ

		for _, field := range typ.InputFields {
			collectTypes(field, types)
		}

	case *graphql.NonNull:
		collectTypes(typ.Type, types)
	}
}

var includeDirective = Directive{
	Description: "Directs the executor to include this field or fragment only when the `if` argument is true.",
	Locations: []DirectiveLocation{
		FIELD,
		FRAGMENT_SPREAD,
		INLINE_FRAGMENT,
	},
	Name: "include",
	Args: []InputValue{
		{
			Name:        "if",
			Type:        Type{Inner: &graphql.NonNull{Type: &graphql.Scalar{Type: "Boolean"}}},
			Description: "Included when true.",
		},
	},
}

var skipDirective = Directive{
	Description: "Directs the executor to skip this field or fragment only when the `if` argument is true.",
	Locations: []DirectiveLocation{
		FIELD,
		FRAGMENT_SPREAD,
		INLINE_FRAGMENT,
	},
	Name: "skip",
	Args: []InputValue{
		{
			Name:        "if",
			Type:        Type{Inner: &graphql.NonNull{Type: &graphql.Scalar{Type: "Boolean"}}},
			Description: "Skipped when true.",
		},
	},
}

var specifiedByDirective = Directive{
	Description: "Exposes a URL that specifies the behaviour of this scalar.",
	Locations:   []DirectiveLocation{SCALAR_LOCATION},
	Name:        "specifiedBy",
	Args: []InputValue{
		{
			Name:        "url",
			Type:        Type{Inner: &graphql.NonNull{Type: &graphql.Scalar{Type: "String"}}},
			Description: "The URL that specifies the behaviour of this scalar.",
		},
	},
}

var deprecatedDirective = Directive{
	Description: "Marks an element of a GraphQL schema as no longer supported.",
	Locations: []DirectiveLocation{
		FIELD_DEFINITION,
		ARGUMENT_DEFINITION,
		INPUT_FIELD_DEFINITION,
	},
	Name: "deprecated",
	Args: []InputValue{
		{
			Name:         "reason",
			Type:         Type{Inner: &graphql.Scalar{Type: "String"}},
			Description:  "Explains why this element was deprecated, usually also including a suggestion for how to access supported similar data.",
			DefaultValue: func() *string { s := `"No longer supported"`; return &s }(),
		},
	},
}

var oneOfDirective = Directive{
	Description: "Indicates that an Input Object is a OneOf Input Object (and thus requires exactly one field to be set in a query or mutation).",
	Locations:   []DirectiveLocation{INPUT_OBJECT_LOCATION},
	Name:        "oneOf",
	Args:        []InputValue{},
}

func typeRef(typ graphql.Type) *Type {
	if typ == nil {
		return nil
	}
	return &Type{Inner: typ}
}

func (s *introspection) registerQuery(schema *schemabuilder.Schema) {
	object := schema.Query()

	object.FieldFunc("__schema", func() *Schema {
		types := make([]Type, 0, len(s.types))
		for _, typ := range s.types {
			types = append(types, Type{Inner: typ})
		}
		sort.Slice(types, func(i, j int) bool { return types[i].Inner.String() < types[j].Inner.String() })

		return &Schema{
			Types:            types,
			QueryType:        typeRef(s.query),
			MutationType:     typeRef(s.mutation),
			SubscriptionType: typeRef(s.subscription),
			Directives:       []Directive{includeDirective, skipDirective, specifiedByDirective, deprecatedDirective, oneOfDirective},
		}
	})

	object.FieldFunc("__type", func(args struct{ Name string }) *Type {
		if typ, ok := s.types[args.Name]; ok {
			return &Type{Inner: typ}
		}
		return nil
	})
}

func (s *introspection) schema() *graphql.Schema {
	schema := schemabuilder.NewSchema()
	s.registerDirective(schema)
	s.registerEnumValue(schema)
	s.registerField(schema)
	s.registerInputValue(schema)
	s.registerQuery(schema)
	s.registerSchema(schema)
	s.registerType(schema)

	return schema.MustBuild()
}

// AddIntrospectionToSchema adds the introspection fields to existing schema
func AddIntrospectionToSchema(schema *graphql.Schema) {
	types := make(map[string]graphql.Type)
	collectTypes(schema.Query, types)
	collectTypes(schema.Mutation, types)
	collectTypes(schema.Subscription, types)
	is := &introspection{
		types:        types,
		query:        schema.Query,
		mutation:     schema.Mutation,
		subscription: schema.Subscription,
	}
	isSchema := is.schema()

	query := schema.Query.(*graphql.Object)

	isQuery := isSchema.Query.(*graphql.Object)
	isQuery.Description = query.Description
	for k, v := range query.Fields {
		isQuery.Fields[k] = v
	}

	schema.Query = isQuery
}

// ComputeSchemaJSON returns the result of executing a GraphQL introspection
// query.
func ComputeSchemaJSON(schema *graphql.Schema) ([]byte, error) {
	AddIntrospectionToSchema(schema)

	query, err := graphql.Parse(IntrospectionQuery, map[string]interface{}{})
	if err != nil {
		return nil, err
	}

	if err := graphql.ValidateQuery(context.Background(), schema.Query, query.SelectionSet); err != nil {
		return nil, err
	}

	executor := graphql.Executor{}
	value, err := executor.Execute(context.Background(), schema.Query, nil, query)
	if err != nil {
		return nil, err
	}

	return json.MarshalIndent(value, "", "  ")
}
