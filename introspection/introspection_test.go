package introspection_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/introspection"
	"go.appointy.com/capi/schemabuilder"
)

type joke struct {
	ID    string
	Value string
}

func buildSchema() *graphql.Schema {
	schema := schemabuilder.NewSchema()
	obj := schema.Object("Joke", joke{}, "A joke.")
	obj.FieldFunc("id", func(j *joke) string { return j.ID })
	obj.FieldFunc("value", func(j *joke) *string { return &j.Value }, "The punchline.")

	schema.Query().FieldFunc("joke", func(args struct{ Category *string }) *joke {
		return &joke{ID: "1", Value: "ha"}
	})
	return schema.MustBuild()
}

type typeResult struct {
	Kind   string
	Name   string
	Fields []struct {
		Name        string
		Description string
		Type        struct {
			Kind   string
			Name   *string
			OfType *struct {
				Kind string
				Name string
			}
		}
	}
}

func TestComputeSchemaJSON(t *testing.T) {
	out, err := introspection.ComputeSchemaJSON(buildSchema())
	require.NoError(t, err)

	var result struct {
		Schema struct {
			QueryType        struct{ Name string }
			MutationType     *struct{ Name string }
			SubscriptionType *struct{ Name string }
			Types            []typeResult
			Directives       []struct{ Name string }
		} `json:"__schema"`
	}
	require.NoError(t, json.Unmarshal(out, &result))

	assert.Equal(t, "Query", result.Schema.QueryType.Name)
	require.NotNil(t, result.Schema.MutationType)
	assert.Equal(t, "Mutation", result.Schema.MutationType.Name)

	names := make(map[string]typeResult)
	for _, typ := range result.Schema.Types {
		names[typ.Name] = typ
	}
	require.Contains(t, names, "Joke")
	require.Contains(t, names, "String")

	jokeType := names["Joke"]
	assert.Equal(t, "OBJECT", jokeType.Kind)
	require.Len(t, jokeType.Fields, 2)
	assert.Equal(t, "id", jokeType.Fields[0].Name)
	assert.Equal(t, "NON_NULL", jokeType.Fields[0].Type.Kind)
	assert.Equal(t, "String", jokeType.Fields[0].Type.OfType.Name)
	assert.Equal(t, "The punchline.", jokeType.Fields[1].Description)

	var directives []string
	for _, d := range result.Schema.Directives {
		directives = append(directives, d.Name)
	}
	assert.Equal(t, []string{"include", "skip", "specifiedBy", "deprecated", "oneOf"}, directives)
}

func TestTypeLookup(t *testing.T) {
	schema := buildSchema()
	introspection.AddIntrospectionToSchema(schema)

	q, err := graphql.Parse(`{ __type(name: "Joke") { name description } missing: __type(name: "Nope") { name } joke { value } }`, nil)
	require.NoError(t, err)
	require.NoError(t, graphql.ValidateQuery(context.Background(), schema.Query, q.SelectionSet))

	e := graphql.Executor{}
	out, err := e.Execute(context.Background(), schema.Query, nil, q)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"__type":  map[string]interface{}{"name": "Joke", "description": "A joke."},
		"missing": nil,
		"joke":    map[string]interface{}{"value": "ha"},
	}, out)
}
