package graphql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
)

type boat struct {
	ID    string
	Name  string
	Owner string
}

type fixture struct {
	boats        []*boat
	ownerCalls   int
	batchSources []int
}

func stringField(get func(b *boat) string) *graphql.Field {
	return &graphql.Field{
		Type: &graphql.NonNull{Type: &graphql.Scalar{Type: "String"}},
		Resolve: func(ctx context.Context, source, args interface{}, _ *graphql.SelectionSet) (interface{}, error) {
			return get(source.(*boat)), nil
		},
	}
}

func (f *fixture) schema() *graphql.Schema {
	user := &graphql.Object{Name: "User", Fields: map[string]*graphql.Field{}}
	user.Fields["name"] = &graphql.Field{
		Type: &graphql.NonNull{Type: &graphql.Scalar{Type: "String"}},
		Resolve: func(ctx context.Context, source, args interface{}, _ *graphql.SelectionSet) (interface{}, error) {
			return source.(string), nil
		},
	}

	boatType := &graphql.Object{Name: "Boat", Fields: map[string]*graphql.Field{}}
	boatType.Fields["id"] = stringField(func(b *boat) string { return b.ID })
	boatType.Fields["name"] = stringField(func(b *boat) string { return b.Name })
	boatType.Fields["owner"] = &graphql.Field{
		Type: user,
		Batch: func(ctx context.Context, sources []interface{}, args interface{}, _ *graphql.SelectionSet) ([]interface{}, error) {
			f.ownerCalls++
			f.batchSources = append(f.batchSources, len(sources))
			out := make([]interface{}, len(sources))
			for i, s := range sources {
				out[i] = s.(*boat).Owner
			}
			return out, nil
		},
	}
	boatType.Fields["secret"] = &graphql.Field{
		Type: &graphql.Scalar{Type: "String"},
		Resolve: func(ctx context.Context, source, args interface{}, _ *graphql.SelectionSet) (interface{}, error) {
			return nil, &jerrors.AccessDeniedError{Type: "Boat", Field: "secret"}
		},
	}
	boatType.Fields["broken"] = &graphql.Field{
		Type: &graphql.NonNull{Type: &graphql.Scalar{Type: "String"}},
		Resolve: func(ctx context.Context, source, args interface{}, _ *graphql.SelectionSet) (interface{}, error) {
			return nil, errors.New("broken")
		},
	}

	query := &graphql.Object{Name: "Query", Fields: map[string]*graphql.Field{
		"boats": {
			Type: &graphql.NonNull{Type: &graphql.List{Type: &graphql.NonNull{Type: boatType}}},
			Resolve: func(ctx context.Context, source, args interface{}, _ *graphql.SelectionSet) (interface{}, error) {
				return f.boats, nil
			},
		},
		"boat": {
			Type: boatType,
			Args: map[string]graphql.Type{"id": &graphql.NonNull{Type: &graphql.Scalar{Type: "ID"}}},
			ParseArguments: func(json interface{}) (interface{}, error) {
				args, _ := json.(map[string]interface{})
				id, ok := args["id"].(string)
				if !ok {
					return nil, errors.New("id: expected string")
				}
				return id, nil
			},
			Resolve: func(ctx context.Context, source, args interface{}, _ *graphql.SelectionSet) (interface{}, error) {
				for _, b := range f.boats {
					if b.ID == args.(string) {
						return b, nil
					}
				}
				return nil, nil
			},
		},
	}}

	return &graphql.Schema{Query: query}
}

func run(t *testing.T, schema *graphql.Schema, source string, vars map[string]interface{}) (interface{}, error) {
	t.Helper()
	q, err := graphql.Parse(source, vars)
	require.NoError(t, err)
	require.NoError(t, graphql.ValidateQuery(context.Background(), schema.Query, q.SelectionSet))
	e := graphql.Executor{}
	return e.Execute(context.Background(), schema.Query, nil, q)
}

func TestExecuteBatchesPerLevel(t *testing.T) {
	f := &fixture{}
	for i := 0; i < 50; i++ {
		f.boats = append(f.boats, &boat{ID: string(rune('a' + i%26)), Name: "b", Owner: "o"})
	}

	out, err := run(t, f.schema(), `{ boats { name owner { name } } }`, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.ownerCalls, spew.Sdump(f.batchSources))
	assert.Equal(t, []int{50}, f.batchSources)

	boats := out.(map[string]interface{})["boats"].([]interface{})
	require.Len(t, boats, 50)
	assert.Equal(t, map[string]interface{}{"name": "b", "owner": map[string]interface{}{"name": "o"}}, boats[0])
}

func TestExecuteVariablesAndAliases(t *testing.T) {
	f := &fixture{boats: []*boat{{ID: "1", Name: "Ark", Owner: "noah"}}}
	out, err := run(t, f.schema(), `query Q($id: ID!) { first: boat(id: $id) { id name __typename } missing: boat(id: "2") { id } }`,
		map[string]interface{}{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"first":   map[string]interface{}{"id": "1", "name": "Ark", "__typename": "Boat"},
		"missing": nil,
	}, out)
}

func TestExecuteFragmentsAndDirectives(t *testing.T) {
	f := &fixture{boats: []*boat{{ID: "1", Name: "Ark", Owner: "noah"}}}
	out, err := run(t, f.schema(), `
		query Q($withOwner: Boolean!) { boats { ...BoatFields owner @include(if: $withOwner) { name } } }
		fragment BoatFields on Boat { id ... on Boat { name @skip(if: true) } }
	`, map[string]interface{}{"withOwner": false})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"boats": []interface{}{map[string]interface{}{"id": "1"}},
	}, out)
	assert.Equal(t, 0, f.ownerCalls)
}

func TestExecuteFieldErrorKeepsPartialData(t *testing.T) {
	f := &fixture{boats: []*boat{{ID: "1", Name: "Ark"}}}
	out, err := run(t, f.schema(), `{ boats { name secret } }`, nil)

	var resolveErrs graphql.ResolveErrors
	require.True(t, errors.As(err, &resolveErrs))
	require.Len(t, resolveErrs, 1)

	converted := jerrors.ConvertError(resolveErrs[0])
	assert.Equal(t, []string{"boats", "0", "secret"}, converted.Paths)
	assert.Equal(t, "PermissionDenied", converted.Extensions.Code)
	assert.Equal(t, map[string]interface{}{
		"boats": []interface{}{map[string]interface{}{"name": "Ark", "secret": nil}},
	}, out)
}

func TestExecuteNonNullPropagates(t *testing.T) {
	f := &fixture{boats: []*boat{{ID: "1"}}}
	out, err := run(t, f.schema(), `{ boat(id: "1") { id broken } }`, nil)

	var resolveErrs graphql.ResolveErrors
	require.True(t, errors.As(err, &resolveErrs))
	require.Len(t, resolveErrs, 1)
	assert.Equal(t, map[string]interface{}{"boat": nil}, out)
}

func TestValidateRejectsUnknownField(t *testing.T) {
	f := &fixture{}
	q, err := graphql.Parse(`{ boats { hull } }`, nil)
	require.NoError(t, err)
	err = graphql.ValidateQuery(context.Background(), f.schema().Query, q.SelectionSet)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field hull")
}

func TestValidateRequiresSelections(t *testing.T) {
	f := &fixture{}
	q, err := graphql.Parse(`{ boats }`, nil)
	require.NoError(t, err)
	assert.Error(t, graphql.ValidateQuery(context.Background(), f.schema().Query, q.SelectionSet))
}

func TestValidateParsesArguments(t *testing.T) {
	f := &fixture{}
	q, err := graphql.Parse(`{ boat(id: 4) { id } }`, nil)
	require.NoError(t, err)
	err = graphql.ValidateQuery(context.Background(), f.schema().Query, q.SelectionSet)
	require.Error(t, err)
	assert.Equal(t, []string{"boat"}, jerrors.ConvertError(err).Paths)
}
