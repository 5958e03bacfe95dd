package plugins_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.appointy.com/capi/catalog"
	"go.appointy.com/capi/catalog/catalogtest"
	"go.appointy.com/capi/extension"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/plugins"
	"go.appointy.com/capi/schemagraph"
	"go.appointy.com/capi/subscription"
	"go.appointy.com/capi/subscription/topic"
	"go.appointy.com/capi/translator"
)

const ownerTags = `
tables:
  boats:
    owner: {column: owner_id, claim: user_id, bypass: [capi_admin]}
`

var (
	ahab    = schemagraph.AccessContext{Role: "capi_user", Claims: map[string]interface{}{"user_id": catalogtest.Ahab}}
	ishmael = schemagraph.AccessContext{Role: "capi_user", Claims: map[string]interface{}{"user_id": catalogtest.Ishmael}}
)

type env struct {
	tr *translator.Translator
	g  *schemagraph.Graph
}

func (e *env) Current() *schemagraph.Graph {
	return e.g
}

func setup(t *testing.T, hooks ...func(src schemagraph.RowSource) extension.Hook) *env {
	t.Helper()
	db := catalogtest.OpenSQLite(t, catalogtest.Fixture, catalogtest.Seed)
	tr := translator.New(db, translator.SQLite{})
	tags, err := schemagraph.ParseTags([]byte(ownerTags))
	require.NoError(t, err)
	base, err := schemagraph.Reflect(context.Background(), catalog.NewSQLite(db), "main", tr, schemagraph.WithTags(tags))
	require.NoError(t, err)

	r := extension.NewRegistry()
	for _, h := range hooks {
		r.MustRegister(h(tr))
	}
	g, err := r.Apply(base)
	require.NoError(t, err)
	return &env{tr: tr, g: g}
}

func (e *env) run(t *testing.T, ac schemagraph.AccessContext, source string) (string, error) {
	t.Helper()
	q, err := graphql.Parse(source, nil)
	require.NoError(t, err)
	out, err := e.tr.Translate(context.Background(), e.g, q, ac)
	b, merr := json.Marshal(out)
	require.NoError(t, merr)
	return string(b), err
}

func TestChuckNorris(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"icon_url": "https://api.chucknorris.io/img/avatar/chuck-norris.png",
			"id": "abc",
			"url": "https://api.chucknorris.io/jokes/abc",
			"value": "Chuck Norris can divide by zero.",
			"created_at": "2020-01-05 13:42:19.576875"
		}`))
	}))
	defer srv.Close()

	e := setup(t, func(schemagraph.RowSource) extension.Hook { return plugins.ChuckNorris(srv.Client(), srv.URL) })
	got, err := e.run(t, ahab, `{ chuckNorrisJoke { id iconUrl value createdAt } }`)
	require.NoError(t, err)
	want := `{"chuckNorrisJoke":{"createdAt":"2020-01-05T13:42:19Z","iconUrl":"https://api.chucknorris.io/img/avatar/chuck-norris.png","id":"abc","value":"Chuck Norris can divide by zero."}}`
	if diff := pretty.Compare(got, want); diff != "" {
		t.Errorf("unexpected joke: %s", diff)
	}

	got, err = e.run(t, ahab, `{ getChuckNorrisJoke { id value } }`)
	require.NoError(t, err)
	assert.Equal(t, `{"getChuckNorrisJoke":{"id":"abc","value":"Chuck Norris can divide by zero."}}`, got)
}

func TestChuckNorrisUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := setup(t, func(schemagraph.RowSource) extension.Hook { return plugins.ChuckNorris(srv.Client(), srv.URL) })
	got, err := e.run(t, ahab, `{ chuckNorrisJoke { id } }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, `{"chuckNorrisJoke":null}`, got)
}

func subscribe(t *testing.T, e *env, hub *subscription.Hub, ac schemagraph.AccessContext, userID string) (*subscription.Subscription, error) {
	t.Helper()
	d := subscription.NewDispatcher(hub, e, e.tr, nil)
	q, err := graphql.Parse(`subscription($user: UUID!) { newBoatCreated(userId: $user) { event boat { id name } } }`,
		map[string]interface{}{"user": userID})
	require.NoError(t, err)
	s, err := d.Subscribe(context.Background(), q, ac)
	if s != nil {
		t.Cleanup(s.Close)
	}
	return s, err
}

func next(t *testing.T, s *subscription.Subscription) string {
	t.Helper()
	select {
	case res := <-s.Results():
		require.NoError(t, res.Err)
		b, err := json.Marshal(res.Data)
		require.NoError(t, err)
		return string(b)
	case <-time.After(5 * time.Second):
		t.Fatal("no result")
		return ""
	}
}

func TestBoatSubscription(t *testing.T) {
	e := setup(t, plugins.BoatSubscription)
	hub := subscription.NewHub()

	s, err := subscribe(t, e, hub, ahab, catalogtest.Ahab)
	require.NoError(t, err)
	assert.Equal(t, topic.Topic{Kind: plugins.NewBoatKind, Subject: catalogtest.Ahab}, s.Topic)

	hub.Publish(topic.Event{Topic: s.Topic, Event: "created", Subject: "1"})
	assert.Equal(t, `{"newBoatCreated":{"boat":{"id":1,"name":"Pequod"},"event":"created"}}`, next(t, s))
}

func TestBoatSubscriptionAppliesAccessRules(t *testing.T) {
	e := setup(t, plugins.BoatSubscription)
	hub := subscription.NewHub()

	s, err := subscribe(t, e, hub, ishmael, catalogtest.Ahab)
	require.NoError(t, err)

	hub.Publish(topic.Event{Topic: s.Topic, Event: "created", Subject: "1"})
	assert.Equal(t, `{"newBoatCreated":{"boat":null,"event":"created"}}`, next(t, s))
}

func TestBoatSubscriptionRejectsBadUser(t *testing.T) {
	e := setup(t, plugins.BoatSubscription)
	hub := subscription.NewHub()

	_, err := subscribe(t, e, hub, ahab, "not a uuid")
	var invalid *jerrors.InvalidSubscriptionArgsError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Equal(t, "newBoatCreated", invalid.Field)
	assert.Zero(t, hub.ListenerCount(topic.Topic{Kind: plugins.NewBoatKind, Subject: "not a uuid"}))
}

func echoRegister(schemagraph.RowSource) extension.Hook {
	input := &graphql.InputObject{
		Name: "RegisterInput",
		InputFields: map[string]graphql.Type{
			"email": &graphql.NonNull{Type: &graphql.Scalar{Type: "String"}},
			"name":  &graphql.Scalar{Type: "String"},
		},
	}
	return extension.Field("register", "Mutation", "register", &graphql.Field{
		Type:           &graphql.Scalar{Type: "String"},
		Args:           map[string]graphql.Type{"input": &graphql.NonNull{Type: input}},
		ParseArguments: func(raw interface{}) (interface{}, error) { return raw, nil },
		Resolve: func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
			in := args.(map[string]interface{})["input"].(map[string]interface{})
			return in["email"], nil
		},
	})
}

func TestNormalizeRegistration(t *testing.T) {
	e := setup(t, echoRegister, func(schemagraph.RowSource) extension.Hook { return plugins.NormalizeRegistration() })

	got, err := e.run(t, ahab, `mutation { register(input: {email: " Ahab@Pequod.Example ", name: "Ahab"}) }`)
	require.NoError(t, err)
	assert.Equal(t, `{"register":"ahab@pequod.example"}`, got)

	_, err = e.run(t, ahab, `mutation { register(input: {email: "   "}) }`)
	assert.ErrorContains(t, err, "email must not be blank")
}

func TestNormalizeRegistrationSkipsGraphsWithoutRegister(t *testing.T) {
	db := catalogtest.OpenSQLite(t, catalogtest.Fixture)
	g, err := schemagraph.Reflect(context.Background(), catalog.NewSQLite(db), "main", translator.New(db, translator.SQLite{}))
	require.NoError(t, err)

	r := extension.NewRegistry()
	r.MustRegister(plugins.NormalizeRegistration())
	_, err = r.Apply(g)
	assert.NoError(t, err)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ishmael@pequod.example", plugins.NormalizeEmail("\tIsh mael@PEQUOD.example\n"))
}
