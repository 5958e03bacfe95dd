// Package plugins holds the extensions served next to the reflected schema.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.appointy.com/capi/extension"
	"go.appointy.com/capi/schemabuilder"
)

// ChuckNorrisURL serves a random joke as JSON.
const ChuckNorrisURL = "https://api.chucknorris.io/jokes/random"

// Joke is a joke of api.chucknorris.io.
type Joke struct {
	IconURL   string `json:"icon_url"`
	ID        string `json:"id"`
	URL       string `json:"url"`
	Value     string `json:"value"`
	CreatedAt string `json:"created_at"`
}

const jokeTimeLayout = "2006-01-02 15:04:05.999999"

// ChuckNorris adds Query.chuckNorrisJoke, also served as getChuckNorrisJoke,
// fetched from url with client.
func ChuckNorris(client *http.Client, url string) extension.Hook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return extension.Schema("chuck-norris", func(s *schemabuilder.Schema) {
		obj := s.Object("ChuckNorrisJoke", Joke{}, "A random fact about Chuck Norris.")
		obj.FieldFunc("iconUrl", func(j *Joke) string { return j.IconURL })
		obj.FieldFunc("id", func(j *Joke) string { return j.ID })
		obj.FieldFunc("url", func(j *Joke) string { return j.URL })
		obj.FieldFunc("value", func(j *Joke) string { return j.Value })
		obj.FieldFunc("createdAt", func(j *Joke) *schemabuilder.Timestamp {
			t, err := time.Parse(jokeTimeLayout, j.CreatedAt)
			if err != nil {
				return nil
			}
			return schemabuilder.NewTimestamp(t)
		})

		joke := func(ctx context.Context) (*Joke, error) {
			return fetchJoke(ctx, client, url)
		}
		s.Query().FieldFunc("chuckNorrisJoke", joke, "Fetches a random Chuck Norris joke.")
		s.Query().FieldFunc("getChuckNorrisJoke", joke, "Deprecated: use chuckNorrisJoke.")
	})
}

func fetchJoke(ctx context.Context, client *http.Client, url string) (*Joke, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch joke: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch joke: %s", resp.Status)
	}
	var j Joke
	if err := json.NewDecoder(resp.Body).Decode(&j); err != nil {
		return nil, fmt.Errorf("decode joke: %w", err)
	}
	return &j, nil
}
