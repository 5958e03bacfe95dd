package plugins

import (
	"net/http"

	"go.appointy.com/capi/extension"
	"go.appointy.com/capi/schemagraph"
)

// Default lists the extensions served by capi, in the order they apply.
func Default(src schemagraph.RowSource, client *http.Client) []extension.Hook {
	return []extension.Hook{
		ChuckNorris(client, ChuckNorrisURL),
		BoatSubscription(src),
		NormalizeRegistration(),
	}
}
