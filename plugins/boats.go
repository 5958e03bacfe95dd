package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"go.appointy.com/capi/extension"
	"go.appointy.com/capi/graphql"
	"go.appointy.com/capi/jerrors"
	"go.appointy.com/capi/schemagraph"
	"go.appointy.com/capi/subscription/topic"
)

// NewBoatKind is the topic kind of boat creation events. Their subject is
// the id of the owner; the subject of the event is the id of the boat.
const NewBoatKind = "new_boat"

const boatSDL = `
type BoatSubscriptionPayload {
	boat: Boat
	event: String
}

extend type Subscription {
	"Sent every time a boat of the user is created."
	newBoatCreated(userId: UUID!): BoatSubscriptionPayload
}
`

// BoatSubscription adds Subscription.newBoatCreated to graphs with a Boat
// type. The boat of an event is looked up in src, so the access rules of
// Boat apply to subscribers too.
func BoatSubscription(src schemagraph.RowSource) extension.Hook {
	resolvers := extension.Resolvers{
		"BoatSubscriptionPayload": {
			"boat": func(ctx context.Context, source, args interface{}, selectionSet *graphql.SelectionSet) (interface{}, error) {
				ev, ok := source.(topic.Event)
				if !ok {
					return nil, fmt.Errorf("boat: unexpected source %T", source)
				}
				td, err := schemagraph.TypeFrom(ctx, "Boat")
				if err != nil {
					return nil, err
				}
				row, err := src.Lookup(ctx, td, []interface{}{ev.Subject})
				if err != nil {
					return nil, err
				}
				if row == nil {
					return nil, nil
				}
				return row, nil
			},
		},
	}
	topics := extension.Topics{"newBoatCreated": newBoatTopic}

	return extension.Func("boat-subscription", func(g *schemagraph.Graph) error {
		if _, ok := g.Type("Boat"); !ok {
			return nil
		}
		sdl := boatSDL
		// Graphs without uuid columns have no UUID scalar.
		if _, ok := g.NamedType("UUID"); !ok {
			sdl = "scalar UUID\n" + sdl
		}
		return extension.TypeDefs("boat-subscription", sdl, resolvers, topics).Apply(g)
	})
}

func newBoatTopic(args interface{}, ac schemagraph.AccessContext) (topic.Topic, error) {
	m, _ := args.(map[string]interface{})
	userID, _ := m["userId"].(string)
	id, err := uuid.Parse(strings.TrimSpace(userID))
	if err != nil {
		return topic.Topic{}, &jerrors.InvalidSubscriptionArgsError{Field: "newBoatCreated", Reason: fmt.Sprintf("userId %q is not a UUID", userID)}
	}
	return topic.New(NewBoatKind, id.String())
}
