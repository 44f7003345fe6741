// Package schema is the GraphQL schema served over livekit connections.
//
// Resolvers read their collaborators from the per-connection gqlctx.Values
// and report what they read with livequery.Touch, so live queries are
// invalidated by the services' own change notifications.
package schema

import (
	"context"
	"errors"
	"time"

	"github.com/graphql-go/graphql"

	"github.com/panyam/livekit/gqlctx"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/pubsub"
	"github.com/panyam/livekit/services/chat"
	"github.com/panyam/livekit/services/notes"
	"github.com/panyam/livekit/session"
)

var errNoContext = errors.New("operation has no execution context")

func values(p graphql.ResolveParams) (*gqlctx.Values, error) {
	v, ok := gqlctx.From(p.Context)
	if !ok {
		return nil, errNoContext
	}
	return v, nil
}

var noteType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Note",
	Fields: graphql.Fields{
		"id": &graphql.Field{
			Type: graphql.NewNonNull(graphql.ID),
			Resolve: func(p graphql.ResolveParams) (interface{}, error) {
				n, ok := p.Source.(*notes.Note)
				if !ok {
					return nil, nil
				}
				livequery.Touch(p.Context, notes.Identifier(n.ID))
				return n.ID, nil
			},
		},
		"title":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"content":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"createdAt": &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
		"updatedAt": &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
	},
})

var chatMessageType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ChatMessage",
	Fields: graphql.Fields{
		"id":            &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"authorName":    &graphql.Field{Type: graphql.String},
		"rawContent":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"createdAt":     &graphql.Field{Type: graphql.NewNonNull(graphql.DateTime)},
		"isOperational": &graphql.Field{Type: graphql.NewNonNull(graphql.Boolean)},
	},
})

var userType = graphql.NewObject(graphql.ObjectConfig{
	Name: "User",
	Fields: graphql.Fields{
		"id":   &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
		"name": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
	},
})

var notesUpdateType = graphql.NewObject(graphql.ObjectConfig{
	Name: "NotesUpdate",
	Fields: graphql.Fields{
		"kind":   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"noteId": &graphql.Field{Type: graphql.NewNonNull(graphql.ID)},
	},
})

// New builds the schema.
func New() (graphql.Schema, error) {
	return graphql.NewSchema(graphql.SchemaConfig{
		Query:        queryType(),
		Mutation:     mutationType(),
		Subscription: subscriptionType(),
		Directives:   append(append([]*graphql.Directive{}, graphql.SpecifiedDirectives...), livequery.LiveDirective),
	})
}

func queryType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"time": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return time.Now().UTC().Format(time.RFC3339Nano), nil
				},
			},
			"me": &graphql.Field{
				Type: userType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					return sessionUser(v.Session), nil
				},
			},
			"noteCount": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Int),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					return v.Notes.Count(p.Context)
				},
			},
			"notes": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(noteType))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					list, err := v.Notes.List(p.Context)
					if err != nil {
						return nil, err
					}
					for _, n := range list {
						livequery.Touch(p.Context, notes.Identifier(n.ID))
					}
					return list, nil
				},
			},
			"note": &graphql.Field{
				Type: noteType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					id, _ := p.Args["id"].(string)
					// a missing note can appear later under the same id
					livequery.Touch(p.Context, notes.Identifier(id))
					n, err := v.Notes.Get(p.Context, id)
					if errors.Is(err, notes.ErrNotFound) {
						return nil, nil
					}
					return n, err
				},
			},
			"chat": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(chatMessageType))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					return v.Chat.Messages(), nil
				},
			},
			"users": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(userType))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					out := []map[string]interface{}{}
					for _, u := range v.Users.List() {
						out = append(out, map[string]interface{}{"id": u.ID, "name": u.Name})
					}
					return out, nil
				},
			},
			"splashImage": &graphql.Field{
				Type: graphql.String,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					if url := v.Splash.Get(); url != "" {
						return url, nil
					}
					return nil, nil
				},
			},
		},
	})
}

func mutationType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"addNote": &graphql.Field{
				Type: graphql.NewNonNull(noteType),
				Args: graphql.FieldConfigArgument{
					"title":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"content": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					title, _ := p.Args["title"].(string)
					content, _ := p.Args["content"].(string)
					return v.Notes.Create(p.Context, title, content)
				},
			},
			"updateNote": &graphql.Field{
				Type: graphql.NewNonNull(noteType),
				Args: graphql.FieldConfigArgument{
					"id":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
					"title":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"content": &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					id, _ := p.Args["id"].(string)
					title, _ := p.Args["title"].(string)
					content, _ := p.Args["content"].(string)
					return v.Notes.Update(p.Context, id, title, content)
				},
			},
			"deleteNote": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					id, _ := p.Args["id"].(string)
					if err := v.Notes.Delete(p.Context, id); err != nil {
						return false, err
					}
					return true, nil
				},
			},
			"sendMessage": &graphql.Field{
				Type: graphql.NewNonNull(chatMessageType),
				Args: graphql.FieldConfigArgument{
					"content": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					content, _ := p.Args["content"].(string)
					if content == "" {
						return nil, errors.New("message content must not be empty")
					}
					return v.Chat.AddMessage(v.Session.Name, content), nil
				},
			},
			"setSplashImage": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"url": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					if v.Session.Role != "admin" {
						return false, errors.New("only admins may change the splash image")
					}
					url, _ := p.Args["url"].(string)
					v.Splash.Set(url)
					return true, nil
				},
			},
		},
	})
}

func subscriptionType() *graphql.Object {
	return graphql.NewObject(graphql.ObjectConfig{
		Name: "Subscription",
		Fields: graphql.Fields{
			"notesUpdates": &graphql.Field{
				Type: graphql.NewNonNull(notesUpdateType),
				Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					return forward(p.Context, v.NotesUpdates, func(notes.NotesUpdatesPayload) bool { return true }), nil
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source, nil
				},
			},
			"noteUpdate": &graphql.Field{
				Type: noteType,
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.ID)},
				},
				Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					id, _ := p.Args["id"].(string)
					return forward(p.Context, v.NoteUpdate, func(u notes.NoteUpdatePayload) bool {
						return u.NoteID == id
					}), nil
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					u, ok := p.Source.(notes.NoteUpdatePayload)
					if !ok || u.Note == nil {
						return nil, nil
					}
					return u.Note, nil
				},
			},
			"chatMessages": &graphql.Field{
				Type: graphql.NewNonNull(chatMessageType),
				Subscribe: func(p graphql.ResolveParams) (interface{}, error) {
					v, err := values(p)
					if err != nil {
						return nil, err
					}
					return forward(p.Context, v.ChatMessages, func(chat.Message) bool { return true }), nil
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return p.Source, nil
				},
			},
		},
	})
}

// forward copies matching payloads from ch into the channel shape the
// subscription executor consumes, until ctx is done.
func forward[T any](ctx context.Context, ch *pubsub.Channel[T], match func(T) bool) chan interface{} {
	out := make(chan interface{})
	sub := ch.Subscribe()
	go func() {
		defer close(out)
		defer sub.Cancel()
		for {
			v, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if !match(v) {
				continue
			}
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func sessionUser(rec *session.Record) map[string]interface{} {
	if rec == nil {
		return nil
	}
	return map[string]interface{}{"id": rec.ID, "name": rec.Name}
}
