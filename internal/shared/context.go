package shared

import "context"

type actorContextKey struct{}

// Actor identifies the user on whose behalf a request runs.
type Actor struct {
	UserID int64
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.UserID <= 0 {
		return Actor{}, false
	}
	return actor, true
}
