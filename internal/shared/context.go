package shared

import (
	"context"
	"strings"
)

type actorContextKey struct{}

// SystemActor marks changes made by jobs and the CLI.
const SystemActor = "system/job"

// ContextWithActor stores the acting user in context.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, strings.TrimSpace(actor))
}

// ActorFromContext extracts the acting user, defaulting to SystemActor.
func ActorFromContext(ctx context.Context) string {
	if actor, _ := ctx.Value(actorContextKey{}).(string); actor != "" {
		return actor
	}
	return SystemActor
}
