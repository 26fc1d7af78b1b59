package shared

import (
	"context"
	"errors"
)

type ownerContextKey struct{}

// Identity carries the tenant scope supplied by the external auth
// collaborator. The core trusts it and performs no authentication itself.
type Identity struct {
	OwnerID int64
	ActorID int64
}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(ownerContextKey{}).(Identity)
	if !ok || id.OwnerID == 0 {
		return Identity{}, errors.New("shared: missing owner identity")
	}
	return id, nil
}
