package identity

import (
	"context"
	"errors"

	"care-messaging/internal/models"
)

// ErrNoUser is returned when no authenticated user is bound to the context.
var ErrNoUser = errors.New("no authenticated user")

// User is the identity stamped onto outbound messages.
type User struct {
	ID       string
	FullName string
	Role     models.Role
}

// Provider resolves the current portal user.
type Provider interface {
	CurrentUser(ctx context.Context) (User, error)
}

type contextKey struct{}

// WithUser binds a user to the context. The auth middleware does this once
// per request.
func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, contextKey{}, user)
}

// FromContext extracts the bound user, if any.
func FromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok
}

// ContextProvider reads the user the auth middleware bound to the request
// context.
type ContextProvider struct{}

// CurrentUser implements Provider.
func (ContextProvider) CurrentUser(ctx context.Context) (User, error) {
	user, ok := FromContext(ctx)
	if !ok {
		return User{}, ErrNoUser
	}
	return user, nil
}

// StaticProvider always returns the same user. It backs system-originated
// messages and tests.
type StaticProvider struct {
	User User
}

// CurrentUser implements Provider.
func (p StaticProvider) CurrentUser(context.Context) (User, error) {
	return p.User, nil
}
