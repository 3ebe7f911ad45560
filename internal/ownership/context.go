// Package ownership carries the acting user of a request down to code that
// has no access to the request itself, such as pre-persist hooks.
//
// The value lives in the request's context.Context, so it is private to
// that request's call chain and vanishes with it. Nothing is shared between
// concurrent requests and nothing needs locking.
package ownership

import (
	"context"

	"geolisting/internal/domain"
)

type currentUserKey struct{}

// binding distinguishes "bound to anonymous" from "never bound".
type binding struct{ user *domain.User }

// SetCurrentUser binds u to the returned context. A nil u binds an
// anonymous requester.
func SetCurrentUser(ctx context.Context, u *domain.User) context.Context {
	return context.WithValue(ctx, currentUserKey{}, binding{user: u})
}

// CurrentUser returns the user bound to ctx, or nil when the context is
// unbound or bound to an anonymous requester.
func CurrentUser(ctx context.Context) *domain.User {
	if ctx == nil {
		return nil
	}
	b, ok := ctx.Value(currentUserKey{}).(binding)
	if !ok {
		return nil
	}
	return b.user
}

// Bound reports whether SetCurrentUser ran for this context, anonymous or not.
func Bound(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.Value(currentUserKey{}).(binding)
	return ok
}
