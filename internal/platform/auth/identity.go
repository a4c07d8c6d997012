// Package auth authenticates shoppers with Firebase ID tokens and scheduler calls with
// Google-signed OIDC tokens.
package auth

import (
	"context"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/hanko-field/checkout/internal/platform/requestctx"
)

// Identity is the authenticated shopper behind a request.
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
	Name          string
	PhoneNumber   string

	token *firebaseauth.Token
}

// Token exposes the decoded Firebase ID token.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

type identityContextKey struct{}

// WithIdentity stores the identity on ctx and records its uid as the request caller.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	if identity == nil {
		return ctx
	}
	ctx = requestctx.WithCaller(ctx, identity.UID)
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the identity stored by RequireFirebaseAuth.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
