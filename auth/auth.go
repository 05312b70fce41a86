package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/klipach/contractmatch/profile"
)

const (
	roleClaim      = "role"
	roleHintHeader = "X-User-Role"
)

var ErrUnauthenticated = errors.New("unauthenticated")

// Verifier is satisfied by *auth.Client.
type Verifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

func NewVerifier(ctx context.Context, app *firebase.App) (Verifier, error) {
	return app.Auth(ctx)
}

// Principal is the authenticated identity of a request or session.
type Principal struct {
	UID     string
	Kind    profile.Kind
	Expires time.Time
}

func (p Principal) Ref() profile.Ref {
	return profile.Ref{UID: p.UID, Kind: p.Kind}
}

func Authenticate(req *http.Request, v Verifier) (*auth.Token, error) {
	jwtToken, err := bearerTokenFromRequest(req)
	if err != nil {
		return nil, err
	}
	return v.VerifyIDToken(req.Context(), jwtToken)
}

// PrincipalFromToken reads the participant kind from the role claim and
// falls back to the client's role hint. The kind stays unknown when
// neither names a valid kind.
func PrincipalFromToken(token *auth.Token, roleHint string) Principal {
	p := Principal{UID: token.UID, Expires: time.Unix(token.Expires, 0)}
	if role, ok := token.Claims[roleClaim].(string); ok {
		if kind, err := profile.ParseKind(role); err == nil {
			p.Kind = kind
			return p
		}
	}
	if kind, err := profile.ParseKind(roleHint); err == nil {
		p.Kind = kind
	}
	return p
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
