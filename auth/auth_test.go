package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"firebase.google.com/go/v4/auth"
	"github.com/klipach/contractmatch/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVerifier map[string]*auth.Token

func (f fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	if tok, ok := f[idToken]; ok {
		return tok, nil
	}
	return nil, errors.New("invalid token")
}

func TestPrincipalFromToken(t *testing.T) {
	tests := []struct {
		name     string
		claims   map[string]interface{}
		hint     string
		expected profile.Kind
	}{
		{name: "claim wins", claims: map[string]interface{}{"role": "contractor"}, hint: "realtor", expected: profile.KindContractor},
		{name: "hint fallback", claims: nil, hint: "realtor", expected: profile.KindRealtor},
		{name: "bad claim uses hint", claims: map[string]interface{}{"role": "admin"}, hint: "contractor", expected: profile.KindContractor},
		{name: "nothing", claims: nil, hint: "", expected: profile.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PrincipalFromToken(&auth.Token{UID: "u1", Expires: 1700000000, Claims: tt.claims}, tt.hint)
			assert.Equal(t, "u1", p.UID)
			assert.Equal(t, tt.expected, p.Kind)
			assert.Equal(t, int64(1700000000), p.Expires.Unix())
		})
	}
}

func TestMiddleware(t *testing.T) {
	verifier := fakeVerifier{"good": {UID: "u1", Claims: map[string]interface{}{"role": "realtor"}}}

	var seen Principal
	handler := Middleware(verifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		require.True(t, ok)
		seen = p
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/profile", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "u1", seen.UID)
	assert.Equal(t, profile.KindRealtor, seen.Kind)
}
