package auth

import (
	"log/slog"
	"net/http"

	"github.com/klipach/contractmatch/log"
)

const userIDLogField = "userID"

// Middleware rejects requests without a valid Firebase ID token and puts
// the Principal and an enriched logger into the request context.
func Middleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := log.LoggerFromContext(ctx)

			token, err := Authenticate(r, v)
			if err != nil {
				logger.Warn("error while authenticating", slog.String(log.ErrorMsgLogField, err.Error()))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			p := PrincipalFromToken(token, r.Header.Get(roleHintHeader))

			logger = logger.With(slog.String(userIDLogField, p.UID))
			ctx = log.WithLogger(WithPrincipal(ctx, p), logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
