package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
)

type contextKey int

const accountKey contextKey = iota

// AccountID extracts the authenticated merchant account from the request
// context. Empty means the request never passed the auth middleware.
func AccountID(ctx context.Context) string {
	id, _ := ctx.Value(accountKey).(string)
	return id
}

// authMiddleware validates the identity provider's bearer token. The
// engine only checks the signature, audience and subject claim; issuing
// tokens is the provider's business.
func authMiddleware(secret, audience string) mux.MiddlewareFunc {
	keyFunc := func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				respondWithError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			token, err := parser.Parse(raw, keyFunc)
			if err != nil || !token.Valid {
				respondWithError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			sub, err := token.Claims.GetSubject()
			if err != nil || sub == "" {
				respondWithError(w, http.StatusUnauthorized, "token without subject")
				return
			}

			ctx := context.WithValue(r.Context(), accountKey, sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
