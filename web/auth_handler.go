package web

import (
	"net/http"

	"github.com/firgia/soca/auth"
)

// withUser puts the bearer token subject in the request context. Requests
// without a token pass through and are rejected by the service.
func (h *Handler) withUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := auth.BearerToken(header)
		if !ok {
			h.respondErr(w, r, errInvalidToken)
			return
		}

		userID, err := h.Verifier.Verify(token)
		if err != nil {
			h.respondErr(w, r, errInvalidToken)
			return
		}

		ctx := auth.ContextWithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
