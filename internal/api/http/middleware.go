package http

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const partyKey contextKey = "party"

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := h.tokens.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), partyKey, claims.PartyID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// party returns the authenticated party id from the request context.
func party(r *http.Request) string {
	id, _ := r.Context().Value(partyKey).(string)
	return id
}
