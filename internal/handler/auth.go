package handler

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/assessor/internal/model"
)

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(auth, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireToken is middleware that checks for a valid bearer token: either the
// configured admin token or one issued through the token store.
func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="assessor"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if admin := h.config.AdminToken; admin != "" &&
			len(token) == len(admin) && subtle.ConstantTimeCompare([]byte(token), []byte(admin)) == 1 {
			ctx := model.ContextWithToken(r.Context(), &model.APIToken{Label: "admin", Admin: true})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		t, err := h.store.VerifyAPIToken(token)
		if err != nil {
			slog.Error("failed to verify API token", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if t == nil {
			slog.Warn("rejected API token", "remote", r.RemoteAddr)
			w.Header().Set("WWW-Authenticate", `Bearer realm="assessor", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := model.ContextWithToken(r.Context(), t)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin rejects callers not authenticated with the admin token.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := model.TokenFromContext(r.Context())
		if t == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !t.Admin {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
