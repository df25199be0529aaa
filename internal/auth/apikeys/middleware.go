package apikeys

import (
	"net/http"
	"strings"

	"github.com/nexus-ims/nexus/internal/platform/httpx"
	"github.com/nexus-ims/nexus/internal/shared"
)

// Middleware authenticates requests by API key and injects the request
// identity into context. Keys arrive either as a bearer token or in the
// X-API-Key header; the scanner also uses this path during its handshake.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := keyFromRequest(r)
		if presented == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		k, err := s.Verify(r.Context(), presented)
		if err != nil {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		ctx := shared.ContextWithIdentity(r.Context(), shared.Identity{
			TenantID: k.TenantID,
			ActorID:  k.ActorID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func keyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return r.Header.Get("X-API-Key")
}
