package gateway

import (
	"net/http"

	fragerrors "github.com/poudelpratik/fragmentrt/pkg/errors"
)

// requireAPIKey gates every admin endpoint behind the configured
// api_key: a missing or mismatched X-Api-Key header is rejected with
// 403, never 401 (there is no bearer-token challenge for this surface,
// just a shared secret).
func (g *Gateway) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Api-Key")
		if key == "" || key != g.cfg.APIKey {
			fragerrors.WriteHTTPError(w, fragerrors.NewForbiddenError("admin api", "access"), "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
