package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/md-rashed-zaman/storefront/libs/auth"
	"github.com/md-rashed-zaman/storefront/libs/httpx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	headerUserID     = "X-User-Id"
	headerMerchantID = "X-Merchant-Id"
	headerRole       = "X-Role"
)

var identityHeaders = []string{headerUserID, headerMerchantID, headerRole}

// registerRoutes mounts the public and merchant scheduling APIs. Only the
// merchant tree requires a token; its identity comes from the token claims.
func registerRoutes(mux *http.ServeMux, schedulingURL *url.URL, verifier *auth.Verifier) {
	proxy := httputil.NewSingleHostReverseProxy(schedulingURL)
	proxy.Transport = otelhttp.NewTransport(http.DefaultTransport)

	mux.Handle("/api/v1/public/", stripIdentity(proxy))
	mux.Handle("/api/v1/merchant/", requireAuth(requireRole(proxy, "owner", "admin"), verifier))
}

func stripIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range identityHeaders {
			r.Header.Del(h)
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func requireAuth(next http.Handler, verifier *auth.Verifier) http.Handler {
	return stripIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims, err := verifier.Verify(token)
		if err != nil || claims.MerchantID == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		r.Header.Set(headerUserID, claims.Subject)
		r.Header.Set(headerMerchantID, claims.MerchantID)
		r.Header.Set(headerRole, claims.Role)
		next.ServeHTTP(w, r)
	}))
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowed[r.Header.Get(headerRole)] {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
