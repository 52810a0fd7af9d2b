package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy defines the CORS headers to emit for matching origins.
// An allowed origin may be "*", an exact origin, or a subdomain wildcard
// such as "https://*.shops.example".
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// WithCORS is a no-op when AllowedOrigins is empty.
func WithCORS(cfg CORSPolicy) Middleware {
	if len(cfg.AllowedOrigins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	allowedOrigins := normalizeList(cfg.AllowedOrigins)
	static := map[string]string{
		"Access-Control-Allow-Methods":  strings.Join(normalizeList(cfg.AllowedMethods), ", "),
		"Access-Control-Allow-Headers":  strings.Join(normalizeList(cfg.AllowedHeaders), ", "),
		"Access-Control-Expose-Headers": strings.Join(normalizeList(cfg.ExposedHeaders), ", "),
	}
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		static["Access-Control-Max-Age"] = strconv.Itoa(secs)
	}
	if cfg.AllowCredentials {
		static["Access-Control-Allow-Credentials"] = "true"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			headers := w.Header()
			headers.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			allowOrigin, ok := matchOrigin(origin, allowedOrigins, cfg.AllowCredentials)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			headers.Set("Access-Control-Allow-Origin", allowOrigin)
			for k, v := range static {
				if v != "" {
					headers.Set(k, v)
				}
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				headers.Add("Vary", "Access-Control-Request-Method")
				headers.Add("Vary", "Access-Control-Request-Headers")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func matchOrigin(origin string, allowed []string, allowCredentials bool) (string, bool) {
	for _, candidate := range allowed {
		switch {
		case candidate == "*":
			if allowCredentials {
				return origin, true
			}
			return "*", true
		case strings.EqualFold(candidate, origin):
			return origin, true
		case strings.Contains(candidate, "://*."):
			scheme, suffix, _ := strings.Cut(candidate, "*")
			o := strings.ToLower(origin)
			if strings.HasPrefix(o, strings.ToLower(scheme)) && strings.HasSuffix(o, strings.ToLower(suffix)) &&
				len(o) > len(scheme)+len(suffix) {
				return origin, true
			}
		}
	}
	return "", false
}
