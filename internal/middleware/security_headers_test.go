package middleware

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	for _, production := range []bool{false, true} {
		w := httptest.NewRecorder()
		NewSecurityHeadersMiddleware(SecurityConfig{Production: production})(okHandler()).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		h := w.Header()
		want := map[string]string{
			"X-Content-Type-Options":  "nosniff",
			"X-Frame-Options":         "DENY",
			"Referrer-Policy":         "strict-origin-when-cross-origin",
			"Permissions-Policy":      "geolocation=(), microphone=(), camera=()",
			"Content-Security-Policy": apiCSP,
		}
		for k, v := range want {
			if h.Get(k) != v {
				t.Errorf("production=%v: %s = %q, want %q", production, k, h.Get(k), v)
			}
		}

		hsts := h.Get("Strict-Transport-Security")
		if production && hsts != hstsValue {
			t.Errorf("本番ではHSTSを付与するべき: %q", hsts)
		}
		if !production && hsts != "" {
			t.Errorf("開発環境ではHSTSを付与しないべき: %q", hsts)
		}
	}
}

func TestHTTPSRedirectMiddleware(t *testing.T) {
	prod := SecurityConfig{Production: true, RedirectExemptPaths: []string{"/health"}}

	tests := []struct {
		name     string
		config   SecurityConfig
		path     string
		proto    string
		tls      bool
		want     int
		location string
	}{
		{name: "開発環境は何もしない", config: SecurityConfig{}, path: "/api/posts", proto: "http", want: 200},
		{name: "X-Forwarded-Proto http", config: prod, path: "/api/posts?limit=5", proto: "http", want: 301, location: "https://seqher.example.org/api/posts?limit=5"},
		{name: "X-Forwarded-Proto https", config: prod, path: "/api/posts", proto: "https", want: 200},
		{name: "複数プロキシ", config: prod, path: "/", proto: "HTTPS, http", want: 200},
		{name: "ヘッダーなし平文", config: prod, path: "/", want: 301, location: "https://seqher.example.org/"},
		{name: "ヘッダーなしTLS", config: prod, path: "/", tls: true, want: 200},
		{name: "ヘルスチェックは除外", config: prod, path: "/health", proto: "http", want: 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Host = "seqher.example.org"
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			} else {
				req.TLS = nil
			}
			w := httptest.NewRecorder()
			NewHTTPSRedirectMiddleware(tt.config)(okHandler()).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if tt.location != "" && w.Header().Get("Location") != tt.location {
				t.Errorf("Location = %q, want %q", w.Header().Get("Location"), tt.location)
			}
		})
	}
}
