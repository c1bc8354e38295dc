package middleware

import (
	"net/http"
	"strings"
)

// apiCSP はJSON、SSE、メトリクスのみを返すパスに付けるCSP。
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// pageCSP はSPAに付けるCSP。
// 運動記録の写真はdata URIで表示し、投稿前のプレビューはblob URLを使う。
// スナップショットは同一オリジンのEventSourceで購読する。
const pageCSP = "default-src 'self'; img-src 'self' data: blob:; style-src 'self' 'unsafe-inline'; connect-src 'self'; frame-ancestors 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// /api、/health、/metricsにはスクリプトを一切許可しないCSPを、それ以外（SPA）にはpageCSPを付ける。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			if isDataPath(r.URL.Path) {
				h.Set("Content-Security-Policy", apiCSP)
			} else {
				h.Set("Content-Security-Policy", pageCSP)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isDataPath(p string) bool {
	for _, prefix := range []string{"/api", "/health", "/metrics"} {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return true
		}
	}
	return false
}
