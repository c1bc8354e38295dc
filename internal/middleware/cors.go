package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowHeaders = "Content-Type"
	// Retry-Afterはレート制限で拒否された投稿の再送待ちに使う
	corsExposeHeaders = "Retry-After, X-Request-Id"
	corsMaxAge        = "600"
)

// NewCORSMiddleware は/api配下のCORSミドルウェアを返す。
//
// allowedOriginsはカンマ区切りのオリジン一覧で、"*"を含む場合は全オリジンを許可する。
// 許可されたオリジンにはそのオリジンをAccess-Control-Allow-Originとして返し、
// それ以外のオリジンにはCORSヘッダーを付けずに処理を続ける。
// プリフライトには204で応答し、許可されていないオリジンからのプリフライトは403とする。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	allowAll, allowed := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			if !allowAll && !allowed[normalizeOrigin(origin)] {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if allowAll {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}

			if preflight {
				h.Add("Vary", "Access-Control-Request-Method")
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			next.ServeHTTP(w, r)
		})
	}
}

func parseOrigins(raw string) (allowAll bool, allowed map[string]bool) {
	allowed = make(map[string]bool)
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			allowAll = true
		default:
			allowed[normalizeOrigin(o)] = true
		}
	}
	return allowAll, allowed
}

// normalizeOrigin はスキームとホストの大文字小文字と末尾のスラッシュを無視して比較できるようにする。
func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(o, "/"))
}
