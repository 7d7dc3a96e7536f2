package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/0xqtpie/pm-indexer/internal/ratelimit"
)

// RateLimit returns middleware enforcing the given limiter per caller.
// Callers are keyed by API key when one is presented, falling back to the
// client IP, so authenticated clients are not penalized for sharing a NAT.
// A nil limiter disables limiting.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Check(limitKey(r))
			if !res.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter(time.Now())))
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error": "rate limit exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitKey identifies the caller. Credentials are hashed before use so raw
// tokens never sit in the limiter's bucket map.
func limitKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return hashKey(key)
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return hashKey(strings.TrimSpace(parts[1]))
		}
	}
	return "ip:" + clientIP(r)
}

func hashKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "key:" + hex.EncodeToString(sum[:8])
}

// clientIP prefers the first X-Forwarded-For hop, then falls back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if ip, _, ok := strings.Cut(fwd, ","); ok || ip != "" {
			return strings.TrimSpace(ip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
