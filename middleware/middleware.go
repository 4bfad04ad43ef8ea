package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"learn.throttle/api"
)

// RequestIDHeader carries the id used to correlate log lines of one request.
const RequestIDHeader = "X-Request-ID"

// ThrottleMiddleware provides per-identifier throttling for HTTP handlers.
type ThrottleMiddleware struct {
	throttle api.Throttler
	name     string
}

// NewThrottleMiddleware creates a new ThrottleMiddleware. name only appears in logs.
func NewThrottleMiddleware(throttle api.Throttler, name string) *ThrottleMiddleware {
	return &ThrottleMiddleware{
		throttle: throttle,
		name:     name,
	}
}

// Handle wraps an http.HandlerFunc with throttling logic.
// identifierFunc extracts the identifier (e.g., IP address) from the request.
// Denied requests get 429 and a Retry-After header in whole seconds.
func (m *ThrottleMiddleware) Handle(next http.HandlerFunc, identifierFunc func(*http.Request) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(RequestIDHeader, requestID)
		}
		w.Header().Set(RequestIDHeader, requestID)

		identifier := identifierFunc(r)
		if identifier == "" {
			log.Warn().Str("throttle_key", m.name).Str("request_id", requestID).Str("remote_addr", r.RemoteAddr).Msg("Middleware: Could not extract identifier")
			http.Error(w, "missing client identifier", http.StatusBadRequest)
			return
		}

		if m.throttle.Record(identifier) {
			next.ServeHTTP(w, r)
			return
		}

		wait := m.throttle.TimeUntilAllowed(identifier)
		retryAfter := int64(math.Ceil(wait.Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
		log.Debug().Str("throttle_key", m.name).Str("request_id", requestID).Str("identifier", identifier).Dur("retry_after", wait).Msg("Middleware: Request throttled")
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
	}
}

// ClientIP extracts the client's IP address from the request.
// It checks X-Forwarded-For, X-Real-IP headers, and finally the request's RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
