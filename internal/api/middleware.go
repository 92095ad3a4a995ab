package api

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/playrelay/internal/audit"
	"github.com/nerrad567/playrelay/internal/credential"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// ctxKeyRequestID is the context key for the request ID.
	ctxKeyRequestID contextKey = "request_id"

	// ctxKeyIdentity is the context key for the authenticated key identity.
	ctxKeyIdentity contextKey = "identity"
)

// Headers carrying an API key.
const (
	headerAPIKey        = "X-API-Key"
	headerAuthorization = "Authorization"
	bearerPrefix        = "Bearer "
)

// setupIdentity authenticates requests admitted by local setup mode.
var setupIdentity = credential.Identity{ID: "setup", Name: "local setup"}

// requestIDMiddleware generates a unique request ID for each request.
// If the client sends an X-Request-ID header, it is used; otherwise one is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs each HTTP request with method, path, status, and duration.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
	})
}

// recoveryMiddleware catches panics in handlers and returns a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered in HTTP handler",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", r.Context().Value(ctxKeyRequestID),
				)
				writeInternalError(w, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles Cross-Origin Resource Sharing headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", joinOrDefault(s.cfg.CORS.AllowedMethods, "GET, POST, PATCH, DELETE, OPTIONS"))
			w.Header().Set("Access-Control-Allow-Headers", joinOrDefault(s.cfg.CORS.AllowedHeaders, "Authorization, Content-Type, X-API-Key, X-Request-ID"))
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// bodySizeLimitMiddleware limits the size of incoming request bodies.
func (s *Server) bodySizeLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware checks the API key on protected routes.
//
// The key set is re-read on every request so keys added or removed on disk
// take effect without a restart. Every attempt is broadcast as auth-attempt;
// failures are audited and counted by the auth guard.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if s.guard != nil && !s.guard.Allow(ip) {
			s.logger.Warn("auth attempt from blocked client", "remote_addr", ip, "path", r.URL.Path)
			writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many failed attempts, try again later")
			return
		}

		presented := presentedKey(r)
		if presented == "" {
			s.authFailed(w, r, ip, errMissingKey, "")
			return
		}

		identity, ok := s.credentials.Validate(presented)
		if !ok {
			s.authFailed(w, r, ip, errInvalidKey, credential.Mask(presented))
			return
		}

		if s.guard != nil {
			s.guard.RecordSuccess(ip)
		}
		s.broadcaster.AnnounceAuthAttempt(true, "", identity.Name)

		ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authFailed(w http.ResponseWriter, r *http.Request, ip string, reason error, keyPrefix string) {
	blocked := false
	if s.guard != nil {
		blocked = s.guard.RecordFailure(ip)
	}

	s.logger.Warn("auth attempt rejected",
		"reason", reason.Error(),
		"remote_addr", ip,
		"path", r.URL.Path,
		"key_prefix", keyPrefix,
		"blocked", blocked,
	)
	s.broadcaster.AnnounceAuthAttempt(false, reason.Error(), ip)

	details := map[string]any{"reason": reason.Error(), "path": r.URL.Path}
	if keyPrefix != "" {
		details["key_prefix"] = keyPrefix
	}
	if blocked {
		details["blocked"] = true
	}
	s.auditLog(&audit.AuditLog{
		Action:     audit.ActionAuth,
		EntityType: audit.EntityCredential,
		Source:     "api",
		RemoteAddr: ip,
		Success:    false,
		Details:    details,
	})

	writeAuthError(w, reason)
}

// setupOrAuthMiddleware admits loopback requests without a key while no key
// exists at all, so the first key can be created. Otherwise it defers to
// authMiddleware.
func (s *Server) setupOrAuthMiddleware(next http.Handler) http.Handler {
	authed := s.authMiddleware(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AllowLocalSetup && isLoopback(r.RemoteAddr) && !s.credentials.HasAny() {
			s.logger.Info("local setup request admitted", "path", r.URL.Path)
			ctx := context.WithValue(r.Context(), ctxKeyIdentity, setupIdentity)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		authed.ServeHTTP(w, r)
	})
}

// identityFrom returns the identity stored by the auth middleware.
func identityFrom(ctx context.Context) credential.Identity {
	id, _ := ctx.Value(ctxKeyIdentity).(credential.Identity) //nolint:errcheck // zero identity when unauthenticated
	return id
}

// presentedKey extracts an API key from X-API-Key or a Bearer token.
func presentedKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(headerAPIKey)); key != "" {
		return key
	}
	auth := r.Header.Get(headerAuthorization)
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(auth[len(bearerPrefix):])
	}
	return ""
}

// clientIP returns the host part of the direct peer address. Proxy headers
// are not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isLoopback reports whether a host:port address is a loopback address.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isAllowedOrigin checks if the origin is in the allowed list.
// An empty list allows all origins.
func (s *Server) isAllowedOrigin(origin string) bool {
	if len(s.cfg.CORS.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.CORS.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Hijack passes the connection through for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// requestIDBytes is the number of random bytes used for request IDs.
const requestIDBytes = 8

// generateRequestID creates a random hex request ID.
func generateRequestID() string {
	b := make([]byte, requestIDBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

// joinOrDefault joins a string slice with ", " or returns the default if empty.
func joinOrDefault(values []string, defaultVal string) string {
	if len(values) == 0 {
		return defaultVal
	}
	return strings.Join(values, ", ")
}
