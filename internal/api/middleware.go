package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/redirects"
	"github.com/eugenenazirov/sitekit/internal/reporting"
)

// CSRF cookie, form field and header names.
const (
	CSRFCookieName = "csrftoken"
	CSRFFieldName  = "csrfmiddlewaretoken"
	CSRFHeaderName = "X-CSRFToken"
)

type middleware func(http.Handler) http.Handler

// StaticServer serves collected assets for paths it matches.
type StaticServer interface {
	http.Handler
	Match(path string) bool
}

// buildChain returns the configured middleware, outermost first.
func buildChain(settings config.Config, mux *http.ServeMux, rc routerConfig) ([]middleware, error) {
	chain := make([]middleware, 0, len(settings.Middleware))
	for _, name := range settings.Middleware {
		var mw middleware
		switch name {
		case config.MiddlewareDebug:
			mw = debugMiddleware(settings)
		case config.MiddlewareSecurity:
			mw = securityMiddleware(settings)
		case config.MiddlewareStatic:
			mw = staticMiddleware(rc.static)
		case config.MiddlewareCommon:
			mw = commonMiddleware(settings, mux)
		case config.MiddlewareCSRF:
			mw = csrfMiddleware(settings)
		case config.MiddlewareClickjacking:
			mw = clickjackingMiddleware
		case config.MiddlewareRedirects:
			mw = redirectsMiddleware(settings.SiteID, rc.redirects, rc.logger)
		default:
			return nil, fmt.Errorf("unknown middleware %q", name)
		}
		chain = append(chain, mw)
	}
	return chain, nil
}

// debugMiddleware adds a Server-Timing header for internal clients while
// Debug is on.
func debugMiddleware(settings config.Config) middleware {
	return func(next http.Handler) http.Handler {
		if !settings.Debug {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isInternalIP(clientIP(r), settings.InternalIPs) {
				next.ServeHTTP(w, r)
				return
			}
			tw := &timingWriter{ResponseWriter: w, start: time.Now()}
			next.ServeHTTP(tw, r)
			tw.stamp()
		})
	}
}

type timingWriter struct {
	http.ResponseWriter
	start   time.Time
	stamped bool
}

func (t *timingWriter) stamp() {
	if t.stamped {
		return
	}
	t.stamped = true
	ms := float64(time.Since(t.start).Microseconds()) / 1000
	t.Header().Set("Server-Timing", "app;dur="+strconv.FormatFloat(ms, 'f', 3, 64))
}

func (t *timingWriter) WriteHeader(status int) {
	t.stamp()
	t.ResponseWriter.WriteHeader(status)
}

func (t *timingWriter) Write(b []byte) (int, error) {
	t.stamp()
	return t.ResponseWriter.Write(b)
}

func securityMiddleware(settings config.Config) middleware {
	proxy := settings.SecureProxySSLHeader
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if settings.SecureSSLRedirect && !isSecure(r, proxy) {
				target := "https://" + r.Host + r.URL.RequestURI()
				http.Redirect(w, r, target, http.StatusMovedPermanently)
				return
			}
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "same-origin")
			next.ServeHTTP(w, r)
		})
	}
}

func isSecure(r *http.Request, proxy config.ProxyHeader) bool {
	if r.TLS != nil {
		return true
	}
	if proxy.Header == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get(proxy.Header)), proxy.Value)
}

func staticMiddleware(static StaticServer) middleware {
	return func(next http.Handler) http.Handler {
		if static == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if static.Match(r.URL.Path) {
				static.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// commonMiddleware rejects hosts outside AllowedHosts and redirects
// slash-less paths when only the slashed form is routed.
func commonMiddleware(settings config.Config, mux *http.ServeMux) middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !hostAllowed(r.Host, settings.AllowedHosts) {
				writeError(w, http.StatusBadRequest, "Bad request", "invalid host header")
				return
			}
			if target, ok := appendSlash(r, mux); ok {
				http.Redirect(w, r, target, http.StatusMovedPermanently)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hostAllowed(host string, allowed []string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, pattern := range allowed {
		pattern = strings.ToLower(pattern)
		switch {
		case pattern == "*":
			return true
		case strings.HasPrefix(pattern, "."):
			if host == pattern[1:] || strings.HasSuffix(host, pattern) {
				return true
			}
		case host == pattern:
			return true
		}
	}
	return false
}

func appendSlash(r *http.Request, mux *http.ServeMux) (string, bool) {
	if mux == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		return "", false
	}
	p := r.URL.Path
	if strings.HasSuffix(p, "/") {
		return "", false
	}
	if _, pattern := mux.Handler(r); pattern != "/" {
		return "", false
	}
	probe := r.Clone(r.Context())
	probe.URL.Path = p + "/"
	if _, pattern := mux.Handler(probe); pattern == "/" || pattern == "" {
		return "", false
	}
	target := p + "/"
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target, true
}

// csrfMiddleware applies gorilla/csrf. Requests that did not arrive over TLS
// are marked plaintext so the Origin check compares against http.
func csrfMiddleware(settings config.Config) middleware {
	key := sha256.Sum256([]byte(settings.SecretKey))
	proxy := settings.SecureProxySSLHeader
	protect := csrf.Protect(key[:],
		csrf.CookieName(CSRFCookieName),
		csrf.FieldName(CSRFFieldName),
		csrf.RequestHeader(CSRFHeaderName),
		csrf.Path("/"),
		csrf.Secure(!settings.IsLocal()),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			details := "request rejected"
			if reason := csrf.FailureReason(r); reason != nil {
				details = reason.Error()
			}
			writeError(w, http.StatusForbidden, "CSRF verification failed", details)
		})),
	)
	return func(next http.Handler) http.Handler {
		protected := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isSecure(r, proxy) {
				r = csrf.PlaintextHTTPRequest(r)
			}
			protected.ServeHTTP(w, r)
		})
	}
}

func clickjackingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("X-Frame-Options") == "" {
			w.Header().Set("X-Frame-Options", "DENY")
		}
		next.ServeHTTP(w, r)
	})
}

// redirectsMiddleware consults the redirect table when the wrapped handler
// answers 404: 301 to the stored target, or 410 when the target is empty.
func redirectsMiddleware(siteID int, finder redirects.Finder, logger *zap.Logger) middleware {
	return func(next http.Handler) http.Handler {
		if finder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nf := &notFoundWriter{ResponseWriter: w}
			next.ServeHTTP(nf, r)
			if !nf.intercepted {
				return
			}

			redirect, err := finder.Find(r.Context(), siteID, r.URL.Path)
			switch {
			case errors.Is(err, redirects.ErrNotFound):
				nf.flush()
			case err != nil:
				logger.Error("redirect lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
				nf.flush()
			case redirect.NewPath == "":
				clearBodyHeaders(w)
				writeError(w, http.StatusGone, "Gone", "the requested resource is no longer available")
			default:
				clearBodyHeaders(w)
				http.Redirect(w, r, redirect.NewPath, http.StatusMovedPermanently)
			}
		})
	}
}

// notFoundWriter holds back a 404 response so it can be replaced.
type notFoundWriter struct {
	http.ResponseWriter
	intercepted bool
	wroteHeader bool
	body        bytes.Buffer
}

func (n *notFoundWriter) WriteHeader(status int) {
	if n.wroteHeader {
		return
	}
	n.wroteHeader = true
	if status == http.StatusNotFound {
		n.intercepted = true
		return
	}
	n.ResponseWriter.WriteHeader(status)
}

func (n *notFoundWriter) Write(b []byte) (int, error) {
	if !n.wroteHeader {
		n.WriteHeader(http.StatusOK)
	}
	if n.intercepted {
		return n.body.Write(b)
	}
	return n.ResponseWriter.Write(b)
}

func (n *notFoundWriter) flush() {
	n.ResponseWriter.WriteHeader(http.StatusNotFound)
	_, _ = n.ResponseWriter.Write(n.body.Bytes())
}

func clearBodyHeaders(w http.ResponseWriter) {
	w.Header().Del("Content-Type")
	w.Header().Del("Content-Length")
}

func loggingMiddleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		requestID := requestIDFromContext(r.Context())
		logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", duration),
			zap.String("request_id", requestID),
		)
	})
}

func recoveryMiddleware(logger *zap.Logger, reporter reporting.Reporter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered",
					zap.Any("error", rec),
					zap.String("request_id", requestIDFromContext(r.Context())),
				)
				if reporter != nil {
					reporter.Recover(rec)
				}
				writeError(w, http.StatusInternalServerError, "Internal error", "unexpected server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := contextWithRequestID(r.Context(), requestID)

		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientAddrMiddleware records the client address once per request. Behind a
// trusted proxy it comes from X-Forwarded-For.
func clientAddrMiddleware(trustProxy bool, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := peerIP(r)
		if trustProxy {
			if forwarded, ok := forwardedIP(r); ok {
				ip = forwarded
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientIPContextKey, ip)))
	})
}

func contextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, id)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
