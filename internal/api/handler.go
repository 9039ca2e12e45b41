package api

import (
	"context"
	"encoding/json"
	"html/template"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/csrf"
	"go.uber.org/zap"

	"github.com/eugenenazirov/sitekit/internal/config"
	"github.com/eugenenazirov/sitekit/internal/tasks"
)

type contextKey string

const (
	requestIDContextKey contextKey = "requestID"
	clientIPContextKey  contextKey = "clientIP"
)

// TaskHoneypotAlert is enqueued for every credential submitted to the fake
// admin login.
const TaskHoneypotAlert = "honeypot_alert"

// LoginAttempt is the honeypot_alert task payload.
type LoginAttempt struct {
	Username   string    `json:"username"`
	RemoteAddr string    `json:"remoteAddr"`
	Path       string    `json:"path"`
	UserAgent  string    `json:"userAgent"`
	At         time.Time `json:"at"`
}

var honeypotPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Log in | Site administration</title></head>
<body>
<h1>Site administration</h1>
{{if .Failed}}<p class="errornote">Please enter the correct username and password for a staff account. Note that both fields may be case-sensitive.</p>{{end}}
<form method="post" action="{{.Action}}">
{{.CSRFField}}
<label for="id_username">Username:</label> <input type="text" name="username" id="id_username" value="{{.Username}}">
<label for="id_password">Password:</label> <input type="password" name="password" id="id_password">
<input type="submit" value="Log in">
</form>
</body>
</html>
`))

// Handler serves the application endpoints.
type Handler struct {
	settings config.Config
	queue    tasks.Queue
	logger   *zap.Logger

	clock func() time.Time
}

// HandlerOption configures Handler behaviour.
type HandlerOption func(*Handler)

// WithClock overrides the time source, primarily for tests.
func WithClock(clock func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.clock = clock
	}
}

// WithQueue sets the queue honeypot alerts are sent to.
func WithQueue(q tasks.Queue) HandlerOption {
	return func(h *Handler) {
		h.queue = q
	}
}

// NewHandler constructs a Handler. The admin endpoint only ever exposes the
// redacted form of settings.
func NewHandler(settings config.Config, logger *zap.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		settings: settings.Redacted(),
		logger:   logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = r
	resp := healthResponse{
		Status:      "ok",
		Environment: h.settings.Environment,
		Timestamp:   h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHoneypot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		h.renderHoneypot(w, r, http.StatusOK, "", false)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request", "unable to parse form")
			return
		}
		attempt := LoginAttempt{
			Username:   r.PostForm.Get("username"),
			RemoteAddr: clientIP(r),
			Path:       r.URL.Path,
			UserAgent:  r.UserAgent(),
			At:         h.clock(),
		}
		h.logger.Warn("admin honeypot login attempt",
			zap.String("username", attempt.Username),
			zap.String("remote_addr", attempt.RemoteAddr),
			zap.String("path", attempt.Path),
			zap.String("user_agent", attempt.UserAgent),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)
		h.alert(r.Context(), attempt)
		h.renderHoneypot(w, r, http.StatusOK, attempt.Username, true)
	default:
		w.Header().Set("Allow", "GET, HEAD, POST")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", r.Method+" is not supported")
	}
}

func (h *Handler) alert(ctx context.Context, attempt LoginAttempt) {
	if h.queue == nil {
		return
	}
	if _, err := h.queue.Enqueue(context.WithoutCancel(ctx), TaskHoneypotAlert, attempt); err != nil {
		h.logger.Error("failed to enqueue honeypot alert", zap.Error(err))
	}
}

func (h *Handler) renderHoneypot(w http.ResponseWriter, r *http.Request, status int, username string, failed bool) {
	data := struct {
		Action    string
		Username  string
		Failed    bool
		CSRFField template.HTML
	}{
		Action:    r.URL.Path,
		Username:  username,
		Failed:    failed,
		CSRFField: csrf.TemplateField(r),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := honeypotPage.Execute(w, data); err != nil {
		h.logger.Error("render honeypot page", zap.Error(err))
	}
}

func (h *Handler) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if !h.settings.Debug && !isInternalIP(clientIP(r), h.settings.InternalIPs) {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed", r.Method+" is not supported")
		return
	}
	resp := adminResponse{
		Settings:    h.settings,
		GeneratedAt: h.clock(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDContextKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// clientIP returns the address resolved by clientAddrMiddleware, or the host
// part of the peer address when the request never passed through it.
func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPContextKey).(string); ok && ip != "" {
		return ip
	}
	return peerIP(r)
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedIP returns the rightmost X-Forwarded-For hop, the one appended by
// the proxy in front of us.
func forwardedIP(r *http.Request) (string, bool) {
	values := r.Header.Values("X-Forwarded-For")
	if len(values) == 0 {
		return "", false
	}
	hops := strings.Split(values[len(values)-1], ",")
	last := strings.TrimSpace(hops[len(hops)-1])
	if net.ParseIP(last) == nil {
		return "", false
	}
	return last, true
}

func isInternalIP(ip string, internal []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, candidate := range internal {
		if c := net.ParseIP(strings.TrimSpace(candidate)); c != nil && c.Equal(parsed) {
			return true
		}
	}
	return false
}

type healthResponse struct {
	Status      string    `json:"status"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

type adminResponse struct {
	Settings    config.Config `json:"settings"`
	GeneratedAt time.Time     `json:"generatedAt"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, errorResponse{
		Error:   message,
		Details: details,
	})
}
