package config

// Installable components.
const (
	ComponentAdmin         = "admin"
	ComponentAdminHoneypot = "admin_honeypot"
	ComponentSessions      = "sessions"
	ComponentMessages      = "messages"
	ComponentStaticFiles   = "staticfiles"
	ComponentSites         = "sites"
	ComponentRedirects     = "redirects"
	ComponentTasks         = "tasks"
	ComponentMail          = "mail"
	ComponentDebug         = "debug"
)

// Middleware names, listed in Config.Middleware outermost first.
const (
	MiddlewareDebug        = "debug"
	MiddlewareSecurity     = "security"
	MiddlewareStatic       = "static"
	MiddlewareCommon       = "common"
	MiddlewareCSRF         = "csrf"
	MiddlewareClickjacking = "clickjacking"
	MiddlewareRedirects    = "redirects"
)

// Static storage strategies.
const (
	StorageCompressedManifest = "compressed-manifest"
	StoragePlain              = "plain"
)

var knownComponents = map[string]struct{}{
	ComponentAdmin:         {},
	ComponentAdminHoneypot: {},
	ComponentSessions:      {},
	ComponentMessages:      {},
	ComponentStaticFiles:   {},
	ComponentSites:         {},
	ComponentRedirects:     {},
	ComponentTasks:         {},
	ComponentMail:          {},
	ComponentDebug:         {},
}

// middlewareRequires lists the component each middleware depends on.
var middlewareRequires = map[string]string{
	MiddlewareDebug:        ComponentDebug,
	MiddlewareSecurity:     "",
	MiddlewareStatic:       ComponentStaticFiles,
	MiddlewareCommon:       "",
	MiddlewareCSRF:         ComponentSessions,
	MiddlewareClickjacking: "",
	MiddlewareRedirects:    ComponentRedirects,
}

// middlewareRank fixes the relative order of middleware that depend on each
// other: security headers before static serving before common handling before
// CSRF protection.
var middlewareRank = map[string]int{
	MiddlewareSecurity: 1,
	MiddlewareStatic:   2,
	MiddlewareCommon:   3,
	MiddlewareCSRF:     4,
}
