package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// newCheckOrigin decides which browser origins may open subscriber sockets:
// no origin (non-browser clients), OBS browser sources, the viewer-panel
// extension, any configured origin, and localhost in development.
func newCheckOrigin(allowed []string, extensionClientID string, isDevelopment bool) func(r *http.Request) bool {
	origins := make(map[string]struct{}, len(allowed)+1)
	for _, raw := range allowed {
		if origin := extractOrigin(raw); origin != "" {
			origins[origin] = struct{}{}
		}
	}
	if extensionClientID != "" {
		origins["https://"+strings.ToLower(extensionClientID)+".ext-twitch.tv"] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")

		if origin == "" {
			return true
		}

		if strings.HasPrefix(origin, "obs://") {
			return true
		}

		if _, ok := origins[origin]; ok {
			return true
		}

		if isDevelopment && isLocalhostOrigin(origin) {
			return true
		}

		slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

func extractOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

func isLocalhostOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "localhost" || host == "127.0.0.1"
}
