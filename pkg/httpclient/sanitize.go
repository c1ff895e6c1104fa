package httpclient

import (
	"net/url"
	"strings"
)

const redactedValue = "[REDACTED]"

// secretFragments are substrings that mark a query parameter as secret
// bearing. Switchboard's providers authenticate through headers, but
// keys still show up in URLs: gateway deployments append api_key or
// token parameters to the anthropic base URL, and ollama instances
// behind an authenticating proxy take a session or bearer parameter.
// Matched case-insensitively against the parameter name.
var secretFragments = []string{
	"key",
	"token",
	"secret",
	"password",
	"auth",
	"credential",
	"bearer",
	"session",
}

// sanitizeURL renders a URL for request logs with credentials blanked
// out: secret-bearing query parameters are replaced with a placeholder
// and userinfo is dropped entirely (a proxied ollama base_url may
// carry basic-auth credentials).
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	safe := *u
	safe.User = nil

	query := safe.Query()
	changed := false
	for name := range query {
		if isSecretParam(name) {
			query.Set(name, redactedValue)
			changed = true
		}
	}
	if changed {
		safe.RawQuery = query.Encode()
	}

	return safe.String()
}

// isSecretParam reports whether a query parameter name looks secret
// bearing. Substring matching catches prefixed variants such as
// x-api-key and client_secret.
func isSecretParam(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range secretFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
