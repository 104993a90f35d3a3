package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// endpointBase picks the host to connect to: the direct development host if
// set, then the configured API host, then the origin host.
func endpointBase(cfg Config) string {
	switch {
	case cfg.DirectURL != "":
		return cfg.DirectURL
	case cfg.APIURL != "":
		return cfg.APIURL
	default:
		return cfg.OriginURL
	}
}

// sessionURL builds the unified endpoint URL for a session. http(s) bases are
// rewritten to ws(s) so config can hold either form.
func sessionURL(cfg Config, sessionID, token string) (string, error) {
	base := endpointBase(cfg)
	if base == "" {
		return "", fmt.Errorf("no realtime endpoint configured")
	}

	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
	default:
		base = "wss://" + base
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint %q: %w", base, err)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/unified/" + sessionID
	if token != "" {
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}

	return u.String(), nil
}
