package gemlive

import (
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Credential represents an authentication method for the Live endpoint.
// Implementations must apply the appropriate authentication headers to the handshake request.
type Credential interface{ apply(h http.Header) }

// APIKey implements Credential using Gemini API key authentication.
// This is the most common authentication method.
type APIKey string

// apply adds the API key to the request headers using the "x-goog-api-key" header.
func (k APIKey) apply(h http.Header) {
	if k != "" {
		h.Set("x-goog-api-key", string(k))
	}
}

// Bearer implements Credential using OAuth2 Bearer token authentication.
type Bearer string

// apply adds the Bearer token to the Authorization header.
func (b Bearer) apply(h http.Header) {
	if b != "" {
		h.Set("Authorization", "Bearer "+string(b))
	}
}

// DefaultEndpoint is the public Gemini Live websocket host.
const DefaultEndpoint = "wss://generativelanguage.googleapis.com"

// DefaultAPIVersion is the API version segment of the BidiGenerateContent path.
const DefaultAPIVersion = "v1beta"

// Config holds the options for opening the duplex transport.
type Config struct {
	// Endpoint is the base URL of the Live service.
	// http(s) schemes are rewritten to ws(s).
	// Required: No (defaults to DefaultEndpoint)
	Endpoint string

	// APIVersion selects the service version, e.g. "v1beta" or "v1alpha".
	// Required: No (defaults to DefaultAPIVersion)
	APIVersion string

	// Credential provides authentication for the handshake.
	// Required: Yes
	Credential Credential

	// DialTimeout bounds the websocket handshake plus the setup exchange.
	// If zero, only the caller's context applies.
	DialTimeout time.Duration

	// HandshakeHeaders allows adding custom headers to the WebSocket handshake request.
	HandshakeHeaders http.Header

	// Logger receives transport events. Nil disables logging.
	Logger *Logger
}

// ValidateConfig performs configuration validation.
func ValidateConfig(cfg Config) error {
	if cfg.Endpoint != "" {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil || u.Host == "" {
			return NewConfigError("Endpoint", cfg.Endpoint, "invalid URL format")
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return NewConfigError("Endpoint", cfg.Endpoint, "scheme must be http, https, ws or wss")
		}
	}

	if cfg.Credential == nil {
		return NewConfigError("Credential", "", "cannot be nil")
	}

	if cfg.DialTimeout < 0 {
		return NewConfigError("DialTimeout", cfg.DialTimeout.String(), "cannot be negative")
	}

	return nil
}

// liveURL builds the BidiGenerateContent websocket URL.
func liveURL(cfg Config) (string, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", NewConfigError("Endpoint", endpoint, "invalid URL format")
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws" // For plain HTTP (mainly for testing)
	}
	version := cfg.APIVersion
	if version == "" {
		version = DefaultAPIVersion
	}
	u.Path = strings.TrimRight(u.Path, "/") +
		"/ws/google.ai.generativelanguage." + version + ".GenerativeService.BidiGenerateContent"
	return u.String(), nil
}
