package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned by verifiers for any token they reject.
var ErrUnauthorized = errors.New("observe: invalid token")

// Verifier checks a bearer token.
type Verifier interface {
	Verify(ctx context.Context, raw string) error
}

// Token types accepted by OIDCConfig.TokenType.
const (
	TokenTypeID     = "id"
	TokenTypeAccess = "access"
)

// OIDCConfig describes the identity provider guarding the observer.
type OIDCConfig struct {
	Issuer   string
	Audience string
	// TokenType is "id" for ID tokens or "access" for JWT access tokens.
	// Empty means "access".
	TokenType string
	// RefreshInterval controls how often JWKS keys are refetched for access
	// tokens. Zero means one hour.
	RefreshInterval time.Duration
}

// NewOIDCVerifier discovers the issuer and returns a verifier for its tokens.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (Verifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("observe: issuer and audience are required")
	}
	prov, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	switch cfg.TokenType {
	case TokenTypeID:
		return &idTokenVerifier{v: prov.Verifier(&oidc.Config{ClientID: cfg.Audience})}, nil
	case "", TokenTypeAccess:
	default:
		return nil, fmt.Errorf("observe: unknown token type %q", cfg.TokenType)
	}

	var disc struct {
		JWKSURI string `json:"jwks_uri"`
	}
	if err := prov.Claims(&disc); err != nil || disc.JWKSURI == "" {
		return nil, fmt.Errorf("failed to discover jwks_uri: %v", err)
	}
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = time.Hour
	}
	jwks, err := keyfunc.Get(disc.JWKSURI, keyfunc.Options{
		Ctx:             ctx,
		RefreshInterval: refresh,
		RefreshTimeout:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	return NewJWTVerifier(jwks.Keyfunc, cfg.Issuer, cfg.Audience), nil
}

type idTokenVerifier struct {
	v *oidc.IDTokenVerifier
}

func (v *idTokenVerifier) Verify(ctx context.Context, raw string) error {
	if _, err := v.v.Verify(ctx, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

type jwtVerifier struct {
	keyfunc  jwt.Keyfunc
	issuer   string
	audience string
}

// NewJWTVerifier checks JWT access tokens against keys from keyfunc and the
// given issuer and audience.
func NewJWTVerifier(kf jwt.Keyfunc, issuer, audience string) Verifier {
	return &jwtVerifier{keyfunc: kf, issuer: issuer, audience: audience}
}

func (v *jwtVerifier) Verify(ctx context.Context, raw string) error {
	tok, err := jwt.Parse(raw, v.keyfunc, jwt.WithAudience(v.audience), jwt.WithIssuer(v.issuer))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if !tok.Valid {
		return ErrUnauthorized
	}
	return nil
}

// bearer extracts the token from the Authorization header, falling back to
// the access_token query parameter browsers use for websockets.
func bearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return r.URL.Query().Get("access_token")
}

// auth rejects requests without a valid bearer token. A nil verifier
// disables the check.
func (s *Server) auth(next http.Handler) http.Handler {
	if s.opts.Verifier == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r)
		if raw == "" {
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		if err := s.opts.Verifier.Verify(r.Context(), raw); err != nil {
			s.log.Warn("observer_auth_rejected", map[string]any{"path": r.URL.Path, "err": err.Error()})
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// cors answers preflight requests and sets the allow headers for permitted
// origins. No configured origins allows any origin.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
