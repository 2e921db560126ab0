package transport

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sanjabh11/consultflow/internal/config"
	"github.com/sanjabh11/consultflow/model"
)

// Identity headers read in header mode. They are only trustworthy behind a
// gateway that strips them from client traffic.
const (
	HeaderSubjectID    = "X-Subject-Id"
	HeaderSubjectEmail = "X-Subject-Email"
	HeaderSubjectName  = "X-Subject-Name"
	HeaderRoles        = "X-Roles"
)

// NewAuthenticator builds the authentication middleware for cfg.Mode.
func NewAuthenticator(cfg config.IdentityConfig) (func(http.Handler) http.Handler, error) {
	switch cfg.Mode {
	case config.IdentityHeader, "":
		return HeaderAuthenticator, nil
	case config.IdentityJWT:
		key, err := loadVerificationKey(cfg)
		if err != nil {
			return nil, err
		}
		return JWTAuthenticator(cfg, key), nil
	default:
		return nil, fmt.Errorf("unsupported identity mode %q", cfg.Mode)
	}
}

// loadVerificationKey returns the PEM public key when one is configured and
// the shared HMAC secret otherwise.
func loadVerificationKey(cfg config.IdentityConfig) (any, error) {
	if cfg.PublicKeyFile != "" {
		data, err := os.ReadFile(cfg.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading public key %s: %w", cfg.PublicKeyFile, err)
		}
		if key, err := jwt.ParseRSAPublicKeyFromPEM(data); err == nil {
			return key, nil
		}
		key, err := jwt.ParseECPublicKeyFromPEM(data)
		if err != nil {
			return nil, fmt.Errorf("parsing public key %s: not an RSA or EC public key", cfg.PublicKeyFile)
		}
		return key, nil
	}

	secret := os.Getenv(cfg.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("identity secret env %s is empty", cfg.SecretEnv)
	}
	return []byte(secret), nil
}

// HeaderAuthenticator trusts identity headers set by an upstream gateway.
func HeaderAuthenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.Header.Get(HeaderSubjectID))
		if subject == "" {
			WriteError(w, model.NewUnauthorizedError("Missing "+HeaderSubjectID+" header"))
			return
		}
		claims := map[string]any{
			"sub":   subject,
			"email": r.Header.Get(HeaderSubjectEmail),
			"name":  r.Header.Get(HeaderSubjectName),
			"roles": splitList(r.Header.Get(HeaderRoles)),
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

// JWTAuthenticator returns middleware that verifies bearer tokens against
// key ([]byte secret, *rsa.PublicKey or *ecdsa.PublicKey) and stores the
// verified claims in the request context. Browsers cannot set headers on
// websocket upgrades, so an access_token query parameter is accepted too.
func JWTAuthenticator(cfg config.IdentityConfig, key any) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithLeeway(cfg.Leeway),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	keyFunc := func(*jwt.Token) (any, error) { return key, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, problem := bearerToken(r)
			if problem != "" {
				WriteError(w, model.NewUnauthorizedError(problem))
				return
			}

			token, err := jwt.Parse(tokenStr, keyFunc, opts...)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(classifyJWTError(err)))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}

			ctx := WithClaims(r.Context(), map[string]any(claims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the token or a client-facing reason it is missing.
func bearerToken(r *http.Request) (token, problem string) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		if t := r.URL.Query().Get("access_token"); t != "" && r.Method == http.MethodGet {
			return t, ""
		}
		return "", "Missing authorization header"
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", "Invalid authorization header format"
	}
	return auth[len("Bearer "):], ""
}

func classifyJWTError(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "Token is missing a required claim"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Disallowed signing algorithm"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	default:
		return "Invalid token"
	}
}
