// Package auth resolves the rate-limit identity of a request from its bearer
// token. Verification is an ordered chain of checks; the first failing check
// decides the returned ErrorKind.
package auth

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"api-gateway/internal/common/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Config describes how tokens are verified.
type Config struct {
	// Secret is the HMAC secret for HS* algorithms, or a PEM encoded public
	// key for RS*, PS* and ES* algorithms.
	Secret         string
	Algorithm      string
	Audience       string
	Issuer         string
	AllowAnonymous bool
	Leeway         time.Duration
}

// Identity is the partition key used by the rate limiter.
type Identity struct {
	Key       string
	Subject   string
	Anonymous bool
}

func (i Identity) String() string {
	return i.Key
}

// Claims are the token claims the resolver reads.
type Claims struct {
	jwt.RegisteredClaims
}

type Resolver struct {
	config Config
	key    interface{}
	parser *jwt.Parser
	now    func() time.Time
}

// NewResolver prepares the verification key for the configured algorithm.
func NewResolver(config Config) (*Resolver, error) {
	if config.Algorithm == "" {
		config.Algorithm = jwt.SigningMethodHS256.Alg()
	}
	config.Algorithm = strings.ToUpper(config.Algorithm)

	if config.Secret == "" {
		return nil, errors.ConfigError("JWT secret is required")
	}
	if config.Issuer == "" {
		return nil, errors.ConfigError("JWT issuer is required")
	}
	if config.Audience == "" {
		return nil, errors.ConfigError("JWT audience is required")
	}

	key, err := verificationKey(config.Algorithm, config.Secret)
	if err != nil {
		return nil, err
	}

	return &Resolver{
		config: config,
		key:    key,
		// Claims are checked by Resolve in a fixed order instead.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{config.Algorithm}),
			jwt.WithoutClaimsValidation(),
		),
		now: time.Now,
	}, nil
}

func verificationKey(alg, secret string) (interface{}, error) {
	switch {
	case strings.HasPrefix(alg, "HS"):
		return []byte(secret), nil
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(secret))
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("JWT_SECRET is not an RSA public key: %v", err))
		}
		return key, nil
	case strings.HasPrefix(alg, "ES"):
		key, err := jwt.ParseECPublicKeyFromPEM([]byte(secret))
		if err != nil {
			return nil, errors.ConfigError(fmt.Sprintf("JWT_SECRET is not an EC public key: %v", err))
		}
		return key, nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported JWT algorithm %q", alg))
	}
}

// AllowsAnonymous reports whether requests without a token are admitted.
func (r *Resolver) AllowsAnonymous() bool {
	return r.config.AllowAnonymous
}

// Resolve verifies token and returns the caller's identity. clientAddr is
// used only for anonymous callers. Every failure is an *Error.
func (r *Resolver) Resolve(token, clientAddr string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		if r.config.AllowAnonymous {
			return Identity{Key: "ip:" + clientAddr, Anonymous: true}, nil
		}
		return Identity{}, newError(MissingToken, nil)
	}

	claims := &Claims{}
	_, err := r.parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return r.key, nil
	})
	if err != nil {
		return Identity{}, classifyParseError(err)
	}

	if claims.Issuer != r.config.Issuer {
		return Identity{}, newError(IssuerMismatch, fmt.Errorf("got %q", claims.Issuer))
	}

	if !containsAudience(claims.Audience, r.config.Audience) {
		return Identity{}, newError(AudienceMismatch, fmt.Errorf("got %v", []string(claims.Audience)))
	}

	if claims.ExpiresAt == nil {
		return Identity{}, newError(MalformedToken, fmt.Errorf("exp claim is required"))
	}
	if !r.now().Before(claims.ExpiresAt.Add(r.config.Leeway)) {
		return Identity{}, newError(Expired, fmt.Errorf("expired at %s", claims.ExpiresAt.UTC().Format(time.RFC3339)))
	}

	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, newError(MalformedToken, fmt.Errorf("sub claim is required"))
	}

	return Identity{Key: "user:" + claims.Subject, Subject: claims.Subject}, nil
}

func classifyParseError(err error) *Error {
	switch {
	case stderrors.Is(err, jwt.ErrTokenSignatureInvalid),
		stderrors.Is(err, jwt.ErrTokenUnverifiable),
		stderrors.Is(err, jwt.ErrSignatureInvalid):
		return newError(BadSignature, err)
	default:
		return newError(MalformedToken, err)
	}
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
