package server

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AuthConfig controls how requests under the API base path identify their actor.
// A bearer JWT always wins; the X-Actor-Id header is honoured only when
// AllowActorHeader is set.
type AuthConfig struct {
	JWTSecret        string
	AllowActorHeader bool
	Logger           *zap.Logger
}

const actorHeader = "X-Actor-Id"

var (
	errNoSecret   = errors.New("jwt secret not configured")
	errNoSubject  = errors.New("token has no subject")
	errBadScheme  = errors.New("authorization scheme is not bearer")
	errAnonymous  = errors.New("no credentials")
	errHeaderOnly = errors.New("actor header not accepted")
)

type actorKey struct{}

// actorClaims is the token body; only sub is meaningful.
type actorClaims struct {
	jwt.RegisteredClaims
}

// IssueToken signs an HS256 token whose subject is actorID.
func IssueToken(secret, actorID string) (string, error) {
	claims := actorClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: actorID}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// actorIDFromContext returns the actor placed on ctx by the auth middleware.
func actorIDFromContext(ctx context.Context) (string, huma.StatusError) {
	if id, _ := ctx.Value(actorKey{}).(string); id != "" {
		return id, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

type authenticator struct {
	secret      []byte
	allowHeader bool
	parser      *jwt.Parser
	log         *zap.Logger
}

func newAuthenticator(cfg AuthConfig) authenticator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return authenticator{
		secret:      []byte(strings.TrimSpace(cfg.JWTSecret)),
		allowHeader: cfg.AllowActorHeader,
		parser:      jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		log:         log.Named("auth"),
	}
}

func (a authenticator) verify(raw string) (string, error) {
	if len(a.secret) == 0 {
		return "", errNoSecret
	}
	var claims actorClaims
	if _, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}); err != nil {
		return "", errors.Wrap(err, "parse token")
	}
	if claims.Subject == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

// resolve picks the actor for r. A rejected bearer credential yields
// invalid_credentials; a request carrying nothing usable yields unauthorized.
func (a authenticator) resolve(r *http.Request) (string, huma.StatusError) {
	if authz := strings.TrimSpace(r.Header.Get("Authorization")); authz != "" {
		scheme, token, found := strings.Cut(authz, " ")
		token = strings.TrimSpace(token)
		var (
			actor string
			err   error = errBadScheme
		)
		if found && strings.EqualFold(scheme, "bearer") && token != "" {
			actor, err = a.verify(token)
		}
		if err != nil {
			a.log.Debug("bearer credential rejected", zap.Error(err))
			return "", newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
		}
		return actor, nil
	}

	reason := errAnonymous
	if id := strings.TrimSpace(r.Header.Get(actorHeader)); id != "" {
		if a.allowHeader {
			a.log.Debug("actor from header", zap.String("actor_id", id))
			return id, nil
		}
		reason = errHeaderOnly
	}
	a.log.Debug("request unauthenticated", zap.Error(reason), zap.String("path", r.URL.Path))
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// newAuthMiddleware guards every route under basePath except health.
func newAuthMiddleware(basePath string, cfg AuthConfig) func(http.Handler) http.Handler {
	a := newAuthenticator(cfg)
	open := path.Join(basePath, "health")
	guarded := func(p string) bool {
		if p == open {
			return false
		}
		return basePath == "" || strings.HasPrefix(p, basePath)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !guarded(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			actor, rejection := a.resolve(r)
			if rejection != nil {
				writeEnvelope(w, rejection)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

// writeEnvelope renders err outside of huma, as the middleware runs before routing.
func writeEnvelope(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
