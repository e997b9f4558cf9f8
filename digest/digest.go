// Package digest implements HTTP digest authentication (RFC 2617, qop=auth)
// for the source WebDAV server.
package digest

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-pkgz/expirable-cache/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Users looks up the HA1 hash of a user.
type Users interface {
	HA1(ctx context.Context, username string) (ha1 string, found bool, err error)
}

// StaticUsers maps usernames to HA1 hashes.
type StaticUsers map[string]string

func (s StaticUsers) HA1(_ context.Context, username string) (string, bool, error) {
	ha1, found := s[username]
	return ha1, found, nil
}

// ComputeHA1 computes the HA1 hash for a user. MD5 is mandated by the
// protocol, so the server should only be reached over a trusted network or
// a TLS terminating proxy.
func ComputeHA1(username, realm, password string) string {
	return md5Hash(fmt.Sprintf("%s:%s:%s", username, realm, password))
}

type userKey struct{}

// User returns the authenticated user of a request context.
func User(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey{}).(string)
	return user, ok
}

type Options struct {
	Realm  string
	Users  Users
	Logger *zap.Logger
	// NonceTTL defaults to 5 minutes.
	NonceTTL time.Duration
	// MaxNonces defaults to 10000. The oldest nonces are dropped first.
	MaxNonces int
}

type Auth struct {
	realm  string
	users  Users
	opaque string
	nonces cache.Cache[string, struct{}]
	logger *zap.Logger
}

func New(opts Options) *Auth {
	if opts.NonceTTL == 0 {
		opts.NonceTTL = 5 * time.Minute
	}
	if opts.MaxNonces == 0 {
		opts.MaxNonces = 10000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Auth{
		realm:  opts.Realm,
		users:  opts.Users,
		opaque: uuid.NewString(),
		nonces: cache.NewCache[string, struct{}]().WithTTL(opts.NonceTTL).WithMaxKeys(opts.MaxNonces),
		logger: opts.Logger,
	}
}

// Wrap returns a handler that only lets authenticated requests through to
// handler. The user is available with User.
func (a *Auth) Wrap(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Digest ") {
			a.challenge(w)
			return
		}
		params := parseHeader(header)
		if _, valid := a.nonces.Get(params["nonce"]); !valid {
			a.logger.Debug("invalid or expired nonce", zap.String("user", params["username"]))
			a.challenge(w)
			return
		}
		ha1, found, err := a.users.HA1(r.Context(), params["username"])
		if err != nil {
			a.logger.Error("looking up user", zap.String("user", params["username"]), zap.Error(err))
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		if !found {
			a.logger.Info("unknown user", zap.String("user", params["username"]))
			a.challenge(w)
			return
		}
		expected := response(params, ha1, r.Method)
		if subtle.ConstantTimeCompare([]byte(params["response"]), []byte(expected)) != 1 {
			a.logger.Info("wrong digest response", zap.String("user", params["username"]))
			a.challenge(w)
			return
		}
		handler.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, params["username"])))
	})
}

func (a *Auth) challenge(w http.ResponseWriter) {
	nonce := uuid.NewString()
	a.nonces.Add(nonce, struct{}{})
	w.Header().Set("WWW-Authenticate", fmt.Sprintf(
		"Digest realm=%q, nonce=%q, opaque=%q, qop=\"auth\"",
		a.realm, nonce, a.opaque,
	))
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// response computes the expected response for the parameters of an
// Authorization header.
func response(params map[string]string, ha1, method string) string {
	ha2 := md5Hash(fmt.Sprintf("%s:%s", method, params["uri"]))
	return md5Hash(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, params["nonce"], params["nc"], params["cnonce"], params["qop"], ha2))
}

func md5Hash(data string) string {
	hash := md5.Sum([]byte(data))
	return hex.EncodeToString(hash[:])
}

func parseHeader(header string) map[string]string {
	params := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(header, "Digest "), ",") {
		if k, v, ok := strings.Cut(strings.TrimSpace(part), "="); ok {
			params[strings.ToLower(k)] = strings.Trim(v, "\"")
		}
	}
	return params
}
