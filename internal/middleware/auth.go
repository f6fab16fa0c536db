package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/AlarmRelay/internal/config"
	"github.com/Strob0t/AlarmRelay/internal/secrets"
)

// Realm is announced in the authentication challenge.
const Realm = "alarmrelay"

// publicPaths are exempt from authentication.
var publicPaths = map[string]bool{
	"/health": true,
}

// CredentialSource supplies the active shared-secret configuration. The
// version changes whenever the credentials are replaced.
type CredentialSource interface {
	Current() (config.Auth, uint64)
}

// SharedSecret returns middleware gated on fixed credentials. See
// SharedSecretFrom.
func SharedSecret(cfg config.Auth, onReject func(*http.Request)) (func(http.Handler) http.Handler, error) {
	vault, err := secrets.NewVault(secrets.Static(cfg))
	if err != nil {
		return nil, err
	}
	return SharedSecretFrom(vault, onReject), nil
}

// SharedSecretFrom returns middleware that admits requests presenting the
// configured secret as the password of HTTP Basic credentials, as a Bearer
// token, or as a token query parameter. The query parameter exists for
// browser EventSource and WebSocket clients, which cannot set headers.
//
// Credentials are read from src on every request, so a reload takes effect
// without rebuilding the router. When neither a secret nor a secret hash is
// configured the middleware passes every request through. onReject, if not
// nil, is called for every rejected request.
func SharedSecretFrom(src CredentialSource, onReject func(*http.Request)) func(http.Handler) http.Handler {
	var current atomic.Pointer[verifier]

	verifierFor := func() *verifier {
		auth, version := src.Current()
		if v := current.Load(); v != nil && v.version == version {
			return v
		}
		v := newVerifier(auth, version)
		current.Store(v)
		return v
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicPaths[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			v := verifierFor()
			if !v.enabled() {
				next.ServeHTTP(w, r)
				return
			}
			if c, ok := credentials(r); ok && v.userOK(c) && v.secretOK(c.secret) {
				next.ServeHTTP(w, r)
				return
			}

			if onReject != nil {
				onReject(r)
			}
			w.Header().Set("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", Realm))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
		})
	}
}

type credential struct {
	basic  bool
	user   string
	secret string
}

// credentials extracts the presented credential. A user name is only
// carried by HTTP Basic.
func credentials(r *http.Request) (credential, bool) {
	if u, p, ok := r.BasicAuth(); ok {
		return credential{basic: true, user: u, secret: p}, true
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if token, found := strings.CutPrefix(h, "Bearer "); found && token != "" {
			return credential{secret: token}, true
		}
		return credential{}, false
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return credential{secret: token}, true
	}
	return credential{}, false
}

type verifier struct {
	version  uint64
	username string
	secret   []byte
	hash     []byte

	// digest of the last secret that matched hash, so bcrypt runs once per
	// distinct secret rather than once per request.
	verified atomic.Pointer[[sha256.Size]byte]
}

// newVerifier trusts that the hash was validated when the credentials were
// loaded.
func newVerifier(cfg config.Auth, version uint64) *verifier {
	v := &verifier{version: version, username: cfg.Username}
	if cfg.SecretHash != "" {
		v.hash = []byte(cfg.SecretHash)
	} else if cfg.Secret != "" {
		v.secret = []byte(cfg.Secret)
	}
	return v
}

func (v *verifier) enabled() bool {
	return v.hash != nil || v.secret != nil
}

// userOK accepts any user name when none is configured. Bearer and query
// credentials carry no user name and pass this check.
func (v *verifier) userOK(c credential) bool {
	if v.username == "" || !c.basic {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(c.user), []byte(v.username)) == 1
}

func (v *verifier) secretOK(secret string) bool {
	if v.hash == nil {
		return subtle.ConstantTimeCompare([]byte(secret), v.secret) == 1
	}

	sum := sha256.Sum256([]byte(secret))
	if cached := v.verified.Load(); cached != nil && subtle.ConstantTimeCompare(sum[:], cached[:]) == 1 {
		return true
	}
	if bcrypt.CompareHashAndPassword(v.hash, []byte(secret)) != nil {
		return false
	}
	v.verified.Store(&sum)
	return true
}
