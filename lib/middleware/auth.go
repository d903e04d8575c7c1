package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/axonhttp/axon/lib/web"
)

// BasicAuth guards the downstream pipeline with http basic auth. Allowed
// entries are "user:bcrypt-hash" pairs. Requests failing the check get a 401
// with a challenge header and never reach the wrapped middleware.
func BasicAuth(realm string, allowed []string) web.Handler {
	if realm == "" {
		realm = "restricted"
	}
	challenge := `Basic realm="` + realm + `", charset="UTF-8"`

	return func(c *web.Context, next web.Next) error {
		user, passwd, ok := c.Request.BasicAuth()
		if !ok || !validateCredentials(user, passwd, allowed) {
			err := web.NewError(http.StatusUnauthorized, "unauthorized")
			err.Header = http.Header{"Www-Authenticate": []string{challenge}}
			return err
		}
		c.State["auth_user"] = user
		return next()
	}
}

// validateCredentials checks a username:password pair against the allowed
// user:hash list in constant time.
func validateCredentials(username, password string, allowed []string) bool {
	if username == "" {
		return false
	}
	passed := false
	usernameHash := sha256.Sum256([]byte(username))
	for _, a := range allowed {
		elems := strings.SplitN(strings.TrimSpace(a), ":", 2)
		if len(elems) != 2 || elems[0] == "" {
			continue
		}

		// hash to keep the compare time independent of username length
		expectedUsernameHash := sha256.Sum256([]byte(elems[0]))

		userMatched := subtle.ConstantTimeCompare(usernameHash[:], expectedUsernameHash[:])
		passMatchErr := bcrypt.CompareHashAndPassword([]byte(elems[1]), []byte(password))
		if userMatched == 1 && passMatchErr == nil {
			passed = true // keep scanning so timing doesn't reveal the matching entry
		}
	}
	return passed
}
