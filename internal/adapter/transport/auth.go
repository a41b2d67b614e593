package transport

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"deskbridge/internal/domain"
)

// Authenticator validates incoming renderer connections and returns the
// name of the matching credential.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// TokenEntry is one accepted bearer token.
type TokenEntry struct {
	Name  string
	Token string
}

// StaticTokenAuth authenticates renderers against a static token list
// using constant-time comparison.
type StaticTokenAuth struct {
	entries []TokenEntry
}

// NewStaticTokenAuth builds an authenticator from a set of token entries.
func NewStaticTokenAuth(entries []TokenEntry) *StaticTokenAuth {
	return &StaticTokenAuth{entries: append([]TokenEntry(nil), entries...)}
}

// Authenticate returns the entry name if the token is valid. Every entry is
// compared so the timing does not reveal which one matched.
func (s *StaticTokenAuth) Authenticate(token string) (string, error) {
	tok := []byte(token)
	name := ""
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tok, []byte(e.Token)) == 1 && name == "" {
			name = e.Name
		}
	}
	if name == "" {
		return "", domain.ErrAuthInvalid
	}
	return name, nil
}

// requestToken reads the bearer token from the Authorization header or,
// failing that, the token query parameter.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}
