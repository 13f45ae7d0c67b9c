package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	api "github.com/corestructure/remote-ocr/api/v1alpha1"
)

// HeaderAPIKey is the header clients authenticate with.
const HeaderAPIKey = "X-API-Key"

// APIKeyAuthenticator rejects requests whose X-API-Key header does not match
// the configured key. The health probe stays open.
type APIKeyAuthenticator struct {
	key []byte
}

func NewAPIKeyAuthenticator(key string) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{key: []byte(key)}
}

func (a *APIKeyAuthenticator) Authenticator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		provided := []byte(r.Header.Get(HeaderAPIKey))
		if subtle.ConstantTimeCompare(provided, a.key) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(api.Error{Kind: "unauthorized", Message: "missing or invalid API key"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
