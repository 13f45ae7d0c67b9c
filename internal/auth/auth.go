// Package auth guards the HTTP surface with a shared API key.
package auth

import (
	"net/http"

	"go.uber.org/zap"
)

type Authenticator interface {
	Authenticator(next http.Handler) http.Handler
}

// NewAuthenticator picks the authenticator for the configured key. An empty
// key disables authentication entirely.
func NewAuthenticator(apiKey string) Authenticator {
	if apiKey == "" {
		zap.S().Named("auth").Warn("no API key configured, authentication disabled")
		return NewNoneAuthenticator()
	}
	return NewAPIKeyAuthenticator(apiKey)
}
