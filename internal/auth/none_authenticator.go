package auth

import "net/http"

// NoneAuthenticator accepts every request.
type NoneAuthenticator struct{}

func NewNoneAuthenticator() *NoneAuthenticator {
	return &NoneAuthenticator{}
}

func (a *NoneAuthenticator) Authenticator(next http.Handler) http.Handler {
	return next
}
