package middleware

import (
	"net/http"

	"github.com/corestructure/remote-ocr/pkg/requestid"
)

const requestIDHeader = "X-Request-Id"

// RequestID takes the request ID from the X-Request-Id header or generates a
// fresh one, and injects it into the request context so every layer below
// logs with the same correlation id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" {
			reqID = requestid.Generate()
		}

		ctx := requestid.ToContext(r.Context(), reqID)
		w.Header().Set(requestIDHeader, reqID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
