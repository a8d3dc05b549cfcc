package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sta-electricity/outagesync/internal/api"
)

// maxRequestIDLength bounds client supplied ids echoed into logs.
const maxRequestIDLength = 128

type requestIDContextKey struct{}

// RequestIDMiddleware sets X-Request-ID on every response, reusing a
// client supplied id when present.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(api.HeaderRequestID)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.NewString()
		}
		w.Header().Set(api.HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDContextKey{}, id)))
	})
}

// GetRequestID returns the request id stored by RequestIDMiddleware.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}
