package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/caregrid/accessgate/pkg/contextkeys"
)

// HeaderRequestID carries the request ID in both directions
const HeaderRequestID = "X-Request-ID"

const maxRequestIDLength = 128

// RequestIDMiddleware assigns every request an ID, reusing a sane incoming X-Request-ID.
// The ID is echoed in the response; observability.FromContext picks it up for log fields.
func RequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(HeaderRequestID)
			if requestID == "" || len(requestID) > maxRequestIDLength {
				requestID = uuid.New().String()
			}

			w.Header().Set(HeaderRequestID, requestID)

			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
