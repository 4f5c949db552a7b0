package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

const ctxRawBodyKey contextKey = "raw_body"

// DefaultMaxBodyBytes caps webhook bodies when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// RawBody reads the request body once, rejecting bodies over maxBytes with
// 413, and stores the exact bytes in context for signature verification.
// r.Body is replaced so downstream handlers can re-read it.
func RawBody(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			r.Body.Close()
			if err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					http.Error(w, `{"error":"request body too large"}`, http.StatusRequestEntityTooLarge)
					return
				}
				http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
				return
			}
			if len(bodyBytes) == 0 {
				http.Error(w, `{"error":"empty body"}`, http.StatusBadRequest)
				return
			}
			// Restore body for the handler.
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

			ctx := context.WithValue(r.Context(), ctxRawBodyKey, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RawBodyFromCtx returns the bytes captured by RawBody, or nil if not set.
func RawBodyFromCtx(ctx context.Context) []byte {
	b, _ := ctx.Value(ctxRawBodyKey).([]byte)
	return b
}
