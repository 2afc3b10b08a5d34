package api

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mainteno/fieldsync/internal/idempotency"
)

// chain applies middleware left-to-right around a handler.
func chain(h http.Handler, mw ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// recoveryMiddleware catches panics and returns a 500 response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request with method, path, status, and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sc, r)
		slog.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sc.code,
			"dur", time.Since(start),
		)
	})
}

// maxBytesMiddleware limits request body size.
func maxBytesMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// statusCapture wraps ResponseWriter to capture the status code.
type statusCapture struct {
	http.ResponseWriter
	code int
}

func (sc *statusCapture) WriteHeader(code int) {
	sc.code = code
	sc.ResponseWriter.WriteHeader(code)
}

// tenantID extracts the tenant from the request.
func tenantID(r *http.Request) string {
	return r.Header.Get("X-Tenant-ID")
}

// requireTenant rejects requests without a tenant header. Every idempotency
// record and document row is tenant-scoped.
func (s *Server) requireTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tenantID(r) == "" {
			writeError(w, http.StatusBadRequest, ErrCodeMissingTenant, "X-Tenant-ID header is required")
			return
		}
		next(w, r)
	}
}

// recordingWriter buffers the response so the idempotency store can keep the
// outcome for replay.
type recordingWriter struct {
	http.ResponseWriter
	code int
	buf  bytes.Buffer
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.code = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(p []byte) (int, error) {
	rw.buf.Write(p)
	return rw.ResponseWriter.Write(p)
}

// withIdempotency deduplicates mutation deliveries carrying an
// Idempotency-Key header. A repeat with a matching request hash returns the
// stored outcome verbatim without re-executing; a repeat with a different
// hash for the same token is a client defect and is rejected outright.
// Server errors (5xx) are not recorded, so a retry re-executes.
func (s *Server) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Idempotency-Key")
		if token == "" {
			next(w, r)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		tenant := tenantID(r)
		hash := idempotency.RequestHash(r.Method, r.URL.Path, body)

		rec, err := s.idem.Lookup(tenant, token, hash)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, ErrCodeTokenReuse,
				"idempotency token was already used for a different request")
			return
		}
		if rec != nil {
			slog.Debug("idempotent replay", "tenant", tenant, "status", rec.StatusCode)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotent-Replay", "true")
			w.WriteHeader(rec.StatusCode)
			w.Write(rec.Body)
			return
		}

		rw := &recordingWriter{ResponseWriter: w, code: http.StatusOK}
		next(rw, r)

		if rw.code < 500 {
			s.idem.Save(tenant, token, hash, rw.code, rw.buf.Bytes())
		}
	}
}
