package stubserver

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/getmockd/stubby/pkg/httputil"
	"github.com/getmockd/stubby/pkg/requestlog"
)

// RequestIDHeader carries the request log id on every stubs and TLS response.
const RequestIDHeader = "X-Stubby-Request-Id"

// NotFoundHandler answers every request with 404 and a JSON error body.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "not_found",
			"no stub configured for "+r.Method+" "+r.URL.Path)
	})
}

// EchoResponse is the JSON body written by EchoHandler.
type EchoResponse struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   string              `json:"query,omitempty"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
	TLS     bool                `json:"tls"`
}

// EchoHandler answers with the request it received as JSON.
// A "status" query parameter selects the response status.
func EchoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "read_error", err.Error())
			return
		}

		status := http.StatusOK
		if v := r.URL.Query().Get("status"); v != "" {
			code, err := strconv.Atoi(v)
			if err != nil || code < 100 || code > 999 {
				httputil.WriteError(w, http.StatusBadRequest, "invalid_status", "status must be a number between 100 and 999")
				return
			}
			status = code
		}

		httputil.WriteJSON(w, status, EchoResponse{
			Method:  r.Method,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Headers: r.Header,
			Body:    string(body),
			TLS:     r.TLS != nil,
		})
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// record logs every request served by next into the request log.
func (s *Server) record(listenerName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := uuid.NewString()

		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(r.Body)
			_ = r.Body.Close()
			if err != nil {
				s.log.Debug("failed to read request body", "error", err)
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		w.Header().Set(RequestIDHeader, id)
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		elapsed := time.Since(start)
		s.requests.Log(&requestlog.Entry{
			ID:             id,
			Timestamp:      start,
			Listener:       listenerName,
			Method:         r.Method,
			Path:           r.URL.Path,
			Query:          r.URL.RawQuery,
			Headers:        r.Header.Clone(),
			Body:           requestlog.TruncateBody(body),
			BodySize:       len(body),
			RemoteAddr:     r.RemoteAddr,
			ResponseStatus: rec.status,
			DurationMs:     elapsed.Milliseconds(),
		})
		s.log.Debug("request served",
			"id", id,
			"listener", listenerName,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", elapsed,
		)
	})
}
