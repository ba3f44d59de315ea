package stubserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/getmockd/stubby/pkg/httputil"
	"github.com/getmockd/stubby/pkg/requestlog"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	ID           string    `json:"id"`
	Running      bool      `json:"running"`
	StartedAt    time.Time `json:"startedAt"`
	Uptime       int64     `json:"uptime"` // seconds
	StubsPort    int       `json:"stubsPort"`
	AdminPort    int       `json:"adminPort"`
	TLSPort      int       `json:"tlsPort,omitempty"`
	RequestCount int       `json:"requestCount"`
}

// RequestsResponse is the body of GET /requests.
type RequestsResponse struct {
	Requests []*requestlog.Entry `json:"requests"`
	Count    int                 `json:"count"`
}

func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/requests", s.handleRequests)
	mux.HandleFunc("/requests/{id}", s.handleRequest)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}

	s.mu.RLock()
	resp := StatusResponse{
		ID:        s.id,
		Running:   s.running,
		StartedAt: s.startTime,
		StubsPort: s.portLocked(requestlog.ListenerStubs),
		AdminPort: s.portLocked("admin"),
		TLSPort:   s.portLocked(requestlog.ListenerTLS),
	}
	s.mu.RUnlock()

	resp.Uptime = int64(s.uptime().Seconds())
	resp.RequestCount = s.requests.Count()
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleRequests lists (GET) or clears (DELETE) the request log.
// GET accepts method, path, listener, status and limit query parameters.
func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := parseFilter(r)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid_filter", err.Error())
			return
		}
		entries := s.requests.List(filter)
		httputil.WriteJSON(w, http.StatusOK, RequestsResponse{Requests: entries, Count: len(entries)})
	case http.MethodDelete:
		s.requests.Clear()
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.WriteMethodNotAllowed(w, "GET, DELETE")
	}
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.WriteMethodNotAllowed(w, http.MethodGet)
		return
	}
	id := r.PathValue("id")
	entry := s.requests.Get(id)
	if entry == nil {
		httputil.WriteError(w, http.StatusNotFound, "not_found", "request not found: "+id)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

type filterError struct {
	param, value string
}

func (e *filterError) Error() string {
	return "invalid " + e.param + " " + strconv.Quote(e.value)
}

func parseFilter(r *http.Request) (*requestlog.Filter, error) {
	q := r.URL.Query()
	filter := &requestlog.Filter{
		Method:   q.Get("method"),
		Path:     q.Get("path"),
		Listener: q.Get("listener"),
	}
	for param, dst := range map[string]*int{"status": &filter.StatusCode, "limit": &filter.Limit} {
		v := q.Get(param)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, &filterError{param: param, value: v}
		}
		*dst = n
	}
	return filter, nil
}
