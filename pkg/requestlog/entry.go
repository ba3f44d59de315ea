package requestlog

import "time"

// Listener names recorded on entries.
const (
	ListenerStubs = "stubs"
	ListenerTLS   = "tls"
)

// Entry captures one request and the status it was answered with.
type Entry struct {
	ID         string              `json:"id"`
	Timestamp  time.Time           `json:"timestamp"`
	Listener   string              `json:"listener"`
	Method     string              `json:"method"`
	Path       string              `json:"path"`
	Query      string              `json:"query,omitempty"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body,omitempty"`
	BodySize   int                 `json:"bodySize"`
	RemoteAddr string              `json:"remoteAddr"`

	ResponseStatus int   `json:"responseStatus"`
	DurationMs     int64 `json:"durationMs"`
}

// MaxBodySize is how much of a request body an Entry keeps.
const MaxBodySize = 10 * 1024

// TruncateBody shortens body to MaxBodySize.
func TruncateBody(body []byte) string {
	if len(body) > MaxBodySize {
		return string(body[:MaxBodySize])
	}
	return string(body)
}
