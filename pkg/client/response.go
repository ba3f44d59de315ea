package client

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Response is a fully-read reply from the server.
// Non-2xx statuses are ordinary responses; the caller interprets StatusCode.
type Response struct {
	statusCode    int
	statusMessage string
	headers       http.Header
	body          string
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int { return r.statusCode }

// StatusMessage returns the reason phrase, e.g. "Not Found".
func (r *Response) StatusMessage() string { return r.statusMessage }

// Body returns the response body. It is empty, never absent, when the server sent none.
func (r *Response) Body() string { return r.body }

// Header returns the first value of the named header.
func (r *Response) Header(name string) string { return r.headers.Get(name) }

// Headers returns a copy of all response headers.
func (r *Response) Headers() http.Header { return r.headers.Clone() }

// String formats the status line, e.g. "404 Not Found".
func (r *Response) String() string {
	return strconv.Itoa(r.statusCode) + " " + r.statusMessage
}

// Materialize reads the status line, headers and the whole body from a
// connected Connection. The caller still owns the connection and must
// Disconnect it, including when Materialize fails.
func Materialize(conn *Connection) (*Response, error) {
	if conn.resp == nil {
		return nil, errors.New("connection has no response: call Connect first")
	}
	resp := conn.resp

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read", URL: conn.url, Err: err}
	}

	return &Response{
		statusCode:    resp.StatusCode,
		statusMessage: reasonPhrase(resp),
		headers:       resp.Header.Clone(),
		body:          string(data),
	}, nil
}

// reasonPhrase extracts the phrase the server sent, falling back to the
// standard text for the code.
func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if phrase, ok := strings.CutPrefix(resp.Status, prefix); ok {
		return phrase
	}
	return http.StatusText(resp.StatusCode)
}
