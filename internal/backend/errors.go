package backend

import (
	"errors"
	"fmt"
)

// HTTPError is returned for every non-2xx response.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Status     string // reason phrase, e.g. "Not Found"
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s -> %d %s", e.Method, e.URL, e.StatusCode, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// ContentTypeError is returned when a 2xx response carries a body that is not
// of the expected media type. The body is never parsed.
type ContentTypeError struct {
	Method      string
	URL         string
	ContentType string
	Body        string
}

func (e *ContentTypeError) Error() string {
	msg := fmt.Sprintf("%s %s -> unexpected content-type: %q", e.Method, e.URL, e.ContentType)
	if e.Body != "" {
		msg += ", body: " + e.Body
	}
	return msg
}

// StatusCode extracts the HTTP status from err, or 0 when err is not an *HTTPError.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}
