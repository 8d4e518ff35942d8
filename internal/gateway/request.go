// ABOUTME: Transport-neutral request and response values passed to the dispatcher
// ABOUTME: Includes JSON and plain-text response builders

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// Request is one inbound HTTP exchange as seen by the dispatcher.
type Request struct {
	Method   string
	Path     string
	Header   http.Header
	Body     []byte
	ClientIP string

	// Malformed is set when the body could not be read or exceeded the limit.
	Malformed bool
}

// Response is the dispatcher's answer to a Request.
type Response struct {
	Status      int
	ContentType string
	Header      http.Header
	Body        []byte

	// deferred finishes the response off the event loop.
	deferred func(ctx context.Context) *Response
}

// exchange pairs a request with the channel its response goes back on.
type exchange struct {
	req   *Request
	reply chan *Response
}

func newExchange(req *Request) *exchange {
	return &exchange{req: req, reply: make(chan *Response, 1)}
}

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// jsonResponse encodes v as the body. Encoding failures become a 500.
func jsonResponse(status int, v any) *Response {
	body, err := json.Marshal(v)
	if err != nil {
		return &Response{
			Status:      http.StatusInternalServerError,
			ContentType: contentTypeJSON,
			Body:        []byte(`{"error":"internal server error"}`),
		}
	}
	return &Response{Status: status, ContentType: contentTypeJSON, Body: body}
}

func errorResponse(status int, message string) *Response {
	return jsonResponse(status, map[string]string{"error": message})
}

func textResponse(status int, body string) *Response {
	return &Response{Status: status, ContentType: contentTypeText, Body: []byte(body)}
}

func lockedResponse(retryAfter int) *Response {
	resp := jsonResponse(http.StatusTooManyRequests, map[string]any{
		"error":       "auth locked",
		"retry_after": retryAfter,
	})
	resp.Header = http.Header{}
	resp.Header.Set("Retry-After", strconv.Itoa(retryAfter))
	return resp
}
