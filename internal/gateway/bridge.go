// ABOUTME: net/http bridge that hands each request to the event loop and waits for its response
// ABOUTME: Reads bounded bodies, derives the client IP and writes Connection: close responses

package gateway

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
)

// MaxBodyBytes bounds request bodies. Larger requests are answered 400.
const MaxBodyBytes = 16 << 10

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := g.readRequest(w, r)
	ex := newExchange(req)

	select {
	case g.inbound <- ex:
	case <-g.done:
		writeResponse(w, errorResponse(http.StatusServiceUnavailable, "gateway shutting down"))
		return
	case <-r.Context().Done():
		return
	}

	select {
	case resp := <-ex.reply:
		writeResponse(w, resp)
	case <-r.Context().Done():
		g.logger.Debug("client went away before response", "path", req.Path)
	}
}

func (g *Gateway) readRequest(w http.ResponseWriter, r *http.Request) *Request {
	req := &Request{
		Method:   r.Method,
		Path:     r.URL.Path,
		Header:   r.Header,
		ClientIP: extractClientIP(r.RemoteAddr),
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			g.logger.Debug("request body too large", "path", req.Path, "limit", maxErr.Limit)
		}
		req.Malformed = true
	}
	req.Body = body
	return req
}

// extractClientIP returns the host part of addr, or addr itself when it has no port.
func extractClientIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func writeResponse(w http.ResponseWriter, resp *Response) {
	h := w.Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if resp.ContentType != "" {
		h.Set("Content-Type", resp.ContentType)
	}
	h.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	h.Set("Connection", "close")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
