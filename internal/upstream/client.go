package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Response is a buffered upstream reply.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client forwards requests to Pylon's single configured downstream,
// mirroring original_source/pylon/services/proxy.py's ProxyService.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *CircuitBreaker
}

func NewClient(baseURL string, httpClient *http.Client, breaker *CircuitBreaker) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, breaker: breaker}
}

func (c *Client) buildRequest(ctx context.Context, method, path string, header http.Header, body io.Reader) (*http.Request, error) {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header = FilterHeaders(header)
	return req, nil
}

// Send performs a buffered, non-streaming forward: the full request body is
// sent and the full response body read before returning. Guarded by the
// circuit breaker — a string of failures here opens it.
func (c *Client) Send(ctx context.Context, method, path string, header http.Header, body []byte) (*Response, error) {
	if c.breaker != nil {
		allowed, retryAfter := c.breaker.Allow()
		if !allowed {
			return nil, fmt.Errorf("circuit open, retry after %s", retryAfter)
		}
	}

	req, err := c.buildRequest(ctx, method, path, header, bytes.NewReader(body))
	if err != nil {
		if c.breaker != nil {
			c.breaker.Done(false)
		}
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if c.breaker != nil {
			c.breaker.Done(false)
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.breaker != nil {
			c.breaker.Done(false)
		}
		return nil, err
	}
	if c.breaker != nil {
		c.breaker.Done(resp.StatusCode < 500)
	}
	return &Response{StatusCode: resp.StatusCode, Header: FilterHeaders(resp.Header), Body: respBody}, nil
}

// StreamChunk is one unit of a streaming response. The first chunk carries
// the status code and headers with an empty Data; every chunk after that
// carries a Data slice with StatusCode 0. Mirrors forward_request_stream's
// two-phase yield.
type StreamChunk struct {
	StatusCode int
	Header     http.Header
	Data       []byte
}

// SendStream performs a streaming forward, invoking emit once per chunk.
// The SSE circuit breaker is intentionally NOT wired here: a long-lived SSE
// connection's eventual failure doesn't reflect the same kind of downstream
// unhealthiness a burst of failed buffered calls does (spec.md's SSE design
// note treats stream lifecycle separately from the breaker).
func (c *Client) SendStream(ctx context.Context, method, path string, header http.Header, body []byte, emit func(StreamChunk) error) error {
	req, err := c.buildRequest(ctx, method, path, header, bytes.NewReader(body))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := emit(StreamChunk{StatusCode: resp.StatusCode, Header: FilterHeaders(resp.Header)}); err != nil {
		return err
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if emitErr := emit(StreamChunk{Data: chunk}); emitErr != nil {
				return emitErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
