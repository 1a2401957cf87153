// Package httpclient is a thin HTTP client wrapper for the provider send
// path: any non-2xx status is read, parsed as JSON best effort, and
// wrapped in a typed error rather than a bare fmt.Errorf.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencc/proxy/internal/apierrors"
)

// DefaultClient is a shared HTTP client with conservative connection pooling.
var DefaultClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client composes a base URL onto the stdlib http.Client. Headers are
// supplied per call.
type Client struct {
	http    *http.Client
	baseURL string
}

// New creates a Client. If hc is nil, DefaultClient is used.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = DefaultClient
	}
	return &Client{http: hc, baseURL: baseURL}
}

// BuildRequestURL composes baseURL + path without mutating either.
func (c *Client) BuildRequestURL(path string) string {
	return c.baseURL + path
}

// Send performs method against path with the given headers and JSON body,
// returning the raw response with its body intact — callers that need a
// streaming body (send_stream_request) read resp.Body themselves; callers
// that want a decoded JSON body should use SendJSON.
//
// On a non-2xx status the body is drained, the connection released, and the
// error returned is an *apierrors.Error carrying the parsed upstream error
// message when one is present.
func (c *Client) Send(ctx context.Context, method, path string, headers map[string]string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, apierrors.Wrap(apierrors.KindInternal, "failed to marshal request body", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BuildRequestURL(path), bodyReader)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindInternal, "failed to build request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, apierrors.Wrap(apierrors.KindTimeout, "upstream request timed out", err)
		}
		return nil, apierrors.Wrap(apierrors.KindAPI, "upstream request failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		upstreamBody, _ := io.ReadAll(resp.Body)
		return nil, newUpstreamError(resp.StatusCode, upstreamBody)
	}

	return resp, nil
}

// SendJSON performs Send and decodes the response body as JSON into out.
func (c *Client) SendJSON(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) error {
	resp, err := c.Send(ctx, method, path, headers, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierrors.Wrap(apierrors.KindAPI, "failed to read upstream response body", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return apierrors.Wrap(apierrors.KindAPI, "failed to decode upstream JSON response", err)
	}
	return nil
}

func newUpstreamError(status int, body []byte) error {
	kind := apierrors.KindAPI
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = apierrors.KindAuthentication
	case http.StatusTooManyRequests:
		kind = apierrors.KindRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		kind = apierrors.KindTimeout
	case http.StatusBadRequest:
		kind = apierrors.KindInvalidRequest
	}

	message := parseUpstreamMessage(body)
	if message == "" {
		message = fmt.Sprintf("upstream returned HTTP %d", status)
	}
	e := apierrors.New(kind, message)
	e.StatusCode = status
	return e
}

func parseUpstreamMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return parsed.Error.Message
}
