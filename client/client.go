package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tent/tent-go/auth"
	"github.com/tent/tent-go/util/ssrf"

	"github.com/carlmjohnson/versioninfo"
)

// upper bound on response bodies read from Tent servers
const maxResponseBytes = 8 * 1024 * 1024

var acceptHeader = auth.PostMediaType + ", application/json;q=0.9"

// HTTP implementation of [auth.ProtocolClient]. Signs requests with Hawk when given a
// credential. Makes exactly one request per call (plus a GET fallback during discovery).
type Client struct {
	// Inner HTTP client. Retry and timeout policy are configured here, not in this package.
	HTTPClient *http.Client

	// Optional; defaults to "tent-go/<version>"
	UserAgent string

	Logger *slog.Logger

	// Hawk timestamp source, overridable in tests
	clock func() time.Time
}

var _ auth.ProtocolClient = (*Client)(nil)

func DefaultUserAgent() string {
	return "tent-go/" + versioninfo.Short()
}

// Creates a client using the given HTTP client. If nil, a client with a 20 second timeout is used.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	return &Client{
		HTTPClient: httpClient,
		UserAgent:  DefaultUserAgent(),
		Logger:     slog.Default().With("component", "tent-client"),
		clock:      time.Now,
	}
}

// Creates a client which refuses to connect to private, loopback, or otherwise reserved
// network addresses. Entity URIs are user input, so hosted deployments should use this.
func NewPublicOnlyClient() *Client {
	return NewClient(&http.Client{
		Timeout:   20 * time.Second,
		Transport: ssrf.PublicOnlyTransport(),
	})
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Client) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// Sends the request, optionally Hawk-signed. Non-2xx responses are returned as-is (not as
// errors) so callers can distinguish between classes of failure.
func (c *Client) SignedRequest(ctx context.Context, preq *auth.ProtocolRequest, cred *auth.Credential) (*auth.ProtocolResponse, error) {
	body := preq.Body
	contentType := preq.ContentType
	if len(preq.Attachments) > 0 {
		var err error
		body, contentType, err = encodeMultipart(preq)
		if err != nil {
			return nil, err
		}
	}

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, preq.Method, preq.URL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	if cred != nil {
		hdr, err := HawkHeader(cred, &HawkParams{
			Method:      req.Method,
			URL:         req.URL,
			ContentType: contentType,
			Payload:     body,
			Timestamp:   c.now().Unix(),
		})
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", hdr)
	}

	return c.do(req)
}

func (c *Client) FetchLinkedResource(ctx context.Context, u string, cred *auth.Credential) (*auth.ProtocolResponse, error) {
	return c.SignedRequest(ctx, &auth.ProtocolRequest{Method: http.MethodGet, URL: u}, cred)
}

func (c *Client) do(req *http.Request) (*auth.ProtocolResponse, error) {
	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	c.logger().Debug("tent request", "method", req.Method, "url", req.URL.String(), "statusCode", resp.StatusCode, "duration", time.Since(start))

	return &auth.ProtocolResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
