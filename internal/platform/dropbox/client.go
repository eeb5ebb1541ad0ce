// Package dropbox posts XML descriptors to the ENA drop box, the
// synchronous REST endpoint used to register projects.
package dropbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Document is one file part of a drop-box submission.
type Document struct {
	Field    string // SUBMISSION, PROJECT, ANALYSIS, ...
	FileName string
	Content  []byte
}

// Reply is whatever the drop box answered, successful or not. It is meant
// for report.ParseReply, which handles every shape.
type Reply struct {
	StatusCode int
	Body       []byte
}

// OK reports an HTTP 200 answer. The body may still carry a failed receipt.
func (r *Reply) OK() bool { return r.StatusCode == http.StatusOK }

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithProxy routes requests through an HTTP proxy given as host:port or URL.
// A malformed value is logged and ignored.
func WithProxy(proxy string) Option {
	return func(cl *Client) { cl.proxy = proxy }
}

// WithLogger sets the client logger.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// Client submits descriptor sets with basic auth.
type Client struct {
	endpoint   string
	user       string
	password   string
	proxy      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a drop-box client for endpoint.
func NewClient(endpoint, user, password string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		user:     user,
		password: password,
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 2 * time.Minute}
		if c.proxy != "" {
			if u, err := proxyURL(c.proxy); err != nil {
				c.logger.Warn().Err(err).Str("proxy", c.proxy).Msg("ignoring malformed proxy")
			} else {
				c.httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
			}
		}
	}
	return c
}

func proxyURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + raw)
	}
	if err != nil {
		return nil, fmt.Errorf("dropbox: parse proxy %q: %w", raw, err)
	}
	if u.Port() == "" {
		return nil, fmt.Errorf("dropbox: proxy %q has no port", raw)
	}
	return u, nil
}

// Submit posts the documents as one multipart form. A non-nil error means
// the server could not be reached; any HTTP answer is returned as a Reply.
func (c *Client) Submit(ctx context.Context, docs ...Document) (*Reply, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("dropbox: nothing to submit")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, d := range docs {
		part, err := mw.CreateFormFile(d.Field, filepath.Base(d.FileName))
		if err != nil {
			return nil, fmt.Errorf("dropbox: create part %s: %w", d.Field, err)
		}
		if _, err := part.Write(d.Content); err != nil {
			return nil, fmt.Errorf("dropbox: write part %s: %w", d.Field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("dropbox: close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("dropbox: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(c.user, c.password)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dropbox: post %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dropbox: read reply: %w", err)
	}

	c.logger.Info().
		Str("endpoint", c.endpoint).
		Int("status", resp.StatusCode).
		Int("documents", len(docs)).
		Dur("latency", time.Since(start)).
		Msg("drop box reply")

	return &Reply{StatusCode: resp.StatusCode, Body: data}, nil
}
