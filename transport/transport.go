// Package transport delivers ping requests to the confirmation server.
// The exchange is deliberately plain: one GET over HTTP with a fixed user
// agent, no cookies, no caching, and a hard deadline after which the
// attempt is reported as failed no matter what the server is doing.
package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"cdr.dev/slog"
	"golang.org/x/xerrors"

	"github.com/promotrack/rlz"
)

// DefaultTimeout caps one complete exchange, connection setup included.
const DefaultTimeout = 5 * time.Minute

// Fetcher performs a single HTTP exchange. It returns the status code and
// the complete response body; err is reserved for failures to complete the
// exchange at all, not for unwelcome status codes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (status int, body []byte, err error)
}

// Options configures a Client. The zero value targets the production
// confirmation server.
type Options struct {
	// Server and Port name the confirmation endpoint. Defaults to
	// rlz.DefaultServer and rlz.DefaultServerPort.
	Server string
	Port   int
	// UserAgent defaults to rlz.PingUserAgent.
	UserAgent string
	// Timeout bounds one PingServer call. Defaults to DefaultTimeout.
	Timeout time.Duration
	// MaxResponseBytes rejects servers that answer with more than the
	// protocol ever produces. Defaults to rlz.MaxPingResponseLength.
	MaxResponseBytes int64
	// Fetcher overrides the HTTP exchange, for tests.
	Fetcher Fetcher
	// Logger is silent by default.
	Logger slog.Logger
}

// Client issues ping exchanges. The visible contract is synchronous:
// PingServer returns only once success, failure, or timeout is known.
type Client struct {
	opts Options
}

func New(opts Options) *Client {
	if opts.Server == "" {
		opts.Server = rlz.DefaultServer
	}
	if opts.Port == 0 {
		opts.Port = rlz.DefaultServerPort
	}
	if opts.UserAgent == "" {
		opts.UserAgent = rlz.PingUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = rlz.MaxPingResponseLength
	}
	if opts.Fetcher == nil {
		opts.Fetcher = &httpFetcher{
			userAgent: opts.UserAgent,
			maxBytes:  opts.MaxResponseBytes,
			client: &http.Client{
				Transport: &http.Transport{
					Proxy: http.ProxyFromEnvironment,
					// One request per ping; holding idle connections to
					// the confirmation server buys nothing.
					DisableKeepAlives: true,
				},
			},
		}
	}
	return &Client{opts: opts}
}

// PingServer sends requestPath to the confirmation server and returns the
// response body. Any status other than 200 is a failure, as is exceeding
// the client timeout.
func (c *Client) PingServer(ctx context.Context, requestPath string) ([]byte, error) {
	url := "http://" + net.JoinHostPort(c.opts.Server, strconv.Itoa(c.opts.Port)) + requestPath

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	status, body, err := c.opts.Fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, xerrors.Errorf("ping %s: %w", c.opts.Server, err)
	}
	if status != http.StatusOK {
		return nil, xerrors.Errorf("ping %s: unexpected status %d", c.opts.Server, status)
	}
	c.opts.Logger.Debug(ctx, "ping exchange complete",
		slog.F("server", c.opts.Server),
		slog.F("bytes", len(body)),
		slog.F("took", time.Since(start)),
	)
	return body, nil
}

// httpFetcher is the production Fetcher. The client carries no cookie jar
// and asks intermediaries not to serve a ping from cache.
type httpFetcher struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, xerrors.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, xerrors.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return 0, nil, xerrors.Errorf("read response: %w", err)
	}
	if int64(len(body)) > f.maxBytes {
		return 0, nil, xerrors.Errorf("response larger than %d bytes", f.maxBytes)
	}
	return resp.StatusCode, body, nil
}
