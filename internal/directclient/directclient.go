// Package directclient implements the proxy-bypassing fetch path used for
// cacheable script bodies in partial-proxy mode. It
// generalizes the teacher's scraper/httpfetch.go (a Chrome-TLS-fingerprinted
// client built once, reused across requests) into a client constructed once
// per scraping session and disposed on session close. It sends the cookie
// header and user-agent given to New; it does not read them from the
// browser context, and cmd/adscraper constructs it with an empty cookie
// header.
package directclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	tls "github.com/refraction-networking/utls"

	"github.com/use-agent/adscraper/internal/apperr"
)

const maxBodyBytes = 10 * 1024 * 1024

// Client performs HTTP GET requests with a Chrome TLS fingerprint,
// optionally through an upstream proxy, carrying the fixed cookie header and
// user-agent passed to New.
type Client struct {
	httpClient *http.Client
	userAgent  string
	cookie     string // pre-built Cookie header value
}

// New constructs a Client once per scraping session. proxyURL may be empty
// for a direct (no-proxy) connection — this is the "direct client" the
// partial-proxy mode routes cacheable script fetches through, in contrast to
// the proxied browser context used for HTML/RPC traffic.
func New(proxyURL, userAgent, cookieHeader string) (*Client, error) {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, network, addr, proxyURL)
		},
	}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, apperr.New(apperr.CodeInternal, "parse proxy URL", err)
		}
		if u.Scheme == "http" || u.Scheme == "https" {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Client{
		httpClient: &http.Client{Transport: transport},
		userAgent:  userAgent,
		cookie:     cookieHeader,
	}, nil
}

// Fetch retrieves targetURL, sending the headers the spec requires for
// script/asset endpoints.
func (c *Client) Fetch(ctx context.Context, targetURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return nil, "", apperr.New(apperr.CodeInternal, "build direct-fetch request", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", apperr.New(apperr.CodeInternal, "direct fetch failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", apperr.New(apperr.CodeInternal, fmt.Sprintf("direct fetch: HTTP %d for %s", resp.StatusCode, targetURL), nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", apperr.New(apperr.CodeInternal, "read direct-fetch body", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// Close releases idle connections held by the client. Must be called on
// session close (including error paths) to avoid leaking sockets, the same
// defer/finally discipline the teacher applies around its httpFetcher.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// dialTLSChrome establishes a TLS connection presenting a Chrome fingerprint
// via utls, optionally through a SOCKS5 proxy dial.
func dialTLSChrome(ctx context.Context, network, addr, proxy string) (net.Conn, error) {
	dialer := &net.Dialer{}

	var rawConn net.Conn
	var err error
	if proxy != "" {
		if u, parseErr := url.Parse(proxy); parseErr == nil && (u.Scheme == "socks5" || u.Scheme == "socks5h") {
			rawConn, err = dialer.DialContext(ctx, "tcp", u.Host)
			if err != nil {
				return nil, fmt.Errorf("directclient: socks5 dial: %w", err)
			}
		}
	}
	if rawConn == nil {
		rawConn, err = dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(rawConn, &tls.Config{ServerName: host}, tls.HelloChrome_Auto)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
