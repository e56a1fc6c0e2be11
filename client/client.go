// Package client is a typed HTTP client for the image daemon API.
//
// Construct a client with New, then call its methods:
//
//	cli, err := client.New(client.DefaultHost)
//	if err != nil {
//		panic(err)
//	}
//	images, err := cli.ImageList(context.Background(), types.ListOptions{})
package client

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// DefaultHost is where the client dials unless configured otherwise.
const DefaultHost = "http://127.0.0.1:9292"

// apiPrefix is the version segment put in front of every request path.
const apiPrefix = "/v1"

// Client sends requests to the image daemon. It is safe for concurrent
// use by multiple goroutines.
type Client struct {
	client  *http.Client
	base    *url.URL
	headers http.Header
}

// Opt mutates the client during construction.
type Opt func(*Client) error

// New returns a Client for host with the given options applied.
func New(host string, opts ...Opt) (*Client, error) {
	if host == "" {
		host = DefaultHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid host %q", host)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("unsupported scheme %q in host %q", u.Scheme, host)
	}
	c := &Client{
		client:  &http.Client{},
		base:    u,
		headers: http.Header{},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) Opt {
	return func(c *Client) error {
		if hc != nil {
			c.client = hc
		}
		return nil
	}
}

// WithHTTPHeaders sets headers attached to every request.
func WithHTTPHeaders(headers map[string]string) Opt {
	return func(c *Client) error {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
		return nil
	}
}

// WithIdentity presents token as a confirmed identity with the given
// user, tenant and roles on every request.
func WithIdentity(token, user, tenant string, roles ...string) Opt {
	return func(c *Client) error {
		c.headers.Set("X-Auth-Token", token)
		c.headers.Set("X-Identity-Status", "Confirmed")
		c.headers.Set("X-User", user)
		c.headers.Set("X-Tenant", tenant)
		if len(roles) > 0 {
			c.headers.Set("X-Role", strings.Join(roles, ","))
		}
		return nil
	}
}
