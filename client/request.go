package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/openstack/glance-sub003/errdefs"
)

func (c *Client) buildRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, headers http.Header) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + apiPrefix + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range c.headers {
		req.Header[k] = vs
	}
	for k, vs := range headers {
		req.Header[k] = vs
	}
	return req, nil
}

// do sends the request and returns the response after checking it for
// an API error. The caller owns the response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, headers http.Header) (*http.Response, error) {
	req, err := c.buildRequest(ctx, method, path, query, body, headers)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer ensureClosed(resp)
		return nil, errdefs.FromStatusCode(errors.New(errorMessage(resp)), resp.StatusCode)
	}
	return resp, nil
}

// doJSON is do for endpoints whose interesting payload is a JSON body.
// The response body is consumed and closed.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body io.Reader, headers http.Header, out interface{}) error {
	resp, err := c.do(ctx, method, path, query, body, headers)
	if err != nil {
		return err
	}
	defer ensureClosed(resp)
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(resp *http.Response) string {
	var body struct {
		Message string `json:"message"`
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && json.Unmarshal(b, &body) == nil && body.Message != "" {
		return body.Message
	}
	return http.StatusText(resp.StatusCode)
}

// ensureClosed drains the body so the connection can be reused.
func ensureClosed(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 32*1024))
	resp.Body.Close()
}
