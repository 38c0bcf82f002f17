// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package dexnet performs JSON requests over HTTP, optionally through a SOCKS5
// proxy such as Tor.
package dexnet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/decred/go-socks/socks"
)

const defaultResponseSizeLimit = 1 << 20 // 1 MiB = 1,048,576 bytes

// DialFunc dials a network connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// ProxyDialer returns a DialFunc that connects through the SOCKS5 proxy at
// proxyAddr. If proxyAddr is empty, a direct dialer is returned.
func ProxyDialer(proxyAddr string) DialFunc {
	if proxyAddr == "" {
		return (&net.Dialer{Timeout: 30 * time.Second}).DialContext
	}
	p := &socks.Proxy{Addr: proxyAddr, TorIsolation: true}
	return p.DialContext
}

// Client performs JSON HTTP requests.
type Client struct {
	*http.Client
}

// NewClient creates a Client that dials through the proxy, if provided.
func NewClient(proxyAddr string, timeout time.Duration) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = ProxyDialer(proxyAddr)
	if proxyAddr != "" {
		transport.Proxy = nil
	}
	return &Client{
		Client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// RequestOption is an optional argument to the Client's request methods. Each
// option sets one field.
type RequestOption struct {
	responseSizeLimit int64
	statusFunc        func(int)
	errThing          any
}

// WithSizeLimit sets a size limit for a response. See defaultResponseSizeLimit
// for the default.
func WithSizeLimit(limit int64) *RequestOption {
	return &RequestOption{responseSizeLimit: limit}
}

// WithStatusFunc calls a function with the status code after the request is
// performed.
func WithStatusFunc(f func(int)) *RequestOption {
	return &RequestOption{statusFunc: f}
}

// WithErrorParsing decodes the body of a non-200 response into thing. The
// request still fails.
func WithErrorParsing(thing any) *RequestOption {
	return &RequestOption{errThing: thing}
}

// Post performs an HTTP POST request. If thing is non-nil, the response will
// be JSON-unmarshaled into thing.
func (c *Client) Post(ctx context.Context, uri string, thing any, body []byte, opts ...*RequestOption) error {
	var r io.Reader
	if len(body) > 0 {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, r)
	if err != nil {
		return fmt.Errorf("error constructing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(req, thing, opts...)
}

// PostJSON marshals the payload and posts it.
func (c *Client) PostJSON(ctx context.Context, uri string, thing, payload any, opts ...*RequestOption) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error encoding request: %w", err)
	}
	return c.Post(ctx, uri, thing, body, opts...)
}

// Do does the request and JSON-unmarshals the result into thing, if non-nil.
func (c *Client) Do(req *http.Request, thing any, opts ...*RequestOption) error {
	var sizeLimit int64 = defaultResponseSizeLimit
	var statusFunc func(int)
	var errThing any
	for _, opt := range opts {
		switch {
		case opt.responseSizeLimit > 0:
			sizeLimit = opt.responseSizeLimit
		case opt.statusFunc != nil:
			statusFunc = opt.statusFunc
		case opt.errThing != nil:
			errThing = opt.errThing
		}
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("error performing request: %w", err)
	}
	defer resp.Body.Close()
	if statusFunc != nil {
		statusFunc(resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if errThing != nil {
			reader := io.LimitReader(resp.Body, sizeLimit)
			if err = json.NewDecoder(reader).Decode(errThing); err != nil {
				return fmt.Errorf("HTTP error: %q (code %d). error encountered parsing error body: %w", resp.Status, resp.StatusCode, err)
			}
		}
		return fmt.Errorf("HTTP error: %q (code %d)", resp.Status, resp.StatusCode)
	}
	if thing == nil {
		return nil
	}
	reader := io.LimitReader(resp.Body, sizeLimit)
	if err = json.NewDecoder(reader).Decode(thing); err != nil {
		return fmt.Errorf("error decoding response: %w", err)
	}
	return nil
}
