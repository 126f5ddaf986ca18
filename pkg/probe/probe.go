// Package probe queries a service node's stats endpoint.
package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/ryandielhenn/swarmwatch/pkg/snode"
)

const (
	DefaultTimeout = 5 * time.Second
	StatsPath      = "/get_stats/v1"

	// Stats payloads are small; anything beyond this is not a stats response.
	maxBody = 1 << 20
)

// Kind classifies why a probe failed. The monitor treats every kind the same
// and only logs the difference.
type Kind string

const (
	KindTransport Kind = "transport"
	KindStatus    Kind = "status"
	KindDecode    Kind = "decode"
)

// Error is returned for every failed probe.
type Error struct {
	Addr string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("probe %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" when err is not a probe error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// Client fetches node stats over HTTPS.
type Client struct {
	http   *http.Client
	scheme string
}

type Option func(*Client)

// WithHTTPClient replaces the underlying client, e.g. with an httptest
// server's client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithScheme overrides "https".
func WithScheme(s string) Option {
	return func(cl *Client) { cl.scheme = s }
}

// NewClient builds a client whose requests time out after timeout. Storage
// servers present self-signed certificates, so verification is off.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed node certs
	tr.MaxIdleConnsPerHost = 2

	c := &Client{
		http:   &http.Client{Timeout: timeout, Transport: tr},
		scheme: "https",
	}
	for _, o := range opts {
		o(c)
	}
	if c.http.Timeout == 0 {
		// Copy rather than mutate a client the caller owns.
		hc := *c.http
		hc.Timeout = timeout
		c.http = &hc
	}
	return c
}

// Probe fetches the stats of the node described by d.
func (c *Client) Probe(ctx context.Context, d snode.Descriptor) (snode.Stats, error) {
	addr := d.Addr()
	url := c.scheme + "://" + addr + StatsPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snode.Stats{}, &Error{Addr: addr, Kind: KindTransport, Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return snode.Stats{}, &Error{Addr: addr, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBody))
		return snode.Stats{}, &Error{Addr: addr, Kind: KindStatus, Err: errors.Errorf("get_stats request failed: %s", resp.Status)}
	}

	var stats snode.Stats
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&stats); err != nil {
		return snode.Stats{}, &Error{Addr: addr, Kind: KindDecode, Err: errors.Wrap(err, "invalid stats body")}
	}
	return stats, nil
}
