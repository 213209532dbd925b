package main

import (
	"bytes"
	"context"
	"io"

	http "github.com/bogdanfinn/fhttp"
)

const directTransportName = "direct"

// httpDoer is the part of tls_client.HttpClient the direct transport uses.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type proxySetter interface {
	SetProxy(proxyURL string) error
}

// DirectTransport sends requests from this process over a TLS client that
// presents a Chrome fingerprint, with headers in the exact given order.
type DirectTransport struct {
	client       httpDoer
	logger       Logger
	proxyManager *ProxyManager
}

// NewDirectTransport wraps an HTTP client. proxies may be nil.
func NewDirectTransport(client httpDoer, logger Logger, proxies *ProxyManager) *DirectTransport {
	return &DirectTransport{client: client, logger: logger, proxyManager: proxies}
}

func newDirectTransportFromEnv(env TransportEnv) (*DirectTransport, error) {
	proxyURL := ""
	if env.Proxies != nil {
		var idx int
		proxyURL, idx = env.Proxies.Random()
		env.Proxies.Select(idx)
	}
	client, err := NewClient(newTLSClientLogger(env.Log), env.Profile, proxyURL, env.Settings.RequestTimeout)
	if err != nil {
		return nil, &TransportError{Transport: directTransportName, Err: err}
	}
	return NewDirectTransport(client, NewLogger(env.Log), env.Proxies), nil
}

func (d *DirectTransport) Name() string { return directTransportName }

// Send performs exactly one attempt.
func (d *DirectTransport) Send(ctx context.Context, desc *RequestDescription) (*Response, error) {
	var body io.Reader
	if len(desc.Body) > 0 {
		body = bytes.NewReader(desc.Body)
	}

	req, err := http.NewRequestWithContext(ctx, desc.Method, desc.URL, body)
	if err != nil {
		return nil, &TransportError{Transport: directTransportName, Err: err}
	}
	req.Header = desc.Headers.toFHTTP()

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Log("%s %s -> error: %v", desc.Method, desc.Path(), err)
		classified := classifyTransportError(ctx, directTransportName, err)
		if ctx.Err() == nil && IsRetryableError(classified) {
			d.rotateProxy()
		}
		return nil, classified
	}
	defer resp.Body.Close()
	d.logger.Log("%s %s -> %d", desc.Method, desc.Path(), resp.StatusCode)

	data, err := readResponseBody(resp)
	if err != nil {
		return nil, classifyTransportError(ctx, directTransportName, err)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
		Transport:  directTransportName,
	}
	return out, statusError(out)
}

// rotateProxy moves the client to the next proxy for subsequent calls.
func (d *DirectTransport) rotateProxy() {
	if d.proxyManager == nil || d.proxyManager.Count() < 2 {
		return
	}
	setter, ok := d.client.(proxySetter)
	if !ok {
		return
	}
	next := d.proxyManager.Rotate()
	if err := setter.SetProxy(next); err != nil {
		d.logger.Log("Failed to set new proxy: %v", err)
		return
	}
	d.logger.Log("Rotated proxy: %s", d.proxyManager.CurrentDisplay())
}
