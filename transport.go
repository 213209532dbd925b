package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	http "github.com/bogdanfinn/fhttp"
	"go.uber.org/zap"
)

// Transport executes a RequestDescription. A non-2xx answer is returned as
// a *RemoteAPIError together with the Response.
type Transport interface {
	Name() string
	Send(ctx context.Context, req *RequestDescription) (*Response, error)
}

// Response is a transport-neutral view of the remote answer.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Transport  string
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Text returns the body as a string.
func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into a generic value.
func (r *Response) JSON() (any, error) {
	var v any
	if err := r.DecodeJSON(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeJSON decodes the body into v. A body that is not JSON is a remote
// failure, not a local one.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &RemoteAPIError{StatusCode: r.StatusCode, Body: r.Body, Err: err}
	}
	return nil
}

// statusError maps a non-2xx response to *RemoteAPIError.
func statusError(resp *Response) error {
	if resp.OK() {
		return nil
	}
	return &RemoteAPIError{
		StatusCode:   resp.StatusCode,
		Body:         resp.Body,
		BotChallenge: IsBotChallenge(resp),
	}
}

// TransportEnv carries what transport constructors need.
type TransportEnv struct {
	Settings *Settings
	Profile  *BrowserProfile
	Proxies  *ProxyManager
	Log      *zap.Logger
}

// TransportFactory builds a transport from the environment.
type TransportFactory func(env TransportEnv) (Transport, error)

var (
	transportsMu sync.RWMutex
	transports   = make(map[string]TransportFactory)
)

// RegisterTransport makes a transport available under name.
func RegisterTransport(name string, factory TransportFactory) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[strings.ToLower(name)] = factory
}

// NewTransport builds the transport registered under name.
func NewTransport(name string, env TransportEnv) (Transport, error) {
	transportsMu.RLock()
	factory, ok := transports[strings.ToLower(name)]
	transportsMu.RUnlock()
	if !ok {
		return nil, &ConfigurationError{
			Field:  "transport",
			Reason: fmt.Sprintf("%q is not one of %s", name, strings.Join(TransportNames(), ", ")),
		}
	}
	return factory(env)
}

// TransportNames lists registered transports.
func TransportNames() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	names := make([]string, 0, len(transports))
	for name := range transports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	RegisterTransport(directTransportName, func(env TransportEnv) (Transport, error) {
		return newDirectTransportFromEnv(env)
	})
	RegisterTransport(browserTransportName, func(env TransportEnv) (Transport, error) {
		return newBrowserTransportFromEnv(env), nil
	})
	RegisterTransport(autoTransportName, func(env TransportEnv) (Transport, error) {
		direct, err := newDirectTransportFromEnv(env)
		if err != nil {
			return nil, err
		}
		return NewFallbackTransport(direct, newBrowserTransportFromEnv(env), NewLogger(env.Log)), nil
	})
}
