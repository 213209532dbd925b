package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Runner executes workflow documents one at a time. Transports are created
// on first use and reused across runs.
type Runner struct {
	settings *Settings
	log      *zap.Logger
	logger   Logger
	profile  *BrowserProfile
	proxies  *ProxyManager
	builder  *RequestBuilder

	mu         sync.Mutex
	transports map[string]Transport
}

// NewRunner resolves the browser profile and proxy list from settings.
func NewRunner(settings *Settings, log *zap.Logger) (*Runner, error) {
	logger := NewLogger(log)

	profile, err := LookupProfile(settings.Profile)
	if err != nil {
		return nil, err
	}

	var proxies *ProxyManager
	if settings.ProxyFile != "" {
		proxies, err = NewProxyManager(settings.ProxyFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load proxies: %w", err)
		}
		logger.Log("Loaded %d proxies", proxies.Count())
	}

	return &Runner{
		settings:   settings,
		log:        log,
		logger:     logger,
		profile:    profile,
		proxies:    proxies,
		builder:    NewRequestBuilder(settings.BaseURL, profile),
		transports: make(map[string]Transport),
	}, nil
}

// transport returns the named transport, building it on first use.
// Callers hold r.mu.
func (r *Runner) transport(name string) (Transport, error) {
	if name == "" {
		name = r.settings.Transport
	}
	name = strings.ToLower(name)
	if t, ok := r.transports[name]; ok {
		return t, nil
	}
	t, err := NewTransport(name, TransportEnv{
		Settings: r.settings,
		Profile:  r.profile,
		Proxies:  r.proxies,
		Log:      r.log,
	})
	if err != nil {
		return nil, err
	}
	r.transports[name] = t
	return t, nil
}

// Run processes doc. Runs never overlap: the session credentials of
// concurrent runs could otherwise mix on a shared transport.
func (r *Runner) Run(ctx context.Context, doc *WorkflowDocument) ([]OutputRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, err := r.transport(doc.Transport)
	if err != nil {
		return nil, err
	}

	processor := NewProcessor(doc.NodeVersion, r.builder, t, r.logger).WithRetry(r.settings.RetryPolicy())
	return processor.Process(ctx, NewWorkflowHost(doc))
}
