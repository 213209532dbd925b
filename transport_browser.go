package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	http "github.com/bogdanfinn/fhttp"
	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const (
	browserTransportName = "browser"

	defaultBrowserTimeout   = 30 * time.Second
	defaultBrowserIdleAfter = 500 * time.Millisecond
)

// browserManagedHeaders are computed by Chrome itself and must not be
// injected by hand.
var browserManagedHeaders = []string{
	"host",
	"connection",
	"content-length",
	"cookie",
	"accept-encoding",
	"user-agent",
	"origin",
	"sec-ch-ua",
	"sec-ch-ua-mobile",
	"sec-ch-ua-platform",
	"sec-fetch-dest",
	"sec-fetch-mode",
	"sec-fetch-site",
	"priority",
}

// browserLauncher starts an isolated browser for a single call.
type browserLauncher interface {
	Launch(ctx context.Context) (browserPage, error)
}

// browserPage is one tab in a launched browser. Close terminates the browser.
type browserPage interface {
	Fetch(ctx context.Context, req *RequestDescription) (*Response, error)
	Close() error
}

// BrowserTransport runs every request in a fresh headless Chrome, so the
// remote side sees a real browser end to end. Expensive: callers should
// rate limit it.
type BrowserTransport struct {
	launcher browserLauncher
	timeout  time.Duration
	logger   Logger
	active   atomic.Int32
}

// NewBrowserTransport returns a transport using launcher. timeout bounds the
// whole call including browser start-up.
func NewBrowserTransport(launcher browserLauncher, timeout time.Duration, logger Logger) *BrowserTransport {
	if timeout <= 0 {
		timeout = defaultBrowserTimeout
	}
	return &BrowserTransport{launcher: launcher, timeout: timeout, logger: logger}
}

func newBrowserTransportFromEnv(env TransportEnv) Transport {
	s := env.Settings
	launcher := &chromeLauncher{
		profile:   env.Profile,
		headless:  s.BrowserHeadless,
		execPath:  s.BrowserPath,
		proxy:     env.Proxies.BrowserProxy(),
		idleAfter: s.BrowserIdleAfter,
		logger:    NewLogger(env.Log),
	}
	inner := NewBrowserTransport(launcher, s.BrowserTimeout, NewLogger(env.Log))
	return NewRateLimitedTransport(inner, s.BrowserMinInterval)
}

func (b *BrowserTransport) Name() string { return browserTransportName }

// ActiveSessions returns the number of browsers currently held.
func (b *BrowserTransport) ActiveSessions() int {
	return int(b.active.Load())
}

// Send launches a browser, performs the request and always releases the
// browser before returning.
func (b *BrowserTransport) Send(ctx context.Context, desc *RequestDescription) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	b.active.Add(1)
	defer b.active.Add(-1)

	page, err := b.launcher.Launch(ctx)
	if err != nil {
		b.logger.Log("%s %s -> browser launch failed: %v", desc.Method, desc.Path(), err)
		return nil, classifyTransportError(ctx, browserTransportName, err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			b.logger.Debug("browser close: %v", cerr)
		}
	}()

	resp, err := page.Fetch(ctx, desc)
	if err != nil {
		b.logger.Log("%s %s -> error: %v", desc.Method, desc.Path(), err)
		return nil, classifyTransportError(ctx, browserTransportName, err)
	}
	if resp == nil {
		return nil, &TransportError{Transport: browserTransportName, Err: errNoResponse}
	}
	resp.Transport = browserTransportName
	b.logger.Log("%s %s -> %d (browser)", desc.Method, desc.Path(), resp.StatusCode)

	return resp, statusError(resp)
}

// =============================================================================
// Chrome
// =============================================================================

type chromeLauncher struct {
	profile   *BrowserProfile
	headless  bool
	execPath  string
	proxy     string
	idleAfter time.Duration
	logger    Logger
}

// allocatorOptions are chromedp's defaults with the automation markers
// removed and the profile's user agent applied.
func (l *chromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	profile := l.profile
	if profile == nil {
		profile = DefaultProfile
	}

	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", l.headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("lang", strings.SplitN(profile.AcceptLanguage, ",", 2)[0]),
		chromedp.UserAgent(profile.UserAgent),
	)
	if l.execPath != "" {
		opts = append(opts, chromedp.ExecPath(l.execPath))
	}
	if l.proxy != "" {
		opts = append(opts, chromedp.ProxyServer(l.proxy))
	}

	// Containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

func (l *chromeLauncher) Launch(ctx context.Context) (browserPage, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.logger.Debug))

	// Run with no actions starts the browser and opens the first tab.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	idleAfter := l.idleAfter
	if idleAfter <= 0 {
		idleAfter = defaultBrowserIdleAfter
	}
	return &chromePage{ctx: tabCtx, cancel: tabCancel, allocCancel: allocCancel, idleAfter: idleAfter}, nil
}

type chromePage struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	idleAfter   time.Duration
}

// Close shuts Chrome down and waits for the process to exit.
func (p *chromePage) Close() error {
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	p.allocCancel()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// Fetch runs on the tab's own context, which is bound to the launch context.
func (p *chromePage) Fetch(ctx context.Context, desc *RequestDescription) (*Response, error) {
	if desc.Method == "GET" {
		return p.navigate(desc)
	}
	return p.fetchInPage(desc)
}

// navigate loads the URL as a top-level document and returns the main
// document's response.
func (p *chromePage) navigate(desc *RequestDescription) (*Response, error) {
	var (
		mu        sync.Mutex
		mainID    network.RequestID
		mainResp  *network.Response
		extraHdrs = desc.Headers.Without(browserManagedHeaders...)
	)
	chromedp.ListenTarget(p.ctx, func(ev any) {
		if e, ok := ev.(*network.EventResponseReceived); ok && e.Type == network.ResourceTypeDocument {
			mu.Lock()
			if mainResp == nil {
				mainID = e.RequestID
				mainResp = e.Response
			}
			mu.Unlock()
		}
	})
	idle := newNetworkIdle(p.idleAfter)
	chromedp.ListenTarget(p.ctx, idle.handle)

	tasks := chromedp.Tasks{network.Enable()}
	tasks = append(tasks, sessionCookies(desc)...)
	tasks = append(tasks,
		network.SetExtraHTTPHeaders(network.Headers(extraHdrs.Map())),
		chromedp.Navigate(desc.URL),
	)
	if err := chromedp.Run(p.ctx, tasks); err != nil {
		return nil, err
	}

	select {
	case <-idle.Done():
	case <-p.ctx.Done():
		return nil, p.ctx.Err()
	}

	mu.Lock()
	id, resp := mainID, mainResp
	mu.Unlock()
	if resp == nil {
		return nil, errNoResponse
	}

	var body []byte
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		b, err := network.GetResponseBody(id).Do(ctx)
		body = b
		return err
	}))
	if err != nil {
		// Bodies can be evicted once the page settles; the rendered
		// document still holds the text.
		var html string
		if err := chromedp.Run(p.ctx, chromedp.OuterHTML("html", &html)); err != nil {
			return nil, err
		}
		body = []byte(extractDocumentText(html))
	}

	return &Response{
		StatusCode: int(resp.Status),
		Header:     cdpHeaders(resp.Headers),
		Body:       body,
	}, nil
}

type fetchResult struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// fetchInPage opens the site origin and issues the request with fetch() from
// inside the page, so cookies and client hints are the browser's own.
func (p *chromePage) fetchInPage(desc *RequestDescription) (*Response, error) {
	script, err := fetchScript(desc)
	if err != nil {
		return nil, err
	}

	tasks := chromedp.Tasks{network.Enable()}
	tasks = append(tasks, sessionCookies(desc)...)
	tasks = append(tasks, chromedp.Navigate(desc.Origin()))

	var res fetchResult
	tasks = append(tasks, chromedp.Evaluate(script, &res, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithAwaitPromise(true)
	}))
	if err := chromedp.Run(p.ctx, tasks); err != nil {
		return nil, err
	}
	if res.Status == 0 {
		return nil, errNoResponse
	}

	header := make(http.Header, len(res.Headers))
	for k, v := range res.Headers {
		header.Set(k, v)
	}
	return &Response{StatusCode: res.Status, Header: header, Body: []byte(res.Body)}, nil
}

const fetchScriptTemplate = `(async () => {
  const raw = atob(%s);
  const body = new Uint8Array(raw.length);
  for (let i = 0; i < raw.length; i++) body[i] = raw.charCodeAt(i);
  const resp = await fetch(%s, {
    method: %s,
    headers: %s,
    body: body.length ? body : null,
    credentials: "include",
    referrer: %s,
  });
  const headers = {};
  resp.headers.forEach((v, k) => { headers[k] = v; });
  return {status: resp.status, headers, body: await resp.text()};
})()`

func fetchScript(desc *RequestDescription) (string, error) {
	args := []any{
		base64.StdEncoding.EncodeToString(desc.Body),
		desc.URL,
		desc.Method,
		desc.Headers.Without(browserManagedHeaders...).Map(),
		desc.Headers.Get("referer"),
	}
	encoded := make([]any, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode fetch argument: %w", err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf(fetchScriptTemplate, encoded...), nil
}

// sessionCookies installs the request's cookie header into the browser's jar
// for the request origin.
func sessionCookies(desc *RequestDescription) chromedp.Tasks {
	var params []*network.CookieParam
	for _, pair := range strings.Split(desc.Headers.Get("cookie"), ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" {
			continue
		}
		params = append(params, &network.CookieParam{Name: name, Value: value, URL: desc.Origin()})
	}
	if len(params) == 0 {
		return nil
	}
	return chromedp.Tasks{network.SetCookies(params)}
}

// networkIdle watches a tab's network events and closes Done once no
// request has been in flight for idleAfter. Chrome keeps one RequestID
// across redirect hops and finishes it once, so requests are tracked by id.
type networkIdle struct {
	idleAfter time.Duration
	done      chan struct{}

	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	timer    *time.Timer
	gen      int
	closed   bool
}

func newNetworkIdle(idleAfter time.Duration) *networkIdle {
	return &networkIdle{
		idleAfter: idleAfter,
		done:      make(chan struct{}),
		inflight:  make(map[network.RequestID]struct{}),
	}
}

// Done is closed when the network has been quiet for idleAfter.
func (n *networkIdle) Done() <-chan struct{} {
	return n.done
}

// handle takes one CDP event; it is meant for chromedp.ListenTarget.
func (n *networkIdle) handle(ev any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}

	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.RedirectResponse != nil {
			// Next hop of a request already in flight.
			return
		}
		n.inflight[e.RequestID] = struct{}{}
		n.disarm()
	case *network.EventLoadingFinished:
		n.finish(e.RequestID)
	case *network.EventLoadingFailed:
		n.finish(e.RequestID)
	}
}

// finish and the timer helpers run with n.mu held.
func (n *networkIdle) finish(id network.RequestID) {
	delete(n.inflight, id)
	if len(n.inflight) == 0 {
		n.arm()
	}
}

func (n *networkIdle) arm() {
	n.disarm()
	gen := n.gen
	n.timer = time.AfterFunc(n.idleAfter, func() { n.fire(gen) })
}

func (n *networkIdle) disarm() {
	n.gen++
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *networkIdle) fire(gen int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed || gen != n.gen || len(n.inflight) > 0 {
		return
	}
	n.closed = true
	close(n.done)
}

// extractDocumentText returns what Chrome's viewer wraps in <pre> for
// non-HTML documents, or the whole markup otherwise.
func extractDocumentText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	if pre := doc.Find("body > pre").First(); pre.Length() > 0 {
		return pre.Text()
	}
	return html
}

func cdpHeaders(h network.Headers) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out.Set(k, fmt.Sprint(v))
	}
	return out
}
