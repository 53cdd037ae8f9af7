// Package headless contains fetchers that execute JavaScript via browsers.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/keyword-watcher/internal/fetcher"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	// MaxParallel caps concurrent browser tabs. Zero means unlimited.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay waits after the body is ready so late scripts can render.
	SettleDelay time.Duration
	Headers     http.Header
}

// Fetcher implements watch.Fetcher using chromedp and headless Chrome, for
// pages whose paragraphs are rendered client side.
type Fetcher struct {
	cfg         Config
	slots       *semaphore.Weighted
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = fetcher.DefaultTimeout
	}
	cfg.SettleDelay = max(cfg.SettleDelay, 0)

	f := &Fetcher{cfg: cfg}
	if cfg.MaxParallel > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxParallel))
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
	)
	f.allocator, f.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	return f, nil
}

// Close shuts the browser allocator down.
func (f *Fetcher) Close() error {
	if f.allocCancel != nil {
		f.allocCancel()
	}
	return nil
}

// Fetch renders url in a fresh tab and extracts paragraphs from the DOM.
func (f *Fetcher) Fetch(ctx context.Context, url string) (watch.PageText, error) {
	if err := f.acquire(ctx); err != nil {
		return watch.PageText{}, fetcher.Classify(url, err)
	}
	defer f.release()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.navTimeout())
	defer cancel()
	// the tab hangs off the allocator, so caller cancellation is forwarded
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentResponse{}
	chromedp.ListenTarget(tabCtx, doc.listen)

	start := time.Now()
	rendered, err := f.render(tabCtx, url)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		case tabCtx.Err() != nil:
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return watch.PageText{}, fetcher.Classify(url, err)
	}

	resp := doc.resolve(url, rendered.location)
	if !fetcher.IsSuccess(resp.status) {
		return watch.PageText{}, fetcher.StatusError(url, resp.status)
	}
	paragraphs, err := fetcher.ExtractParagraphs([]byte(rendered.html), resp.contentType)
	if err != nil {
		return watch.PageText{}, fetcher.MalformedError(url, resp.status, err)
	}
	return watch.PageText{
		URL:        resp.url,
		Paragraphs: paragraphs,
		StatusCode: resp.status,
		Bytes:      len(rendered.html),
		Duration:   time.Since(start),
	}, nil
}

type renderedPage struct {
	html     string
	location string
}

func (f *Fetcher) render(ctx context.Context, url string) (renderedPage, error) {
	var page renderedPage
	tasks := chromedp.Tasks{
		chromedp.ActionFunc(f.prepareTab),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.cfg.SettleDelay > 0 {
		tasks = append(tasks, chromedp.Sleep(f.cfg.SettleDelay))
	}
	tasks = append(tasks,
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return renderedPage{}, fmt.Errorf("chromedp run: %w", err)
	}
	return page, nil
}

// prepareTab enables the network domain so document responses are reported,
// then applies the configured user agent and extra headers.
func (f *Fetcher) prepareTab(ctx context.Context) error {
	if err := network.Enable().Do(ctx); err != nil {
		return fmt.Errorf("enable network domain: %w", err)
	}
	if f.cfg.UserAgent != "" {
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
	}
	if extra := networkHeaders(f.cfg.Headers); len(extra) > 0 {
		if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}
	return nil
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.slots == nil {
		return nil
	}
	if err := f.slots.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("headless slot wait canceled: %w", err)
	}
	return nil
}

func (f *Fetcher) release() {
	if f.slots != nil {
		f.slots.Release(1)
	}
}

func (f *Fetcher) navTimeout() time.Duration {
	if f.cfg.NavigationTimeout > 0 {
		return f.cfg.NavigationTimeout
	}
	return fetcher.DefaultTimeout
}

// documentResponse records the first top-level document response seen by a
// tab. Later documents belong to frames.
type documentResponse struct {
	mu          sync.Mutex
	seen        bool
	status      int
	contentType string
	url         string
}

func (d *documentResponse) listen(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen {
		return
	}
	d.seen = true
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
	d.contentType = headerValue(resp.Response.Headers, "Content-Type")
}

type resolvedResponse struct {
	status      int
	contentType string
	url         string
}

// resolve fills gaps left by pages that never reported a document response.
func (d *documentResponse) resolve(requestURL, location string) resolvedResponse {
	d.mu.Lock()
	r := resolvedResponse{status: d.status, contentType: d.contentType, url: d.url}
	d.mu.Unlock()

	if r.url == "" {
		r.url = location
	}
	if r.url == "" {
		r.url = requestURL
	}
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r
}

// headerValue looks a header up case-insensitively; CDP keeps the server's
// casing.
func headerValue(h network.Headers, name string) string {
	for key, value := range h {
		if http.CanonicalHeaderKey(key) != http.CanonicalHeaderKey(name) {
			continue
		}
		switch v := value.(type) {
		case string:
			return v
		case []any:
			if len(v) > 0 {
				return fmt.Sprint(v[0])
			}
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func networkHeaders(h http.Header) network.Headers {
	out := make(network.Headers, len(h))
	for key, values := range h {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = append([]string(nil), values...)
		}
	}
	return out
}
