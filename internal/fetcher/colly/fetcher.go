// Package collyfetcher implements watch.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/keyword-watcher/internal/fetcher"
	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Headers       http.Header
}

// Fetcher implements watch.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// page is the raw result captured by the collector callbacks.
type page struct {
	url         string
	status      int
	contentType string
	body        []byte
}

// New builds a Fetcher. Revisits are allowed because every tick fetches the
// same URL again.
//
// Clones share the base collector's HTTP client, so the transport and the
// request timeout are fixed here and never touched per fetch.
func New(cfg Config) *Fetcher {
	f := &Fetcher{cfg: cfg}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(f.timeout())
	f.applyConfig(c)
	f.baseCollector = c
	return f
}

// Fetch executes a single HTTP GET and returns the page paragraphs.
func (f *Fetcher) Fetch(ctx context.Context, url string) (watch.PageText, error) {
	var (
		result   page
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(&result, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return watch.PageText{}, f.classify(url, &result, err)
	}
	if !fetcher.IsSuccess(result.status) {
		return watch.PageText{}, fetcher.StatusError(url, result.status)
	}

	paragraphs, err := fetcher.ExtractParagraphs(result.body, result.contentType)
	if err != nil {
		return watch.PageText{}, fetcher.MalformedError(url, result.status, err)
	}
	return watch.PageText{
		URL:        result.url,
		Paragraphs: paragraphs,
		StatusCode: result.status,
		Bytes:      len(result.body),
		Duration:   time.Since(start),
	}, nil
}

// buildCollector clones the base collector and attaches callbacks that write
// into this fetch's result only.
func (f *Fetcher) buildCollector(result *page, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	f.applyConfig(collector)
	f.configureCollectorHooks(collector, result, fetchErr)
	return collector
}

// applyConfig sets per-collector fields. It must not touch the HTTP backend.
func (f *Fetcher) applyConfig(c *colly.Collector) {
	if f.cfg.UserAgent != "" {
		c.UserAgent = f.cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !f.cfg.RespectRobots
	c.ParseHTTPErrorResponse = true
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *page, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = capture(r)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*result = capture(r)
		}
		*fetchErr = err
	})
}

func capture(r *colly.Response) page {
	p := page{
		status: r.StatusCode,
		body:   append([]byte(nil), r.Body...),
	}
	if r.Request != nil && r.Request.URL != nil {
		p.url = r.Request.URL.String()
	}
	if r.Headers != nil {
		p.contentType = r.Headers.Get("Content-Type")
	}
	return p
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// classify maps collector failures onto fetch error kinds. A captured
// non-2xx status wins over the transport error.
func (f *Fetcher) classify(url string, result *page, err error) *watch.FetchError {
	if result.status != 0 && !fetcher.IsSuccess(result.status) {
		return fetcher.StatusError(url, result.status)
	}
	if errors.Is(err, colly.ErrRobotsTxtBlocked) {
		return &watch.FetchError{Kind: watch.FetchStatus, URL: url, StatusCode: http.StatusForbidden, Err: err}
	}
	return fetcher.Classify(url, err)
}

func (f *Fetcher) copyHeaders(r *colly.Request) {
	if f.cfg.Headers == nil {
		return
	}
	for key, values := range f.cfg.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func (f *Fetcher) timeout() time.Duration {
	if f.cfg.Timeout > 0 {
		return f.cfg.Timeout
	}
	return fetcher.DefaultTimeout
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
