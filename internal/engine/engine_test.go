package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawlgate/internal/crawl"
	"github.com/JakeFAU/crawlgate/internal/fetcher"
)

type stubFetcher struct {
	mu    sync.Mutex
	body  string
	final string
	err   error
	urls  []string
}

func (s *stubFetcher) Fetch(_ context.Context, req fetcher.Request) (fetcher.Response, error) {
	s.mu.Lock()
	s.urls = append(s.urls, req.URL)
	s.mu.Unlock()
	if s.err != nil {
		return fetcher.Response{}, s.err
	}
	final := s.final
	if final == "" {
		final = req.URL
	}
	return fetcher.Response{URL: final, StatusCode: 200, Body: []byte(s.body)}, nil
}

func (s *stubFetcher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.urls)
}

type recordingWaiter struct {
	hosts []string
	err   error
}

func (r *recordingWaiter) WaitHost(_ context.Context, rawURL string) error {
	r.hosts = append(r.hosts, rawURL)
	return r.err
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := New(cfg)
	require.NoError(t, err)
	return e
}

const linksPage = `<html><head><title>t</title></head><body>
<a href="/docs">Docs</a>
<a href="/docs#install">Docs again</a>
<a href="https://other.example.org/x">Elsewhere</a>
<a href="mailto:hi@example.com">Mail</a>
<a href="javascript:void(0)">JS</a>
<a href="/files/report.PDF">Report</a>
<a href="https://www.example.com/">Home</a>
<a href="#top">Top</a>
<img src="/img/logo.png">
<img data-src="/img/lazy.jpg">
<img src="https://cdn.other.net/pixel.gif">
<img src="/img/logo.png">
</body></html>`

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: linksPage}
	waiter := &recordingWaiter{}
	e := newTestEngine(t, Config{Static: static, Limiter: waiter})

	links, images, err := e.ExtractLinks(context.Background(), mustURL(t, "https://example.com"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/docs",
		"https://other.example.org/x",
	}, links)
	assert.Equal(t, []string{
		"https://example.com/img/logo.png",
		"https://example.com/img/lazy.jpg",
	}, images)
	assert.Equal(t, []string{"https://example.com"}, waiter.hosts)
}

func TestExtractLinksHonorsBaseElement(t *testing.T) {
	t.Parallel()

	static := &stubFetcher{body: `<html><head><base href="https://example.com/guide/"></head>
<body><a href="intro">Intro</a></body></html>`}
	e := newTestEngine(t, Config{Static: static})

	links, _, err := e.ExtractLinks(context.Background(), mustURL(t, "https://example.com/guide/index.html"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/guide/intro"}, links)
}

func TestLoadPropagatesFetchAndLimiterErrors(t *testing.T) {
	t.Parallel()

	notFound := fmt.Errorf("%w: status 404", crawl.ErrInvalidTarget)
	e := newTestEngine(t, Config{Static: &stubFetcher{err: notFound}})
	_, _, err := e.ExtractLinks(context.Background(), mustURL(t, "https://example.com/missing"))
	require.ErrorIs(t, err, crawl.ErrInvalidTarget)

	static := &stubFetcher{body: linksPage}
	e = newTestEngine(t, Config{Static: static, Limiter: &recordingWaiter{err: context.DeadlineExceeded}})
	_, _, err = e.ExtractLinks(context.Background(), mustURL(t, "https://example.com"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, static.calls())
}

const articlePage = `<html><body>
<nav><ul><li><a href="/">Home</a></li><li><a href="/pricing">Pricing</a></li></ul></nav>
<article class="post">
<h1>Release notes</h1>
<p>The gateway now validates every API key against the registry once per burst and shares the
answer with every concurrent request that carries the same key, which keeps the registry well
under its published rate limit even when clients fan out aggressively across many pages.</p>
</article>
<div class="sidebar-promo"><p><a href="/buy">Buy now</a> limited offer</p></div>
<footer><p>Copyright footer text that should never reach the filtered output at all.</p></footer>
</body></html>`

func TestGenerateMarkdownPrunesBoilerplate(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{Static: &stubFetcher{body: articlePage}})
	filtered, raw, err := e.GenerateMarkdown(context.Background(), mustURL(t, "https://example.com/notes"), crawl.ContentFilter(crawl.DefaultOptions()))
	require.NoError(t, err)

	assert.Contains(t, raw, "Home")
	assert.Contains(t, raw, "Buy now")
	assert.Contains(t, raw, "Release notes")

	assert.Contains(t, filtered, "validates every API key")
	assert.NotContains(t, filtered, "Pricing")
	assert.NotContains(t, filtered, "Buy now")
	assert.NotContains(t, filtered, "Copyright")
	assert.Less(t, len(filtered), len(raw))
}

func TestGenerateMarkdownMinWordThreshold(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, Config{Static: &stubFetcher{body: articlePage}})
	target := mustURL(t, "https://example.com/notes")

	filtered, _, err := e.GenerateMarkdown(context.Background(), target, crawl.ContentFilter{
		ThresholdType: crawl.ThresholdFixed, Threshold: 0, MinWordThreshold: 0,
	})
	require.NoError(t, err)
	assert.Contains(t, filtered, "# Release notes")

	filtered, raw, err := e.GenerateMarkdown(context.Background(), target, crawl.ContentFilter{
		ThresholdType: crawl.ThresholdFixed, Threshold: 0, MinWordThreshold: 500,
	})
	require.NoError(t, err)
	assert.NotContains(t, filtered, "validates every API key")
	assert.NotEmpty(t, raw)
}

func TestRendererPromotion(t *testing.T) {
	t.Parallel()

	shell := `<html><body><div id="root"></div><script src="/app.js"></script></body></html>`
	rendered := `<html><body><div id="root"><a href="/dashboard">Dashboard</a></div></body></html>`

	t.Run("rendered body replaces shell", func(t *testing.T) {
		t.Parallel()
		renderer := &stubFetcher{body: rendered}
		e := newTestEngine(t, Config{Static: &stubFetcher{body: shell}, Renderer: renderer})
		links, _, err := e.ExtractLinks(context.Background(), mustURL(t, "https://spa.example.com"))
		require.NoError(t, err)
		assert.Equal(t, []string{"https://spa.example.com/dashboard"}, links)
		assert.Equal(t, 1, renderer.calls())
	})

	t.Run("render failure falls back to static body", func(t *testing.T) {
		t.Parallel()
		renderer := &stubFetcher{err: errors.New("chrome not found")}
		e := newTestEngine(t, Config{Static: &stubFetcher{body: shell}, Renderer: renderer})
		links, _, err := e.ExtractLinks(context.Background(), mustURL(t, "https://spa.example.com"))
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("content-rich page skips renderer", func(t *testing.T) {
		t.Parallel()
		renderer := &stubFetcher{body: rendered}
		e := newTestEngine(t, Config{Static: &stubFetcher{body: articlePage}, Renderer: renderer})
		_, _, err := e.ExtractLinks(context.Background(), mustURL(t, "https://example.com"))
		require.NoError(t, err)
		assert.Zero(t, renderer.calls())
	})
}

func TestNewRequiresStaticFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	assert.Error(t, err)
}

func TestMarkdownConverterSanitizes(t *testing.T) {
	t.Parallel()

	m := newMarkdownConverter()
	out, err := m.Convert(`<p onclick="steal()">Hello <script>alert(1)</script><b>world</b></p>`, mustURL(t, "https://example.com"))
	require.NoError(t, err)
	assert.Equal(t, "Hello **world**", out)
	assert.False(t, strings.Contains(out, "alert"))

	out, err = m.Convert(`<script>only()</script>`, mustURL(t, "https://example.com"))
	require.NoError(t, err)
	assert.Empty(t, out)
}
