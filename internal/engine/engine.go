// Package engine is the bundled crawl engine: it fetches a page, optionally renders it in a
// headless browser, and extracts links, images or markdown from the result.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlgate/internal/crawl"
	"github.com/JakeFAU/crawlgate/internal/fetcher"
)

var _ crawl.Engine = (*Engine)(nil)

// HostWaiter throttles requests per target host.
type HostWaiter interface {
	WaitHost(ctx context.Context, rawURL string) error
}

// Config wires the engine's collaborators.
type Config struct {
	// Static performs the plain HTTP fetch. Required.
	Static fetcher.Fetcher
	// Renderer re-fetches pages the detector flags as script-built. Optional.
	Renderer fetcher.Fetcher
	Detector *Detector
	Limiter  HostWaiter
	Logger   *zap.Logger
}

// Engine implements crawl.Engine.
type Engine struct {
	static   fetcher.Fetcher
	renderer fetcher.Fetcher
	detector *Detector
	limiter  HostWaiter
	markdown *markdownConverter
	logger   *zap.Logger
}

type page struct {
	url  *url.URL
	body []byte
	doc  *goquery.Document
}

// New builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Static == nil {
		return nil, errors.New("static fetcher is required")
	}
	if cfg.Detector == nil {
		cfg.Detector = NewDetector(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		static:   cfg.Static,
		renderer: cfg.Renderer,
		detector: cfg.Detector,
		limiter:  cfg.Limiter,
		markdown: newMarkdownConverter(),
		logger:   cfg.Logger.Named("engine"),
	}, nil
}

// ExtractLinks returns the page's links and same-host images in document order.
// Media files and links back to target itself are dropped.
func (e *Engine) ExtractLinks(ctx context.Context, target *url.URL) ([]string, []string, error) {
	p, err := e.load(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	links, images := extractLinks(p.doc, baseURL(p), target)
	return links, images, nil
}

// GenerateMarkdown converts the page to markdown twice: once in full and once after
// pruning low-scoring blocks according to filter.
func (e *Engine) GenerateMarkdown(ctx context.Context, target *url.URL, filter crawl.ContentFilter) (string, string, error) {
	p, err := e.load(ctx, target)
	if err != nil {
		return "", "", err
	}

	rawHTML, err := bodyHTML(p.doc)
	if err != nil {
		return "", "", err
	}
	raw, err := e.markdown.Convert(rawHTML, p.url)
	if err != nil {
		return "", "", err
	}

	pruneDoc, err := parseHTML(p.body)
	if err != nil {
		return "", "", err
	}
	kept, dropped := prune(pruneDoc, filter)
	e.logger.Debug("pruned content blocks",
		zap.String("url", p.url.String()),
		zap.Int("kept", kept),
		zap.Int("dropped", dropped),
	)
	filteredHTML, err := bodyHTML(pruneDoc)
	if err != nil {
		return "", "", err
	}
	filtered, err := e.markdown.Convert(filteredHTML, p.url)
	if err != nil {
		return "", "", err
	}
	return filtered, raw, nil
}

func (e *Engine) load(ctx context.Context, target *url.URL) (page, error) {
	if e.limiter != nil {
		if err := e.limiter.WaitHost(ctx, target.String()); err != nil {
			return page{}, fmt.Errorf("wait for %s: %w", target.Hostname(), err)
		}
	}

	resp, err := e.static.Fetch(ctx, fetcher.Request{URL: target.String()})
	if err != nil {
		return page{}, err
	}
	doc, err := parseHTML(resp.Body)
	if err != nil {
		return page{}, err
	}

	if e.renderer != nil && e.detector.ShouldRender(doc) {
		rendered, rerr := e.renderer.Fetch(ctx, fetcher.Request{URL: resp.URL})
		switch {
		case rerr == nil:
			if rdoc, perr := parseHTML(rendered.Body); perr == nil {
				resp, doc = rendered, rdoc
			}
		case ctx.Err() != nil:
			return page{}, rerr
		default:
			e.logger.Warn("headless render failed; using static body",
				zap.String("url", resp.URL),
				zap.Error(rerr),
			)
		}
	}

	final, err := url.Parse(resp.URL)
	if err != nil || !final.IsAbs() {
		final = target
	}
	return page{url: final, body: resp.Body, doc: doc}, nil
}

func parseHTML(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

func bodyHTML(doc *goquery.Document) (string, error) {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		body = doc.Selection
	}
	html, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return html, nil
}

// baseURL honors a <base href> element when present.
func baseURL(p page) *url.URL {
	href, ok := p.doc.Find("base[href]").First().Attr("href")
	if !ok {
		return p.url
	}
	ref, err := url.Parse(href)
	if err != nil {
		return p.url
	}
	return p.url.ResolveReference(ref)
}
