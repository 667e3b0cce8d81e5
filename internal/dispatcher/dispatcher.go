// Package dispatcher turns inbound crawl calls into authorized, deadline-bounded engine runs.
//
// Each call moves through Received → Authenticating → Authenticated|Rejected → Crawling →
// Completed|Failed. Validation happens before authorization so a malformed request is
// rejected regardless of the key, and no crawl slot is taken before authorization succeeds.
// The Dispatcher holds no per-request state and is safe for concurrent use.
package dispatcher

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/crawlgate/internal/apperr"
	"github.com/JakeFAU/crawlgate/internal/clock"
	"github.com/JakeFAU/crawlgate/internal/crawl"
	"github.com/JakeFAU/crawlgate/internal/hash/sha256"
	"github.com/JakeFAU/crawlgate/internal/metrics"
)

// Request states, logged at debug level.
const (
	stateReceived       = "received"
	stateAuthenticating = "authenticating"
	stateAuthenticated  = "authenticated"
	stateRejected       = "rejected"
	stateCrawling       = "crawling"
	stateCompleted      = "completed"
	stateFailed         = "failed"
)

// Authorizer admits or rejects an API key.
type Authorizer interface {
	Authorize(ctx context.Context, key string) error
}

// Runner executes one crawl request under a deadline.
type Runner interface {
	Run(ctx context.Context, req crawl.Request, deadline time.Time) crawl.Result
}

// Config bounds dispatcher behavior.
type Config struct {
	MaxConcurrent   int
	Deadline        time.Duration
	SiteDeadline    time.Duration
	SiteMaxPages    int
	SiteParallelism int
}

// Dispatcher orchestrates auth and crawl for each operation.
type Dispatcher struct {
	auth   Authorizer
	runner Runner
	slots  *semaphore.Weighted
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(auth Authorizer, runner Runner, cfg Config, clk clock.Clock, logger *zap.Logger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	if cfg.SiteDeadline <= 0 {
		cfg.SiteDeadline = cfg.Deadline
	}
	if cfg.SiteParallelism <= 0 {
		cfg.SiteParallelism = 1
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		auth:   auth,
		runner: runner,
		slots:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:    cfg,
		clock:  clk,
		logger: logger.Named("dispatcher"),
	}
}

// LinksInput is the body of a link extraction call.
type LinksInput struct {
	URL string `json:"url"`
}

// MarkdownInput is the body of a markdown or site call. Nil options take defaults.
type MarkdownInput struct {
	URL              string   `json:"url"`
	Threshold        *float64 `json:"threshold"`
	ThresholdType    *string  `json:"threshold_type"`
	MinWordThreshold *int     `json:"min_word_threshold"`
}

// LinksOutput lists a page's links and images.
type LinksOutput struct {
	URL    string   `json:"url"`
	Links  []string `json:"links"`
	Images []string `json:"images"`
}

// MarkdownOutput is a page's filtered markdown.
type MarkdownOutput struct {
	URL               string `json:"url"`
	Markdown          string `json:"markdown"`
	RawMarkdownLength int    `json:"raw_markdown_length"`
	MarkdownLength    int    `json:"markdown_length"`
}

// SitePage is one page of a site crawl.
type SitePage struct {
	URL               string `json:"url"`
	Markdown          string `json:"markdown"`
	RawMarkdownLength int    `json:"raw_markdown_length"`
	MarkdownLength    int    `json:"markdown_length"`
}

// SiteOutput is the page and its same-host neighbors as markdown.
type SiteOutput struct {
	URL   string     `json:"url"`
	Pages []SitePage `json:"pages"`
}

func (in MarkdownInput) options() crawl.Options {
	opts := crawl.DefaultOptions()
	if in.Threshold != nil {
		opts.Threshold = *in.Threshold
	}
	if in.ThresholdType != nil {
		opts.ThresholdType = crawl.ThresholdType(strings.ToLower(*in.ThresholdType))
	}
	if in.MinWordThreshold != nil {
		opts.MinWordThreshold = *in.MinWordThreshold
	}
	return opts
}

// Links extracts links and images from in.URL.
func (d *Dispatcher) Links(ctx context.Context, key string, in LinksInput) (LinksOutput, error) {
	req, log, err := d.begin(crawl.OpLinks, key, in.URL, crawl.DefaultOptions())
	if err != nil {
		return LinksOutput{}, err
	}
	ctx, cancel := context.WithDeadline(ctx, d.clock.Now().Add(d.cfg.Deadline))
	defer cancel()

	if err := d.authorize(ctx, log, key); err != nil {
		return LinksOutput{}, err
	}
	res, err := d.run(ctx, log, req)
	if err != nil {
		return LinksOutput{}, err
	}
	lr, ok := res.(crawl.LinkResult)
	if !ok {
		return LinksOutput{}, unexpected(res)
	}
	return LinksOutput{URL: req.URL().String(), Links: lr.Links, Images: lr.Images}, nil
}

// Markdown generates filtered markdown for in.URL.
func (d *Dispatcher) Markdown(ctx context.Context, key string, in MarkdownInput) (MarkdownOutput, error) {
	req, log, err := d.begin(crawl.OpMarkdown, key, in.URL, in.options())
	if err != nil {
		return MarkdownOutput{}, err
	}
	ctx, cancel := context.WithDeadline(ctx, d.clock.Now().Add(d.cfg.Deadline))
	defer cancel()

	if err := d.authorize(ctx, log, key); err != nil {
		return MarkdownOutput{}, err
	}
	res, err := d.run(ctx, log, req)
	if err != nil {
		return MarkdownOutput{}, err
	}
	mr, ok := res.(crawl.MarkdownResult)
	if !ok {
		return MarkdownOutput{}, unexpected(res)
	}
	return MarkdownOutput{
		URL:               req.URL().String(),
		Markdown:          mr.Markdown,
		RawMarkdownLength: len(mr.RawMarkdown),
		MarkdownLength:    len(mr.Markdown),
	}, nil
}

// Site extracts links from in.URL, then generates markdown for the page and up to
// SiteMaxPages of its same-host links. Pages that fail are left out.
func (d *Dispatcher) Site(ctx context.Context, key string, in MarkdownInput) (SiteOutput, error) {
	req, log, err := d.begin(crawl.OpLinks, key, in.URL, in.options())
	if err != nil {
		return SiteOutput{}, err
	}
	ctx, cancel := context.WithDeadline(ctx, d.clock.Now().Add(d.cfg.SiteDeadline))
	defer cancel()

	if err := d.authorize(ctx, log, key); err != nil {
		return SiteOutput{}, err
	}
	res, err := d.run(ctx, log, req)
	if err != nil {
		return SiteOutput{}, err
	}
	lr, ok := res.(crawl.LinkResult)
	if !ok {
		return SiteOutput{}, unexpected(res)
	}

	targets := siteTargets(req.URL(), lr.Links, d.cfg.SiteMaxPages)
	pages := make([]*SitePage, len(targets))
	var g errgroup.Group
	g.SetLimit(d.cfg.SiteParallelism)
	for i, target := range targets {
		g.Go(func() error {
			pageReq := req.WithURL(target).WithOperation(crawl.OpMarkdown)
			pageLog := log.With(zap.String("page", target.String()))
			res, err := d.run(ctx, pageLog, pageReq)
			if err != nil {
				return nil
			}
			if mr, ok := res.(crawl.MarkdownResult); ok {
				pages[i] = &SitePage{
					URL:               target.String(),
					Markdown:          mr.Markdown,
					RawMarkdownLength: len(mr.RawMarkdown),
					MarkdownLength:    len(mr.Markdown),
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	out := SiteOutput{URL: req.URL().String(), Pages: []SitePage{}}
	for _, p := range pages {
		if p != nil {
			out.Pages = append(out.Pages, *p)
		}
	}
	log.Debug("site crawl finished",
		zap.Int("attempted", len(targets)),
		zap.Int("succeeded", len(out.Pages)),
	)
	return out, nil
}

// begin validates the call and returns the request and its logger.
func (d *Dispatcher) begin(op crawl.Operation, key, rawURL string, opts crawl.Options) (crawl.Request, *zap.Logger, error) {
	log := d.logger.With(
		zap.String("operation", string(op)),
		zap.String("key_fp", sha256.Short(key)),
		zap.String("url", rawURL),
	)
	log.Debug("request state", zap.String("state", stateReceived))
	req, err := crawl.NewRequest(rawURL, op, opts)
	if err != nil {
		log.Debug("request state", zap.String("state", stateRejected), zap.Error(err))
		return crawl.Request{}, nil, apperr.Wrap(apperr.InvalidRequest, strings.TrimPrefix(err.Error(), crawl.ErrInvalidRequest.Error()+": "), err)
	}
	return req, log, nil
}

func (d *Dispatcher) authorize(ctx context.Context, log *zap.Logger, key string) error {
	log.Debug("request state", zap.String("state", stateAuthenticating))
	if err := d.auth.Authorize(ctx, key); err != nil {
		log.Debug("request state", zap.String("state", stateRejected), zap.String("kind", string(apperr.KindOf(err))))
		return err
	}
	log.Debug("request state", zap.String("state", stateAuthenticated))
	return nil
}

// run takes a crawl slot and invokes the runner with ctx's deadline.
func (d *Dispatcher) run(ctx context.Context, log *zap.Logger, req crawl.Request) (crawl.Result, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = d.clock.Now().Add(d.cfg.Deadline)
	}
	if err := d.slots.Acquire(ctx, 1); err != nil {
		log.Debug("request state", zap.String("state", stateFailed), zap.String("reason", "no crawl slot"))
		metrics.ObserveCrawl(string(req.Operation()), string(crawl.FailureTimeout), 0)
		return nil, apperr.Wrap(apperr.EngineTimeout, "timed out waiting for a free crawl slot", err)
	}
	defer d.slots.Release(1)
	metrics.IncCrawlsInFlight()
	defer metrics.DecCrawlsInFlight()

	log.Debug("request state", zap.String("state", stateCrawling))
	start := time.Now()
	res := d.runner.Run(ctx, req, deadline)
	elapsed := time.Since(start)

	if f, isFailure := res.(crawl.Failure); isFailure {
		metrics.ObserveCrawl(string(req.Operation()), string(f.Kind), elapsed)
		log.Debug("request state",
			zap.String("state", stateFailed),
			zap.String("failure", string(f.Kind)),
			zap.String("detail", f.Detail),
			zap.Duration("elapsed", elapsed),
		)
		return nil, failureError(f)
	}
	metrics.ObserveCrawl(string(req.Operation()), "success", elapsed)
	log.Debug("request state", zap.String("state", stateCompleted), zap.Duration("elapsed", elapsed))
	return res, nil
}

func failureError(f crawl.Failure) error {
	switch f.Kind {
	case crawl.FailureTimeout:
		return apperr.Wrap(apperr.EngineTimeout, "crawl did not finish before the deadline", f)
	case crawl.FailureInvalidTarget:
		return apperr.Wrap(apperr.InvalidTarget, f.Detail, f)
	default:
		return apperr.Wrap(apperr.EngineError, "crawl engine failed", f)
	}
}

func unexpected(res crawl.Result) error {
	return apperr.Wrap(apperr.Internal, "unexpected crawl result", fmt.Errorf("unexpected result type %T", res))
}

// siteTargets returns root followed by up to limit distinct same-host links.
func siteTargets(root *url.URL, links []string, limit int) []*url.URL {
	targets := []*url.URL{root}
	seen := map[string]struct{}{root.String(): {}}
	for _, raw := range links {
		if len(targets) > limit {
			break
		}
		u, err := url.Parse(raw)
		if err != nil || !strings.EqualFold(u.Hostname(), root.Hostname()) {
			continue
		}
		if _, dup := seen[u.String()]; dup {
			continue
		}
		seen[u.String()] = struct{}{}
		targets = append(targets, u)
	}
	return targets
}

