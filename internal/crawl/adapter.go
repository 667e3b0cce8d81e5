package crawl

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// ContentFilter carries the markdown options in the engine's terms.
type ContentFilter struct {
	ThresholdType    ThresholdType
	Threshold        float64
	MinWordThreshold int
}

// Engine fetches and processes pages. Implementations must honor ctx cancellation.
type Engine interface {
	ExtractLinks(ctx context.Context, target *url.URL) (links, images []string, err error)
	GenerateMarkdown(ctx context.Context, target *url.URL, filter ContentFilter) (markdown, raw string, err error)
}

// Adapter runs an Engine under a deadline and normalizes every outcome into a Result.
type Adapter struct {
	engine Engine
	logger *zap.Logger
}

// NewAdapter wraps engine.
func NewAdapter(engine Engine, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{engine: engine, logger: logger.Named("adapter")}
}

// Run invokes the engine for req and returns no later than deadline.
// On timeout the engine's context is canceled and a timeout Failure is returned
// without waiting for the engine goroutine to exit.
func (a *Adapter) Run(ctx context.Context, req Request, deadline time.Time) Result {
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	done := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				a.logger.Error("crawl engine panicked",
					zap.String("url", req.URL().String()),
					zap.Any("panic", rec),
				)
				done <- Failure{Kind: FailureEngineError, Detail: "crawl engine panicked"}
			}
		}()
		done <- a.invoke(runCtx, req)
	}()

	select {
	case res := <-done:
		return res
	case <-runCtx.Done():
		detail := "deadline exceeded"
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			detail = "canceled by caller"
		}
		a.logger.Debug("crawl abandoned",
			zap.String("url", req.URL().String()),
			zap.String("reason", detail),
		)
		return Failure{Kind: FailureTimeout, Detail: detail}
	}
}

func (a *Adapter) invoke(ctx context.Context, req Request) Result {
	target := req.URL()
	switch req.Operation() {
	case OpLinks:
		links, images, err := a.engine.ExtractLinks(ctx, target)
		if err != nil {
			return classify(err)
		}
		if links == nil {
			links = []string{}
		}
		if images == nil {
			images = []string{}
		}
		return LinkResult{Links: links, Images: images}
	case OpMarkdown:
		opts := req.Options()
		md, raw, err := a.engine.GenerateMarkdown(ctx, target, ContentFilter(opts))
		if err != nil {
			return classify(err)
		}
		if raw == "" && md == "" {
			return Failure{Kind: FailureEngineError, Detail: "engine produced no content"}
		}
		return MarkdownResult{Markdown: md, RawMarkdown: raw}
	default:
		return Failure{Kind: FailureEngineError, Detail: fmt.Sprintf("unsupported operation %q", req.Operation())}
	}
}

// classify maps an engine error onto a Failure kind.
func classify(err error) Failure {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return Failure{Kind: FailureTimeout, Detail: "deadline exceeded"}
	case errors.As(err, &dnsErr) && !dnsErr.IsTimeout:
		return Failure{Kind: FailureInvalidTarget, Detail: fmt.Sprintf("resolve %s: %s", dnsErr.Name, dnsErr.Err)}
	case errors.As(err, &netErr) && netErr.Timeout():
		return Failure{Kind: FailureTimeout, Detail: "deadline exceeded"}
	case errors.Is(err, ErrInvalidTarget):
		return Failure{Kind: FailureInvalidTarget, Detail: err.Error()}
	default:
		return Failure{Kind: FailureEngineError, Detail: err.Error()}
	}
}
