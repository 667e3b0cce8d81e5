// Package crawl defines crawl requests and results and bounds engine invocations by a deadline.
package crawl

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
)

// ErrInvalidRequest marks a request that failed validation before dispatch.
var ErrInvalidRequest = errors.New("invalid crawl request")

// Operation selects what the engine produces.
type Operation string

// Supported operations.
const (
	OpLinks    Operation = "links"
	OpMarkdown Operation = "markdown"
)

// ThresholdType selects how the engine applies the relevance threshold.
type ThresholdType string

// Threshold modes.
const (
	// ThresholdFixed applies the threshold as a literal per-block cutoff.
	ThresholdFixed ThresholdType = "fixed"
	// ThresholdDynamic lets the engine adapt the cutoff per page, seeded by the threshold.
	ThresholdDynamic ThresholdType = "dynamic"
)

// Options tune markdown generation. They pass through to the engine unchanged.
type Options struct {
	ThresholdType    ThresholdType
	Threshold        float64
	MinWordThreshold int
}

// DefaultOptions returns the options applied when a client omits them.
func DefaultOptions() Options {
	return Options{ThresholdType: ThresholdDynamic, Threshold: 0.45, MinWordThreshold: 5}
}

// Request is a validated, immutable crawl request.
type Request struct {
	url  *url.URL
	op   Operation
	opts Options
}

// NewRequest validates its inputs and builds a Request.
func NewRequest(rawURL string, op Operation, opts Options) (Request, error) {
	target, err := parseTarget(rawURL)
	if err != nil {
		return Request{}, err
	}
	switch op {
	case OpLinks, OpMarkdown:
	default:
		return Request{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, op)
	}
	if err := opts.validate(); err != nil {
		return Request{}, err
	}
	return Request{url: target, op: op, opts: opts}, nil
}

// URL returns a copy of the target URL.
func (r Request) URL() *url.URL {
	if r.url == nil {
		return nil
	}
	u := *r.url
	return &u
}

// Operation returns the requested operation.
func (r Request) Operation() Operation { return r.op }

// Options returns the markdown options.
func (r Request) Options() Options { return r.opts }

// WithOperation returns a copy of r targeting op.
func (r Request) WithOperation(op Operation) Request {
	r.op = op
	return r
}

// WithURL returns a copy of r pointed at target, which must already be absolute http(s).
func (r Request) WithURL(target *url.URL) Request {
	u := *target
	r.url = &u
	return r
}

func (o Options) validate() error {
	switch o.ThresholdType {
	case ThresholdFixed, ThresholdDynamic:
	default:
		return fmt.Errorf("%w: threshold_type must be %q or %q", ErrInvalidRequest, ThresholdFixed, ThresholdDynamic)
	}
	if math.IsNaN(o.Threshold) || o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be between 0 and 1", ErrInvalidRequest)
	}
	if o.MinWordThreshold < 0 {
		return fmt.Errorf("%w: min_word_threshold must be >= 0", ErrInvalidRequest)
	}
	return nil
}

func parseTarget(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Hostname() == "" {
		return nil, fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidRequest)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRequest, u.Scheme)
	}
	return u, nil
}
