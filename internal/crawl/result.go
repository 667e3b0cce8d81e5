package crawl

import "errors"

// ErrInvalidTarget marks fetch failures caused by the target itself (non-2xx, bad redirect).
var ErrInvalidTarget = errors.New("invalid crawl target")

// Result is the outcome of one adapter run: a LinkResult, a MarkdownResult or a Failure.
type Result interface {
	isResult()
}

// LinkResult lists the page's outbound links and images in document order.
type LinkResult struct {
	Links  []string
	Images []string
}

// MarkdownResult holds the filtered markdown and the unfiltered conversion it came from.
type MarkdownResult struct {
	Markdown    string
	RawMarkdown string
}

// FailureKind classifies a failed run.
type FailureKind string

// Failure kinds.
const (
	FailureTimeout       FailureKind = "timeout"
	FailureEngineError   FailureKind = "engine_error"
	FailureInvalidTarget FailureKind = "invalid_target"
)

// Failure is a run that produced no content.
type Failure struct {
	Kind   FailureKind
	Detail string
}

func (f Failure) Error() string {
	return string(f.Kind) + ": " + f.Detail
}

func (LinkResult) isResult()     {}
func (MarkdownResult) isResult() {}
func (Failure) isResult()        {}
