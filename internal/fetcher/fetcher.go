// Package fetcher defines the page fetch contract shared by the static and headless fetchers.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/crawlgate/internal/crawl"
)

// Request describes a single page fetch.
type Request struct {
	URL     string
	Headers http.Header
}

// Response is a fetched page.
type Response struct {
	// URL is the final URL after redirects.
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// Fetcher retrieves one page.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Response, error)
}

// CheckStatus rejects non-2xx responses as invalid targets.
func CheckStatus(resp Response) error {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%w: %s returned status %d", crawl.ErrInvalidTarget, resp.URL, resp.StatusCode)
	}
	return nil
}
