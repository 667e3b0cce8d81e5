package headless

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	t.Cleanup(fetcher.Close)
	assert.Equal(t, 2, cap(fetcher.limiter))
	assert.Equal(t, defaultNavTimeout, fetcher.cfg.NavigationTimeout)
}

func TestFetcherTimingDefaults(t *testing.T) {
	t.Parallel()

	fetcher := &Fetcher{}
	assert.Equal(t, defaultNavTimeout, fetcher.navTimeout())
	assert.Equal(t, 500*time.Millisecond, fetcher.settle())

	fetcher.cfg.NavigationTimeout = time.Second
	fetcher.cfg.SettleDelay = 50 * time.Millisecond
	assert.Equal(t, time.Second, fetcher.navTimeout())
	assert.Equal(t, 50*time.Millisecond, fetcher.settle())
}

func TestCloneHeaderAndNetworkHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}, "X-Single": {"one"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	assert.Len(t, src["X-Test"], 2)

	netHeaders := toNetworkHeaders(src)
	assert.Equal(t, []string{"a", "b"}, netHeaders["X-Test"])
	assert.Equal(t, "one", netHeaders["X-Single"])
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  404,
			URL:     "https://example.com/rendered",
			Headers: network.Headers{"X-Request-ID": "abc"},
		},
	})
	// Sub-resources never overwrite the document response.
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 200, URL: "https://cdn.example.com/a.png"},
	})
	status, headers, location := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 404, status)
	assert.Equal(t, "abc", headers.Get("X-Request-ID"))
	assert.Equal(t, "https://example.com/rendered", location)

	meta = newResponseMeta()
	status, _, location = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", location)

	status, _, location = newResponseMeta().snapshotWithFallbacks("https://req", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://req", location)
}
