package crawl

import (
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		op      Operation
		opts    Options
		wantErr bool
	}{
		{name: "valid https", url: "https://example.com/page", op: OpMarkdown, opts: DefaultOptions()},
		{name: "valid http links", url: "http://example.com", op: OpLinks, opts: DefaultOptions()},
		{name: "uppercase scheme", url: "HTTPS://example.com", op: OpLinks, opts: DefaultOptions()},
		{name: "not a url", url: "not-a-url", op: OpLinks, opts: DefaultOptions(), wantErr: true},
		{name: "empty", url: "  ", op: OpLinks, opts: DefaultOptions(), wantErr: true},
		{name: "relative", url: "/just/a/path", op: OpLinks, opts: DefaultOptions(), wantErr: true},
		{name: "ftp scheme", url: "ftp://example.com/file", op: OpLinks, opts: DefaultOptions(), wantErr: true},
		{name: "missing host", url: "https://", op: OpLinks, opts: DefaultOptions(), wantErr: true},
		{name: "unknown op", url: "https://example.com", op: "screenshot", opts: DefaultOptions(), wantErr: true},
		{name: "threshold above one", url: "https://example.com", op: OpMarkdown, opts: Options{ThresholdType: ThresholdFixed, Threshold: 1.2}, wantErr: true},
		{name: "threshold negative", url: "https://example.com", op: OpMarkdown, opts: Options{ThresholdType: ThresholdFixed, Threshold: -0.1}, wantErr: true},
		{name: "threshold NaN", url: "https://example.com", op: OpMarkdown, opts: Options{ThresholdType: ThresholdFixed, Threshold: math.NaN()}, wantErr: true},
		{name: "threshold bounds inclusive", url: "https://example.com", op: OpMarkdown, opts: Options{ThresholdType: ThresholdFixed, Threshold: 1}},
		{name: "bad threshold type", url: "https://example.com", op: OpMarkdown, opts: Options{ThresholdType: "adaptive", Threshold: 0.5}, wantErr: true},
		{name: "negative min words", url: "https://example.com", op: OpMarkdown, opts: Options{ThresholdType: ThresholdDynamic, MinWordThreshold: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req, err := NewRequest(tt.url, tt.op, tt.opts)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.op, req.Operation())
			assert.Equal(t, tt.opts, req.Options())
		})
	}
}

func TestRequestIsImmutable(t *testing.T) {
	t.Parallel()

	req, err := NewRequest("https://example.com/a", OpLinks, DefaultOptions())
	require.NoError(t, err)

	u := req.URL()
	u.Path = "/mutated"
	assert.Equal(t, "/a", req.URL().Path)

	other, err := url.Parse("https://example.com/b")
	require.NoError(t, err)
	moved := req.WithURL(other).WithOperation(OpMarkdown)
	assert.Equal(t, "/b", moved.URL().Path)
	assert.Equal(t, OpMarkdown, moved.Operation())
	assert.Equal(t, "/a", req.URL().Path)
	assert.Equal(t, OpLinks, req.Operation())
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	assert.Equal(t, ThresholdDynamic, opts.ThresholdType)
	assert.InDelta(t, 0.45, opts.Threshold, 1e-9)
	assert.Equal(t, 5, opts.MinWordThreshold)
}
