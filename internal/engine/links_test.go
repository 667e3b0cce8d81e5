package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	same := [][2]string{
		{"https://example.com", "http://www.example.com/"},
		{"https://example.com/a/", "https://EXAMPLE.com/a"},
		{"https://example.com:443/a", "https://example.com/a#frag"},
		{"http://example.com:80/", "https://example.com"},
	}
	for _, pair := range same {
		assert.Equal(t, normalizeURL(mustURL(t, pair[0])), normalizeURL(mustURL(t, pair[1])), "%s vs %s", pair[0], pair[1])
	}

	different := [][2]string{
		{"https://example.com/a", "https://example.com/b"},
		{"https://example.com/a?x=1", "https://example.com/a"},
		{"https://example.com:8080/", "https://example.com/"},
	}
	for _, pair := range different {
		assert.NotEqual(t, normalizeURL(mustURL(t, pair[0])), normalizeURL(mustURL(t, pair[1])), "%s vs %s", pair[0], pair[1])
	}
}

func TestIsMediaURL(t *testing.T) {
	t.Parallel()

	assert.True(t, isMediaURL(mustURL(t, "https://example.com/a/video.MP4")))
	assert.True(t, isMediaURL(mustURL(t, "https://example.com/font.woff2?v=3")))
	assert.False(t, isMediaURL(mustURL(t, "https://example.com/page.html")))
	assert.False(t, isMediaURL(mustURL(t, "https://example.com/pdf-guide")))
}

func TestResolveURL(t *testing.T) {
	t.Parallel()

	base := mustURL(t, "https://example.com/docs/")
	assert.Equal(t, "https://example.com/docs/intro", resolveURL(base, "intro#part").String())
	assert.Equal(t, "https://example.com/top", resolveURL(base, " /top ").String())
	assert.Nil(t, resolveURL(base, "ftp://example.com/file"))
	assert.Nil(t, resolveURL(base, "tel:+15551234"))
	assert.Nil(t, resolveURL(base, ""))
}
