package engine

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var mediaExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".bmp": {}, ".webp": {}, ".svg": {}, ".ico": {}, ".tiff": {},
	".mp3": {}, ".wav": {}, ".ogg": {}, ".m4a": {}, ".aac": {},
	".mp4": {}, ".webm": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {},
	".swf": {}, ".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

// extractLinks collects unique anchors and same-host images, resolved against base.
// Anchors pointing at media files or back at input are skipped.
func extractLinks(doc *goquery.Document, base, input *url.URL) ([]string, []string) {
	self := normalizeURL(input)
	links := []string{}
	seenLinks := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		resolved := resolveURL(base, href)
		if resolved == nil || isMediaURL(resolved) || normalizeURL(resolved) == self {
			return
		}
		s := resolved.String()
		if _, dup := seenLinks[s]; dup {
			return
		}
		seenLinks[s] = struct{}{}
		links = append(links, s)
	})

	images := []string{}
	seenImages := map[string]struct{}{}
	doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok || strings.TrimSpace(src) == "" {
			// Lazy loaders keep the real source here until scrolled into view.
			src, ok = sel.Attr("data-src")
		}
		if !ok {
			return
		}
		resolved := resolveURL(base, src)
		if resolved == nil || !sameHost(resolved, input) {
			return
		}
		s := resolved.String()
		if _, dup := seenImages[s]; dup {
			return
		}
		seenImages[s] = struct{}{}
		images = append(images, s)
	})
	return links, images
}

// resolveURL resolves href against base, dropping the fragment.
// It returns nil for unparseable or non-HTTP references.
func resolveURL(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || isNonHTTPLink(href) {
		return nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	resolved := base.ResolveReference(ref)
	resolved.Fragment = ""
	resolved.RawFragment = ""
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil
	}
	return resolved
}

func isNonHTTPLink(href string) bool {
	href = strings.ToLower(href)
	return strings.HasPrefix(href, "javascript:") ||
		strings.HasPrefix(href, "mailto:") ||
		strings.HasPrefix(href, "tel:") ||
		strings.HasPrefix(href, "data:") ||
		strings.HasPrefix(href, "#")
}

func isMediaURL(u *url.URL) bool {
	_, ok := mediaExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

// normalizeURL folds the differences that do not change which page a URL names:
// scheme, a leading "www.", default ports, trailing slashes, fragment and case.
func normalizeURL(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if port := u.Port(); port != "" && port != "80" && port != "443" {
		host += ":" + port
	}
	p := strings.TrimRight(u.EscapedPath(), "/")
	out := "https://" + host + p
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return strings.ToLower(out)
}

func sameHost(a, b *url.URL) bool {
	return strings.TrimPrefix(strings.ToLower(a.Hostname()), "www.") ==
		strings.TrimPrefix(strings.ToLower(b.Hostname()), "www.")
}
