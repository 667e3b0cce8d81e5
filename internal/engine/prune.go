package engine

import (
	"math"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawlgate/internal/crawl"
)

// Removed outright before scoring.
const boilerplateSelector = "script, style, noscript, template, iframe, svg, form, button, nav, header, footer, aside"

// Candidate content blocks. Only leaf blocks (no candidate descendants) are scored.
const blockSelector = "p, li, h1, h2, h3, h4, h5, h6, pre, blockquote, td, th, dd, dt, figcaption"

var (
	negativeHint = regexp.MustCompile(`(?i)nav|menu|footer|header|sidebar|banner|breadcrumb|comment|share|social|promo|advert|cookie|popup|modal|related|subscribe|newsletter`)
	positiveHint = regexp.MustCompile(`(?i)article|content|main|post|entry|story|text|body`)
)

var tagWeights = map[string]float64{
	"h1": 1, "h2": 1, "h3": 0.9, "h4": 0.8, "h5": 0.7, "h6": 0.7,
	"p": 1, "pre": 0.9, "blockquote": 0.8, "figcaption": 0.6,
	"li": 0.6, "td": 0.5, "th": 0.5, "dd": 0.6, "dt": 0.6,
}

type scoredBlock struct {
	sel   *goquery.Selection
	score float64
	words int
}

// prune removes boilerplate and low-value blocks from doc in place.
func prune(doc *goquery.Document, filter crawl.ContentFilter) (kept, dropped int) {
	doc.Find(boilerplateSelector).Remove()

	var blocks []scoredBlock
	doc.Find(blockSelector).Each(func(_ int, sel *goquery.Selection) {
		if sel.Find(blockSelector).Length() > 0 {
			return
		}
		score, words := scoreBlock(sel)
		blocks = append(blocks, scoredBlock{sel: sel, score: score, words: words})
	})

	cutoff := cutoffFor(filter, blocks)
	for _, b := range blocks {
		if b.score < cutoff || b.words < filter.MinWordThreshold {
			b.sel.Remove()
			dropped++
			continue
		}
		kept++
	}
	return kept, dropped
}

// cutoffFor returns the literal threshold for fixed mode. Dynamic mode scales it by the
// page's mean block score so uniformly sparse pages are not emptied.
func cutoffFor(filter crawl.ContentFilter, blocks []scoredBlock) float64 {
	if filter.ThresholdType != crawl.ThresholdDynamic || len(blocks) == 0 {
		return filter.Threshold
	}
	var sum float64
	for _, b := range blocks {
		sum += b.score
	}
	mean := sum / float64(len(blocks))
	return math.Min(1, filter.Threshold*(0.5+mean))
}

// scoreBlock rates a block in [0,1] from its text density, link density, tag and
// the class/id hints of it and its ancestors.
func scoreBlock(sel *goquery.Selection) (float64, int) {
	text := strings.TrimSpace(sel.Text())
	if text == "" {
		return 0, 0
	}
	words := len(strings.Fields(text))
	textLen := float64(len(text))

	var linkLen float64
	sel.Find("a").Each(func(_ int, a *goquery.Selection) {
		linkLen += float64(len(strings.TrimSpace(a.Text())))
	})
	linkDensity := math.Min(linkLen/textLen, 1)

	textDensity := 1.0
	if outer, err := goquery.OuterHtml(sel); err == nil && len(outer) > 0 {
		textDensity = math.Min(textLen/float64(len(outer)), 1)
	}

	lengthScore := math.Min(math.Log1p(float64(words))/math.Log1p(40), 1)

	score := 0.3*textDensity +
		0.25*(1-linkDensity) +
		0.2*tagWeights[goquery.NodeName(sel)] +
		0.1*classHint(sel) +
		0.15*lengthScore
	return score, words
}

// classHint is 0 for boilerplate-looking class/id names on the block or an ancestor,
// 1 for content-looking names, and 0.5 otherwise.
func classHint(sel *goquery.Selection) float64 {
	hint := 0.5
	for s := sel; s.Length() > 0 && !s.Is("body, html"); s = s.Parent() {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		names := class + " " + id
		if strings.TrimSpace(names) == "" {
			continue
		}
		if negativeHint.MatchString(names) {
			return 0
		}
		if positiveHint.MatchString(names) {
			hint = 1
		}
	}
	return hint
}
