package engine

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const defaultMinTextWords = 50

// Client-side framework mount points.
var mountPoints = []string{"#__next", "#__nuxt", "#root", "#app", "[data-reactroot]", "[ng-app]"}

// Detector decides when a statically fetched page must be rendered in a browser.
type Detector struct {
	MinTextWords int
}

// NewDetector creates a Detector; minWords <= 0 selects the default.
func NewDetector(minWords int) *Detector {
	if minWords <= 0 {
		minWords = defaultMinTextWords
	}
	return &Detector{MinTextWords: minWords}
}

// ShouldRender reports whether doc looks like a shell that scripts fill in:
// little visible text plus either scripts or a framework mount point.
func (d *Detector) ShouldRender(doc *goquery.Document) bool {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return true
	}
	visible := body.Clone()
	visible.Find("script, style, noscript, template").Remove()
	if len(strings.Fields(visible.Text())) >= d.MinTextWords {
		return false
	}
	if doc.Find("script").Length() > 0 {
		return true
	}
	for _, sel := range mountPoints {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}
