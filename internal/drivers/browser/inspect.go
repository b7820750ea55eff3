package browser

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
)

// logInteractiveElements parses the current DOM and debug-logs every
// clickable element. Called when a selector search comes up empty, so
// the log shows what the page actually offered.
func (s *chromeSession) logInteractiveElements(ctx context.Context) {
	var html string
	if err := chromedp.Run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		s.logger.Debug().Err(err).Msg("Could not capture page HTML for inspection")
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		s.logger.Debug().Err(err).Msg("Could not parse page HTML for inspection")
		return
	}

	var labels []string
	doc.Find("button, a, input[type=submit], [role=button]").Each(func(_ int, sel *goquery.Selection) {
		label := strings.TrimSpace(sel.Text())
		if label == "" {
			label, _ = sel.Attr("value")
		}
		if label == "" {
			label, _ = sel.Attr("aria-label")
		}
		if label != "" && len(label) < 80 {
			labels = append(labels, label)
		}
	})

	if len(labels) > 20 {
		labels = labels[:20]
	}
	s.logger.Debug().
		Str("site", s.site.Name).
		Strs("clickable", labels).
		Msg("No candidate selector matched, page offers these elements")
}
