package scraper

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/sells-group/deal-tracker/internal/model"
)

// listingLink is one (title, url) pair pulled off a listing page.
type listingLink struct {
	Title string
	URL   string
}

// minTitleLen filters out navigation links like "Next" and "Read more".
const minTitleLen = 10

// parseListing extracts article links from a listing page. Only links
// whose href contains one of segments are kept; relative hrefs are
// resolved against host.
func parseListing(page []byte, host string, segments []string) []listingLink {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil
	}

	var links []listingLink
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		title := strings.TrimSpace(s.Text())
		if title == "" || len(title) < minTitleLen {
			return
		}

		matched := false
		for _, seg := range segments {
			if strings.Contains(href, seg) {
				matched = true
				break
			}
		}
		if !matched {
			return
		}

		if strings.HasPrefix(href, "/") {
			href = host + href
		}
		links = append(links, listingLink{Title: title, URL: href})
	})
	return links
}

// listing describes one paginated HTML listing section of a source.
type listing struct {
	Scraper   string   // scraper name, for logs
	Source    string   // candidate source_name
	Section   string   // e.g. "fact_sheets"
	Template  string   // URL template with one %d page placeholder
	FirstPage int      // 1 for path-style pagination, 0 for ?page=N
	MaxPages  int
	Host      string   // prefix for relative links
	Segments  []string // href segments identifying content pages
}

var (
	numericDateRe = regexp.MustCompile(`/(\d{4})/(\d{2})/`)
	monthDateRe   = regexp.MustCompile(`/(\d{4})/([a-zA-Z]+)/`)
)

var monthNums = map[string]string{
	"january": "01", "february": "02", "march": "03", "april": "04",
	"may": "05", "june": "06", "july": "07", "august": "08",
	"september": "09", "october": "10", "november": "11", "december": "12",
}

// dateFromURL recovers an approximate YYYY-MM-01 date from URL path
// patterns like /2025/09/ or /2025/september/. Returns "" when the URL
// carries no date.
func dateFromURL(url string) string {
	if m := numericDateRe.FindStringSubmatch(url); m != nil {
		return fmt.Sprintf("%s-%s-01", m[1], m[2])
	}
	if m := monthDateRe.FindStringSubmatch(url); m != nil {
		if num, ok := monthNums[strings.ToLower(m[2])]; ok {
			return fmt.Sprintf("%s-%s-01", m[1], num)
		}
	}
	return ""
}

// scrapeListing paginates through one listing section, filters titles
// against the watchlist, and fetches full text only for matches. Titles
// that fail the filter cost nothing beyond the listing page itself.
//
// Pagination stops at the first page that errors or yields no links,
// so sources with fewer pages than MaxPages terminate naturally.
func (b *Base) scrapeListing(ctx context.Context, l listing, seen map[string]bool) []model.RawCandidate {
	var out []model.RawCandidate

	for page := l.FirstPage; page < l.FirstPage+l.MaxPages; page++ {
		if ctx.Err() != nil {
			return out
		}
		url := fmt.Sprintf(l.Template, page)

		body, err := b.FetchPage(ctx, url)
		if err != nil {
			zap.L().Info("no more listing pages",
				zap.String("scraper", l.Scraper),
				zap.String("section", l.Section),
				zap.Int("page", page),
				zap.Error(err))
			break
		}

		links := parseListing(body, l.Host, l.Segments)
		if len(links) == 0 {
			zap.L().Info("empty listing page, stopping",
				zap.String("scraper", l.Scraper),
				zap.String("section", l.Section),
				zap.Int("page", page))
			break
		}

		matched := 0
		for _, link := range links {
			if seen[link.URL] {
				continue
			}
			seen[link.URL] = true

			// Cheap title filter, no network and no tokens.
			if !b.Watch.TitleMatches(link.Title) {
				continue
			}
			matched++

			text, err := b.FetchExtract(ctx, link.URL)
			if err != nil {
				zap.L().Warn("article fetch failed",
					zap.String("scraper", l.Scraper),
					zap.String("url", link.URL),
					zap.Error(err))
				continue
			}

			out = append(out, model.RawCandidate{
				Title:     link.Title,
				SourceURL: link.URL,
				Snippet:   truncate(text, snippetLen),
				RawDate:   dateFromURL(link.URL),
				Source:    l.Source,
				Keywords:  b.Watch.MatchedKeywords(link.Title),
			})
		}

		zap.L().Info("listing page scanned",
			zap.String("scraper", l.Scraper),
			zap.String("section", l.Section),
			zap.Int("page", page),
			zap.Int("links", len(links)),
			zap.Int("matched", matched))
	}

	return out
}

// snippetLen caps candidate snippets; the classifier works from cached
// full text, the snippet is for humans and prefiltering.
const snippetLen = 1000
