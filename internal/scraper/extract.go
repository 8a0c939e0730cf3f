package scraper

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var contentAttrRe = regexp.MustCompile(`(?i)content|entry|post|article`)

// ExtractText pulls clean article text out of an HTML page, stripping
// scripts, navigation, and chrome. The output is what gets sent to the
// classifier, so keeping it minimal saves tokens downstream.
func ExtractText(page []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return ""
	}

	doc.Find("script, style, nav, header, footer, aside, iframe, noscript, form").Remove()

	main := doc.Find("article").First()
	if main.Length() == 0 {
		main = doc.Find("main").First()
	}
	if main.Length() == 0 {
		main = doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
			if class, ok := s.Attr("class"); ok && contentAttrRe.MatchString(class) {
				return true
			}
			id, ok := s.Attr("id")
			return ok && contentAttrRe.MatchString(id)
		}).First()
	}
	if main.Length() == 0 {
		main = doc.Find("body").First()
	}
	if main.Length() == 0 {
		main = doc.Selection
	}

	var lines []string
	for _, n := range main.Nodes {
		collectText(n, &lines)
	}
	return strings.Join(lines, "\n")
}

// collectText appends the trimmed text nodes under n in document order.
func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		if t := strings.TrimSpace(n.Data); t != "" {
			*lines = append(*lines, t)
		}
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}
