package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractMediaURLs returns the src of every video element and video source
// element in html, in document order and without duplicates.
// Protocol-relative URLs are upgraded to https.
func ExtractMediaURLs(html string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var urls []string
	seen := make(map[string]bool)
	doc.Find("video[src], video source[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		src = strings.TrimSpace(src)
		if src == "" {
			return
		}
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		if !seen[src] {
			seen[src] = true
			urls = append(urls, src)
		}
	})
	return urls, nil
}
