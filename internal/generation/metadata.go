package generation

import (
	"echoscribe/internal/models"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const wordsPerMinute = 200

// ExtractMetadata reads word count, reading time and section headings from the article HTML.
// It also returns the first paragraph's text as a description fallback.
func ExtractMetadata(html string) (models.ArticleMetadata, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.ArticleMetadata{}, "", err
	}

	words := 0
	doc.Find("*").Contents().FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == "#text"
	}).Each(func(_ int, s *goquery.Selection) {
		words += len(strings.Fields(s.Text()))
	})
	meta := models.ArticleMetadata{
		WordCount:      words,
		ReadingMinutes: (words + wordsPerMinute - 1) / wordsPerMinute,
	}

	doc.Find("h2").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			meta.Headings = append(meta.Headings, text)
		}
	})

	description := strings.Join(strings.Fields(doc.Find("p").First().Text()), " ")
	return meta, Truncate(description, 160), nil
}
