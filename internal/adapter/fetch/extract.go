// Package fetch implements domain.ContentFetcher: it downloads a search
// result page and reduces it to readable article text.
package fetch

import (
	"fmt"
	"io"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

const defaultMaxChars = 8000

// extract runs readability over an HTML document and returns its text,
// truncated to maxChars runes.
func extract(r io.Reader, pageURL *url.URL, maxChars int) (string, error) {
	article, err := readability.FromReader(r, pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	text := strings.TrimSpace(collapseBlankLines(article.TextContent))
	if text == "" {
		return "", domain.NewSubSystemError("fetch", "fetch.extract", domain.ErrEmptyContent, pageURL.String())
	}
	return truncateRunes(text, maxChars), nil
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	blank := false
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
