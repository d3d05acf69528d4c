package discussion

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

var urlPattern = regexp.MustCompile(`https?://[^\s<>()\[\]{}"'` + "`" + `]+`)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
}

// citationKey normalises u so that trivially different spellings of the same
// page compare equal: scheme and host are lowercased, default ports,
// fragments, tracking parameters and a trailing slash are dropped. Strings
// that do not parse as absolute URLs are their own key.
func citationKey(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return u
	}
	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	if h, port, ok := strings.Cut(host, ":"); ok {
		if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
			host = h
		}
	}

	q := parsed.Query()
	for k := range q {
		if _, drop := trackingParams[strings.ToLower(k)]; drop {
			q.Del(k)
		}
	}

	key := scheme + "://" + host + strings.TrimRight(parsed.EscapedPath(), "/")
	if len(q) > 0 {
		key += "?" + q.Encode()
	}
	return key
}

// ExtractCitations collects URLs mentioned in content followed by the
// sources contributed by tool calls, deduplicated by canonical URL. The first
// spelling seen is kept. A citation is marked UsedInContext when its URL
// appears in content. Tool results supply titles for URLs the text also
// mentions.
func ExtractCitations(content string, calls domain.ToolCalls) []domain.Citation {
	out := []domain.Citation{}
	index := map[string]int{}

	for _, raw := range urlPattern.FindAllString(content, -1) {
		u := strings.TrimRight(raw, ".,;:!?*_~")
		key := citationKey(u)
		if _, seen := index[key]; seen {
			continue
		}
		index[key] = len(out)
		out = append(out, domain.Citation{URL: u, Title: u, UsedInContext: true})
	}

	for _, rec := range calls {
		for _, c := range rec.Citations() {
			key := citationKey(c.URL)
			if i, seen := index[key]; seen {
				if c.Title != "" && out[i].Title == out[i].URL {
					out[i].Title = c.Title
				}
				continue
			}
			index[key] = len(out)
			c.UsedInContext = strings.Contains(content, c.URL)
			if c.Title == "" {
				c.Title = c.URL
			}
			out = append(out, c)
		}
	}
	return out
}
