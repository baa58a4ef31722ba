package search

import (
	"net/url"
	"sort"
	"strings"
)

// trackingParams are query parameters stripped during canonicalization so
// the same article shared through different campaigns coalesces.
var trackingParams = map[string]bool{
	"utm_source":   true,
	"utm_medium":   true,
	"utm_campaign": true,
	"utm_term":     true,
	"utm_content":  true,
	"fbclid":       true,
	"gclid":        true,
	"ref":          true,
}

// CanonicalURL normalizes a URL for cross-source deduplication: lowercased
// scheme and host, default ports and fragments dropped, tracking parameters
// removed, remaining parameters sorted, trailing slash trimmed. Unparseable
// input is returned as-is so it still deduplicates against exact copies.
func CanonicalURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	if q := u.Query(); len(q) > 0 {
		keys := make([]string, 0, len(q))
		for k := range q {
			if !trackingParams[strings.ToLower(k)] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		rebuilt := url.Values{}
		for _, k := range keys {
			for _, v := range q[k] {
				rebuilt.Add(k, v)
			}
		}
		u.RawQuery = rebuilt.Encode()
	}

	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
