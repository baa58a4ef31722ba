package deep

import (
	"net/url"
	"strings"

	"github.com/argus-news/argus/pkg/models"
)

// hostCategories maps known hosts (matched by suffix) to evidence source
// categories. The set is closed; hosts not listed fall back by TLD, then
// to BLOG.
var hostCategories = map[string]models.SourceCategory{
	"reuters.com":        models.SourceCategoryNews,
	"apnews.com":         models.SourceCategoryNews,
	"bbc.com":            models.SourceCategoryNews,
	"bbc.co.uk":          models.SourceCategoryNews,
	"nytimes.com":        models.SourceCategoryNews,
	"theguardian.com":    models.SourceCategoryNews,
	"washingtonpost.com": models.SourceCategoryNews,
	"cnn.com":            models.SourceCategoryNews,
	"bloomberg.com":      models.SourceCategoryNews,
	"ft.com":             models.SourceCategoryNews,
	"wsj.com":            models.SourceCategoryNews,
	"yna.co.kr":          models.SourceCategoryNews,

	"reddit.com":           models.SourceCategoryCommunity,
	"news.ycombinator.com": models.SourceCategoryCommunity,
	"stackexchange.com":    models.SourceCategoryCommunity,
	"stackoverflow.com":    models.SourceCategoryCommunity,
	"twitter.com":          models.SourceCategoryCommunity,
	"x.com":                models.SourceCategoryCommunity,

	"medium.com":    models.SourceCategoryBlog,
	"substack.com":  models.SourceCategoryBlog,
	"wordpress.com": models.SourceCategoryBlog,
	"blogspot.com":  models.SourceCategoryBlog,

	"arxiv.org":         models.SourceCategoryAcademic,
	"nature.com":        models.SourceCategoryAcademic,
	"sciencedirect.com": models.SourceCategoryAcademic,
	"springer.com":      models.SourceCategoryAcademic,
	"acm.org":           models.SourceCategoryAcademic,
	"ieee.org":          models.SourceCategoryAcademic,
}

// InferSourceCategory classifies an evidence URL by its host. Unknown
// hosts default to BLOG.
func InferSourceCategory(rawURL string) models.SourceCategory {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return models.SourceCategoryBlog
	}
	host := strings.ToLower(u.Hostname())

	for suffix, category := range hostCategories {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return category
		}
	}

	switch {
	case strings.HasSuffix(host, ".gov") || strings.Contains(host, ".gov.") || strings.HasSuffix(host, ".go.kr"):
		return models.SourceCategoryOfficial
	case strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") || strings.HasSuffix(host, ".ac.kr"):
		return models.SourceCategoryAcademic
	}
	return models.SourceCategoryBlog
}
