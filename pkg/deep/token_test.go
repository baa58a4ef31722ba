package deep

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/argus-news/argus/pkg/models"
)

func TestCallbackTokenRoundTrip(t *testing.T) {
	token, hash := NewCallbackToken()
	assert.NotEmpty(t, token)
	assert.Len(t, hash, 64) // hex sha-256
	assert.True(t, VerifyToken(hash, token))
	assert.False(t, VerifyToken(hash, token+"x"))
	assert.False(t, VerifyToken(hash, ""))
}

func TestCallbackTokensAreUnique(t *testing.T) {
	a, _ := NewCallbackToken()
	b, _ := NewCallbackToken()
	assert.NotEqual(t, a, b)
}

func TestInferSourceCategory(t *testing.T) {
	tests := []struct {
		url  string
		want models.SourceCategory
	}{
		{"https://www.reuters.com/markets/story", models.SourceCategoryNews},
		{"https://old.reddit.com/r/news/abc", models.SourceCategoryCommunity},
		{"https://news.ycombinator.com/item?id=1", models.SourceCategoryCommunity},
		{"https://www.whitehouse.gov/briefing", models.SourceCategoryOfficial},
		{"https://www.korea.go.kr/notice", models.SourceCategoryOfficial},
		{"https://web.mit.edu/paper", models.SourceCategoryAcademic},
		{"https://arxiv.org/abs/2401.0001", models.SourceCategoryAcademic},
		{"https://example.com/post", models.SourceCategoryBlog},
		{"not a url", models.SourceCategoryBlog},
		{"", models.SourceCategoryBlog},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferSourceCategory(tt.url), "url %q", tt.url)
	}
}
