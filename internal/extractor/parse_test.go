package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webharvest/pkg/models"
)

const sampleHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Acme Widgets</title>
  <meta name="description" content="Widgets for every occasion">
</head>
<body>
  <h1 id="headline">Spring Sale</h1>
  <ul>
    <li class="item">Alpha</li>
    <li class="item">Beta</li>
  </ul>
  <a href="/about">About</a>
  <a href="https://other.example.com/page">Other</a>
  <a href="#fragment">Skip</a>
  <a href="javascript:void(0)">Skip too</a>
  <a href="/about">Duplicate</a>
  <img src="/logo.png">
  <img src="https://cdn.example.com/banner.jpg">
</body>
</html>`

func TestParseDocumentSelectors(t *testing.T) {
	req := &models.ExtractionRequest{
		URL: "https://example.com/shop",
		Selectors: map[string]string{
			"headline": "#headline",
			"items":    "li.item",
			"missing":  ".does-not-exist",
		},
	}

	data, _, _, err := ParseDocument(sampleHTML, "https://example.com/shop", req)
	require.NoError(t, err)

	assert.Equal(t, "Acme Widgets", data["title"])
	assert.Equal(t, "Widgets for every occasion", data["description"])
	assert.Equal(t, "Spring Sale", data["headline"])
	assert.Equal(t, []string{"Alpha", "Beta"}, data["items"])
	assert.NotContains(t, data, "missing", "unmatched selectors must be omitted")
}

func TestParseDocumentLinksAndImages(t *testing.T) {
	req := &models.ExtractionRequest{
		URL:           "https://example.com/shop",
		ExtractLinks:  true,
		ExtractImages: true,
	}

	_, links, images, err := ParseDocument(sampleHTML, "https://example.com/shop", req)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"https://example.com/about",
		"https://other.example.com/page",
	}, links, "links must be absolutized, deduplicated, fragments and javascript: dropped")
	assert.Equal(t, []string{
		"https://example.com/logo.png",
		"https://cdn.example.com/banner.jpg",
	}, images)
}

func TestParseDocumentTogglesOff(t *testing.T) {
	req := &models.ExtractionRequest{URL: "https://example.com"}

	_, links, images, err := ParseDocument(sampleHTML, "https://example.com", req)
	require.NoError(t, err)
	assert.Nil(t, links)
	assert.Nil(t, images)
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		code   int
		status models.ExtractionStatus
		kind   models.ErrorKind
	}{
		{200, models.StatusSuccess, ""},
		{301, models.StatusSuccess, ""},
		{401, models.StatusFailed, models.ErrAuthFailed},
		{403, models.StatusBlocked, models.ErrHTTP},
		{429, models.StatusRateLimited, models.ErrRateLimited},
		{500, models.StatusFailed, models.ErrHTTP},
		{404, models.StatusFailed, models.ErrHTTP},
	}
	for _, tc := range cases {
		status, kind := ClassifyHTTPStatus(tc.code)
		assert.Equal(t, tc.status, status, "code %d", tc.code)
		assert.Equal(t, tc.kind, kind, "code %d", tc.code)
	}
}
