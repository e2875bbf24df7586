package extractor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"webharvest/pkg/models"
)

// ParseDocument extracts structured data from an HTML document: the
// caller's selector map, page metadata, and optional link/image lists
// resolved against the base URL.
func ParseDocument(html, baseURL string, req *models.ExtractionRequest) (map[string]interface{}, []string, []string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse document: %w", err)
	}

	data := make(map[string]interface{})
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		data["title"] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		data["description"] = strings.TrimSpace(desc)
	}

	for field, selector := range req.Selectors {
		sel := doc.Find(selector)
		switch sel.Length() {
		case 0:
			// leave missing fields out rather than storing empty strings
		case 1:
			data[field] = strings.TrimSpace(sel.First().Text())
		default:
			var values []string
			sel.Each(func(_ int, s *goquery.Selection) {
				if v := strings.TrimSpace(s.Text()); v != "" {
					values = append(values, v)
				}
			})
			data[field] = values
		}
	}

	base, _ := url.Parse(baseURL)

	var links []string
	if req.ExtractLinks {
		seen := make(map[string]bool)
		doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
			href, _ := s.Attr("href")
			if abs := resolveURL(base, href); abs != "" && !seen[abs] {
				seen[abs] = true
				links = append(links, abs)
			}
		})
	}

	var images []string
	if req.ExtractImages {
		seen := make(map[string]bool)
		doc.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
			src, _ := s.Attr("src")
			if abs := resolveURL(base, src); abs != "" && !seen[abs] {
				seen[abs] = true
				images = append(images, abs)
			}
		})
	}

	return data, links, images, nil
}

// resolveURL absolutizes a document reference against its base,
// dropping fragments and javascript: pseudo-links.
func resolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "javascript:") {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ""
	}
	parsed.Fragment = ""
	return parsed.String()
}

// ClassifyHTTPStatus maps an HTTP status code to a result status and
// error kind. 2xx and 3xx are success; everything else carries the
// kind the orchestrator's never-throw contract expects.
func ClassifyHTTPStatus(code int) (models.ExtractionStatus, models.ErrorKind) {
	switch {
	case code >= 200 && code < 400:
		return models.StatusSuccess, ""
	case code == 401:
		return models.StatusFailed, models.ErrAuthFailed
	case code == 403:
		return models.StatusBlocked, models.ErrHTTP
	case code == 429:
		return models.StatusRateLimited, models.ErrRateLimited
	default:
		return models.StatusFailed, models.ErrHTTP
	}
}
