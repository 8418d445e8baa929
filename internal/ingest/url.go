package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
)

const fetchTimeout = 30 * time.Second

// FetchURL downloads a web page and returns its readable title and text
// content, with boilerplate (navigation, ads, chrome) stripped.
func FetchURL(ctx context.Context, rawURL string) (title, text string, err error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", "", fmt.Errorf("invalid url %q", rawURL)
	}

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("building request for %s: %w", rawURL, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", "", fmt.Errorf("extracting readable content from %s: %w", rawURL, err)
	}
	if strings.TrimSpace(article.TextContent) == "" {
		return "", "", fmt.Errorf("url %s: %w", rawURL, ErrEmptyDocument)
	}

	title = article.Title
	if title == "" {
		title = parsed.Host
	}
	return title, article.TextContent, nil
}
