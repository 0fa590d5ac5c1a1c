package reader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/go-shiori/go-readability"
)

// MaxBodySize caps the HTML read from an article URL.
const MaxBodySize = 10 * 1024 * 1024

// ErrBodyTooLarge is returned when an article exceeds MaxBodySize.
var ErrBodyTooLarge = errors.New("response body exceeds size limit")

// Article is the readable part of a web page.
type Article struct {
	URL      string
	Title    string
	Byline   string
	SiteName string
	Text     string
}

// FetchArticle downloads rawURL and extracts its main text. client may be
// nil.
func FetchArticle(ctx context.Context, client *http.Client, rawURL string) (*Article, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// Some news sites answer 403 to non-browser clients.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ja,en-US;q=0.9,en;q=0.8")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Upgrade-Insecure-Requests", "1")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	if resp.ContentLength > MaxBodySize {
		return nil, ErrBodyTooLarge
	}

	// One extra byte tells a body of exactly MaxBodySize from a longer one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) > MaxBodySize {
		return nil, ErrBodyTooLarge
	}

	article, err := readability.FromReader(bytes.NewReader(SanitizeRuby(body)), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}
	return &Article{
		URL:      rawURL,
		Title:    article.Title,
		Byline:   article.Byline,
		SiteName: article.SiteName,
		Text:     article.TextContent,
	}, nil
}

var (
	reRT = regexp.MustCompile(`(?si)<rt\b[^>]*>.*?</rt>`)
	reRP = regexp.MustCompile(`(?si)<rp\b[^>]*>.*?</rp>`)
)

// SanitizeRuby removes ruby text (<rt>) and ruby parentheses (<rp>) from HTML
// so furigana does not end up duplicated in the extracted text
// ("漢字かんじ"). Only ASCII bytes are matched, which keeps it safe for
// Shift_JIS input.
func SanitizeRuby(content []byte) []byte {
	cleaned := reRT.ReplaceAll(content, nil)
	return reRP.ReplaceAll(cleaned, nil)
}
