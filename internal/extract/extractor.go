// Package extract downloads article pages and reduces them to plain text.
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/thebtf/storyline/pkg/similarity"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxBodyBytes       = 5 << 20
)

// boilerplate is removed before any text is read.
const boilerplate = "script, style, nav, footer, header, aside, form, iframe, noscript, figure, " +
	".sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner"

// contentSelectors are tried in order; the first one yielding text wins.
var contentSelectors = []string{
	"article", "main", "[role='main']", ".article-body", ".entry-content", ".post-content", "#content",
}

// Config configures the extractor.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Rate      float64 // requests per second; <= 0 disables limiting
	Burst     int
}

// Extractor fetches article pages over HTTP and extracts their body text.
type Extractor struct {
	log       zerolog.Logger
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// New creates an extractor.
func New(cfg Config, log zerolog.Logger) *Extractor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		burst := max(cfg.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return &Extractor{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   limiter,
		userAgent: cfg.UserAgent,
		log:       log.With().Str("component", "extractor").Logger(),
	}
}

// GetText downloads url and returns its article text on a single line.
// Any failure yields "".
func (e *Extractor) GetText(ctx context.Context, url string) string {
	text, err := e.fetch(ctx, url)
	if err != nil {
		e.log.Warn().Err(err).Str("url", url).Msg("text extraction failed")
		return ""
	}
	return text
}

// CleanText normalizes text for similarity comparison.
func (e *Extractor) CleanText(text string) string {
	return similarity.Normalize(text)
}

func (e *Extractor) fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", fmt.Errorf("empty url")
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", url, err)
	}
	return ExtractText(doc), nil
}

// ExtractText returns the main text of a parsed page with its lines joined by single spaces.
func ExtractText(doc *goquery.Document) string {
	doc.Find(boilerplate).Remove()

	var parts []string
	collect := func(sel *goquery.Selection) {
		sel.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			if t := strings.TrimSpace(item.Text()); t != "" {
				parts = append(parts, t)
			}
		})
	}

	for _, selector := range contentSelectors {
		collect(doc.Find(selector).First())
		if len(parts) > 0 {
			break
		}
	}
	if len(parts) == 0 {
		collect(doc.Find("body"))
	}

	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
