// Package entities annotates article text with named entities using the wikifier.org service.
package entities

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const (
	// DefaultURL is the public annotate-article endpoint.
	DefaultURL = "http://www.wikifier.org/annotate-article"

	defaultHTTPTimeout = 30 * time.Second

	// pageRankSqThreshold keeps only the highest ranked annotations.
	pageRankSqThreshold = 0.9
)

// Config configures the wikifier client.
type Config struct {
	URL     string
	UserKey string
	Timeout time.Duration
}

// Client calls the wikifier annotate endpoint.
type Client struct {
	log     zerolog.Logger
	client  *http.Client
	url     string
	userKey string
}

type annotateResponse struct {
	Annotations []struct {
		Title    string  `json:"title"`
		PageRank float64 `json:"pageRank"`
	} `json:"annotations"`
}

// New creates a wikifier client.
func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &Client{
		client:  &http.Client{Timeout: cfg.Timeout},
		url:     cfg.URL,
		userKey: cfg.UserKey,
		log:     log.With().Str("component", "wikifier").Logger(),
	}
}

// Entities returns entity title to pageRank for text. Failures yield an empty map.
func (c *Client) Entities(ctx context.Context, text string) map[string]float64 {
	if strings.TrimSpace(text) == "" {
		return map[string]float64{}
	}
	out, err := c.annotate(ctx, text)
	if err != nil {
		c.log.Warn().Err(err).Msg("entity annotation failed")
		return map[string]float64{}
	}
	return out
}

func (c *Client) annotate(ctx context.Context, text string) (map[string]float64, error) {
	form := url.Values{
		"userKey":                  {c.userKey},
		"text":                     {text},
		"lang":                     {"en"},
		"pageRankSqThreshold":      {strconv.FormatFloat(pageRankSqThreshold, 'g', -1, 64)},
		"applyPageRankSqThreshold": {"true"},
		"nTopDfValuesToIgnore":     {"200"},
		"wikiDataClasses":          {"true"},
		"wikiDataClassIds":         {"false"},
		"support":                  {"true"},
		"ranges":                   {"false"},
		"includeCosines":           {"false"},
		"maxMentionEntropy":        {"2.1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create annotate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send annotate request to %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("wikifier error (status=%d): %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body annotateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode annotate response: %w", err)
	}

	out := make(map[string]float64, len(body.Annotations))
	for _, a := range body.Annotations {
		if a.Title == "" {
			continue
		}
		out[a.Title] = a.PageRank
	}
	return out, nil
}
