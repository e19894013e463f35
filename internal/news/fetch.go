// Package news fetches articles about a symbol from Alpaca and RSS feeds and
// turns them into daily sentiment readings for the sentiment strategy.
package news

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// Article is a single news article from any source.
type Article struct {
	Time     time.Time
	Source   string
	Headline string
	Content  string
}

// Fetcher returns the articles about symbol published in [start, end].
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]Article, error)
}

// --- Alpaca ---

type newsClient interface {
	GetNews(req marketdata.GetNewsRequest) ([]marketdata.News, error)
}

// AlpacaFetcher reads news from the Alpaca marketdata API.
type AlpacaFetcher struct {
	client newsClient
	limit  int
}

// NewAlpacaFetcher wraps a marketdata client. limit caps the articles per
// request; zero means 50.
func NewAlpacaFetcher(c *marketdata.Client, limit int) *AlpacaFetcher {
	if limit <= 0 {
		limit = 50
	}
	return &AlpacaFetcher{client: c, limit: limit}
}

func (f *AlpacaFetcher) Name() string { return "alpaca" }

// Fetch fetches news from the Alpaca marketdata API.
func (f *AlpacaFetcher) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]Article, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	alpacaNews, err := f.client.GetNews(marketdata.GetNewsRequest{
		Symbols:            []string{symbol},
		Start:              start,
		End:                end,
		TotalLimit:         f.limit,
		IncludeContent:     true,
		ExcludeContentless: true,
		Sort:               marketdata.SortAsc,
	})
	if err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(alpacaNews))
	for _, a := range alpacaNews {
		body := ""
		if a.Content != "" {
			body = ExtractSymbolContent(a.Content, symbol)
		} else if a.Summary != "" {
			body = a.Summary
		}
		articles = append(articles, Article{
			Time:     a.CreatedAt.UTC(),
			Source:   "alpaca",
			Headline: a.Headline,
			Content:  body,
		})
	}
	return articles, nil
}

// --- RSS ---

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

var pubDateLayouts = []string{time.RFC1123Z, time.RFC1123, "Mon, 02 Jan 2006 15:04 MST"}

// RSSFetcher reads a keyword RSS feed.
type RSSFetcher struct {
	name   string
	url    func(symbol string) string
	client *http.Client
}

// NewRSSFetcher builds a fetcher for the feed url(symbol) returns.
func NewRSSFetcher(name string, url func(symbol string) string, client *http.Client) *RSSFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RSSFetcher{name: name, url: url, client: client}
}

// GoogleNews fetches news from Google News RSS.
func GoogleNews(client *http.Client) *RSSFetcher {
	return NewRSSFetcher("google", func(symbol string) string {
		return "https://news.google.com/rss/search?q=" + url.QueryEscape(symbol+" stock") + "&hl=en-US&gl=US&ceid=US:en"
	}, client)
}

// GlobeNewswire fetches press releases from GlobeNewswire RSS.
func GlobeNewswire(client *http.Client) *RSSFetcher {
	return NewRSSFetcher("globenewswire", func(symbol string) string {
		return "https://www.globenewswire.com/RssFeed/keyword/" + url.PathEscape(symbol) + "/feedTitle/GlobeNewswire.xml"
	}, client)
}

func (f *RSSFetcher) Name() string { return f.name }

func (f *RSSFetcher) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url(symbol), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s feed returned status %d", f.name, resp.StatusCode)
	}

	var rss rssResponse
	if err := xml.NewDecoder(resp.Body).Decode(&rss); err != nil {
		return nil, fmt.Errorf("decoding %s feed: %w", f.name, err)
	}

	var articles []Article
	for _, item := range rss.Channel.Items {
		t, ok := parsePubDate(item.PubDate)
		if !ok || t.Before(start) || t.After(end) {
			continue
		}
		headline := item.Title
		if idx := strings.LastIndex(headline, " - "); idx > 0 {
			headline = headline[:idx]
		}
		articles = append(articles, Article{
			Time:     t.UTC(),
			Source:   f.name,
			Headline: headline,
			Content:  StripHTML(item.Desc),
		})
	}
	return articles, nil
}

func parsePubDate(s string) (time.Time, bool) {
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// --- HTML helpers ---

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)
var htmlParaRe = regexp.MustCompile(`(?i)</?(p|br|div|li|h[1-6])\b[^>]*>`)

// StripHTML removes HTML tags and normalizes whitespace.
func StripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// ExtractSymbolContent extracts paragraphs mentioning the symbol from HTML content.
// Falls back to full stripped HTML if no paragraphs mention the symbol.
func ExtractSymbolContent(rawHTML, symbol string) string {
	var matched []string
	upper := strings.ToUpper(symbol)
	for _, chunk := range htmlParaRe.Split(rawHTML, -1) {
		plain := StripHTML(chunk)
		if plain != "" && strings.Contains(strings.ToUpper(plain), upper) {
			matched = append(matched, plain)
		}
	}
	if len(matched) > 0 {
		return strings.Join(matched, " ")
	}
	return StripHTML(rawHTML)
}
