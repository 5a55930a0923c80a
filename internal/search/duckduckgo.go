package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	defaultEndpoint  = "https://html.duckduckgo.com/html/"
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "Mozilla/5.0 (compatible; murmur-bot/1.0)"

	// maxBody caps the result page read into memory.
	maxBody = 2 << 20
)

// DuckDuckGo is a [Searcher] backed by html.duckduckgo.com.
type DuckDuckGo struct {
	endpoint  string
	userAgent string
	region    string
	client    *http.Client
}

var _ Searcher = (*DuckDuckGo)(nil)

// Option configures a [DuckDuckGo] searcher.
type Option func(*DuckDuckGo)

// WithEndpoint overrides the search URL. Used by tests.
func WithEndpoint(u string) Option {
	return func(d *DuckDuckGo) { d.endpoint = u }
}

// WithRegion sets the kl region parameter (e.g., "fr-fr").
func WithRegion(r string) Option {
	return func(d *DuckDuckGo) { d.region = r }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *DuckDuckGo) { d.client = c }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(d *DuckDuckGo) { d.userAgent = ua }
}

// NewDuckDuckGo returns a searcher with a 10 s timeout.
func NewDuckDuckGo(opts ...Option) *DuckDuckGo {
	d := &DuckDuckGo{
		endpoint:  defaultEndpoint,
		userAgent: defaultUserAgent,
		region:    "fr-fr",
		client:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Search implements [Searcher].
func (d *DuckDuckGo) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: empty query")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("search: limit must be positive, got %d", limit)
	}

	form := url.Values{"q": {query}}
	if d.region != "" {
		form.Set("kl", d.region)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("search: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept-Language", "fr-FR,fr;q=0.9")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search: POST %s: %w", d.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search: POST %s returned status %d", d.endpoint, resp.StatusCode)
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("search: parse result page: %w", err)
	}
	results := parseResults(doc, limit)
	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return results, nil
}

// parseResults extracts organic hits from a DuckDuckGo HTML result page. Each
// hit is a div.result holding an a.result__a link and a .result__snippet.
// Sponsored entries carry result--ad and are skipped.
func parseResults(doc *html.Node, limit int) []Result {
	var out []Result
	for n := range doc.Descendants() {
		if len(out) == limit {
			break
		}
		if n.Type != html.ElementNode || n.DataAtom != atom.Div {
			continue
		}
		classes := classList(n)
		if !slices.Contains(classes, "result") || slices.Contains(classes, "result--ad") {
			continue
		}
		var r Result
		for c := range n.Descendants() {
			if c.Type != html.ElementNode {
				continue
			}
			cc := classList(c)
			switch {
			case r.URL == "" && c.DataAtom == atom.A && slices.Contains(cc, "result__a"):
				r.Title = textContent(c)
				r.URL = resolveRedirect(attr(c, "href"))
			case r.Snippet == "" && slices.Contains(cc, "result__snippet"):
				r.Snippet = textContent(c)
			}
		}
		if r.URL != "" && r.Title != "" {
			out = append(out, r)
		}
	}
	return out
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg=<target> click-tracking links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" && strings.HasSuffix(u.Path, "/l/") {
		return target
	}
	if u.Scheme == "" && strings.HasPrefix(href, "//") {
		return "https:" + href
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func classList(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

// textContent returns the whitespace-normalised text below n.
func textContent(n *html.Node) string {
	var b strings.Builder
	for c := range n.Descendants() {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
