package ai

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"resty.dev/v3"

	"github.com/kangrianai89/catatan/internal/apperr"
)

// Meta is the preview of a web page.
type Meta struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image,omitempty"`
	SiteName    string `json:"site_name,omitempty"`
}

// Scraper fetches pages and extracts their meta tags.
type Scraper struct {
	http *resty.Client
}

// NewScraper creates a scraper with the given request timeout.
func NewScraper(timeout time.Duration) *Scraper {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "catatan-meta/1.0").
		SetHeader("Accept", "text/html,application/xhtml+xml")
	return &Scraper{http: c}
}

// Close releases the underlying HTTP client.
func (s *Scraper) Close() error { return s.http.Close() }

// ScrapeMeta fetches rawURL and returns its title, description and image.
// Only http and https URLs are accepted.
func (s *Scraper) ScrapeMeta(ctx context.Context, rawURL string) (*Meta, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be absolute http(s)", apperr.ErrInvalid)
	}
	res, err := s.http.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetchFailed, err)
	}
	if res.IsError() {
		return nil, fmt.Errorf("%w: status %d", apperr.ErrFetchFailed, res.StatusCode())
	}
	m, err := ParseMeta(strings.NewReader(res.String()), u)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrFetchFailed, err)
	}
	return m, nil
}

// ParseMeta extracts metadata from an HTML document located at base.
// Open Graph tags win over Twitter cards, which win over plain tags.
func ParseMeta(r io.Reader, base *url.URL) (*Meta, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	tags := map[string]string{}
	var title string
	walk(doc, func(n *html.Node) {
		switch n.Data {
		case "title":
			if title == "" && n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
		case "meta":
			key := strings.ToLower(attr(n, "property"))
			if key == "" {
				key = strings.ToLower(attr(n, "name"))
			}
			if key == "" {
				return
			}
			if _, seen := tags[key]; !seen {
				tags[key] = strings.TrimSpace(attr(n, "content"))
			}
		}
	})

	m := &Meta{
		URL:         base.String(),
		Title:       first(tags["og:title"], tags["twitter:title"], title),
		Description: first(tags["og:description"], tags["twitter:description"], tags["description"]),
		SiteName:    tags["og:site_name"],
	}
	if img := first(tags["og:image"], tags["twitter:image"]); img != "" {
		if ref, err := url.Parse(img); err == nil {
			m.Image = base.ResolveReference(ref).String()
		}
	}
	return m, nil
}

func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
