// Package directory discovers businesses on server-rendered listing sites
// described entirely by CSS selectors.
package directory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
	"github.com/JakeFAU/prospect-crawler/internal/source"
)

// Config describes one listing site. SearchURL may contain {query} and
// {location} placeholders.
type Config struct {
	SearchURL       string
	ItemSelector    string
	NameSelector    string
	AddressSelector string
	CitySelector    string
	PhoneSelector   string
	EmailSelector   string
	WebsiteSelector string
	NextSelector    string
	MaxPages        int
	RespectRobots   bool
	UserAgent       string
	Timeout         time.Duration
}

// Discoverer scrapes a listing site with colly.
type Discoverer struct {
	name   string
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

// New builds a Discoverer registered as name.
func New(name string, cfg Config, logger *zap.Logger) (*Discoverer, error) {
	if cfg.SearchURL == "" || cfg.ItemSelector == "" || cfg.NameSelector == "" {
		return nil, fmt.Errorf("directory %s: search url, item and name selectors are required", name)
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.MaxDepth(cfg.MaxPages))
	c.WithTransport(&robotsTransport{base: newHTTPTransport()})
	c.SetRequestTimeout(cfg.Timeout)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &Discoverer{name: name, cfg: cfg, base: c, logger: logger.Named("source." + name)}, nil
}

// Name implements prospect.Discoverer.
func (d *Discoverer) Name() string { return d.name }

// Discover walks up to MaxPages result pages for query in location.
func (d *Discoverer) Discover(ctx context.Context, query, location string, maxResults int) ([]prospect.Business, error) {
	start := d.searchURL(query, location)

	var (
		mu       sync.Mutex
		found    []prospect.Business
		firstErr error
		pages    int
	)
	collector := d.base.Clone()
	collector.OnResponse(func(*colly.Response) {
		mu.Lock()
		pages++
		mu.Unlock()
	})
	collector.OnHTML(d.cfg.ItemSelector, func(e *colly.HTMLElement) {
		b := d.extract(e)
		mu.Lock()
		found = append(found, b)
		mu.Unlock()
	})
	if d.cfg.NextSelector != "" {
		collector.OnHTML(d.cfg.NextSelector, func(e *colly.HTMLElement) {
			mu.Lock()
			full := maxResults > 0 && len(found) >= maxResults
			done := pages >= d.cfg.MaxPages
			mu.Unlock()
			if full || done || ctx.Err() != nil {
				return
			}
			next := e.Request.AbsoluteURL(e.Attr("href"))
			if next == "" {
				return
			}
			if err := e.Request.Visit(next); err != nil {
				d.logger.Debug("next page skipped", zap.String("url", next), zap.Error(err))
			}
		})
	}
	collector.OnError(func(r *colly.Response, err error) {
		mu.Lock()
		defer mu.Unlock()
		if pages == 0 && firstErr == nil {
			firstErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		d.logger.Warn("directory page failed", zap.String("url", r.Request.URL.String()), zap.Error(err))
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(start)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("discover %s: %w", d.name, ctx.Err())
	case err := <-done:
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", d.name, err)
		}
		if firstErr != nil {
			return nil, fmt.Errorf("discover %s: %w", d.name, firstErr)
		}
		return source.Normalize(found, query, cityOf(location), maxResults), nil
	}
}

func (d *Discoverer) searchURL(query, location string) string {
	r := strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{location}", url.QueryEscape(location),
	)
	return r.Replace(d.cfg.SearchURL)
}

func (d *Discoverer) extract(e *colly.HTMLElement) prospect.Business {
	dom := e.DOM
	b := prospect.Business{
		Name:      text(dom, d.cfg.NameSelector),
		Address:   text(dom, d.cfg.AddressSelector),
		City:      text(dom, d.cfg.CitySelector),
		SourceURL: e.Request.URL.String(),
	}
	if sel := d.cfg.PhoneSelector; sel != "" {
		b.Phone = hrefOrText(dom.Find(sel).First())
	}
	if sel := d.cfg.EmailSelector; sel != "" {
		b.Email = hrefOrText(dom.Find(sel).First())
	}
	if sel := d.cfg.WebsiteSelector; sel != "" {
		if href, ok := dom.Find(sel).First().Attr("href"); ok {
			b.Website = unwrapRedirect(e.Request.AbsoluteURL(href), e.Request.URL.Host)
		}
	}
	return b
}

func text(dom *goquery.Selection, sel string) string {
	if sel == "" {
		return ""
	}
	return strings.Join(strings.Fields(dom.Find(sel).First().Text()), " ")
}

func hrefOrText(s *goquery.Selection) string {
	if href, ok := s.Attr("href"); ok && (strings.HasPrefix(href, "tel:") || strings.HasPrefix(href, "mailto:")) {
		return href
	}
	return strings.TrimSpace(s.Text())
}

// unwrapRedirect extracts the target of on-site outbound redirects such as
// /biz_redir?url=https%3A%2F%2Facme.example.
func unwrapRedirect(link, directoryHost string) string {
	u, err := url.Parse(link)
	if err != nil || u.Host != directoryHost {
		return link
	}
	for _, key := range []string{"url", "u", "target", "to"} {
		if v := u.Query().Get(key); strings.HasPrefix(v, "http") {
			return v
		}
	}
	return link
}

// cityOf takes the city part of "Austin, TX".
func cityOf(location string) string {
	city, _, _ := strings.Cut(location, ",")
	return strings.TrimSpace(city)
}
