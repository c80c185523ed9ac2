// Package maps discovers businesses from a map search results feed rendered in
// a leased headless browser.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/analyzer/render"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
	"github.com/JakeFAU/prospect-crawler/internal/source"
)

// Name is the registry name of the maps source.
const Name = "maps"

// Config controls the feed crawl.
type Config struct {
	BaseURL      string
	ScrollRounds int
	// PageTimeout bounds one tab (feed or place detail).
	PageTimeout time.Duration
	DelayMin    time.Duration
	DelayMax    time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.google.com/maps/search/"
	}
	if c.ScrollRounds <= 0 {
		c.ScrollRounds = 5
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = 60 * time.Second
	}
	if c.DelayMax < c.DelayMin {
		c.DelayMax = c.DelayMin
	}
	return c
}

// page is the browser-facing half; tests replace it.
type page interface {
	// Listings returns the feed cards as a JSON array.
	Listings(ctx context.Context, searchURL string, scrollRounds int) (string, error)
	// Contact returns the website/email/phone JSON of one place page.
	Contact(ctx context.Context, placeURL string) (string, error)
}

// Discoverer implements prospect.Discoverer.
type Discoverer struct {
	cfg    Config
	page   page
	logger *zap.Logger
}

// New builds a maps Discoverer over the shared render pool.
func New(pool *render.Pool, cfg Config, logger *zap.Logger) *Discoverer {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Discoverer{cfg: cfg, logger: logger.Named("source.maps")}
	d.page = &chromePage{pool: pool, timeout: cfg.PageTimeout, pause: d.pause}
	return d
}

// Name implements prospect.Discoverer.
func (d *Discoverer) Name() string { return Name }

type rawCard struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Address  string `json:"address"`
	Rating   string `json:"rating"`
	Reviews  string `json:"reviews"`
	URL      string `json:"url"`
}

type contactInfo struct {
	Website string `json:"website"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
}

// Discover searches "<query> in <location>", then opens each place page for
// contact details until maxResults businesses are collected.
func (d *Discoverer) Discover(ctx context.Context, query, location string, maxResults int) ([]prospect.Business, error) {
	searchURL := d.SearchURL(query, location)
	raw, err := d.page.Listings(ctx, searchURL, d.cfg.ScrollRounds)
	if err != nil {
		return nil, fmt.Errorf("maps listings: %w", err)
	}
	cards, err := parseCards(raw)
	if err != nil {
		return nil, err
	}
	city, _, _ := strings.Cut(location, ",")
	businesses := source.Normalize(cards, query, strings.TrimSpace(city), maxResults)

	for i := range businesses {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("maps details: %w", ctx.Err())
		}
		placeURL := businesses[i].SourceURL
		if placeURL == "" {
			continue
		}
		info, err := d.contact(ctx, placeURL)
		if err != nil {
			d.logger.Debug("place details failed", zap.String("name", businesses[i].Name), zap.Error(err))
			continue
		}
		if info.Website != "" {
			businesses[i].Website = info.Website
		}
		if info.Email != "" {
			businesses[i].Email = source.CleanEmail(info.Email)
		}
		if info.Phone != "" {
			businesses[i].Phone = source.CleanPhone(info.Phone)
		}
		d.pause(ctx)
	}
	return businesses, nil
}

// SearchURL builds the search address for query and location.
func (d *Discoverer) SearchURL(query, location string) string {
	q := strings.TrimSpace(query)
	if loc := strings.TrimSpace(location); loc != "" {
		q += " in " + loc
	}
	return d.cfg.BaseURL + url.QueryEscape(q)
}

func (d *Discoverer) contact(ctx context.Context, placeURL string) (contactInfo, error) {
	payload, err := d.page.Contact(ctx, placeURL)
	if err != nil {
		return contactInfo{}, err
	}
	var info contactInfo
	if strings.TrimSpace(payload) == "" {
		return info, nil
	}
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return contactInfo{}, fmt.Errorf("decode contact: %w", err)
	}
	return info, nil
}

func (d *Discoverer) pause(ctx context.Context) {
	wait := d.cfg.DelayMin
	if spread := d.cfg.DelayMax - d.cfg.DelayMin; spread > 0 {
		wait += rand.N(spread)
	}
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func parseCards(raw string) ([]prospect.Business, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("maps listings: empty feed")
	}
	var cards []rawCard
	if err := json.Unmarshal([]byte(raw), &cards); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	out := make([]prospect.Business, 0, len(cards))
	for _, c := range cards {
		out = append(out, prospect.Business{
			Name:      c.Name,
			Category:  c.Category,
			Address:   c.Address,
			Rating:    source.ParseRating(c.Rating),
			Reviews:   source.ParseReviews(c.Reviews),
			SourceURL: c.URL,
		})
	}
	return out, nil
}
