// Package static serves a fixed business list from configuration, for seeding
// and offline runs.
package static

import (
	"context"
	"strings"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
	"github.com/JakeFAU/prospect-crawler/internal/source"
)

// Discoverer returns configured businesses matching the query and location.
type Discoverer struct {
	name  string
	items []prospect.Business
}

// New builds a static Discoverer.
func New(name string, items []prospect.Business) *Discoverer {
	return &Discoverer{name: name, items: append([]prospect.Business(nil), items...)}
}

// Name implements prospect.Discoverer.
func (d *Discoverer) Name() string { return d.name }

// Discover filters by category (query) and city (first part of location).
// Entries without a category or city match any.
func (d *Discoverer) Discover(ctx context.Context, query, location string, maxResults int) ([]prospect.Business, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	city, _, _ := strings.Cut(location, ",")
	city = strings.TrimSpace(city)
	var out []prospect.Business
	for _, b := range d.items {
		if !matches(b.Category, query) || !matches(b.City, city) {
			continue
		}
		out = append(out, b)
	}
	return source.Normalize(out, query, city, maxResults), nil
}

func matches(have, want string) bool {
	return have == "" || want == "" || strings.EqualFold(strings.TrimSpace(have), want)
}
