package source

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

var nonDigit = regexp.MustCompile(`\D`)

// Normalize trims fields, fills the fallback category and city, drops
// nameless entries and collapses duplicates by name and address.
func Normalize(items []prospect.Business, category, city string, limit int) []prospect.Business {
	seen := make(map[string]int, len(items))
	out := make([]prospect.Business, 0, len(items))
	for _, b := range items {
		b = trim(b)
		if b.Name == "" {
			continue
		}
		if b.Category == "" {
			b.Category = category
		}
		if b.City == "" {
			b.City = city
		}
		key := businessKey(b)
		if idx, dup := seen[key]; dup {
			out[idx] = fill(out[idx], b)
			continue
		}
		if limit > 0 && len(out) >= limit {
			continue
		}
		seen[key] = len(out)
		out = append(out, b)
	}
	return out
}

// ParseRating reads "4,7" or "4.7".
func ParseRating(value string) float64 {
	value = strings.ReplaceAll(strings.TrimSpace(value), ",", ".")
	if value == "" {
		return 0
	}
	r, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return r
}

// ParseReviews reads counts like "(1,234)".
func ParseReviews(value string) int {
	n, err := strconv.Atoi(nonDigit.ReplaceAllString(value, ""))
	if err != nil {
		return 0
	}
	return n
}

// CleanEmail strips a mailto: prefix and query.
func CleanEmail(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(strings.TrimPrefix(v, "mailto:"), "MAILTO:")
	if i := strings.IndexByte(v, '?'); i >= 0 {
		v = v[:i]
	}
	return strings.ToLower(v)
}

// CleanPhone strips a tel: prefix.
func CleanPhone(v string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "tel:"))
}

func businessKey(b prospect.Business) string {
	addr := strings.ToLower(b.Address)
	if addr == "" {
		addr = strings.ToLower(b.Website)
	}
	return strings.ToLower(b.Name) + "|" + addr
}

func trim(b prospect.Business) prospect.Business {
	b.Name = strings.TrimSpace(b.Name)
	b.Category = strings.TrimSpace(b.Category)
	b.Address = strings.TrimSpace(b.Address)
	b.City = strings.TrimSpace(b.City)
	b.Phone = CleanPhone(b.Phone)
	b.Email = CleanEmail(b.Email)
	b.Website = strings.TrimSpace(b.Website)
	b.SourceURL = strings.TrimSpace(b.SourceURL)
	return b
}

func fill(a, b prospect.Business) prospect.Business {
	if a.Address == "" {
		a.Address = b.Address
	}
	if a.Phone == "" {
		a.Phone = b.Phone
	}
	if a.Email == "" {
		a.Email = b.Email
	}
	if a.Website == "" {
		a.Website = b.Website
	}
	if a.Rating == 0 {
		a.Rating = b.Rating
	}
	if a.Reviews == 0 {
		a.Reviews = b.Reviews
	}
	return a
}
