// Package dedup merges discovered businesses into one lead per website.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/hash/sha256"
	"github.com/JakeFAU/prospect-crawler/internal/metrics"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// ErrNoWebsite is returned for businesses without a usable website.
var ErrNoWebsite = errors.New("business has no website")

// uniqueKeyLen is the number of hex characters kept from the identity digest.
const uniqueKeyLen = 32

// fieldSep separates hashed fields so ("ab","c") and ("a","bc") differ.
const fieldSep = "\x1f"

// MXChecker reports whether a mail domain accepts mail.
type MXChecker interface {
	HasMX(ctx context.Context, domain string) (bool, error)
}

// Outcome describes what an upsert did.
type Outcome struct {
	LeadID   string
	Created  bool
	Enriched bool
}

// Config wires optional collaborators.
type Config struct {
	// Topic receives a prospect.LeadEvent for every created or enriched lead.
	Topic string
	// MX drops scraped emails whose domain has no MX record when set.
	MX MXChecker
	// Hasher digests lead identity and content. Defaults to SHA-256.
	Hasher prospect.Hasher
}

// Deduplicator upserts leads.
type Deduplicator struct {
	leads  prospect.LeadStore
	ids    prospect.IDGenerator
	clock  prospect.Clock
	pub    prospect.Publisher
	cfg    Config
	logger *zap.Logger
}

// New constructs a Deduplicator. pub may be nil.
func New(
	leads prospect.LeadStore,
	ids prospect.IDGenerator,
	clock prospect.Clock,
	pub prospect.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = prospect.TopicLeadUpserted
	}
	if cfg.Hasher == nil {
		cfg.Hasher = sha256.New()
	}
	return &Deduplicator{leads: leads, ids: ids, clock: clock, pub: pub, cfg: cfg, logger: logger.Named("dedup")}
}

// CanonicalDomain reduces a website URL to its bare lower-case host.
func CanonicalDomain(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", ErrNoWebsite
	}
	if !strings.Contains(s, "://") {
		s = "http://" + strings.TrimPrefix(s, "//")
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", fmt.Errorf("parse website %q: %w", raw, err)
	}
	host := strings.TrimSuffix(u.Hostname(), ".")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", fmt.Errorf("website %q: %w", raw, ErrNoWebsite)
	}
	return host, nil
}

// UniqueKey derives the lead identity from a canonical domain. Source and
// listing category play no part: one website is one lead.
func UniqueKey(domain string) string {
	key, _ := uniqueKey(sha256.New(), domain)
	return key
}

// ContentHash digests the mutable lead fields used for change detection.
func ContentHash(l prospect.Lead) string {
	sum, _ := contentHash(sha256.New(), l)
	return sum
}

func uniqueKey(h prospect.Hasher, domain string) (string, error) {
	sum, err := h.Hash([]byte(domain))
	if err != nil {
		return "", fmt.Errorf("hash domain %s: %w", domain, err)
	}
	if len(sum) > uniqueKeyLen {
		sum = sum[:uniqueKeyLen]
	}
	return sum, nil
}

func contentHash(h prospect.Hasher, l prospect.Lead) (string, error) {
	fields := []string{
		l.BusinessName,
		l.WebsiteURL,
		l.Phone,
		l.Email,
		l.Address,
		l.City,
		l.Category,
		strconv.Itoa(l.Score),
	}
	sum, err := h.Hash([]byte(strings.Join(fields, fieldSep)))
	if err != nil {
		return "", fmt.Errorf("hash lead content: %w", err)
	}
	return sum, nil
}

// Upsert stores the business as a lead and reports whether an existing lead changed.
func (d *Deduplicator) Upsert(
	ctx context.Context,
	business prospect.Business,
	assessment prospect.SiteAssessment,
	source string,
) (string, bool, error) {
	out, err := d.UpsertLead(ctx, business, assessment, source)
	if err != nil {
		return "", false, err
	}
	return out.LeadID, out.Enriched, nil
}

// UpsertLead is Upsert with the created/enriched distinction kept.
func (d *Deduplicator) UpsertLead(
	ctx context.Context,
	business prospect.Business,
	assessment prospect.SiteAssessment,
	source string,
) (Outcome, error) {
	domain, err := CanonicalDomain(business.Website)
	if err != nil {
		return Outcome{}, err
	}
	now := d.clock.Now()
	incoming := d.leadFrom(ctx, business, assessment)
	if incoming.UniqueKey, err = uniqueKey(d.cfg.Hasher, domain); err != nil {
		return Outcome{}, err
	}
	if incoming.ContentHash, err = contentHash(d.cfg.Hasher, incoming); err != nil {
		return Outcome{}, err
	}

	existing, err := d.leads.GetByKey(ctx, incoming.UniqueKey)
	if errors.Is(err, prospect.ErrNotFound) {
		out, inserted, insErr := d.insert(ctx, incoming, source, now)
		if insErr != nil || inserted {
			return out, insErr
		}
		// Lost an insert race; merge into the winner.
		existing, err = d.leads.GetByKey(ctx, incoming.UniqueKey)
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load lead %s: %w", incoming.UniqueKey, err)
	}
	return d.merge(ctx, existing, incoming, source, now)
}

func (d *Deduplicator) insert(ctx context.Context, lead prospect.Lead, source string, now time.Time) (Outcome, bool, error) {
	id, err := d.ids.NewID()
	if err != nil {
		return Outcome{}, false, fmt.Errorf("lead id: %w", err)
	}
	lead.ID = id
	lead.Sources = []string{source}
	lead.LastSeenAt = now
	lead.CreatedAt = now
	lead.UpdatedAt = now
	ok, err := d.leads.Insert(ctx, lead)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("insert lead %s: %w", lead.UniqueKey, err)
	}
	if !ok {
		return Outcome{}, false, nil
	}
	metrics.ObserveLead("created")
	d.publish(ctx, lead, source, true, false, now)
	return Outcome{LeadID: id, Created: true}, true, nil
}

func (d *Deduplicator) merge(ctx context.Context, existing, incoming prospect.Lead, source string, now time.Time) (Outcome, error) {
	merged := existing
	merged.BusinessName = prefer(incoming.BusinessName, existing.BusinessName)
	merged.WebsiteURL = prefer(incoming.WebsiteURL, existing.WebsiteURL)
	merged.Phone = prefer(incoming.Phone, existing.Phone)
	merged.Email = prefer(incoming.Email, existing.Email)
	merged.Address = prefer(incoming.Address, existing.Address)
	merged.City = prefer(incoming.City, existing.City)
	merged.Category = prefer(existing.Category, incoming.Category)
	merged.Score = incoming.Score
	hash, err := contentHash(d.cfg.Hasher, merged)
	if err != nil {
		return Outcome{}, err
	}
	merged.ContentHash = hash
	merged.Sources = addSource(existing.Sources, source)
	merged.LastSeenAt = now

	if merged.ContentHash == existing.ContentHash {
		if err := d.leads.Touch(ctx, existing.UniqueKey, now, merged.Sources); err != nil {
			return Outcome{}, fmt.Errorf("touch lead %s: %w", existing.UniqueKey, err)
		}
		metrics.ObserveLead("unchanged")
		return Outcome{LeadID: existing.ID}, nil
	}

	merged.UpdatedAt = now
	if err := d.leads.Update(ctx, merged); err != nil {
		return Outcome{}, fmt.Errorf("update lead %s: %w", existing.UniqueKey, err)
	}
	metrics.ObserveLead("enriched")
	d.publish(ctx, merged, source, false, true, now)
	return Outcome{LeadID: existing.ID, Enriched: true}, nil
}

// leadFrom copies the business fields. The category is the first one seen
// for the website and never changes the lead identity.
func (d *Deduplicator) leadFrom(ctx context.Context, b prospect.Business, a prospect.SiteAssessment) prospect.Lead {
	return prospect.Lead{
		BusinessName: strings.TrimSpace(b.Name),
		WebsiteURL:   strings.TrimSpace(b.Website),
		Phone:        strings.TrimSpace(b.Phone),
		Email:        d.usableEmail(ctx, b.Email),
		Address:      strings.TrimSpace(b.Address),
		City:         strings.TrimSpace(b.City),
		Category:     normalizeCategory(b.Category),
		Score:        a.OverallScore,
	}
}

// usableEmail drops addresses whose domain provably has no MX. Lookup
// failures keep the address.
func (d *Deduplicator) usableEmail(ctx context.Context, email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || d.cfg.MX == nil {
		return email
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	ok, err := d.cfg.MX.HasMX(ctx, email[at+1:])
	if err != nil {
		d.logger.Debug("mx lookup failed", zap.String("email", email), zap.Error(err))
		return email
	}
	if !ok {
		return ""
	}
	return email
}

func (d *Deduplicator) publish(ctx context.Context, l prospect.Lead, source string, created, enriched bool, at time.Time) {
	if d.pub == nil {
		return
	}
	event := prospect.LeadEvent{
		LeadID:       l.ID,
		UniqueKey:    l.UniqueKey,
		BusinessName: l.BusinessName,
		WebsiteURL:   l.WebsiteURL,
		Category:     l.Category,
		Score:        l.Score,
		Source:       source,
		Created:      created,
		Enriched:     enriched,
		At:           at,
	}
	if _, err := d.pub.Publish(ctx, d.cfg.Topic, event); err != nil {
		d.logger.Warn("publish lead event failed", zap.String("unique_key", l.UniqueKey), zap.Error(err))
	}
}

func normalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

func prefer(incoming, existing string) string {
	if incoming != "" {
		return incoming
	}
	return existing
}

func addSource(sources []string, source string) []string {
	out := append([]string(nil), sources...)
	for _, s := range out {
		if s == source {
			sort.Strings(out)
			return out
		}
	}
	out = append(out, source)
	sort.Strings(out)
	return out
}
