package dedup

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	googleuuid "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/clock/system"
	"github.com/JakeFAU/prospect-crawler/internal/id/uuid"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
	pubmemory "github.com/JakeFAU/prospect-crawler/internal/publisher/memory"
	"github.com/JakeFAU/prospect-crawler/internal/storage/memory"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	dedup *Deduplicator
	leads *memory.LeadStore
	pub   *pubmemory.Publisher
	clock *system.Frozen
}

func newFixture(cfg Config) fixture {
	leads := memory.NewLeadStore()
	pub := pubmemory.New()
	clock := system.NewFrozen(epoch)
	return fixture{
		dedup: New(leads, uuid.New(), clock, pub, cfg, zap.NewNop()),
		leads: leads,
		pub:   pub,
		clock: clock,
	}
}

func acme() prospect.Business {
	return prospect.Business{
		Name:     "Acme Plumbing",
		Category: "Plumber",
		Website:  "https://www.acme.example/",
		Phone:    "+1 512 555 0100",
		City:     "Austin",
	}
}

func TestCanonicalDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://www.Acme.example/contact", "acme.example"},
		{"http://acme.example:8080", "acme.example"},
		{"ACME.example.", "acme.example"},
		{"//www.acme.example", "acme.example"},
		{"  https://shop.acme.example  ", "shop.acme.example"},
	}
	for _, tt := range tests {
		got, err := CanonicalDomain(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := CanonicalDomain("  ")
	require.ErrorIs(t, err, ErrNoWebsite)
	_, err = CanonicalDomain("https://")
	require.ErrorIs(t, err, ErrNoWebsite)
}

func TestUniqueKey(t *testing.T) {
	t.Parallel()

	key := UniqueKey("acme.example")
	assert.Len(t, key, 32)
	assert.Equal(t, key, UniqueKey("acme.example"))
	assert.NotEqual(t, key, UniqueKey("acme.example.org"))
}

func TestUpsertSameDomainDifferentCategoriesIsOneLead(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	ctx := context.Background()
	assessment := prospect.SiteAssessment{OverallScore: 70}

	first := prospect.Business{Name: "Luigi's", Category: "Pizza restaurant", Website: "https://luigi.example"}
	out1, err := f.dedup.UpsertLead(ctx, first, assessment, "maps")
	require.NoError(t, err)
	assert.True(t, out1.Created)

	second := prospect.Business{Name: "Luigi's", Category: "restaurants", Website: "luigi.example", Phone: "+1 512 555 0199"}
	out2, err := f.dedup.UpsertLead(ctx, second, assessment, "yellowpages")
	require.NoError(t, err)
	assert.False(t, out2.Created)
	assert.Equal(t, out1.LeadID, out2.LeadID)

	assert.Equal(t, 1, f.leads.Len())
	lead, err := f.leads.GetByKey(ctx, UniqueKey("luigi.example"))
	require.NoError(t, err)
	assert.Equal(t, "pizza restaurant", lead.Category, "first category is kept")
	assert.Equal(t, "+1 512 555 0199", lead.Phone)
	assert.Equal(t, []string{"maps", "yellowpages"}, lead.Sources)
}

// prefixHasher tags digests so tests can see which hasher ran.
type prefixHasher struct{ err error }

func (h prefixHasher) Hash(data []byte) (string, error) {
	if h.err != nil {
		return "", h.err
	}
	return "h:" + string(data), nil
}

func TestUpsertUsesConfiguredHasher(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Hasher: prefixHasher{}})
	_, err := f.dedup.UpsertLead(context.Background(), acme(), prospect.SiteAssessment{}, "maps")
	require.NoError(t, err)

	lead, err := f.leads.GetByKey(context.Background(), "h:acme.example")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(lead.ContentHash, "h:Acme Plumbing"))
}

func TestUpsertHasherFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{Hasher: prefixHasher{err: errors.New("no entropy")}})
	_, err := f.dedup.UpsertLead(context.Background(), acme(), prospect.SiteAssessment{}, "maps")
	require.ErrorContains(t, err, "no entropy")
	assert.Equal(t, 0, f.leads.Len())
}

func TestUpsertCreatesLead(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	out, err := f.dedup.UpsertLead(context.Background(), acme(), prospect.SiteAssessment{OverallScore: 40}, "maps")
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.False(t, out.Enriched)
	require.NoError(t, googleuuid.Validate(out.LeadID))

	lead, err := f.leads.GetByKey(context.Background(), UniqueKey("acme.example"))
	require.NoError(t, err)
	assert.Equal(t, out.LeadID, lead.ID)
	assert.Equal(t, []string{"maps"}, lead.Sources)
	assert.Equal(t, "plumber", lead.Category)
	assert.Equal(t, 40, lead.Score)
	assert.Equal(t, epoch, lead.CreatedAt)
	assert.Equal(t, ContentHash(lead), lead.ContentHash)

	events := f.pub.ByTopic(prospect.TopicLeadUpserted)
	require.Len(t, events, 1)
	ev, ok := events[0].(prospect.LeadEvent)
	require.True(t, ok)
	assert.True(t, ev.Created)
	assert.Equal(t, "maps", ev.Source)
}

func TestUpsertIsIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	ctx := context.Background()
	assessment := prospect.SiteAssessment{OverallScore: 40}

	id1, enriched, err := f.dedup.Upsert(ctx, acme(), assessment, "maps")
	require.NoError(t, err)
	assert.False(t, enriched)
	before, err := f.leads.GetByKey(ctx, UniqueKey("acme.example"))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	id2, enriched, err := f.dedup.Upsert(ctx, acme(), assessment, "maps")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.False(t, enriched)

	after, err := f.leads.GetByKey(ctx, UniqueKey("acme.example"))
	require.NoError(t, err)
	assert.Equal(t, before.ContentHash, after.ContentHash)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Equal(t, epoch.Add(time.Hour), after.LastSeenAt)
	assert.Equal(t, []string{"maps"}, after.Sources)
	assert.Equal(t, 1, f.leads.Len())
	assert.Len(t, f.pub.Messages(), 1, "unchanged upsert publishes nothing")
}

func TestUpsertMergesAcrossSources(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	ctx := context.Background()
	assessment := prospect.SiteAssessment{OverallScore: 40}

	_, _, err := f.dedup.Upsert(ctx, acme(), assessment, "maps")
	require.NoError(t, err)

	second := prospect.Business{
		Name:     "Acme Plumbing",
		Category: "plumber",
		Website:  "acme.example",
		Email:    "office@acme.example",
	}
	_, enriched, err := f.dedup.Upsert(ctx, second, assessment, "yelp")
	require.NoError(t, err)
	assert.True(t, enriched)

	lead, err := f.leads.GetByKey(ctx, UniqueKey("acme.example"))
	require.NoError(t, err)
	assert.Equal(t, "+1 512 555 0100", lead.Phone, "existing phone survives an empty incoming phone")
	assert.Equal(t, "office@acme.example", lead.Email)
	assert.Equal(t, "Austin", lead.City)
	assert.Equal(t, []string{"maps", "yelp"}, lead.Sources)
	assert.Equal(t, epoch, lead.CreatedAt)
	assert.Equal(t, 1, f.leads.Len())
}

func TestUpsertScoreChangeEnriches(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	ctx := context.Background()
	_, _, err := f.dedup.Upsert(ctx, acme(), prospect.SiteAssessment{OverallScore: 40}, "maps")
	require.NoError(t, err)
	_, enriched, err := f.dedup.Upsert(ctx, acme(), prospect.SiteAssessment{OverallScore: 55}, "maps")
	require.NoError(t, err)
	assert.True(t, enriched)

	lead, err := f.leads.GetByKey(ctx, UniqueKey("acme.example"))
	require.NoError(t, err)
	assert.Equal(t, 55, lead.Score)
}

func TestUpsertWithoutWebsite(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	b := acme()
	b.Website = ""
	_, _, err := f.dedup.Upsert(context.Background(), b, prospect.SiteAssessment{}, "maps")
	require.ErrorIs(t, err, ErrNoWebsite)
	assert.Equal(t, 0, f.leads.Len())
}

// racingStore reports a miss on the first read, then loses the insert.
type racingStore struct {
	*memory.LeadStore
	missed bool
}

func (r *racingStore) GetByKey(ctx context.Context, key string) (prospect.Lead, error) {
	if !r.missed {
		r.missed = true
		return prospect.Lead{}, prospect.ErrNotFound
	}
	return r.LeadStore.GetByKey(ctx, key)
}

func TestUpsertLostInsertRaceMerges(t *testing.T) {
	t.Parallel()

	inner := memory.NewLeadStore()
	winner := prospect.Lead{ID: "winner", UniqueKey: UniqueKey("acme.example"), Category: "plumber", Sources: []string{"yelp"}}
	winner.ContentHash = ContentHash(winner)
	_, err := inner.Insert(context.Background(), winner)
	require.NoError(t, err)

	d := New(&racingStore{LeadStore: inner}, uuid.New(), system.NewFrozen(epoch), nil, Config{}, nil)
	out, err := d.UpsertLead(context.Background(), acme(), prospect.SiteAssessment{OverallScore: 40}, "maps")
	require.NoError(t, err)
	assert.Equal(t, "winner", out.LeadID)
	assert.True(t, out.Enriched)

	lead, err := inner.GetByKey(context.Background(), winner.UniqueKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"maps", "yelp"}, lead.Sources)
}

type stubMX map[string]bool

func (s stubMX) HasMX(_ context.Context, domain string) (bool, error) {
	ok, known := s[domain]
	if !known {
		return false, errors.New("servfail")
	}
	return ok, nil
}

func TestUpsertDropsUndeliverableEmail(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{MX: stubMX{"acme.example": false, "mail.example": true}})
	ctx := context.Background()

	b := acme()
	b.Email = "Office@Acme.example"
	_, err := f.dedup.UpsertLead(ctx, b, prospect.SiteAssessment{}, "maps")
	require.NoError(t, err)
	lead, err := f.leads.GetByKey(ctx, UniqueKey("acme.example"))
	require.NoError(t, err)
	assert.Empty(t, lead.Email)

	b.Email = "office@mail.example"
	_, err = f.dedup.UpsertLead(ctx, b, prospect.SiteAssessment{}, "maps")
	require.NoError(t, err)
	lead, err = f.leads.GetByKey(ctx, UniqueKey("acme.example"))
	require.NoError(t, err)
	assert.Equal(t, "office@mail.example", lead.Email)

	b.Email = "owner@unknown.example"
	_, err = f.dedup.UpsertLead(ctx, b, prospect.SiteAssessment{}, "maps")
	require.NoError(t, err)
	lead, err = f.leads.GetByKey(ctx, UniqueKey("acme.example"))
	require.NoError(t, err)
	assert.Equal(t, "owner@unknown.example", lead.Email, "lookup errors keep the address")
}

func TestPublishFailureDoesNotFailUpsert(t *testing.T) {
	t.Parallel()

	f := newFixture(Config{})
	f.pub.FailWith(errors.New("pubsub down"))
	out, err := f.dedup.UpsertLead(context.Background(), acme(), prospect.SiteAssessment{}, "maps")
	require.NoError(t, err)
	assert.True(t, out.Created)
}
