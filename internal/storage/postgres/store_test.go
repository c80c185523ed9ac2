package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

var zoneCols = []string{
	"id", "source", "category", "location_name", "priority_score", "is_locked",
	"last_processed_at", "times_processed", "total_leads_found",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS zones").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, Migrate(context.Background(), mock))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneStoreListEligible(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewZoneStore(mock)
	require.NoError(t, err)

	cutoff := time.Date(2024, 4, 30, 12, 0, 0, 0, time.UTC)
	seen := cutoff.Add(-48 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY priority_score DESC, id ASC")).
		WithArgs(cutoff, 2).
		WillReturnRows(pgxmock.NewRows(zoneCols).
			AddRow(int64(1), "maps", "plumber", "Austin, TX", 500, false, (*time.Time)(nil), 0, 0).
			AddRow(int64(3), "maps", "dentist", "Austin, TX", 200, false, &seen, 4, 12))

	zones, err := store.ListEligible(context.Background(), cutoff, 2)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, int64(1), zones[0].ID)
	assert.Nil(t, zones[0].LastProcessedAt)
	assert.Equal(t, 12, zones[1].TotalLeadsFound)
	require.NotNil(t, zones[1].LastProcessedAt)
	assert.Equal(t, seen, *zones[1].LastProcessedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneStoreTryLock(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewZoneStore(mock)
	require.NoError(t, err)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	lockSQL := regexp.QuoteMeta("UPDATE zones SET is_locked = true, last_processed_at = $2 WHERE id = $1 AND is_locked = false")
	mock.ExpectExec(lockSQL).WithArgs(int64(7), at).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(lockSQL).WithArgs(int64(7), at).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := store.TryLock(context.Background(), 7, at)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.TryLock(context.Background(), 7, at)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneStoreUnlock(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewZoneStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE zones").
		WithArgs(int64(7), 3, 115).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE zones").
		WithArgs(int64(8), 0, 90).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, store.Unlock(context.Background(), 7, prospect.ZoneOutcome{PriorityScore: 115, LeadsFound: 3}))
	err = store.Unlock(context.Background(), 8, prospect.ZoneOutcome{PriorityScore: 90})
	require.ErrorIs(t, err, prospect.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneStoreUnlockStale(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewZoneStore(mock)
	require.NoError(t, err)
	cutoff := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("WHERE is_locked = true AND last_processed_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	n, err := store.UnlockStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneStoreGet(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewZoneStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("FROM zones WHERE id").WithArgs(int64(42)).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("FROM zones WHERE id").WithArgs(int64(43)).WillReturnError(errors.New("boom"))

	_, err = store.Get(context.Background(), 42)
	require.ErrorIs(t, err, prospect.ErrNotFound)
	_, err = store.Get(context.Background(), 43)
	require.Error(t, err)
	assert.NotErrorIs(t, err, prospect.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZoneStoreCreateReturnsRow(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewZoneStore(mock)
	require.NoError(t, err)

	mock.ExpectQuery("INSERT INTO zones").
		WithArgs("maps", "plumber", "Austin, TX", 0).
		WillReturnRows(pgxmock.NewRows(zoneCols).
			AddRow(int64(9), "maps", "plumber", "Austin, TX", 0, false, (*time.Time)(nil), 0, 0))

	z, err := store.Create(context.Background(), prospect.Zone{Source: "maps", Category: "plumber", LocationName: "Austin, TX", PriorityScore: -5})
	require.NoError(t, err)
	assert.Equal(t, int64(9), z.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptStoreRecord(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewAttemptStore(mock)
	require.NoError(t, err)

	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	log := prospect.ScrapeAttemptLog{
		ID:           "0190a1b2-0000-7000-8000-000000000001",
		ZoneID:       7,
		Source:       "maps",
		Category:     "plumber",
		LocationName: "Austin, TX",
		Status:       prospect.AttemptPartial,
		StartTime:    start,
		EndTime:      start.Add(time.Minute),
		LeadsFound:   3,
		LeadsNew:     2,
		ErrorMessage: "upsert acme.example: timeout",
	}
	mock.ExpectExec("INSERT INTO scrape_attempt_logs").
		WithArgs(log.ID, log.ZoneID, log.Source, log.Category, log.LocationName, "partial",
			log.StartTime, log.EndTime, 3, 2, 0, log.ErrorMessage).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordAttempt(context.Background(), log))
	require.Error(t, store.RecordAttempt(context.Background(), prospect.ScrapeAttemptLog{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttemptStoreList(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewAttemptStore(mock)
	require.NoError(t, err)
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM scrape_attempt_logs").
		WithArgs(int64(0), 50).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "zone_id", "source", "category", "location_name", "status",
			"start_time", "end_time", "leads_found", "leads_new", "leads_enriched", "error_message",
		}).AddRow("a1", int64(7), "maps", "plumber", "Austin, TX", "failed", start, start, 0, 0, 0, "discover: timeout"))

	logs, err := store.ListAttempts(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, prospect.AttemptFailed, logs[0].Status)
	assert.False(t, logs[0].Succeeded())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeadStore(t *testing.T) {
	t.Parallel()

	mock := newMock(t)
	store, err := NewLeadStore(mock)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	lead := prospect.Lead{
		ID:           "0190a1b2-0000-7000-8000-000000000002",
		UniqueKey:    "3f2a",
		ContentHash:  "hash",
		BusinessName: "Acme Plumbing",
		WebsiteURL:   "https://acme.example",
		Category:     "plumber",
		Score:        40,
		Sources:      []string{"maps"},
		LastSeenAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	t.Run("insert and duplicate", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO leads").WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectExec("INSERT INTO leads").WillReturnResult(pgxmock.NewResult("INSERT", 0))

		ok, err := store.Insert(ctx, lead)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = store.Insert(ctx, lead)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("get by key", func(t *testing.T) {
		mock.ExpectQuery("FROM leads WHERE unique_key").
			WithArgs("3f2a").
			WillReturnRows(pgxmock.NewRows([]string{
				"id", "unique_key", "content_hash", "business_name", "website_url", "phone", "email",
				"address", "city", "category", "score", "sources", "last_seen_at", "created_at", "updated_at",
			}).AddRow(lead.ID, lead.UniqueKey, lead.ContentHash, lead.BusinessName, lead.WebsiteURL,
				"", "", "", "", lead.Category, 40, []string{"maps"}, now, now, now))
		mock.ExpectQuery("FROM leads WHERE unique_key").WithArgs("missing").WillReturnError(pgx.ErrNoRows)

		got, err := store.GetByKey(ctx, "3f2a")
		require.NoError(t, err)
		assert.Equal(t, lead, got)
		_, err = store.GetByKey(ctx, "missing")
		require.ErrorIs(t, err, prospect.ErrNotFound)
	})

	t.Run("update and touch", func(t *testing.T) {
		mock.ExpectExec("UPDATE leads SET").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE leads SET last_seen_at = $2, sources = $3")).
			WithArgs("3f2a", now, []string{"maps", "yelp"}).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		require.NoError(t, store.Update(ctx, lead))
		err := store.Touch(ctx, "3f2a", now, []string{"maps", "yelp"})
		require.ErrorIs(t, err, prospect.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConstructorsRejectNil(t *testing.T) {
	t.Parallel()

	_, err := NewZoneStore(nil)
	require.Error(t, err)
	_, err = NewAttemptStore(nil)
	require.Error(t, err)
	_, err = NewLeadStore(nil)
	require.Error(t, err)

	_, err = Open(context.Background(), Config{})
	require.Error(t, err)
}
