package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/clock/system"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
	"github.com/JakeFAU/prospect-crawler/internal/storage/memory"
)

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newScheduler(t *testing.T, zones ...prospect.Zone) (*Scheduler, *memory.ZoneStore, *system.Frozen) {
	t.Helper()
	store := memory.NewZoneStore()
	for _, z := range zones {
		_, err := store.Create(context.Background(), z)
		require.NoError(t, err)
	}
	clock := system.NewFrozen(epoch)
	return New(store, clock, Config{}, zap.NewNop()), store, clock
}

func TestReprioritize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current int
		leads   int
		success bool
		want    int
	}{
		{"leads add five each", 100, 3, true, 115},
		{"cap at max", 990, 10, true, 1000},
		{"above cap untouched", 1200, 4, true, 1200},
		{"empty success", 100, 0, true, 90},
		{"empty success floor", 5, 0, true, 0},
		{"failure", 100, 7, false, 75},
		{"failure floor", 20, 0, false, 0},
		{"failure above cap", 1200, 0, false, 1175},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Reprioritize(tt.current, tt.leads, tt.success))
		})
	}
}

func TestReprioritizeNeverNegative(t *testing.T) {
	t.Parallel()

	for current := 0; current <= 1100; current += 7 {
		for leads := 0; leads < 5; leads++ {
			for _, ok := range []bool{true, false} {
				got := Reprioritize(current, leads, ok)
				require.GreaterOrEqual(t, got, 0)
				if current <= MaxPriority {
					require.LessOrEqual(t, got, MaxPriority)
				}
			}
		}
	}
}

func TestSelectZonesRespectsRevisitInterval(t *testing.T) {
	t.Parallel()

	hourAgo := epoch.Add(-time.Hour)
	dayAndAHalfAgo := epoch.Add(-30 * time.Hour)
	s, _, _ := newScheduler(t,
		prospect.Zone{ID: 1, Source: "maps", Category: "a", LocationName: "x", PriorityScore: 50},
		prospect.Zone{ID: 2, Source: "maps", Category: "b", LocationName: "x", PriorityScore: 80, LastProcessedAt: &hourAgo},
		prospect.Zone{ID: 3, Source: "maps", Category: "c", LocationName: "x", PriorityScore: 30, LastProcessedAt: &dayAndAHalfAgo},
	)

	zones, err := s.SelectZones(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, int64(1), zones[0].ID, "never processed, higher score first")
	assert.Equal(t, int64(3), zones[1].ID, "processed 30h ago is due again")
}

func TestSelectZonesOrdering(t *testing.T) {
	t.Parallel()

	recent := epoch.Add(-time.Hour)
	s, _, _ := newScheduler(t,
		prospect.Zone{ID: 1, Source: "maps", Category: "a", LocationName: "x", PriorityScore: 500},
		prospect.Zone{ID: 2, Source: "maps", Category: "b", LocationName: "x", PriorityScore: 900, IsLocked: true},
		prospect.Zone{ID: 3, Source: "maps", Category: "c", LocationName: "x", PriorityScore: 300},
		prospect.Zone{ID: 4, Source: "maps", Category: "d", LocationName: "x", PriorityScore: 800, LastProcessedAt: &recent},
		prospect.Zone{ID: 5, Source: "maps", Category: "e", LocationName: "x", PriorityScore: 100},
	)

	zones, err := s.SelectZones(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, int64(1), zones[0].ID)
	assert.Equal(t, int64(3), zones[1].ID)

	zones, err = s.SelectZones(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, zones)
}

func TestSelectZonesTieBreaksOnID(t *testing.T) {
	t.Parallel()

	s, _, _ := newScheduler(t,
		prospect.Zone{ID: 9, Source: "maps", Category: "a", LocationName: "x", PriorityScore: 100},
		prospect.Zone{ID: 4, Source: "maps", Category: "b", LocationName: "x", PriorityScore: 100},
	)
	zones, err := s.SelectZones(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, []int64{4, 9}, []int64{zones[0].ID, zones[1].ID})
}

func TestLeaseIsExclusive(t *testing.T) {
	t.Parallel()

	s, _, _ := newScheduler(t, prospect.Zone{ID: 1, Source: "maps", Category: "a", LocationName: "x", PriorityScore: 100})

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Lease(context.Background(), 1)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	zones, err := s.SelectZones(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, zones, "leased zone is not eligible")
}

func TestReleaseUpdatesZone(t *testing.T) {
	t.Parallel()

	s, store, _ := newScheduler(t, prospect.Zone{ID: 1, Source: "maps", Category: "a", LocationName: "x", PriorityScore: 100, TotalLeadsFound: 4})
	ctx := context.Background()

	ok, err := s.Lease(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)

	zone, err := s.Release(ctx, 1, 3, true)
	require.NoError(t, err)
	assert.Equal(t, 115, zone.PriorityScore)

	stored, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.False(t, stored.IsLocked)
	assert.Equal(t, 1, stored.TimesProcessed)
	assert.Equal(t, 7, stored.TotalLeadsFound)
	assert.Equal(t, 115, stored.PriorityScore)
	require.NotNil(t, stored.LastProcessedAt)
	assert.Equal(t, epoch, *stored.LastProcessedAt)

	_, err = s.Release(ctx, 99, 0, false)
	require.ErrorIs(t, err, prospect.ErrNotFound)
}

func TestReleaseAfterFailurePenalizes(t *testing.T) {
	t.Parallel()

	s, store, _ := newScheduler(t, prospect.Zone{ID: 1, Source: "maps", Category: "a", LocationName: "x", PriorityScore: 100})
	ctx := context.Background()
	_, err := s.Lease(ctx, 1)
	require.NoError(t, err)
	_, err = s.Release(ctx, 1, 0, false)
	require.NoError(t, err)

	z, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 75, z.PriorityScore)
	assert.Equal(t, 1, z.TimesProcessed)
}

func TestRecoverStuck(t *testing.T) {
	t.Parallel()

	s, store, clock := newScheduler(t,
		prospect.Zone{ID: 1, Source: "maps", Category: "a", LocationName: "x", PriorityScore: 100},
		prospect.Zone{ID: 2, Source: "maps", Category: "b", LocationName: "x", PriorityScore: 100},
	)
	ctx := context.Background()

	_, err := s.Lease(ctx, 1)
	require.NoError(t, err)
	clock.Advance(2*time.Hour + time.Minute)
	_, err = s.Lease(ctx, 2)
	require.NoError(t, err)

	n, err := s.RecoverStuck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	z1, _ := store.Get(ctx, 1)
	z2, _ := store.Get(ctx, 2)
	assert.False(t, z1.IsLocked)
	assert.Equal(t, 100, z1.PriorityScore, "recovery carries no penalty")
	assert.Equal(t, 0, z1.TimesProcessed)
	assert.True(t, z2.IsLocked)
}

type failingStore struct {
	prospect.ZoneStore
}

func (failingStore) ListEligible(context.Context, time.Time, int) ([]prospect.Zone, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) UnlockStale(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	t.Parallel()

	s := New(failingStore{}, system.NewFrozen(epoch), Config{}, nil)
	_, err := s.SelectZones(context.Background(), 3)
	require.ErrorContains(t, err, "select zones")
	_, err = s.RecoverStuck(context.Background())
	require.ErrorContains(t, err, "recover stuck zones")
}
