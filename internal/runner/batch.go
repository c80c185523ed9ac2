package runner

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/prospect-crawler/internal/metrics"
	"github.com/JakeFAU/prospect-crawler/internal/prospect"
)

// BatchResult is what RunBatch observed before returning.
type BatchResult struct {
	Logs []prospect.ScrapeAttemptLog
	// Stragglers are zones still running when the batch ceiling expired.
	// They keep running and release their own leases.
	Stragglers []int64
	// NotStarted are zones never leased because the ceiling expired first.
	NotStarted []int64
	TimedOut   bool
}

// RunBatch runs zones in chunks of concurrency, waiting for each chunk before
// starting the next, and gives up waiting once the batch ceiling passes.
func (r *Runner) RunBatch(ctx context.Context, zones []prospect.Zone, concurrency int) BatchResult {
	if concurrency <= 0 {
		concurrency = 1
	}
	var res BatchResult
	if len(zones) == 0 {
		return res
	}

	ceiling := time.NewTimer(r.cfg.BatchTimeout)
	defer ceiling.Stop()
	results := make(chan prospect.ScrapeAttemptLog, len(zones))

	for start := 0; start < len(zones); start += concurrency {
		chunk := zones[start:min(start+concurrency, len(zones))]
		pending := make(map[int64]struct{}, len(chunk))
		for _, z := range chunk {
			pending[z.ID] = struct{}{}
			go func(z prospect.Zone) {
				results <- r.RunZone(ctx, z)
			}(z)
		}

		for len(pending) > 0 {
			select {
			case log := <-results:
				delete(pending, log.ZoneID)
				res.Logs = append(res.Logs, log)
			case <-ceiling.C:
				r.abandon(&res, pending, zones[start+len(chunk):], "batch ceiling reached")
				return res
			case <-ctx.Done():
				r.abandon(&res, pending, zones[start+len(chunk):], "batch canceled")
				return res
			}
		}
	}
	return res
}

func (r *Runner) abandon(res *BatchResult, pending map[int64]struct{}, rest []prospect.Zone, reason string) {
	res.TimedOut = true
	for id := range pending {
		res.Stragglers = append(res.Stragglers, id)
	}
	slices.Sort(res.Stragglers)
	for _, z := range rest {
		res.NotStarted = append(res.NotStarted, z.ID)
	}
	metrics.ObserveStragglers(len(res.Stragglers))
	r.logger.Warn(reason+"; zones still running",
		zap.Int64s("straggler_zone_ids", res.Stragglers),
		zap.Int64s("not_started_zone_ids", res.NotStarted),
		zap.Int("completed", len(res.Logs)),
	)
}
