package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/rivertype"
)

// DefaultQueueDepthInterval is how often the queue depth gauge is refreshed.
const DefaultQueueDepthInterval = 15 * time.Second

// QueueDepthFunc counts jobs waiting in a queue.
type QueueDepthFunc func(ctx context.Context) (int64, error)

// DepthSetter receives the latest depth. observability.IndexingMetrics implements it.
type DepthSetter interface {
	SetQueueDepth(depth int64)
}

// RiverQueueDepth counts available, retryable and scheduled jobs of queue in River's job table.
func RiverQueueDepth(db *pgxpool.Pool, queue string) QueueDepthFunc {
	return func(ctx context.Context) (int64, error) {
		var count int64

		err := db.QueryRow(ctx,
			`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
			queue,
			rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
		).Scan(&count)
		if err != nil {
			return 0, fmt.Errorf("count river jobs: %w", err)
		}

		return count, nil
	}
}

// RunQueueDepthPoller refreshes the gauge every interval until ctx is done.
func RunQueueDepthPoller(ctx context.Context, interval time.Duration, count QueueDepthFunc, gauge DepthSetter) {
	if interval <= 0 {
		interval = DefaultQueueDepthInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	update := func() {
		depth, err := count(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "queue depth poll failed", "error", err)
			}

			return
		}

		gauge.SetQueueDepth(depth)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
