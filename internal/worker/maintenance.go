package worker

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
)

// HandleRefreshAggregation rebuilds the aggregation materialized view. With
// several worker processes, the refresh lock keeps the rebuild on one of
// them; concurrent REFRESH CONCURRENTLY calls error out in Postgres.
func (w *Worker) HandleRefreshAggregation(ctx context.Context, _ *asynq.Task) error {
	if w.aggLock != nil {
		ok, err := w.aggLock.Acquire(ctx)
		if err != nil {
			return err
		}
		if !ok {
			log.Printf("[Maintenance] aggregation refresh already running elsewhere, skipping")
			return nil
		}
		defer w.aggLock.Release(ctx)
	}

	if err := w.store.RefreshAggregation(ctx); err != nil {
		return err
	}
	log.Printf("[Maintenance] aggregation view refreshed")
	return nil
}

// HandleDeleteOldMessages sweeps message groups past the retention window.
func (w *Worker) HandleDeleteOldMessages(ctx context.Context, _ *asynq.Task) error {
	retention := w.cfg.Worker.RetentionDays
	if retention <= 0 {
		retention = 365
	}
	n, err := w.store.DeleteOldGroups(ctx, retention)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("[Maintenance] deleted %d message groups older than %d days", n, retention)
	}
	return nil
}

// HandleRefreshRates replaces the cached MessageBird rate table.
func (w *Worker) HandleRefreshRates(ctx context.Context, _ *asynq.Task) error {
	rates, err := w.messagebird.OutboundRates(ctx)
	if err != nil {
		return err
	}
	if err := w.kv.SetRates(ctx, rates); err != nil {
		return err
	}
	log.Printf("[Maintenance] refreshed %d sms rates", len(rates))
	return nil
}
