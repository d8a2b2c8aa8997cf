package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/kvstore"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/store"
)

// Status-update outcomes. duplicate and missing are normal operation, not
// errors.
const (
	updateAdded     = "added"
	updateDuplicate = "duplicate"
	updateMissing   = "missing"
)

// HandleUpdateStatus applies one normalized webhook event.
func (w *Worker) HandleUpdateStatus(ctx context.Context, t *asynq.Task) error {
	var p queue.UpdateStatusPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return permanent(fmt.Errorf("decoding %s payload: %v", queue.TypeUpdateStatus, err))
	}

	result, err := w.applyStatusEvent(ctx, p.Method, p.Event)
	if err != nil {
		return err
	}
	log.Printf("[StatusUpdater] %s %s %s: %s", p.Method, p.Event.ExternalID, p.Event.Status, result)
	return nil
}

// HandleMandrillBatch fans a Mandrill webhook batch into individual status
// updates. One bad event does not block the rest of the batch.
func (w *Worker) HandleMandrillBatch(ctx context.Context, t *asynq.Task) error {
	var p queue.MandrillBatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return permanent(fmt.Errorf("decoding %s payload: %v", queue.TypeMandrillBatch, err))
	}

	var firstErr error
	for _, ev := range p.Events {
		event := queue.StatusEvent{
			ExternalID: ev.Msg.ID,
			Status:     domain.MessageStatus(ev.Event),
			Ts:         time.Unix(ev.TsUnix, 0).UTC(),
		}
		extra := map[string]any{}
		if ev.Msg.BounceDescription != "" {
			extra["bounce_description"] = ev.Msg.BounceDescription
		}
		if ev.Msg.Diag != "" {
			extra["diag"] = ev.Msg.Diag
		}
		if len(extra) > 0 {
			event.Extra = extra
		}

		result, err := w.applyStatusEvent(ctx, domain.MethodEmailMandrill, event)
		if err != nil {
			log.Printf("[StatusUpdater] mandrill event %s/%s failed: %v", ev.Msg.ID, ev.Event, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		log.Printf("[StatusUpdater] mandrill %s %s: %s", ev.Msg.ID, ev.Event, result)
	}
	return firstErr
}

// applyStatusEvent performs the dedup + lookup + insert sequence. Timestamps
// normalize to UTC before they touch the dedup key or the events table.
func (w *Worker) applyStatusEvent(ctx context.Context, method domain.SendMethod, event queue.StatusEvent) (string, error) {
	if !event.Status.Valid() {
		return "", permanent(fmt.Errorf("unknown status %q for %s", event.Status, event.ExternalID))
	}
	ts := event.Ts.UTC()

	ref := kvstore.EventRef(event.ExternalID, ts, string(event.Status), event.Extra)
	seen, err := w.kv.EventSeen(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("event dedup: %w", err)
	}
	if seen {
		return updateDuplicate, nil
	}

	msg, err := w.store.MessageByExternalID(ctx, method, event.ExternalID)
	if errors.Is(err, store.ErrNotFound) {
		return updateMissing, nil
	}
	if err != nil {
		return "", fmt.Errorf("message lookup: %w", err)
	}

	// The update_message trigger advances the message's status and
	// update_ts iff this event is the latest.
	if err := w.store.InsertEvent(ctx, &domain.Event{
		MessageID: msg.ID,
		Status:    event.Status,
		Ts:        ts,
		Extra:     event.Extra,
	}); err != nil {
		return "", err
	}
	return updateAdded, nil
}
