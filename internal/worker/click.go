package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/mileusna/useragent"

	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/queue"
)

// HandleStoreClick writes a click event for a deduplicated short-link hit.
func (w *Worker) HandleStoreClick(ctx context.Context, t *asynq.Task) error {
	var p queue.StoreClickPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return permanent(fmt.Errorf("decoding %s payload: %v", queue.TypeStoreClick, err))
	}

	return w.store.InsertEvent(ctx, &domain.Event{
		MessageID: p.MessageID,
		Status:    domain.StatusClick,
		Ts:        p.Ts.UTC(),
		Extra: map[string]any{
			"target":             p.Target,
			"ip":                 p.IP,
			"user_agent":         p.UserAgent,
			"user_agent_display": userAgentDisplay(p.UserAgent),
		},
	})
}

// userAgentDisplay renders "{family} {major} on {platform}" for the message
// detail view.
func userAgentDisplay(raw string) string {
	ua := useragent.Parse(raw)
	name := ua.Name
	if name == "" {
		name = "Unknown"
	}
	platform := ua.OS
	if platform == "" {
		platform = "Unknown"
	}
	major := ua.Version
	if i := strings.Index(major, "."); i >= 0 {
		major = major[:i]
	}
	if major == "" {
		return fmt.Sprintf("%s on %s", name, platform)
	}
	return fmt.Sprintf("%s %s on %s", name, major, platform)
}
