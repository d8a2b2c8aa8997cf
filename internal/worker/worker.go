// Package worker implements the asynq task handlers: the email and SMS send
// state machines, the webhook status updater, the click recorder and the
// scheduled maintenance jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/kvstore"
	"github.com/ignite/morpheus/internal/pkg/distlock"
	"github.com/ignite/morpheus/internal/provider"
	"github.com/ignite/morpheus/internal/provider/mandrill"
	"github.com/ignite/morpheus/internal/provider/messagebird"
	"github.com/ignite/morpheus/internal/provider/pdfsvc"
	"github.com/ignite/morpheus/internal/provider/ses"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/store"
)

// MandrillAPI is the slice of the Mandrill client the send worker needs.
type MandrillAPI interface {
	Send(ctx context.Context, msg mandrill.Message) (*mandrill.SendResult, error)
}

// MessageBirdAPI is the slice of the MessageBird client the workers need.
type MessageBirdAPI interface {
	Send(ctx context.Context, originator, body, recipient string) (*messagebird.SendResponse, error)
	NetworkMCC(ctx context.Context, number string) (string, error)
	OutboundRates(ctx context.Context) (map[string]string, error)
}

// SESAPI is the slice of the SES client the email worker needs.
type SESAPI interface {
	Send(ctx context.Context, email ses.Email) (string, error)
}

// PDFAPI renders HTML attachments to PDF.
type PDFAPI interface {
	Render(ctx context.Context, html string, opts pdfsvc.Options) ([]byte, error)
}

// Worker bundles the handler dependencies. Optional providers may be nil;
// jobs for their methods then fail permanently.
type Worker struct {
	store       *store.Store
	kv          *kvstore.Store
	mandrill    MandrillAPI
	messagebird MessageBirdAPI
	ses         SESAPI
	pdf         PDFAPI
	cfg         *config.Config
	aggLock     *distlock.Lock
}

// New creates a Worker.
func New(st *store.Store, kv *kvstore.Store, mandrillAPI MandrillAPI, messagebirdAPI MessageBirdAPI, sesAPI SESAPI, pdfAPI PDFAPI, cfg *config.Config) *Worker {
	return &Worker{
		store:       st,
		kv:          kv,
		mandrill:    mandrillAPI,
		messagebird: messagebirdAPI,
		ses:         sesAPI,
		pdf:         pdfAPI,
		cfg:         cfg,
	}
}

// UseAggregationLock makes the aggregation refresh mutually exclusive
// across worker processes.
func (w *Worker) UseAggregationLock(lock *distlock.Lock) { w.aggLock = lock }

// Register attaches all handlers to the mux.
func (w *Worker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TypeSendEmail, w.HandleSendEmail)
	mux.HandleFunc(queue.TypeSendSMS, w.HandleSendSMS)
	mux.HandleFunc(queue.TypeUpdateStatus, w.HandleUpdateStatus)
	mux.HandleFunc(queue.TypeMandrillBatch, w.HandleMandrillBatch)
	mux.HandleFunc(queue.TypeStoreClick, w.HandleStoreClick)
	mux.HandleFunc(queue.TypeRefreshAggregation, w.HandleRefreshAggregation)
	mux.HandleFunc(queue.TypeDeleteOldMessages, w.HandleDeleteOldMessages)
	mux.HandleFunc(queue.TypeRefreshRates, w.HandleRefreshRates)
}

// isTransient classifies a provider dispatch error. Transport failures and
// gateway errors are worth a retry; everything else is permanent.
func isTransient(err error) bool {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status == 502 || apiErr.Status == 504 {
			return true
		}
		// Mandrill's fronting nginx answers 500 when the API is down.
		if apiErr.Status == 500 && strings.Contains(apiErr.Body, "<center>nginx/") {
			return true
		}
		return false
	}
	return true
}

// permanent wraps an error so asynq archives the task instead of retrying.
func permanent(err error) error {
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// mergeContexts overlays recipient context over request context.
func mergeContexts(base, overlay map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func mergeHeaders(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

func mergeTags(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, t := range append(append([]string{}, base...), extra...) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// writeTestFile dumps a rendered message for the *-test methods. A missing
// test output dir disables dumps.
func (w *Worker) writeTestFile(name, content string) {
	dir := w.cfg.Send.TestOutput
	if dir == "" {
		return
	}
	path := filepath.Join(dir, sanitizeFilename(name))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		log.Printf("[Worker] failed to write test output %s: %v", path, err)
	}
}

func sanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
