package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/pkg/httputil"
	"github.com/ignite/morpheus/internal/queue"
)

// handleTestWebhook accepts a single hand-crafted event for the email-test
// method. It shares the Mandrill event shape so fixtures are reusable.
func (s *Server) handleTestWebhook(w http.ResponseWriter, r *http.Request) {
	var ev queue.MandrillEvent
	if !httputil.Decode(w, r, &ev) {
		return
	}
	if ev.Msg.ID == "" || ev.Event == "" {
		httputil.BadRequest(w, "event and msg._id are required")
		return
	}

	err := s.jobs.EnqueueUpdateStatus(r.Context(), queue.UpdateStatusPayload{
		Method: domain.MethodEmailTest,
		Event: queue.StatusEvent{
			ExternalID: ev.Msg.ID,
			Status:     domain.MessageStatus(ev.Event),
			Ts:         time.Unix(ev.TsUnix, 0).UTC(),
		},
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "enqueued"})
}

// handleMandrillWebhook ingests a Mandrill event batch. The batch arrives as
// the form field mandrill_events; the X-Mandrill-Signature header is
// base64(HMAC-SHA1(secret, webhook_url + "mandrill_events" + raw_value)).
func (s *Server) handleMandrillWebhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		httputil.BadRequest(w, "invalid form body")
		return
	}
	raw := r.PostFormValue("mandrill_events")
	if raw == "" {
		httputil.BadRequest(w, "mandrill_events is required")
		return
	}

	got := r.Header.Get("X-Mandrill-Signature")
	want := mandrillSignature(s.cfg.Auth.WebhookAuthKey, s.mandrillWebhookURL(), raw)
	if !hmac.Equal([]byte(got), []byte(want)) {
		log.Printf("[Server] mandrill webhook signature mismatch")
		httputil.Unauthorized(w, "invalid signature")
		return
	}

	var events []queue.MandrillEvent
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		httputil.BadRequest(w, "invalid mandrill_events: "+err.Error())
		return
	}
	if len(events) == 0 {
		httputil.OK(w, map[string]string{"status": "empty"})
		return
	}

	if err := s.jobs.EnqueueMandrillBatch(r.Context(), queue.MandrillBatchPayload{Events: events}); err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]any{"status": "enqueued", "events": len(events)})
}

// handleMandrillWebhookCheck answers Mandrill's URL validation probe.
func (s *Server) handleMandrillWebhookCheck(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

// messagebirdStatuses maps MessageBird's report names onto the status
// domain. "sent" is the only rename.
var messagebirdStatuses = map[string]domain.MessageStatus{
	"sent":            domain.StatusSend,
	"scheduled":       domain.StatusScheduled,
	"buffered":        domain.StatusBuffered,
	"delivered":       domain.StatusDelivered,
	"expired":         domain.StatusExpired,
	"delivery_failed": domain.StatusDeliveryFailed,
}

// handleMessageBirdWebhook ingests one MessageBird status report. MessageBird
// calls back with GET and query-string fields.
func (s *Server) handleMessageBirdWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("id")
	rawStatus := q.Get("status")
	if id == "" || rawStatus == "" {
		httputil.BadRequest(w, "id and status are required")
		return
	}

	status, ok := messagebirdStatuses[rawStatus]
	if !ok {
		log.Printf("[Server] unknown messagebird status %q for %s", rawStatus, id)
		httputil.BadRequest(w, "unknown status")
		return
	}

	ts, err := time.Parse(time.RFC3339, q.Get("statusDatetime"))
	if err != nil {
		ts = time.Now().UTC()
	}

	var extra map[string]any
	if code := q.Get("statusErrorCode"); code != "" && code != "0" {
		extra = map[string]any{"status_error_code": code}
	}

	err = s.jobs.EnqueueUpdateStatus(r.Context(), queue.UpdateStatusPayload{
		Method: domain.MethodSMSMessagebird,
		Event: queue.StatusEvent{
			ExternalID: id,
			Status:     status,
			Ts:         ts.UTC(),
			Extra:      extra,
		},
	})
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "enqueued"})
}

func (s *Server) mandrillWebhookURL() string {
	return s.cfg.Server.HostName + "/webhook/mandrill/"
}

func mandrillSignature(secret, url, rawEvents string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(url))
	mac.Write([]byte("mandrill_events"))
	mac.Write([]byte(rawEvents))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
