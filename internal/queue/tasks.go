// Package queue defines the asynq task types, their payloads and the retry
// policy shared by the API (producer) and the worker (consumer).
package queue

import (
	"time"

	"github.com/hibiken/asynq"

	"github.com/ignite/morpheus/internal/domain"
)

// Task type names. The API enqueues, the worker handles.
const (
	TypeSendEmail          = "send:email"
	TypeSendSMS            = "send:sms"
	TypeUpdateStatus       = "status:update"
	TypeMandrillBatch      = "status:mandrill-batch"
	TypeStoreClick         = "click:store"
	TypeRefreshAggregation = "maintenance:refresh-aggregation"
	TypeDeleteOldMessages  = "maintenance:delete-old-messages"
	TypeRefreshRates       = "maintenance:refresh-rates"
)

// retryDelays is the send retry ladder: 5s, 10s, 1m, 10m, 30m, 1h, 12h.
// A job gets len(retryDelays) retries after its first attempt, then the
// handler writes a terminal send_request_failed row.
var retryDelays = []time.Duration{
	5 * time.Second,
	10 * time.Second,
	time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	time.Hour,
	12 * time.Hour,
}

// MaxRetries is the number of re-deliveries after the first attempt.
const MaxRetries = 7

// RetryDelay implements asynq.RetryDelayFunc using the ladder. n is the
// upcoming retry number, starting at 1.
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > len(retryDelays) {
		n = len(retryDelays)
	}
	return retryDelays[n-1]
}

// SendEmailPayload is one recipient's slice of an email send request.
type SendEmailPayload struct {
	GroupID   int64                   `json:"group_id"`
	CompanyID int64                   `json:"company_id"`
	Request   domain.EmailSendRequest `json:"request"` // Recipients field left empty
	Recipient domain.EmailRecipient   `json:"recipient"`
}

// SendSMSPayload is one recipient's slice of an SMS send request.
type SendSMSPayload struct {
	GroupID   int64                 `json:"group_id"`
	CompanyID int64                 `json:"company_id"`
	Request   domain.SMSSendRequest `json:"request"` // Recipients field left empty
	Recipient domain.SMSRecipient   `json:"recipient"`
}

// StatusEvent is one provider webhook event, normalized.
type StatusEvent struct {
	ExternalID string               `json:"external_id"`
	Status     domain.MessageStatus `json:"status"`
	Ts         time.Time            `json:"ts"`
	Extra      map[string]any       `json:"extra,omitempty"`
}

// UpdateStatusPayload applies one status event to a message.
type UpdateStatusPayload struct {
	Method domain.SendMethod `json:"method"`
	Event  StatusEvent       `json:"event"`
}

// MandrillBatchPayload carries one parsed Mandrill webhook batch.
type MandrillBatchPayload struct {
	Events []MandrillEvent `json:"events"`
}

// MandrillEvent is one entry of the mandrill_events array. Mandrill's event
// names map one-to-one onto the status domain.
type MandrillEvent struct {
	Event  string `json:"event"`
	TsUnix int64  `json:"ts"`
	Msg    struct {
		ID                string `json:"_id"`
		Email             string `json:"email"`
		BounceDescription string `json:"bounce_description,omitempty"`
		Diag              string `json:"diag,omitempty"`
	} `json:"msg"`
}

// StoreClickPayload records one deduplicated short-link hit. The redirect
// handler already resolved the link, so the message id and target travel
// with the job.
type StoreClickPayload struct {
	LinkID    int64     `json:"link_id"`
	MessageID int64     `json:"message_id"`
	Target    string    `json:"target"`
	IP        string    `json:"ip"`
	Ts        time.Time `json:"ts"`
	UserAgent string    `json:"user_agent"`
}
