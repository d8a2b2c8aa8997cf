package worker

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/kvstore"
	"github.com/ignite/morpheus/internal/provider"
	"github.com/ignite/morpheus/internal/provider/mandrill"
	"github.com/ignite/morpheus/internal/provider/messagebird"
	"github.com/ignite/morpheus/internal/provider/ses"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/smsutil"
	"github.com/ignite/morpheus/internal/store"
)

type fakeMandrill struct {
	result *mandrill.SendResult
	err    error
	sent   []mandrill.Message
}

func (f *fakeMandrill) Send(_ context.Context, msg mandrill.Message) (*mandrill.SendResult, error) {
	f.sent = append(f.sent, msg)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeMessageBird struct {
	sendResp *messagebird.SendResponse
	sendErr  error
	mcc      string
	rates    map[string]string
	sent     []string
}

func (f *fakeMessageBird) Send(_ context.Context, originator, body, recipient string) (*messagebird.SendResponse, error) {
	f.sent = append(f.sent, recipient)
	return f.sendResp, f.sendErr
}

func (f *fakeMessageBird) NetworkMCC(_ context.Context, _ string) (string, error) {
	if f.mcc == "" {
		return "", errors.New("hlr unavailable")
	}
	return f.mcc, nil
}

func (f *fakeMessageBird) OutboundRates(_ context.Context) (map[string]string, error) {
	if f.rates == nil {
		return nil, errors.New("pricing unavailable")
	}
	return f.rates, nil
}

type fakeSES struct {
	id  string
	err error
}

func (f *fakeSES) Send(_ context.Context, _ ses.Email) (string, error) { return f.id, f.err }

func newTestWorker(t *testing.T, mb MessageBirdAPI, md MandrillAPI) (*Worker, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{}
	cfg.Server.ClickHostName = "https://c.ex.com"
	cfg.Send.USSendNumber = "+12025550100"
	cfg.Send.CASendNumber = "+16135550100"
	cfg.Send.TCRegisteredOriginator = "Morpheus"

	return New(store.New(db), kvstore.New(rdb), md, mb, &fakeSES{id: "ses-1"}, nil, cfg), mock, mr
}

func expectMessageInsert(mock sqlmock.Sqlmock, id int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectCommit()
}

// expectMessageInsertMatching pins the external_id and status columns of the
// inserted row; everything else matches anything.
func expectMessageInsertMatching(mock sqlmock.Sqlmock, id int64, externalID, status string) {
	args := make([]driver.Value, 16)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[0] = externalID
	args[5] = status

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(id))
	mock.ExpectCommit()
}

func emailTask(t *testing.T, p queue.SendEmailPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeSendEmail, data)
}

func smsTask(t *testing.T, p queue.SendSMSPayload) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return asynq.NewTask(queue.TypeSendSMS, data)
}

func TestHandleSendEmail_TestMethod(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)
	expectMessageInsert(mock, 101)

	err := w.HandleSendEmail(context.Background(), emailTask(t, queue.SendEmailPayload{
		GroupID:   11,
		CompanyID: 7,
		Request: domain.EmailSendRequest{
			MainTemplate:    "Hello {{ recipient_name }}",
			SubjectTemplate: "hi",
			Method:          domain.MethodEmailTest,
			FromAddress:     "Acme <noreply@acme.com>",
		},
		Recipient: domain.EmailRecipient{FirstName: "Jane", Address: "jane@real.example.net"},
	}))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendEmail_MandrillSuccess(t *testing.T) {
	md := &fakeMandrill{result: &mandrill.SendResult{Email: "jane@other.net", ID: "ext-9", Status: "sent"}}
	w, mock, _ := newTestWorker(t, nil, md)
	expectMessageInsert(mock, 101)

	err := w.HandleSendEmail(context.Background(), emailTask(t, queue.SendEmailPayload{
		Request: domain.EmailSendRequest{
			MainTemplate:    "body",
			SubjectTemplate: "s",
			Method:          domain.MethodEmailMandrill,
			FromAddress:     "Acme <noreply@acme.com>",
		},
		Recipient: domain.EmailRecipient{Address: "jane@other.net"},
	}))
	require.NoError(t, err)
	require.Len(t, md.sent, 1)
	assert.Equal(t, "noreply@acme.com", md.sent[0].FromEmail)
	assert.Equal(t, "Acme", md.sent[0].FromName)
	assert.Equal(t, "acme.com", md.sent[0].SigningDomain)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendEmail_ExampleComShortCircuit(t *testing.T) {
	md := &fakeMandrill{}
	w, mock, _ := newTestWorker(t, nil, md)
	expectMessageInsert(mock, 101)

	err := w.HandleSendEmail(context.Background(), emailTask(t, queue.SendEmailPayload{
		Request: domain.EmailSendRequest{
			MainTemplate:    "body",
			SubjectTemplate: "s",
			Method:          domain.MethodEmailMandrill,
			FromAddress:     "noreply@acme.com",
		},
		Recipient: domain.EmailRecipient{Address: "Test@example.com"},
	}))
	require.NoError(t, err)
	// No provider call is made for example.com recipients.
	assert.Empty(t, md.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendEmail_RenderFailureWritesTerminalRow(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)
	expectMessageInsert(mock, 101)

	err := w.HandleSendEmail(context.Background(), emailTask(t, queue.SendEmailPayload{
		Request: domain.EmailSendRequest{
			MainTemplate: "{{#unclosed",
			Method:       domain.MethodEmailMandrill,
		},
		Recipient: domain.EmailRecipient{Address: "jane@other.net"},
	}))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendEmail_TransientErrorRetries(t *testing.T) {
	md := &fakeMandrill{err: &provider.APIError{Status: 502, Body: "bad gateway"}}
	w, _, _ := newTestWorker(t, nil, md)

	err := w.HandleSendEmail(context.Background(), emailTask(t, queue.SendEmailPayload{
		Request: domain.EmailSendRequest{
			MainTemplate: "body", SubjectTemplate: "s",
			Method: domain.MethodEmailMandrill, FromAddress: "a@b.c",
		},
		Recipient: domain.EmailRecipient{Address: "jane@other.net"},
	}))
	// Retryable: no SkipRetry marker.
	require.Error(t, err)
	assert.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestHandleSendEmail_PermanentErrorSkipsRetry(t *testing.T) {
	md := &fakeMandrill{err: &provider.APIError{Status: 400, Body: "invalid key"}}
	w, _, _ := newTestWorker(t, nil, md)

	err := w.HandleSendEmail(context.Background(), emailTask(t, queue.SendEmailPayload{
		Request: domain.EmailSendRequest{
			MainTemplate: "body", SubjectTemplate: "s",
			Method: domain.MethodEmailMandrill, FromAddress: "a@b.c",
		},
		Recipient: domain.EmailRecipient{Address: "jane@other.net"},
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestSendEmail_TestMethodResolvableExternalID(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)

	uid := uuid.New()
	expectMessageInsertMatching(mock, 101, uid.String()+"-jane-real.example.net", "send")

	err := w.sendEmail(context.Background(), queue.SendEmailPayload{
		Request: domain.EmailSendRequest{
			UID:             uid,
			MainTemplate:    "x",
			SubjectTemplate: "s",
			Method:          domain.MethodEmailTest,
		},
		Recipient: domain.EmailRecipient{Address: "Jane@real.example.net"},
	}, false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendEmail_DefaultTemplate(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)
	w.cfg.Send.TestOutput = t.TempDir()
	expectMessageInsert(mock, 101)

	uid := uuid.New()
	err := w.sendEmail(context.Background(), queue.SendEmailPayload{
		Request: domain.EmailSendRequest{
			UID:     uid,
			Method:  domain.MethodEmailTest,
			Context: map[string]any{"message__render": "# hi"},
		},
		Recipient: domain.EmailRecipient{Address: "jane@real.example.net"},
	}, false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(w.cfg.Send.TestOutput,
		sanitizeFilename(fmt.Sprintf("%s-jane@real.example.net.html", uid))))
	require.NoError(t, err)
	assert.Contains(t, string(data), "<h1>hi</h1>")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendEmail_ExhaustedRetriesSkipsProvider(t *testing.T) {
	md := &fakeMandrill{result: &mandrill.SendResult{ID: "never"}}
	w, mock, _ := newTestWorker(t, nil, md)
	expectMessageInsertMatching(mock, 101, "", "send_request_failed")

	err := w.sendEmail(context.Background(), queue.SendEmailPayload{
		Request: domain.EmailSendRequest{
			MainTemplate: "body", SubjectTemplate: "s",
			Method: domain.MethodEmailMandrill, FromAddress: "a@b.c",
		},
		Recipient: domain.EmailRecipient{Address: "jane@other.net"},
	}, true)
	require.NoError(t, err)
	// The terminal row is written without another upstream call.
	assert.Empty(t, md.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendSMS_TestMethod(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)
	expectMessageInsert(mock, 201)

	err := w.HandleSendSMS(context.Background(), smsTask(t, queue.SendSMSPayload{
		GroupID:   12,
		CompanyID: 7,
		Request: domain.SMSSendRequest{
			MainTemplate: "Hi {{ recipient_first_name }}",
			CountryCode:  "GB",
			Method:       domain.MethodSMSTest,
			FromName:     "Acme",
		},
		Recipient: domain.SMSRecipient{FirstName: "Jo", Number: "07911123456"},
	}))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendSMS_InvalidNumberIsTerminal(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)
	expectMessageInsert(mock, 201)

	err := w.HandleSendSMS(context.Background(), smsTask(t, queue.SendSMSPayload{
		Request: domain.SMSSendRequest{
			MainTemplate: "x",
			CountryCode:  "GB",
			Method:       domain.MethodSMSMessagebird,
		},
		Recipient: domain.SMSRecipient{Number: "not-a-number"},
	}))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleSendSMS_MessageBird(t *testing.T) {
	mb := &fakeMessageBird{
		sendResp: &messagebird.SendResponse{ID: "mb-7"},
		mcc:      "234",
		rates:    map[string]string{"234": "0.034"},
	}
	mb.sendResp.Recipients.TotalCount = 1
	w, mock, _ := newTestWorker(t, mb, nil)
	expectMessageInsert(mock, 201)

	err := w.HandleSendSMS(context.Background(), smsTask(t, queue.SendSMSPayload{
		Request: domain.SMSSendRequest{
			MainTemplate: "Hello",
			CountryCode:  "GB",
			Method:       domain.MethodSMSMessagebird,
			FromName:     "Acme",
		},
		Recipient: domain.SMSRecipient{Number: "+447911123456"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"+447911123456"}, mb.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendSMS_TestMethodResolvableExternalID(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)
	expectMessageInsertMatching(mock, 201, "sms-group-0123456789abcdef--447911123456", "send")

	err := w.sendSMS(context.Background(), queue.SendSMSPayload{
		Request: domain.SMSSendRequest{
			UID:          "sms-group-0123456789abcdef",
			MainTemplate: "hi",
			CountryCode:  "GB",
			Method:       domain.MethodSMSTest,
		},
		Recipient: domain.SMSRecipient{Number: "07911123456"},
	}, false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendSMS_DefaultTemplate(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)
	w.cfg.Send.TestOutput = t.TempDir()
	expectMessageInsert(mock, 201)

	err := w.sendSMS(context.Background(), queue.SendSMSPayload{
		Request: domain.SMSSendRequest{
			UID:         "sms-group-0123456789abcdef",
			CountryCode: "GB",
			Method:      domain.MethodSMSTest,
			Context:     map[string]any{"message": "short and sweet"},
		},
		Recipient: domain.SMSRecipient{Number: "07911123456"},
	}, false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(w.cfg.Send.TestOutput,
		sanitizeFilename("sms-group-0123456789abcdef-+447911123456.txt")))
	require.NoError(t, err)
	assert.Equal(t, "short and sweet", string(data))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSendSMS_ExhaustedRetriesSkipsProvider(t *testing.T) {
	mb := &fakeMessageBird{sendResp: &messagebird.SendResponse{ID: "never"}}
	w, mock, _ := newTestWorker(t, mb, nil)
	expectMessageInsertMatching(mock, 201, "", "send_request_failed")

	err := w.sendSMS(context.Background(), queue.SendSMSPayload{
		Request: domain.SMSSendRequest{
			MainTemplate: "hi", CountryCode: "GB",
			Method: domain.MethodSMSMessagebird, FromName: "Acme",
		},
		Recipient: domain.SMSRecipient{Number: "+447911123456"},
	}, true)
	require.NoError(t, err)
	assert.Empty(t, mb.sent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSMSCost_ProviderFailureIsZero(t *testing.T) {
	mb := &fakeMessageBird{} // HLR and pricing both unavailable
	w, _, _ := newTestWorker(t, mb, nil)

	cost := w.smsCost(context.Background(), mustValidate(t, "+447911123456"), 2)
	assert.Zero(t, cost)
}

func TestChooseOriginator(t *testing.T) {
	w, _, _ := newTestWorker(t, nil, nil)

	assert.Equal(t, "+12025550100", w.chooseOriginator("US", "Acme"))
	assert.Equal(t, "+16135550100", w.chooseOriginator("CA", "Acme"))
	assert.Equal(t, "Acme", w.chooseOriginator("GB", "Acme"))
	assert.Equal(t, "Morpheus", w.chooseOriginator("GB", ""))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, isTransient(errors.New("connection reset")))
	assert.True(t, isTransient(&provider.APIError{Status: 502}))
	assert.True(t, isTransient(&provider.APIError{Status: 504}))
	assert.True(t, isTransient(&provider.APIError{Status: 500, Body: "<html><center>nginx/1.18</center></html>"}))
	assert.False(t, isTransient(&provider.APIError{Status: 500, Body: "internal"}))
	assert.False(t, isTransient(&provider.APIError{Status: 400, Body: "bad request"}))
}

func TestUserAgentDisplay(t *testing.T) {
	display := userAgentDisplay("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Equal(t, "Chrome 120 on Windows", display)

	assert.Equal(t, "Unknown on Unknown", userAgentDisplay(""))
}

func TestApplyStatusEvent(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)
	ts := time.Now().UTC().Truncate(time.Millisecond)
	event := queue.StatusEvent{ExternalID: "ext-9", Status: domain.StatusDelivered, Ts: ts}

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id DESC LIMIT 1")).
		WithArgs("email-mandrill", "ext-9").
		WillReturnRows(messageRows(101))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO events")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	result, err := w.applyStatusEvent(context.Background(), domain.MethodEmailMandrill, event)
	require.NoError(t, err)
	assert.Equal(t, updateAdded, result)

	// Same event again: deduped before any database access.
	result, err = w.applyStatusEvent(context.Background(), domain.MethodEmailMandrill, event)
	require.NoError(t, err)
	assert.Equal(t, updateDuplicate, result)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyStatusEvent_Missing(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM messages")).
		WillReturnRows(messageRows(0))

	result, err := w.applyStatusEvent(context.Background(), domain.MethodEmailMandrill, queue.StatusEvent{
		ExternalID: "ghost", Status: domain.StatusOpen, Ts: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, updateMissing, result)
}

func TestHandleMandrillBatch(t *testing.T) {
	w, mock, _ := newTestWorker(t, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id DESC LIMIT 1")).
		WillReturnRows(messageRows(101))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO events")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	var batch queue.MandrillBatchPayload
	require.NoError(t, json.Unmarshal([]byte(`{"events":[
		{"event":"open","ts":1700000000,"msg":{"_id":"ext-9","email":"jane@other.net"}}
	]}`), &batch))
	data, err := json.Marshal(batch)
	require.NoError(t, err)

	err = w.HandleMandrillBatch(context.Background(), asynq.NewTask(queue.TypeMandrillBatch, data))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// messageRows builds a single message row result, or an empty result when id
// is zero.
func messageRows(id int64) *sqlmock.Rows {
	cols := []string{
		"id", "external_id", "group_id", "company_id", "method", "send_ts", "update_ts", "status",
		"to_first_name", "to_last_name", "to_user_link", "to_address",
		"tags", "subject", "body", "attachments", "cost", "extra",
	}
	rows := sqlmock.NewRows(cols)
	if id == 0 {
		return rows
	}
	now := time.Now().UTC()
	return rows.AddRow(
		id, "ext-9", int64(2), int64(3), "email-mandrill", now, now, "send",
		"", "", "", "jane@other.net", "{}", "", "", "{}", nil, []byte(`{}`),
	)
}

func mustValidate(t *testing.T, number string) *smsutil.NumberInfo {
	t.Helper()
	info, err := smsutil.ValidateNumber(number, "GB")
	require.NoError(t, err)
	return info
}
