package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/smsutil"
	"github.com/ignite/morpheus/internal/template"
)

const (
	// smsTokenLen is the short-link token length for SMS bodies, kept short
	// to save message parts.
	smsTokenLen = 12

	// testSMSRate is the per-part cost recorded for the sms-test method.
	testSMSRate = 0.012

	// fallbackRateKey indexes the catch-all entry in the provider rate table.
	fallbackRateKey = "0"
)

// HandleSendSMS runs the SMS send state machine for one recipient:
// validate, render, size, cost, dispatch, persist.
func (w *Worker) HandleSendSMS(ctx context.Context, t *asynq.Task) error {
	var p queue.SendSMSPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return permanent(fmt.Errorf("decoding %s payload: %v", queue.TypeSendSMS, err))
	}

	retried, _ := asynq.GetRetryCount(ctx)
	return w.sendSMS(ctx, p, retried >= queue.MaxRetries)
}

func (w *Worker) sendSMS(ctx context.Context, p queue.SendSMSPayload, lastTry bool) error {
	// 1. Number validation. Non-mobile numbers are terminal render failures.
	info, err := smsutil.ValidateNumber(p.Recipient.Number, p.Request.CountryCode)
	if err != nil {
		return w.storeSMSFailure(ctx, p, p.Recipient.Number, domain.StatusRenderFailed, err.Error())
	}
	if !info.IsMobile {
		return w.storeSMSFailure(ctx, p, info.Number, domain.StatusRenderFailed,
			fmt.Sprintf("number %s is not mobile", info.Number))
	}

	// 2-3. Short links over the merged context, then a plain render.
	mctx := mergeContexts(p.Request.Context, p.Recipient.Context)
	applyNameDefaults(mctx, p.Recipient.FirstName, p.Recipient.LastName)
	shortened := template.ShortenLinks(mctx, template.Options{
		ClickBaseURL: w.cfg.Server.ClickHostName,
		TokenLen:     smsTokenLen,
	})

	mainTemplate := p.Request.MainTemplate
	if mainTemplate == "" {
		mainTemplate = defaultMainTemplate
	}
	body, err := template.RenderPlain(mainTemplate, mctx)
	if err != nil {
		return w.storeSMSFailure(ctx, p, info.Number, domain.StatusRenderFailed, err.Error())
	}

	// 4. Size. Over nine parts is terminal.
	size, err := smsutil.MessageSize(body)
	if err != nil {
		return w.storeSMSFailure(ctx, p, info.Number, domain.StatusRenderFailed, err.Error())
	}

	msg := &domain.Message{
		GroupID:     p.GroupID,
		CompanyID:   p.CompanyID,
		Method:      p.Request.Method,
		SendTs:      time.Now().UTC(),
		Status:      domain.StatusSend,
		ToFirstName: p.Recipient.FirstName,
		ToLastName:  p.Recipient.LastName,
		ToUserLink:  p.Recipient.UserLink,
		ToAddress:   info.Number,
		Tags:        mergeTags(p.Request.Tags, p.Recipient.Tags),
		Body:        body,
		Extra:       map[string]any{"length": size.Length, "parts": size.Parts},
	}

	originator := w.chooseOriginator(info.CountryCode, p.Request.FromName)

	switch p.Request.Method {
	case domain.MethodSMSTest:
		cost := testSMSRate * float64(size.Parts)
		msg.Cost = &cost
		// Test sends get a deterministic id so status updates can resolve
		// them later.
		msg.ExternalID = fmt.Sprintf("%s-%s", p.Request.UID, sanitizeFilename(info.Number))
		w.writeTestFile(fmt.Sprintf("%s-%s.txt", p.Request.UID, info.Number), body)

	case domain.MethodSMSMessagebird:
		if lastTry {
			log.Printf("[SMSSender] retries exhausted for group %d, to %s", p.GroupID, info.Number)
			return w.storeSMSFailure(ctx, p, info.Number, domain.StatusSendRequestFailed, "retries exhausted")
		}
		cost := w.smsCost(ctx, info, size.Parts)
		msg.Cost = &cost

		resp, err := w.messagebird.Send(ctx, originator, body, info.Number)
		if err != nil {
			return classifyDispatchError(err)
		}
		if resp.Recipients.TotalCount != 1 {
			log.Printf("[SMSSender] messagebird accepted %d recipients for %s, expected 1",
				resp.Recipients.TotalCount, info.Number)
		}
		msg.ExternalID = resp.ID

	default:
		return permanent(fmt.Errorf("unknown sms method %q", p.Request.Method))
	}

	if err := w.storeMessage(ctx, msg, shortened); err != nil {
		log.Printf("[SMSSender] ALERT: sent but not recorded (group %d, to %s): %v",
			p.GroupID, info.Number, err)
		return permanent(err)
	}
	return nil
}

// smsCost estimates the send cost from the cached per-MCC rate table. Cost
// lookups never fail the send: any error logs a warning and returns zero.
func (w *Worker) smsCost(ctx context.Context, info *smsutil.NumberInfo, parts int) float64 {
	mcc, err := w.kv.CountryMCC(ctx, info.CountryCode)
	if err != nil {
		log.Printf("[SMSSender] WARN mcc cache read failed: %v", err)
		return 0
	}
	if mcc == "" {
		mcc, err = w.messagebird.NetworkMCC(ctx, info.Number)
		if err != nil {
			log.Printf("[SMSSender] WARN hlr lookup failed for %s: %v", info.Number, err)
			return 0
		}
		if err := w.kv.SetCountryMCC(ctx, info.CountryCode, mcc); err != nil {
			log.Printf("[SMSSender] WARN mcc cache write failed: %v", err)
		}
	}

	rate, err := w.lookupRate(ctx, mcc)
	if err != nil {
		log.Printf("[SMSSender] WARN rate lookup failed for mcc %s: %v", mcc, err)
		return 0
	}
	return rate * float64(parts)
}

// lookupRate reads the per-MCC rate, refreshing the cached table from the
// provider when it has expired. Unknown MCCs fall back to the catch-all key.
func (w *Worker) lookupRate(ctx context.Context, mcc string) (float64, error) {
	has, err := w.kv.HasRates(ctx)
	if err != nil {
		return 0, err
	}
	if !has {
		rates, err := w.messagebird.OutboundRates(ctx)
		if err != nil {
			return 0, err
		}
		if err := w.kv.SetRates(ctx, rates); err != nil {
			return 0, err
		}
	}

	raw, found, err := w.kv.Rate(ctx, mcc)
	if err != nil {
		return 0, err
	}
	if !found {
		raw, found, err = w.kv.Rate(ctx, fallbackRateKey)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("no rate for mcc %s and no fallback", mcc)
		}
	}
	return strconv.ParseFloat(raw, 64)
}

// chooseOriginator picks the sender id: dedicated long codes for US and CA,
// the request's from name elsewhere.
func (w *Worker) chooseOriginator(country, fromName string) string {
	switch country {
	case "US":
		if w.cfg.Send.USSendNumber != "" {
			return w.cfg.Send.USSendNumber
		}
	case "CA":
		if w.cfg.Send.CASendNumber != "" {
			return w.cfg.Send.CASendNumber
		}
	}
	if fromName != "" {
		return fromName
	}
	return w.cfg.Send.TCRegisteredOriginator
}

func (w *Worker) storeSMSFailure(ctx context.Context, p queue.SendSMSPayload, address string, status domain.MessageStatus, errText string) error {
	msg := &domain.Message{
		GroupID:     p.GroupID,
		CompanyID:   p.CompanyID,
		Method:      p.Request.Method,
		SendTs:      time.Now().UTC(),
		Status:      status,
		ToFirstName: p.Recipient.FirstName,
		ToLastName:  p.Recipient.LastName,
		ToUserLink:  p.Recipient.UserLink,
		ToAddress:   address,
		Tags:        mergeTags(p.Request.Tags, p.Recipient.Tags),
		Body:        errText,
	}
	return w.storeMessage(ctx, msg, nil)
}

func applyNameDefaults(ctx map[string]any, first, last string) {
	full := first
	if last != "" {
		if full != "" {
			full += " "
		}
		full += last
	}
	for key, value := range map[string]string{
		"recipient_name":       full,
		"recipient_first_name": first,
		"recipient_last_name":  last,
	} {
		if _, ok := ctx[key]; !ok {
			ctx[key] = value
		}
	}
}
