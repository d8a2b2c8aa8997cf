package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/provider/mandrill"
	"github.com/ignite/morpheus/internal/provider/pdfsvc"
	"github.com/ignite/morpheus/internal/provider/ses"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/template"
)

// emailTokenLen is the short-link token length for email bodies.
const emailTokenLen = 30

// defaultMainTemplate is applied when a request carries no main template: the
// body is the transformed message context key.
const defaultMainTemplate = "{{{ message }}}"

var stylesRe = regexp.MustCompile(`\{\{\{\s*styles\s*\}\}\}`)

// HandleSendEmail runs the email send state machine for one recipient:
// render, build attachments, dispatch by method, persist the message row.
func (w *Worker) HandleSendEmail(ctx context.Context, t *asynq.Task) error {
	var p queue.SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return permanent(fmt.Errorf("decoding %s payload: %v", queue.TypeSendEmail, err))
	}

	retried, _ := asynq.GetRetryCount(ctx)
	return w.sendEmail(ctx, p, retried >= queue.MaxRetries)
}

func (w *Worker) sendEmail(ctx context.Context, p queue.SendEmailPayload, lastTry bool) error {
	mainTemplate := p.Request.MainTemplate
	if mainTemplate == "" {
		mainTemplate = defaultMainTemplate
	}

	mctx := mergeContexts(p.Request.Context, p.Recipient.Context)
	headers := mergeHeaders(p.Request.Headers, p.Recipient.Headers)

	// A template that asks for {{{ styles }}} without supplying a stylesheet
	// gets the built-in default.
	if stylesRe.MatchString(mainTemplate) {
		if _, ok := mctx["styles__sass"]; !ok {
			if _, ok := mctx["styles"]; !ok {
				mctx["styles__sass"] = defaultStylesheet
			}
		}
	}

	rendered, err := template.Render(template.MessageDef{
		FirstName:        p.Recipient.FirstName,
		LastName:         p.Recipient.LastName,
		MainTemplate:     mainTemplate,
		SubjectTemplate:  p.Request.SubjectTemplate,
		MustachePartials: p.Request.MustachePartials,
		Macros:           p.Request.Macros,
		Context:          mctx,
		Headers:          headers,
	}, template.Options{
		ClickBaseURL:   w.cfg.Server.ClickHostName,
		TokenLen:       emailTokenLen,
		AppendOriginal: true,
	})
	if err != nil {
		log.Printf("[EmailSender] render failed for group %d: %v", p.GroupID, err)
		return w.storeEmailFailure(ctx, p, domain.StatusRenderFailed, err.Error())
	}

	attachments, attachmentNames := w.buildAttachments(ctx, p.Recipient)

	msg := &domain.Message{
		GroupID:     p.GroupID,
		CompanyID:   p.CompanyID,
		Method:      p.Request.Method,
		SendTs:      time.Now().UTC(),
		Status:      domain.StatusSend,
		ToFirstName: p.Recipient.FirstName,
		ToLastName:  p.Recipient.LastName,
		ToUserLink:  p.Recipient.UserLink,
		ToAddress:   p.Recipient.Address,
		Tags:        mergeTags(p.Request.Tags, p.Recipient.Tags),
		Subject:     rendered.Subject,
		Body:        rendered.HTMLBody,
		Attachments: attachmentNames,
	}

	switch p.Request.Method {
	case domain.MethodEmailTest:
		// Test sends get a deterministic id so the test webhook can resolve
		// them later.
		msg.ExternalID = fmt.Sprintf("%s-%s", p.Request.UID, sanitizeFilename(strings.ToLower(p.Recipient.Address)))
		w.writeTestFile(fmt.Sprintf("%s-%s.html", p.Request.UID, p.Recipient.Address), rendered.HTMLBody)

	case domain.MethodEmailMandrill:
		// example.com recipients short-circuit as test sends with a
		// deterministic id, so staging traffic never reaches Mandrill.
		if strings.HasSuffix(strings.ToLower(p.Recipient.Address), "@example.com") {
			msg.ExternalID = "mandrill-" + sanitizeFilename(strings.ToLower(p.Recipient.Address))
			break
		}
		if lastTry {
			log.Printf("[EmailSender] retries exhausted for group %d, to %s", p.GroupID, p.Recipient.Address)
			return w.storeEmailFailure(ctx, p, domain.StatusSendRequestFailed, "retries exhausted")
		}
		externalID, err := w.sendMandrill(ctx, p, rendered, attachments)
		if err != nil {
			return classifyDispatchError(err)
		}
		msg.ExternalID = externalID

	case domain.MethodEmailSES:
		if w.ses == nil {
			return permanent(fmt.Errorf("method %s not configured", p.Request.Method))
		}
		if lastTry {
			log.Printf("[EmailSender] retries exhausted for group %d, to %s", p.GroupID, p.Recipient.Address)
			return w.storeEmailFailure(ctx, p, domain.StatusSendRequestFailed, "retries exhausted")
		}
		fromAddress := p.Request.FromAddress
		externalID, err := w.ses.Send(ctx, ses.Email{
			FromAddress: fromAddress,
			ToAddress:   p.Recipient.Address,
			Subject:     rendered.Subject,
			HTMLBody:    rendered.HTMLBody,
			Headers:     rendered.Headers,
		})
		if err != nil {
			return classifyDispatchError(err)
		}
		msg.ExternalID = externalID

	default:
		return permanent(fmt.Errorf("unknown email method %q", p.Request.Method))
	}

	if err := w.storeMessage(ctx, msg, rendered.ShortenedLinks); err != nil {
		// The provider accepted the message; retrying would double-send.
		log.Printf("[EmailSender] ALERT: sent but not recorded (group %d, to %s): %v",
			p.GroupID, p.Recipient.Address, err)
		return permanent(err)
	}
	return nil
}

// classifyDispatchError turns a provider error into the right retry outcome.
// Transient errors consume the retry ladder; once it is spent the next
// delivery writes the terminal row without another upstream attempt.
func classifyDispatchError(err error) error {
	if isTransient(err) {
		return err
	}
	// Permanent upstream rejection: surface without a message row, this is
	// alarm-worthy.
	return permanent(err)
}

func (w *Worker) sendMandrill(ctx context.Context, p queue.SendEmailPayload, rendered *template.Rendered, attachments []mandrill.Attachment) (string, error) {
	fromName, fromEmail := splitFromAddress(p.Request.FromAddress)

	result, err := w.mandrill.Send(ctx, mandrill.Message{
		HTML:      rendered.HTMLBody,
		Subject:   rendered.Subject,
		FromEmail: fromEmail,
		FromName:  fromName,
		To: []mandrill.Recipient{{
			Email: p.Recipient.Address,
			Name:  rendered.FullName,
			Type:  "to",
		}},
		Headers:       rendered.Headers,
		TrackOpens:    true,
		AutoText:      true,
		SigningDomain: domainOf(fromEmail),
		Subaccount:    p.Request.Subaccount,
		Tags:          mergeTags(p.Request.Tags, p.Recipient.Tags),
		InlineCSS:     true,
		Important:     p.Request.Important,
		Attachments:   attachments,
	})
	if err != nil {
		return "", err
	}
	if result.Status != "sent" && result.Status != "queued" {
		log.Printf("[EmailSender] mandrill status %q for %s (reject reason %q)",
			result.Status, p.Recipient.Address, result.RejectReason)
	}
	return result.ID, nil
}

// buildAttachments renders PDF attachments and base64-encodes literal ones.
// A failed PDF render drops that attachment and the send proceeds.
func (w *Worker) buildAttachments(ctx context.Context, r domain.EmailRecipient) ([]mandrill.Attachment, []string) {
	var out []mandrill.Attachment
	var names []string

	for _, pdf := range r.PDFAttachments {
		if w.pdf == nil {
			log.Printf("[EmailSender] pdf service not configured, skipping attachment %s", pdf.Name)
			continue
		}
		data, err := w.pdf.Render(ctx, pdf.HTML, pdfsvc.Options{})
		if err != nil {
			log.Printf("[EmailSender] pdf render failed for %s, skipping: %v", pdf.Name, err)
			continue
		}
		out = append(out, mandrill.Attachment{
			Type:    "application/pdf",
			Name:    pdf.Name,
			Content: base64.StdEncoding.EncodeToString(data),
		})
		names = append(names, pdf.Name)
	}

	for _, att := range r.Attachments {
		content := att.Content
		if _, err := base64.StdEncoding.DecodeString(content); err != nil {
			content = base64.StdEncoding.EncodeToString([]byte(att.Content))
		}
		out = append(out, mandrill.Attachment{Type: att.MimeType, Name: att.Name, Content: content})
		names = append(names, att.Name)
	}
	return out, names
}

// storeEmailFailure writes a terminal failure row for the recipient. The
// body carries the error text for operator triage.
func (w *Worker) storeEmailFailure(ctx context.Context, p queue.SendEmailPayload, status domain.MessageStatus, errText string) error {
	msg := &domain.Message{
		GroupID:     p.GroupID,
		CompanyID:   p.CompanyID,
		Method:      p.Request.Method,
		SendTs:      time.Now().UTC(),
		Status:      status,
		ToFirstName: p.Recipient.FirstName,
		ToLastName:  p.Recipient.LastName,
		ToUserLink:  p.Recipient.UserLink,
		ToAddress:   p.Recipient.Address,
		Tags:        mergeTags(p.Request.Tags, p.Recipient.Tags),
		Body:        errText,
	}
	if err := w.storeMessage(ctx, msg, nil); err != nil {
		return err
	}
	return nil
}

func (w *Worker) storeMessage(ctx context.Context, msg *domain.Message, shortened []template.ShortLink) error {
	links := make([]domain.Link, 0, len(shortened))
	for _, l := range shortened {
		links = append(links, domain.Link{Token: l.Token, URL: l.URL})
	}
	return w.store.InsertMessage(ctx, msg, links)
}

// splitFromAddress parses "Name <email>" into its parts; a bare address
// yields an empty name.
func splitFromAddress(from string) (name, email string) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return "", from
	}
	return addr.Name, addr.Address
}

func domainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 {
		return email[i+1:]
	}
	return ""
}
