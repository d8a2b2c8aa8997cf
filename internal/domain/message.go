package domain

import (
	"time"

	"github.com/google/uuid"
)

// Company is a tenant. Companies are created on first reference by code.
type Company struct {
	ID   int64
	Code string
}

// MessageGroup is one accepted send request. It fans out to one Message per
// recipient and exclusively owns those messages.
type MessageGroup struct {
	ID        int64
	UUID      string
	CompanyID int64
	Method    SendMethod
	CreatedAt time.Time
	FromEmail string
	FromName  string
}

// Message records a single outbound communication to one recipient.
//
// Status invariant: Status equals the status of the Event with the greatest
// Ts among the message's events, or "send" if no event is later than the
// original send. UpdateTs >= SendTs always holds; both are maintained by the
// update_message trigger, never by application updates.
type Message struct {
	ID          int64
	ExternalID  string // provider message id, empty until stored
	GroupID     int64
	CompanyID   int64
	Method      SendMethod
	SendTs      time.Time
	UpdateTs    time.Time
	Status      MessageStatus
	ToFirstName string
	ToLastName  string
	ToUserLink  string
	ToAddress   string
	Tags        []string
	Subject     string
	Body        string
	Attachments []string // names only, payloads are never persisted
	Cost        *float64
	Extra       map[string]any
}

// Event is a timestamped status transition for a message. Events are
// append-only; the update_message trigger folds them into the message row.
type Event struct {
	ID        int64
	MessageID int64
	Status    MessageStatus
	Ts        time.Time
	Extra     map[string]any
}

// Link maps a short-URL token to the original URL it replaced in a rendered
// body.
type Link struct {
	ID        int64
	MessageID int64
	Token     string
	URL       string
}

// EmailRecipient is one recipient of an email send request.
type EmailRecipient struct {
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	UserLink       string            `json:"user_link,omitempty"`
	Address        string            `json:"address"`
	Tags           []string          `json:"tags,omitempty"`
	Context        map[string]any    `json:"context,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	PDFAttachments []PDFAttachment   `json:"pdf_attachments,omitempty"`
	Attachments    []Attachment      `json:"attachments,omitempty"`
}

// PDFAttachment is HTML to be rendered to PDF by the PDF service and
// attached to the outgoing email.
type PDFAttachment struct {
	Name string `json:"name"`
	HTML string `json:"html"`
	ID   int64  `json:"id,omitempty"`
}

// Attachment is a literal attachment forwarded to the provider. Only the
// name is retained on the message row.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Content  string `json:"content"`
}

// SMSRecipient is one recipient of an SMS send request.
type SMSRecipient struct {
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	UserLink  string         `json:"user_link,omitempty"`
	Number    string         `json:"number"`
	Tags      []string       `json:"tags,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// EmailSendRequest is the body of POST /send/email/.
type EmailSendRequest struct {
	UID              uuid.UUID         `json:"uid"`
	MainTemplate     string            `json:"main_template"`
	MustachePartials map[string]string `json:"mustache_partials,omitempty"`
	Macros           map[string]string `json:"macros,omitempty"`
	SubjectTemplate  string            `json:"subject_template"`
	CompanyCode      string            `json:"company_code"`
	FromAddress      string            `json:"from_address"`
	Method           SendMethod        `json:"method"`
	Subaccount       string            `json:"subaccount,omitempty"`
	Tags             []string          `json:"tags,omitempty"`
	Context          map[string]any    `json:"context,omitempty"`
	Headers          map[string]string `json:"headers,omitempty"`
	Important        bool              `json:"important,omitempty"`
	Recipients       []EmailRecipient  `json:"recipients"`
}

// SMSSendRequest is the body of POST /send/sms/.
type SMSSendRequest struct {
	UID          string         `json:"uid"`
	MainTemplate string         `json:"main_template"`
	CompanyCode  string         `json:"company_code"`
	CostLimit    *float64       `json:"cost_limit,omitempty"`
	CountryCode  string         `json:"country_code"`
	FromName     string         `json:"from_name"`
	Method       SendMethod     `json:"method"`
	Tags         []string       `json:"tags,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Recipients   []SMSRecipient `json:"recipients"`
}
