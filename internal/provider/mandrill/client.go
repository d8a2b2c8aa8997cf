// Package mandrill is a minimal Mandrill API client covering transactional
// sends, subaccount management and webhook registration. Mandrill
// authenticates with the API key inside each request body.
package mandrill

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/provider"
)

const (
	sendTimeout       = 15 * time.Second
	subaccountTimeout = 12 * time.Second
)

// Client is a Mandrill API client.
type Client struct {
	apiKey string
	http   *provider.Client
}

// NewClient creates a Mandrill client from config.
func NewClient(cfg config.MandrillConfig) *Client {
	return &Client{
		apiKey: cfg.Key,
		// Sends must not retry at the transport layer; the job queue owns
		// re-delivery.
		http: provider.NewClient(cfg.BaseURL),
	}
}

// Message is the Mandrill message payload for messages/send.json.
type Message struct {
	HTML            string            `json:"html"`
	Subject         string            `json:"subject"`
	FromEmail       string            `json:"from_email"`
	FromName        string            `json:"from_name"`
	To              []Recipient       `json:"to"`
	Headers         map[string]string `json:"headers,omitempty"`
	TrackOpens      bool              `json:"track_opens"`
	AutoText        bool              `json:"auto_text"`
	ViewContentLink bool              `json:"view_content_link"`
	SigningDomain   string            `json:"signing_domain,omitempty"`
	Subaccount      string            `json:"subaccount,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	InlineCSS       bool              `json:"inline_css"`
	Important       bool              `json:"important"`
	Attachments     []Attachment      `json:"attachments,omitempty"`
}

// Recipient is a single "to" entry.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// Attachment carries base64-encoded file content.
type Attachment struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// SendResult is one element of the messages/send.json response array.
type SendResult struct {
	Email        string `json:"email"`
	ID           string `json:"_id"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason,omitempty"`
}

type sendRequest struct {
	Key     string  `json:"key"`
	Async   bool    `json:"async"`
	Message Message `json:"message"`
}

// Send posts one message. The response is a single-element array; Send
// verifies the element refers to the requested recipient.
func (c *Client) Send(ctx context.Context, msg Message) (*SendResult, error) {
	var results []SendResult
	err := c.http.Post(ctx, "/messages/send.json", sendRequest{
		Key:     c.apiKey,
		Async:   true,
		Message: msg,
	}, sendTimeout, &results, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("mandrill send: expected 1 result, got %d", len(results))
	}
	result := results[0]
	if len(msg.To) == 1 && result.Email != msg.To[0].Email {
		return nil, fmt.Errorf("mandrill send: result for %s, expected %s", result.Email, msg.To[0].Email)
	}
	return &result, nil
}

// Subaccount is a Mandrill subaccount record.
type Subaccount struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Status      string `json:"status,omitempty"`
	Reputation  int    `json:"reputation,omitempty"`
	SentTotal   int    `json:"sent_total,omitempty"`
	SentMonthly int    `json:"sent_monthly,omitempty"`
}

type subaccountRequest struct {
	Key  string `json:"key"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// AddSubaccount creates a subaccount.
func (c *Client) AddSubaccount(ctx context.Context, id, name string) (*Subaccount, error) {
	var out Subaccount
	err := c.http.Post(ctx, "/subaccounts/add.json",
		subaccountRequest{Key: c.apiKey, ID: id, Name: name}, subaccountTimeout, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SubaccountInfo fetches a subaccount by id.
func (c *Client) SubaccountInfo(ctx context.Context, id string) (*Subaccount, error) {
	var out Subaccount
	err := c.http.Post(ctx, "/subaccounts/info.json",
		subaccountRequest{Key: c.apiKey, ID: id}, subaccountTimeout, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteSubaccount removes a subaccount.
func (c *Client) DeleteSubaccount(ctx context.Context, id string) error {
	return c.http.Post(ctx, "/subaccounts/delete.json",
		subaccountRequest{Key: c.apiKey, ID: id}, subaccountTimeout, nil, http.StatusOK)
}

// Webhook is a Mandrill webhook registration.
type Webhook struct {
	ID      int      `json:"id"`
	URL     string   `json:"url"`
	Events  []string `json:"events"`
	AuthKey string   `json:"auth_key"`
}

type webhookListRequest struct {
	Key string `json:"key"`
}

type webhookAddRequest struct {
	Key         string   `json:"key"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
	Events      []string `json:"events"`
}

// ListWebhooks returns all registered webhooks.
func (c *Client) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var out []Webhook
	err := c.http.Post(ctx, "/webhooks/list.json",
		webhookListRequest{Key: c.apiKey}, subaccountTimeout, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddWebhook registers a webhook for the given events.
func (c *Client) AddWebhook(ctx context.Context, url, description string, events []string) (*Webhook, error) {
	var out Webhook
	err := c.http.Post(ctx, "/webhooks/add.json",
		webhookAddRequest{Key: c.apiKey, URL: url, Description: description, Events: events},
		subaccountTimeout, &out, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
