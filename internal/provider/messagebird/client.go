// Package messagebird is a minimal MessageBird REST client covering SMS
// sends, HLR lookups and the outbound SMS pricing table.
package messagebird

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/provider"
)

const (
	sendTimeout   = 15 * time.Second
	lookupTimeout = 10 * time.Second

	hlrPollAttempts = 30
	hlrPollInterval = time.Second
)

// Client is a MessageBird REST API client.
type Client struct {
	// send requests are never retried at the transport layer
	http *provider.Client
	// pricing and lookups are idempotent GETs, safe to retry
	retrying *provider.Client
}

// NewClient creates a MessageBird client from config.
func NewClient(cfg config.MessageBirdConfig) *Client {
	auth := "AccessKey " + cfg.Key
	plain := provider.NewClient(cfg.BaseURL)
	plain.Headers["Authorization"] = auth
	retrying := provider.NewRetryingClient(cfg.BaseURL, 3)
	retrying.Headers["Authorization"] = auth
	return &Client{http: plain, retrying: retrying}
}

// SendRequest is the body for POST /messages.
type SendRequest struct {
	Originator string   `json:"originator"`
	Body       string   `json:"body"`
	Recipients []string `json:"recipients"`
	Datacoding string   `json:"datacoding"`
	Reference  string   `json:"reference"`
}

// SendResponse is the (partial) response for POST /messages.
type SendResponse struct {
	ID         string `json:"id"`
	Recipients struct {
		TotalCount int `json:"totalCount"`
	} `json:"recipients"`
}

// Send submits one SMS to a single E.164 recipient. MessageBird answers 201
// on acceptance.
func (c *Client) Send(ctx context.Context, originator, body, recipient string) (*SendResponse, error) {
	var out SendResponse
	err := c.http.Post(ctx, "/messages", SendRequest{
		Originator: originator,
		Body:       body,
		Recipients: []string{recipient},
		Datacoding: "auto",
		Reference:  "morpheus",
	}, sendTimeout, &out, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Lookup is the response of GET /lookup/<number>, carrying the HLR result
// once the lookup completes.
type Lookup struct {
	CountryCode int `json:"countryCode"`
	HLR         *struct {
		Status  string `json:"status"`
		Network int    `json:"network"`
	} `json:"hlr"`
}

// NetworkMCC runs an HLR lookup for the number and polls until the result is
// active, returning the mobile network's MCC (first three digits of the
// network code).
func (c *Client) NetworkMCC(ctx context.Context, number string) (string, error) {
	path := "/lookup/" + url.PathEscape(number)
	if err := c.http.Post(ctx, path+"/hlr", nil, lookupTimeout, nil, http.StatusOK, http.StatusCreated); err != nil {
		return "", fmt.Errorf("starting hlr lookup: %w", err)
	}

	for attempt := 0; attempt < hlrPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(hlrPollInterval):
		}

		var lookup Lookup
		if err := c.retrying.Get(ctx, path, lookupTimeout, &lookup, http.StatusOK); err != nil {
			return "", fmt.Errorf("polling hlr lookup: %w", err)
		}
		if lookup.HLR != nil && lookup.HLR.Status == "active" && lookup.HLR.Network != 0 {
			network := fmt.Sprintf("%d", lookup.HLR.Network)
			if len(network) < 3 {
				return "", fmt.Errorf("hlr network code %q too short", network)
			}
			return network[:3], nil
		}
	}
	return "", fmt.Errorf("hlr lookup for %s not active after %d attempts", number, hlrPollAttempts)
}

// PriceList is the response of GET /pricing/sms/outbound.
type PriceList struct {
	Prices []Price `json:"prices"`
}

// Price is one per-MCC outbound SMS rate.
type Price struct {
	MCC   string `json:"mcc"`
	Price string `json:"price"`
}

// OutboundRates fetches the outbound SMS pricing table keyed by MCC.
func (c *Client) OutboundRates(ctx context.Context) (map[string]string, error) {
	var list PriceList
	if err := c.retrying.Get(ctx, "/pricing/sms/outbound", provider.DefaultTimeout, &list, http.StatusOK); err != nil {
		return nil, err
	}
	rates := make(map[string]string, len(list.Prices))
	for _, p := range list.Prices {
		rates[p.MCC] = p.Price
	}
	return rates, nil
}
