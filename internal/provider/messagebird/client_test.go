package messagebird

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/provider"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(config.MessageBirdConfig{Key: "live_abc", BaseURL: srv.URL})
}

func TestSend(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "AccessKey live_abc", r.Header.Get("Authorization"))

		var req SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "auto", req.Datacoding)
		assert.Equal(t, "morpheus", req.Reference)
		assert.Equal(t, []string{"+447911123456"}, req.Recipients)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"id":         "mb-42",
			"recipients": map[string]any{"totalCount": 1},
		})
	})

	resp, err := c.Send(context.Background(), "Acme", "hello", "+447911123456")
	require.NoError(t, err)
	assert.Equal(t, "mb-42", resp.ID)
	assert.Equal(t, 1, resp.Recipients.TotalCount)
}

func TestSend_Rejected(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"code":9}]}`))
	})

	_, err := c.Send(context.Background(), "Acme", "hello", "+447911123456")
	var apiErr *provider.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
}

func TestNetworkMCC(t *testing.T) {
	polls := 0
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/lookup/+447911123456/hlr":
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodGet && r.URL.Path == "/lookup/+447911123456":
			polls++
			lookup := map[string]any{"countryCode": 44}
			if polls >= 2 {
				lookup["hlr"] = map[string]any{"status": "active", "network": 23433}
			} else {
				lookup["hlr"] = map[string]any{"status": "sent"}
			}
			json.NewEncoder(w).Encode(lookup)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	mcc, err := c.NetworkMCC(context.Background(), "+447911123456")
	require.NoError(t, err)
	assert.Equal(t, "234", mcc)
	assert.Equal(t, 2, polls)
}

func TestOutboundRates(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pricing/sms/outbound", r.URL.Path)
		json.NewEncoder(w).Encode(PriceList{Prices: []Price{
			{MCC: "234", Price: "0.034"},
			{MCC: "310", Price: "0.009"},
			{MCC: "0", Price: "0.05"},
		}})
	})

	rates, err := c.OutboundRates(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"234": "0.034", "310": "0.009", "0": "0.05"}, rates)
}
