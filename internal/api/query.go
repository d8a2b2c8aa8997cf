package api

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/pkg/httputil"
	"github.com/ignite/morpheus/internal/store"
)

// messageView is the wire form of a message on the query API.
type messageView struct {
	ID          int64                `json:"id"`
	ExternalID  string               `json:"external_id,omitempty"`
	Method      domain.SendMethod    `json:"method"`
	SendTs      time.Time            `json:"send_ts"`
	UpdateTs    time.Time            `json:"update_ts"`
	Status      domain.MessageStatus `json:"status"`
	ToFirstName string               `json:"to_first_name,omitempty"`
	ToLastName  string               `json:"to_last_name,omitempty"`
	ToUserLink  string               `json:"to_user_link,omitempty"`
	ToAddress   string               `json:"to_address"`
	Tags        []string             `json:"tags"`
	Subject     string               `json:"subject,omitempty"`
	Attachments []string             `json:"attachments"`
	Cost        *float64             `json:"cost,omitempty"`
	Extra       map[string]any       `json:"extra,omitempty"`
}

type eventView struct {
	Status domain.MessageStatus `json:"status"`
	Ts     time.Time            `json:"ts"`
	Extra  map[string]any       `json:"extra,omitempty"`
}

func toMessageView(m *domain.Message) messageView {
	tags := m.Tags
	if tags == nil {
		tags = []string{}
	}
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return messageView{
		ID:          m.ID,
		ExternalID:  m.ExternalID,
		Method:      m.Method,
		SendTs:      m.SendTs,
		UpdateTs:    m.UpdateTs,
		Status:      m.Status,
		ToFirstName: m.ToFirstName,
		ToLastName:  m.ToLastName,
		ToUserLink:  m.ToUserLink,
		ToAddress:   m.ToAddress,
		Tags:        tags,
		Subject:     m.Subject,
		Attachments: attachments,
		Cost:        m.Cost,
		Extra:       m.Extra,
	}
}

// queryScope resolves the authenticated tenant into a company filter.
// found=false means the company has never sent anything.
func (s *Server) queryScope(ctx context.Context) (companyID *int64, found bool, err error) {
	code := companyCode(ctx)
	if code == AllCompanies {
		return nil, true, nil
	}
	company, err := s.store.CompanyByCode(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &company.ID, true, nil
}

// handleListMessages serves one page of a tenant's messages, optionally
// filtered by tags and full-text query.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	method := domain.SendMethod(chi.URLParam(r, "method"))
	if !method.Valid() {
		httputil.BadRequest(w, "invalid method")
		return
	}

	companyID, found, err := s.queryScope(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	resp := map[string]any{
		"items": []messageView{},
		"count": 0,
	}
	var count int
	if found {
		var tags []string
		if raw := r.URL.Query().Get("tags"); raw != "" {
			for _, t := range strings.Split(raw, ",") {
				if t = strings.TrimSpace(t); t != "" {
					tags = append(tags, t)
				}
			}
		}

		result, err := s.store.ListMessages(r.Context(), store.ListFilter{
			CompanyID: companyID,
			Method:    method,
			Tags:      tags,
			Query:     r.URL.Query().Get("q"),
			Offset:    offset,
		})
		if err != nil {
			httputil.InternalError(w, err)
			return
		}

		items := make([]messageView, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, toMessageView(&result.Items[i]))
		}
		resp["items"] = items
		resp["count"] = result.Count
		count = result.Count
	}

	if offset+store.PageSize < count {
		resp["next"] = offset + store.PageSize
	}
	if offset > 0 {
		prev := offset - store.PageSize
		if prev < 0 {
			prev = 0
		}
		resp["previous"] = prev
	}

	if method.IsSMS() && companyID != nil {
		spend, err := s.store.MonthToDateSpend(r.Context(), *companyID, method)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
		resp["spend"] = spend
	}

	httputil.OK(w, resp)
}

var hrefRe = regexp.MustCompile(`href\s*=\s*("[^"]*"|'[^']*')`)

// handleMessageDetail serves one message with its event history. Hrefs in
// the stored body are neutralized unless safe=false is passed, so rendering
// the detail view cannot trip click tracking or live links.
func (s *Server) handleMessageDetail(w http.ResponseWriter, r *http.Request) {
	method := domain.SendMethod(chi.URLParam(r, "method"))
	if !method.Valid() {
		httputil.BadRequest(w, "invalid method")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid message id")
		return
	}

	companyID, found, err := s.queryScope(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !found {
		httputil.NotFound(w, "message not found")
		return
	}

	detail, err := s.store.GetMessageDetail(r.Context(), method, id, companyID)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "message not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	body := detail.Message.Body
	if r.URL.Query().Get("safe") != "false" {
		body = hrefRe.ReplaceAllString(body, `href="#"`)
	}

	events := make([]eventView, 0, len(detail.Events))
	for _, e := range detail.Events {
		events = append(events, eventView{Status: e.Status, Ts: e.Ts, Extra: e.Extra})
	}

	resp := map[string]any{
		"message": toMessageView(&detail.Message),
		"body":    body,
		"events":  events,
	}
	if more := detail.TotalEvents - len(detail.Events); more > 0 {
		resp["more_events"] = more
	}
	httputil.OK(w, resp)
}

// handleMessagePreview serves the rendered body as-is: raw HTML for email,
// structured fields for SMS.
func (s *Server) handleMessagePreview(w http.ResponseWriter, r *http.Request) {
	method := domain.SendMethod(chi.URLParam(r, "method"))
	if !method.Valid() {
		httputil.BadRequest(w, "invalid method")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid message id")
		return
	}

	companyID, found, err := s.queryScope(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if !found {
		httputil.NotFound(w, "message not found")
		return
	}

	detail, err := s.store.GetMessageDetail(r.Context(), method, id, companyID)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "message not found")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	if method.IsSMS() {
		httputil.OK(w, map[string]any{
			"to":    detail.Message.ToAddress,
			"body":  detail.Message.Body,
			"extra": detail.Message.Extra,
		})
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(detail.Message.Body))
}

const histogramDays = 28

// handleAggregation serves the per-day status histogram for the last 28 days
// plus rolling 7/28/90-day totals and open counts, all computed from the
// aggregation materialized view.
func (s *Server) handleAggregation(w http.ResponseWriter, r *http.Request) {
	method := domain.SendMethod(chi.URLParam(r, "method"))
	if !method.Valid() {
		httputil.BadRequest(w, "invalid method")
		return
	}

	companyID, found, err := s.queryScope(r.Context())
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	var rows []store.AggregationRow
	if found {
		rows, err = s.store.Aggregation(r.Context(), method, companyID)
		if err != nil {
			httputil.InternalError(w, err)
			return
		}
	}

	now := time.Now().UTC()
	histogramStart := now.AddDate(0, 0, -histogramDays)

	histogram := map[string]map[string]int{}
	totals := map[string]map[string]int{
		"7":  {"total": 0, "open": 0},
		"28": {"total": 0, "open": 0},
		"90": {"total": 0, "open": 0},
	}
	windows := map[string]time.Time{
		"7":  now.AddDate(0, 0, -7),
		"28": now.AddDate(0, 0, -28),
		"90": now.AddDate(0, 0, -90),
	}

	for _, row := range rows {
		if !row.Date.Before(histogramStart) {
			day := row.Date.Format("2006-01-02")
			if histogram[day] == nil {
				histogram[day] = map[string]int{}
			}
			histogram[day][string(row.Status)] += row.Count
		}
		for name, start := range windows {
			if !row.Date.Before(start) {
				totals[name]["total"] += row.Count
				if row.Status == domain.StatusOpen {
					totals[name]["open"] += row.Count
				}
			}
		}
	}

	httputil.OK(w, map[string]any{
		"histogram": histogram,
		"totals":    totals,
	})
}
