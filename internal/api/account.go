package api

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/pkg/httputil"
	"github.com/ignite/morpheus/internal/store"
)

type subaccountRequest struct {
	CompanyCode string `json:"company_code"`
	Name        string `json:"name,omitempty"`
}

// handleCreateSubaccount provisions a provider-side tenant partition.
// Only Mandrill supports subaccounts.
func (s *Server) handleCreateSubaccount(w http.ResponseWriter, r *http.Request) {
	method := domain.SendMethod(chi.URLParam(r, "method"))
	if method != domain.MethodEmailMandrill {
		httputil.BadRequest(w, "subaccounts are only supported for email-mandrill")
		return
	}
	if s.subaccounts == nil {
		httputil.BadRequest(w, "mandrill is not configured")
		return
	}

	var req subaccountRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.CompanyCode == "" {
		httputil.BadRequest(w, "company_code is required")
		return
	}
	name := req.Name
	if name == "" {
		name = req.CompanyCode
	}

	sub, err := s.subaccounts.AddSubaccount(r.Context(), req.CompanyCode, name)
	if err != nil {
		log.Printf("[Server] create subaccount %s: %v", req.CompanyCode, err)
		httputil.InternalError(w, err)
		return
	}
	httputil.Created(w, sub)
}

// handleDeleteSubaccount removes a provider-side tenant partition.
func (s *Server) handleDeleteSubaccount(w http.ResponseWriter, r *http.Request) {
	method := domain.SendMethod(chi.URLParam(r, "method"))
	if method != domain.MethodEmailMandrill {
		httputil.BadRequest(w, "subaccounts are only supported for email-mandrill")
		return
	}
	if s.subaccounts == nil {
		httputil.BadRequest(w, "mandrill is not configured")
		return
	}

	var req subaccountRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.CompanyCode == "" {
		httputil.BadRequest(w, "company_code is required")
		return
	}

	if err := s.subaccounts.DeleteSubaccount(r.Context(), req.CompanyCode); err != nil {
		log.Printf("[Server] delete subaccount %s: %v", req.CompanyCode, err)
		httputil.InternalError(w, err)
		return
	}
	httputil.OK(w, map[string]string{"status": "deleted"})
}

// handleBilling sums a tenant's message costs over [start, end).
func (s *Server) handleBilling(w http.ResponseWriter, r *http.Request) {
	method := domain.SendMethod(chi.URLParam(r, "method"))
	if !method.Valid() {
		httputil.BadRequest(w, "invalid method")
		return
	}
	code := chi.URLParam(r, "companyCode")

	start, err := time.Parse("2006-01-02", r.URL.Query().Get("start"))
	if err != nil {
		httputil.BadRequest(w, "start must be YYYY-MM-DD")
		return
	}
	end, err := time.Parse("2006-01-02", r.URL.Query().Get("end"))
	if err != nil {
		httputil.BadRequest(w, "end must be YYYY-MM-DD")
		return
	}

	company, err := s.store.CompanyByCode(r.Context(), code)
	if errors.Is(err, store.ErrNotFound) {
		httputil.NotFound(w, "unknown company")
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	spend, err := s.store.SpendBetween(r.Context(), company.ID, method, start, end)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, map[string]any{
		"company": code,
		"method":  method,
		"start":   start.Format("2006-01-02"),
		"end":     end.Format("2006-01-02"),
		"cost":    spend,
	})
}
