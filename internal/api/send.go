package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/mail"

	"github.com/google/uuid"

	"github.com/ignite/morpheus/internal/domain"
	"github.com/ignite/morpheus/internal/pkg/httputil"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/smsutil"
)

const defaultSMSOriginator = "Morpheus"

// handleSendEmail admits an email group send and fans it out to one job per
// recipient. The group uuid is the idempotency key: resubmissions get 409.
func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req domain.EmailSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := validateEmailRequest(&req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	ctx := r.Context()
	fromName, fromEmail := splitFromAddress(req.FromAddress)
	group, status, err := s.admit(ctx, req.UID.String(), req.CompanyCode, req.Method, fromEmail, fromName)
	if err != nil {
		writeAdmitError(w, status, err)
		return
	}

	recipients := req.Recipients
	req.Recipients = nil
	for _, rcpt := range recipients {
		err := s.jobs.EnqueueSendEmail(ctx, queue.SendEmailPayload{
			GroupID:   group.ID,
			CompanyID: group.CompanyID,
			Request:   req,
			Recipient: rcpt,
		})
		if err != nil {
			log.Printf("[Server] enqueue email for group %s: %v", group.UUID, err)
			httputil.InternalError(w, err)
			return
		}
	}

	log.Printf("[Server] accepted email group %s (%s, %d recipients)", group.UUID, req.Method, len(recipients))
	httputil.Created(w, map[string]string{"message": "201 job enqueued"})
}

// handleSendSMS admits an SMS group send. On top of the email flow it
// enforces the tenant's monthly spend limit before any rows are written.
func (s *Server) handleSendSMS(w http.ResponseWriter, r *http.Request) {
	var req domain.SMSSendRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if req.CountryCode == "" {
		req.CountryCode = "GB"
	}
	if req.FromName == "" {
		req.FromName = defaultSMSOriginator
	}
	if err := validateSMSRequest(&req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	ctx := r.Context()

	// Admission order matters: the uuid increment wins or loses before any
	// database work, and the spend gate runs before group rows exist so a
	// 402 leaves nothing behind.
	if err := s.admitUID(ctx, req.UID); err != nil {
		httputil.Conflict(w, err.Error())
		return
	}

	company, err := s.store.GetOrCreateCompany(ctx, req.CompanyCode)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	spend, err := s.store.MonthToDateSpend(ctx, company.ID, req.Method)
	if err != nil {
		httputil.InternalError(w, err)
		return
	}
	if req.CostLimit != nil && spend >= *req.CostLimit {
		httputil.JSON(w, http.StatusPaymentRequired, map[string]any{
			"status":     "send limit exceeded",
			"cost_limit": *req.CostLimit,
			"spend":      spend,
		})
		return
	}

	group := &domain.MessageGroup{
		UUID:      req.UID,
		CompanyID: company.ID,
		Method:    req.Method,
		FromName:  req.FromName,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		httputil.InternalError(w, err)
		return
	}

	recipients := req.Recipients
	req.Recipients = nil
	for _, rcpt := range recipients {
		err := s.jobs.EnqueueSendSMS(ctx, queue.SendSMSPayload{
			GroupID:   group.ID,
			CompanyID: company.ID,
			Request:   req,
			Recipient: rcpt,
		})
		if err != nil {
			log.Printf("[Server] enqueue sms for group %s: %v", group.UUID, err)
			httputil.InternalError(w, err)
			return
		}
	}

	log.Printf("[Server] accepted sms group %s (%s, %d recipients)", group.UUID, req.Method, len(recipients))
	httputil.Created(w, map[string]any{"status": "enqueued", "spend": spend})
}

// handleValidateSMS validates a phone number without sending anything.
func (s *Server) handleValidateSMS(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	country := r.URL.Query().Get("country_code")
	if country == "" {
		country = "GB"
	}
	if number == "" {
		httputil.BadRequest(w, "number is required")
		return
	}

	info, err := smsutil.ValidateNumber(number, country)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.OK(w, info)
}

// admit runs the shared admission steps for email sends: uuid increment,
// company upsert, group insert.
func (s *Server) admit(ctx context.Context, uid, companyCode string, method domain.SendMethod, fromEmail, fromName string) (*domain.MessageGroup, int, error) {
	if err := s.admitUID(ctx, uid); err != nil {
		return nil, http.StatusConflict, err
	}

	company, err := s.store.GetOrCreateCompany(ctx, companyCode)
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}

	group := &domain.MessageGroup{
		UUID:      uid,
		CompanyID: company.ID,
		Method:    method,
		FromEmail: fromEmail,
		FromName:  fromName,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, http.StatusInternalServerError, err
	}
	return group, http.StatusCreated, nil
}

func (s *Server) admitUID(ctx context.Context, uid string) error {
	first, err := s.kv.AdmitGroup(ctx, uid)
	if err != nil {
		return fmt.Errorf("admit group %s: %w", uid, err)
	}
	if !first {
		return fmt.Errorf("duplicate send group %s", uid)
	}
	return nil
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

func writeAdmitError(w http.ResponseWriter, status int, err error) {
	if status == http.StatusConflict {
		httputil.Conflict(w, err.Error())
		return
	}
	httputil.InternalError(w, err)
}

func validateEmailRequest(req *domain.EmailSendRequest) error {
	if req.UID == uuid.Nil {
		return fmt.Errorf("uid is required")
	}
	if req.CompanyCode == "" {
		return fmt.Errorf("company_code is required")
	}
	if !req.Method.IsEmail() {
		return fmt.Errorf("invalid email method %q", req.Method)
	}
	if req.FromAddress == "" {
		return fmt.Errorf("from_address is required")
	}
	if len(req.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	for i, rcpt := range req.Recipients {
		if rcpt.Address == "" {
			return fmt.Errorf("recipient %d: address is required", i)
		}
	}
	return nil
}

func validateSMSRequest(req *domain.SMSSendRequest) error {
	if n := len(req.UID); n < 20 || n > 40 {
		return fmt.Errorf("uid must be 20..40 characters, got %d", n)
	}
	if req.CompanyCode == "" {
		return fmt.Errorf("company_code is required")
	}
	if !req.Method.IsSMS() {
		return fmt.Errorf("invalid sms method %q", req.Method)
	}
	if n := len(req.FromName); n < 1 || n > 11 {
		return fmt.Errorf("from_name must be 1..11 characters, got %d", n)
	}
	if len(req.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	for i, rcpt := range req.Recipients {
		if rcpt.Number == "" {
			return fmt.Errorf("recipient %d: number is required", i)
		}
	}
	return nil
}
