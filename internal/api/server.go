// Package api is the HTTP surface: ingest endpoints, provider webhooks,
// short-link redirects and the per-tenant query API.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/kvstore"
	"github.com/ignite/morpheus/internal/provider/mandrill"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/store"
)

// Enqueuer is the slice of the queue client the API needs.
type Enqueuer interface {
	EnqueueSendEmail(ctx context.Context, p queue.SendEmailPayload) error
	EnqueueSendSMS(ctx context.Context, p queue.SendSMSPayload) error
	EnqueueUpdateStatus(ctx context.Context, p queue.UpdateStatusPayload) error
	EnqueueMandrillBatch(ctx context.Context, p queue.MandrillBatchPayload) error
	EnqueueStoreClick(ctx context.Context, p queue.StoreClickPayload) error
}

// SubaccountAPI is the slice of the Mandrill client the subaccount proxy
// endpoints need.
type SubaccountAPI interface {
	AddSubaccount(ctx context.Context, id, name string) (*mandrill.Subaccount, error)
	DeleteSubaccount(ctx context.Context, id string) error
}

// Server is the API process.
type Server struct {
	store       *store.Store
	kv          *kvstore.Store
	jobs        Enqueuer
	subaccounts SubaccountAPI
	cfg         *config.Config
	server      *http.Server
}

// NewServer wires the handlers.
func NewServer(st *store.Store, kv *kvstore.Store, jobs Enqueuer, subaccounts SubaccountAPI, cfg *config.Config) *Server {
	return &Server{
		store:       st,
		kv:          kv,
		jobs:        jobs,
		subaccounts: subaccounts,
		cfg:         cfg,
	}
}

// Router builds the chi router with all routes attached.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	// Ingest endpoints: shared-secret auth.
	r.Group(func(r chi.Router) {
		r.Use(s.requireSharedSecret)
		r.Use(limitBody)
		r.Post("/send/email/", s.handleSendEmail)
		r.Post("/send/sms/", s.handleSendSMS)
		r.Get("/validate/sms/", s.handleValidateSMS)
		r.Post("/create-subaccount/{method}/", s.handleCreateSubaccount)
		r.Post("/delete-subaccount/{method}/", s.handleDeleteSubaccount)
		r.Get("/billing/{method}/{companyCode}/", s.handleBilling)
	})

	// Provider webhooks authenticate by signature (Mandrill) or obscurity
	// of the callback URL (MessageBird), never by the shared secret.
	r.Post("/webhook/test/", s.handleTestWebhook)
	r.Post("/webhook/mandrill/", s.handleMandrillWebhook)
	r.Get("/webhook/mandrill/", s.handleMandrillWebhookCheck)
	r.Get("/webhook/messagebird/", s.handleMessageBirdWebhook)

	// Short-link redirects.
	r.Get("/l{token}", s.handleClick)

	// Per-tenant query API: signed token auth.
	r.Group(func(r chi.Router) {
		r.Use(s.requireUserToken)
		r.Get("/messages/{method}/", s.handleListMessages)
		r.Get("/messages/{method}/aggregation/", s.handleAggregation)
		r.Get("/messages/{method}/{id}/", s.handleMessageDetail)
		r.Get("/messages/{method}/{id}/preview/", s.handleMessagePreview)
	})

	return r
}

// ListenAndServe runs the HTTP server until ctx is canceled, then drains.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.GetHost(), s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadTimeout:       2 * time.Minute, // send bodies can carry large attachments
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Server] listening on %s", addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

// maxRequestBody caps ingest payloads; no string a send carries may exceed
// 10 MB.
const maxRequestBody = 10 << 20

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
