package api

import (
	"encoding/base64"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/morpheus/internal/pkg/httputil"
	"github.com/ignite/morpheus/internal/queue"
	"github.com/ignite/morpheus/internal/store"
)

// handleClick resolves a short-link token and redirects. A click event is
// recorded at most once per (link, ip) per minute; repeat hits inside the
// window still redirect but record nothing.
func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	// Email clients sometimes append sentence punctuation to pasted links.
	token := strings.TrimSuffix(chi.URLParam(r, "token"), ".")

	link, err := s.store.LinkByToken(r.Context(), token)
	if errors.Is(err, store.ErrNotFound) {
		s.redirectFallback(w, r, token)
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	ip := clientIP(r)
	seen, err := s.kv.ClickSeen(r.Context(), link.ID, ip)
	if err != nil {
		// A cache outage must not break redirects.
		log.Printf("[Server] click dedup for link %d: %v", link.ID, err)
		seen = true
	}

	if !seen {
		err := s.jobs.EnqueueStoreClick(r.Context(), queue.StoreClickPayload{
			LinkID:    link.ID,
			MessageID: link.MessageID,
			Target:    link.URL,
			IP:        ip,
			Ts:        time.Now().UTC(),
			UserAgent: r.UserAgent(),
		})
		if err != nil {
			log.Printf("[Server] enqueue click for link %d: %v", link.ID, err)
		}
	}

	http.Redirect(w, r, link.URL, http.StatusFound)
}

// redirectFallback handles tokens that match no link row, typically links
// from messages past the retention window. A ?u= parameter carrying the
// base64url original target still gets the visitor where they meant to go.
func (s *Server) redirectFallback(w http.ResponseWriter, r *http.Request, token string) {
	if u := r.URL.Query().Get("u"); u != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(u)
		if err != nil {
			decoded, err = base64.URLEncoding.DecodeString(u)
		}
		if err == nil {
			if target, perr := url.Parse(string(decoded)); perr == nil && target.IsAbs() {
				log.Printf("[Server] unknown link token %q, falling back to embedded target", token)
				http.Redirect(w, r, target.String(), http.StatusFound)
				return
			}
		}
	}
	httputil.NotFound(w, "unknown link")
}

func clientIP(r *http.Request) string {
	// middleware.RealIP already folded X-Forwarded-For into RemoteAddr.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
