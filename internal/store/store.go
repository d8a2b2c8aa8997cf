// Package store is the Postgres persistence layer: companies, message
// groups, messages, events and links, plus the query and maintenance
// operations built on them. Status and search-vector maintenance live in
// database triggers, not here.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/morpheus/internal/domain"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store wraps the database handle.
type Store struct{ db *sql.DB }

// New creates a Store.
func New(db *sql.DB) *Store { return &Store{db: db} }

// GetOrCreateCompany returns the company with the given code, creating it on
// first reference. The upsert keeps concurrent first references race-free.
func (s *Store) GetOrCreateCompany(ctx context.Context, code string) (*domain.Company, error) {
	c := &domain.Company{Code: code}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO companies (code) VALUES ($1)
		ON CONFLICT (code) DO UPDATE SET code = EXCLUDED.code
		RETURNING id
	`, code).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("get or create company %s: %w", code, err)
	}
	return c, nil
}

// CompanyByCode returns an existing company without creating it.
func (s *Store) CompanyByCode(ctx context.Context, code string) (*domain.Company, error) {
	c := &domain.Company{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code FROM companies WHERE code = $1`, code).Scan(&c.ID, &c.Code)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("company by code %s: %w", code, err)
	}
	return c, nil
}

// CreateGroup inserts a message group and fills in its id and created_ts.
func (s *Store) CreateGroup(ctx context.Context, g *domain.MessageGroup) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO message_groups (uuid, company_id, method, from_email, from_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_ts
	`, g.UUID, g.CompanyID, g.Method, g.FromEmail, g.FromName).Scan(&g.ID, &g.CreatedAt)
	if err != nil {
		return fmt.Errorf("create group %s: %w", g.UUID, err)
	}
	return nil
}

// GroupByUUID returns a group by its client-supplied uuid.
func (s *Store) GroupByUUID(ctx context.Context, uid string) (*domain.MessageGroup, error) {
	g := &domain.MessageGroup{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, uuid, company_id, method, created_ts, from_email, from_name
		FROM message_groups WHERE uuid = $1
	`, uid).Scan(&g.ID, &g.UUID, &g.CompanyID, &g.Method, &g.CreatedAt, &g.FromEmail, &g.FromName)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("group by uuid %s: %w", uid, err)
	}
	return g, nil
}

// InsertMessage writes a message row plus one link row per shortened URL in
// a single transaction. The set_message_vector trigger fills the search
// vector. m.ID is set on return.
func (s *Store) InsertMessage(ctx context.Context, m *domain.Message, links []domain.Link) error {
	extra, err := marshalExtra(m.Extra)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert message: begin: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages
			(external_id, group_id, company_id, method, send_ts, update_ts, status,
			 to_first_name, to_last_name, to_user_link, to_address,
			 tags, subject, body, attachments, cost, extra)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`, m.ExternalID, m.GroupID, m.CompanyID, m.Method, m.SendTs, m.Status,
		m.ToFirstName, m.ToLastName, m.ToUserLink, m.ToAddress,
		pq.Array(m.Tags), m.Subject, m.Body, pq.Array(m.Attachments), m.Cost, extra,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert message for %s: %w", m.ToAddress, err)
	}

	for _, link := range links {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO links (message_id, token, url) VALUES ($1, $2, $3)
		`, m.ID, link.Token, link.URL); err != nil {
			return fmt.Errorf("insert link %s: %w", link.Token, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert message: commit: %w", err)
	}
	return nil
}

// InsertEvent appends an event. The update_message trigger advances the
// message's status and update_ts when this event is the latest.
func (s *Store) InsertEvent(ctx context.Context, e *domain.Event) error {
	extra, err := marshalExtra(e.Extra)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO events (message_id, status, ts, extra)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, e.MessageID, e.Status, e.Ts, extra).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert event for message %d: %w", e.MessageID, err)
	}
	return nil
}

// MessageByExternalID finds the message a provider webhook refers to.
// Providers occasionally reuse ids across re-submissions; the most recent
// row wins.
func (s *Store) MessageByExternalID(ctx context.Context, method domain.SendMethod, externalID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, group_id, company_id, method, send_ts, update_ts, status,
		       to_first_name, to_last_name, to_user_link, to_address,
		       tags, subject, body, attachments, cost, extra
		FROM messages
		WHERE method = $1 AND external_id = $2
		ORDER BY id DESC LIMIT 1
	`, method, externalID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("message by external id %s: %w", externalID, err)
	}
	return m, nil
}

// LinkByToken resolves a short-link token.
func (s *Store) LinkByToken(ctx context.Context, token string) (*domain.Link, error) {
	l := &domain.Link{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, message_id, token, url FROM links WHERE token = $1 LIMIT 1
	`, token).Scan(&l.ID, &l.MessageID, &l.Token, &l.URL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("link by token %s: %w", token, err)
	}
	return l, nil
}

// MonthToDateSpend sums the cost of a company's messages for the current
// calendar month.
func (s *Store) MonthToDateSpend(ctx context.Context, companyID int64, method domain.SendMethod) (float64, error) {
	var spend float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0)
		FROM messages
		WHERE company_id = $1 AND method = $2
		  AND send_ts >= date_trunc('month', now())
	`, companyID, method).Scan(&spend)
	if err != nil {
		return 0, fmt.Errorf("month-to-date spend: %w", err)
	}
	return spend, nil
}

// SpendBetween sums a company's message costs over [start, end).
func (s *Store) SpendBetween(ctx context.Context, companyID int64, method domain.SendMethod, start, end time.Time) (float64, error) {
	var spend float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0)
		FROM messages
		WHERE company_id = $1 AND method = $2
		  AND send_ts >= $3 AND send_ts < $4
	`, companyID, method, start, end).Scan(&spend)
	if err != nil {
		return 0, fmt.Errorf("spend between: %w", err)
	}
	return spend, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanMessage(row rowScanner) (*domain.Message, error) {
	m := &domain.Message{}
	var extra []byte
	err := row.Scan(
		&m.ID, &m.ExternalID, &m.GroupID, &m.CompanyID, &m.Method,
		&m.SendTs, &m.UpdateTs, &m.Status,
		&m.ToFirstName, &m.ToLastName, &m.ToUserLink, &m.ToAddress,
		pq.Array(&m.Tags), &m.Subject, &m.Body, pq.Array(&m.Attachments),
		&m.Cost, &extra,
	)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		if err := unmarshalExtra(extra, &m.Extra); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func unmarshalExtra(data []byte, dst *map[string]any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding extra: %w", err)
	}
	return nil
}

func marshalExtra(extra map[string]any) ([]byte, error) {
	if extra == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encoding extra: %w", err)
	}
	return data, nil
}
