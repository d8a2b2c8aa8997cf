package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/morpheus/internal/domain"
)

const (
	// PageSize is the fixed list-page size.
	PageSize = 100
	// CountCap bounds the list count query; exact totals above this are not
	// worth the scan.
	CountCap = 10000
	// detailEventLimit is the maximum number of events in a detail response.
	detailEventLimit = 50
)

// ListFilter narrows a message listing. CompanyID nil means no tenant filter
// (the __all__ token).
type ListFilter struct {
	CompanyID *int64
	Method    domain.SendMethod
	Tags      []string
	Query     string // full-text search against the message vector
	Offset    int
}

// ListResult is one page of messages plus the capped total.
type ListResult struct {
	Items []domain.Message
	Count int
}

// ListMessages returns one page of messages, newest first.
func (s *Store) ListMessages(ctx context.Context, f ListFilter) (*ListResult, error) {
	where := "method = $1"
	args := []any{f.Method}
	idx := 2

	if f.CompanyID != nil {
		where += fmt.Sprintf(" AND company_id = $%d", idx)
		args = append(args, *f.CompanyID)
		idx++
	}
	if len(f.Tags) > 0 {
		where += fmt.Sprintf(" AND tags @> $%d", idx)
		args = append(args, pq.Array(f.Tags))
		idx++
	}
	if f.Query != "" {
		where += fmt.Sprintf(" AND vector @@ plainto_tsquery('simple', $%d)", idx)
		args = append(args, f.Query)
		idx++
	}

	countQ := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT 1 FROM messages WHERE %s LIMIT %d) capped",
		where, CountCap)
	var count int
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&count); err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}

	listQ := fmt.Sprintf(`
		SELECT id, external_id, group_id, company_id, method, send_ts, update_ts, status,
		       to_first_name, to_last_name, to_user_link, to_address,
		       tags, subject, body, attachments, cost, extra
		FROM messages
		WHERE %s
		ORDER BY id DESC
		LIMIT %d OFFSET $%d`, where, PageSize, idx)
	args = append(args, f.Offset)

	rows, err := s.db.QueryContext(ctx, listQ, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	result := &ListResult{Count: count}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		result.Items = append(result.Items, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return result, nil
}

// MessageDetail is a message with its event history. TotalEvents can exceed
// len(Events) when the history is truncated.
type MessageDetail struct {
	Message     domain.Message
	Events      []domain.Event
	TotalEvents int
}

// GetMessageDetail loads one message plus up to 50 of its latest events.
// CompanyID nil skips the tenant check.
func (s *Store) GetMessageDetail(ctx context.Context, method domain.SendMethod, id int64, companyID *int64) (*MessageDetail, error) {
	q := `
		SELECT id, external_id, group_id, company_id, method, send_ts, update_ts, status,
		       to_first_name, to_last_name, to_user_link, to_address,
		       tags, subject, body, attachments, cost, extra
		FROM messages
		WHERE method = $1 AND id = $2`
	args := []any{method, id}
	if companyID != nil {
		q += " AND company_id = $3"
		args = append(args, *companyID)
	}

	m, err := scanMessage(s.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}

	detail := &MessageDetail{Message: *m}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE message_id = $1`, id).Scan(&detail.TotalEvents); err != nil {
		return nil, fmt.Errorf("count events for message %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, message_id, status, ts, extra
		FROM events
		WHERE message_id = $1
		ORDER BY ts DESC
		LIMIT %d`, detailEventLimit), id)
	if err != nil {
		return nil, fmt.Errorf("list events for message %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var e domain.Event
		var extra []byte
		if err := rows.Scan(&e.ID, &e.MessageID, &e.Status, &e.Ts, &extra); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(extra) > 0 {
			if err := unmarshalExtra(extra, &e.Extra); err != nil {
				return nil, err
			}
		}
		detail.Events = append(detail.Events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events for message %d: %w", id, err)
	}
	return detail, nil
}

// AggregationRow is one (status, day) bucket from the materialized
// aggregation view.
type AggregationRow struct {
	Status domain.MessageStatus
	Date   time.Time
	Count  int
}

// Aggregation reads the per-day status buckets for a method, optionally
// scoped to a company. Rows come back oldest first.
func (s *Store) Aggregation(ctx context.Context, method domain.SendMethod, companyID *int64) ([]AggregationRow, error) {
	q := `
		SELECT status, date, SUM(count)
		FROM message_aggregation
		WHERE method = $1`
	args := []any{method}
	if companyID != nil {
		q += " AND company_id = $2"
		args = append(args, *companyID)
	}
	q += " GROUP BY status, date ORDER BY date"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("read aggregation: %w", err)
	}
	defer rows.Close()

	var out []AggregationRow
	for rows.Next() {
		var r AggregationRow
		if err := rows.Scan(&r.Status, &r.Date, &r.Count); err != nil {
			return nil, fmt.Errorf("scan aggregation row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read aggregation: %w", err)
	}
	return out, nil
}

// RefreshAggregation rebuilds the materialized aggregation view without
// blocking readers.
func (s *Store) RefreshAggregation(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `REFRESH MATERIALIZED VIEW CONCURRENTLY message_aggregation`); err != nil {
		return fmt.Errorf("refresh aggregation view: %w", err)
	}
	return nil
}

// DeleteOldGroups removes message groups older than the retention window.
// Deletes cascade to messages, events and links. The lower bound keeps each
// run incremental instead of scanning the whole table.
func (s *Store) DeleteOldGroups(ctx context.Context, retentionDays int) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM message_groups
		WHERE created_ts < now() - ($1 * interval '1 day')
		  AND created_ts > now() - ($2 * interval '1 day')
	`, retentionDays, retentionDays+3)
	if err != nil {
		return 0, fmt.Errorf("delete old groups: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old groups: %w", err)
	}
	return n, nil
}
